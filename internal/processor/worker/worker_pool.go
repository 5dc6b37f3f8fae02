/*
Copyright 2026 The llm-d Authors

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// this file contains the fixed-size pool that runs blocking generation work.

package worker

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"k8s.io/klog/v2"

	"github.com/llm-d-incubation/textgen-gateway/internal/limiter"
	"github.com/llm-d-incubation/textgen-gateway/internal/processor/metrics"
	"github.com/llm-d-incubation/textgen-gateway/internal/util/logging"
)

const DefaultPoolSize = 4

var ErrPoolClosed = errors.New("worker pool is closed")

// Work is a blocking unit of work executed on a worker slot.
type Work func(ctx context.Context) (any, error)

// PanicError is returned by Submit when the work panicked.
type PanicError struct {
	Value any
	Stack []byte
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("worker panic: %v", e.Value)
}

type result struct {
	value any
	err   error
}

// WorkerPool runs submitted work on at most Size() slots at a time.
// Callers beyond capacity wait in arrival order.
type WorkerPool struct {
	size         int
	limiter      *limiter.Limiter
	workerIds    chan int
	queueTimeout time.Duration

	mu     sync.Mutex
	closed bool
	wg     sync.WaitGroup
}

type PoolOption func(*WorkerPool)

// WithQueueTimeout bounds how long Submit waits for a free slot.
func WithQueueTimeout(d time.Duration) PoolOption {
	return func(wp *WorkerPool) {
		wp.queueTimeout = d
	}
}

// NewWorkerPool creates a pool with size slots. A size below 1 uses DefaultPoolSize.
func NewWorkerPool(size int, opts ...PoolOption) *WorkerPool {
	if size < 1 {
		size = DefaultPoolSize
	}
	lim, _ := limiter.New(size) // size >= 1
	wp := &WorkerPool{
		size:      size,
		limiter:   lim,
		workerIds: make(chan int, size),
	}
	for i := 1; i <= size; i++ {
		wp.workerIds <- i
	}
	for _, opt := range opts {
		opt(wp)
	}
	metrics.SetPoolSize(size)
	return wp
}

// Submit runs work on a free slot and returns its result.
//
// The caller waits for a slot and then for the work to finish. If ctx ends while
// waiting for a slot, no slot is consumed. If ctx ends while the work runs, Submit
// returns ctx.Err() at once but the work keeps its slot until it returns; its result
// is dropped.
func (wp *WorkerPool) Submit(ctx context.Context, work Work) (any, error) {
	if work == nil {
		return nil, fmt.Errorf("work cannot be nil")
	}

	wp.mu.Lock()
	if wp.closed {
		wp.mu.Unlock()
		return nil, ErrPoolClosed
	}
	wp.wg.Add(1)
	wp.mu.Unlock()

	logger := klog.FromContext(ctx)

	queuedAt := time.Now()
	metrics.IncQueuedRequests()
	token, err := wp.limiter.AcquireTimeout(ctx, wp.queueTimeout)
	metrics.DecQueuedRequests()
	if err != nil {
		wp.wg.Done()
		logger.V(logging.DEBUG).Info("Gave up waiting for worker slot", "waited", time.Since(queuedAt), "err", err)
		return nil, fmt.Errorf("waiting for worker slot: %w", err)
	}
	metrics.RecordQueueWait(time.Since(queuedAt))

	workerId := <-wp.workerIds
	done := make(chan result, 1)
	go wp.run(ctx, workerId, token, work, done)

	select {
	case res := <-done:
		return res.value, res.err
	case <-ctx.Done():
		logger.V(logging.DEBUG).Info("Caller left before work finished, worker keeps running", "workerID", workerId)
		return nil, ctx.Err()
	}
}

func (wp *WorkerPool) run(ctx context.Context, workerId int, token *limiter.Token, work Work, done chan<- result) {
	logger := klog.FromContext(ctx).WithValues("workerID", workerId)
	workCtx := klog.NewContext(ctx, logger)

	metrics.IncActiveWorkers()
	var res result
	// release resources
	defer func() {
		if r := recover(); r != nil {
			logger.Error(fmt.Errorf("%v", r), "Panic recovered in worker")
			res = result{err: &PanicError{Value: r, Stack: debug.Stack()}}
		}
		metrics.DecActiveWorkers()
		wp.workerIds <- workerId
		wp.limiter.Release(token)
		// the caller gets the result before WaitAll can return
		done <- res
		wp.wg.Done()
	}()

	logger.V(logging.TRACE).Info("Worker started")
	value, err := work(workCtx)
	res = result{value: value, err: err}
}

// SubmitTyped is Submit for work returning a concrete type.
func SubmitTyped[T any](ctx context.Context, wp *WorkerPool, work func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	if work == nil {
		return zero, fmt.Errorf("work cannot be nil")
	}
	v, err := wp.Submit(ctx, func(ctx context.Context) (any, error) {
		return work(ctx)
	})
	if err != nil {
		return zero, err
	}
	if v == nil {
		return zero, nil
	}
	typed, ok := v.(T)
	if !ok {
		return zero, fmt.Errorf("unexpected work result type %T", v)
	}
	return typed, nil
}

// Active is the number of slots currently executing work.
func (wp *WorkerPool) Active() int {
	return wp.limiter.Outstanding()
}

func (wp *WorkerPool) Size() int {
	return wp.size
}

// Close stops accepting new work. Work already submitted still runs.
func (wp *WorkerPool) Close() {
	wp.mu.Lock()
	defer wp.mu.Unlock()
	wp.closed = true
}

// WaitAll blocks until all submitted work has finished.
func (wp *WorkerPool) WaitAll() {
	wp.wg.Wait()
}
