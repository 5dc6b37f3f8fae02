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

// this file contains the dispatcher that admits generation requests and runs them on the worker pool.

package dispatcher

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"k8s.io/klog/v2"

	db "github.com/llm-d-incubation/textgen-gateway/internal/database/api"
	"github.com/llm-d-incubation/textgen-gateway/internal/inference"
	"github.com/llm-d-incubation/textgen-gateway/internal/limiter"
	"github.com/llm-d-incubation/textgen-gateway/internal/processor/metrics"
	"github.com/llm-d-incubation/textgen-gateway/internal/processor/worker"
	"github.com/llm-d-incubation/textgen-gateway/internal/util/logging"
)

const recordTimeout = 5 * time.Second

// GenerationRequest is one request as received. Nil fields take the configured defaults.
type GenerationRequest struct {
	Prompt      string   `json:"prompt"`
	MaxLength   *int     `json:"max_length,omitempty"`
	Temperature *float64 `json:"temperature,omitempty"`
	TopP        *float64 `json:"top_p,omitempty"`
	DoSample    *bool    `json:"do_sample,omitempty"`
}

type RequestDefaults struct {
	MaxLength   int     `yaml:"max_length"`
	Temperature float64 `yaml:"temperature"`
	TopP        float64 `yaml:"top_p"`
	DoSample    bool    `yaml:"do_sample"`
}

func DefaultRequestDefaults() RequestDefaults {
	return RequestDefaults{
		MaxLength:   100,
		Temperature: 0.7,
		TopP:        0.9,
		DoSample:    true,
	}
}

// GenerationResponse is created once per successfully dispatched request.
type GenerationResponse struct {
	ID             string
	GeneratedText  string
	ModelName      string
	ProcessingTime time.Duration
}

// RecordSink receives a summary of every dispatched request.
type RecordSink interface {
	Store(ctx context.Context, rec *db.GenerationRecord) error
}

type Dispatcher struct {
	state *State
	pool  *worker.WorkerPool

	defaults          RequestDefaults
	maxLengthCap      int
	generationTimeout time.Duration
	sink              RecordSink
	now               func() time.Time

	mu     sync.Mutex
	closed bool
	// admitted requests and their pending records
	inflight sync.WaitGroup
}

type Option func(*Dispatcher)

func WithRequestDefaults(d RequestDefaults) Option {
	return func(disp *Dispatcher) {
		disp.defaults = d
	}
}

// WithMaxLengthCap rejects requests asking for more than n. Zero disables the cap.
func WithMaxLengthCap(n int) Option {
	return func(disp *Dispatcher) {
		disp.maxLengthCap = n
	}
}

// WithGenerationTimeout bounds queue wait plus generation. Zero disables it.
func WithGenerationTimeout(d time.Duration) Option {
	return func(disp *Dispatcher) {
		disp.generationTimeout = d
	}
}

func WithRecordSink(sink RecordSink) Option {
	return func(disp *Dispatcher) {
		disp.sink = sink
	}
}

func WithClock(now func() time.Time) Option {
	return func(disp *Dispatcher) {
		disp.now = now
	}
}

func New(state *State, pool *worker.WorkerPool, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		state:    state,
		pool:     pool,
		defaults: DefaultRequestDefaults(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Handle runs one generation request.
//
// It fails at once with ErrNotReady before the model is loaded. Otherwise it waits for
// a worker slot, runs the generation and returns the text with the time taken since
// acceptance. Failures are returned as ErrGenerationFailed with the cause attached.
// Handle holds no lock across requests.
func (d *Dispatcher) Handle(ctx context.Context, req *GenerationRequest) (*GenerationResponse, error) {
	if !d.state.Ready() {
		metrics.RecordDispatch(metrics.ResultFailed, metrics.ReasonNotReady)
		return nil, ErrNotReady
	}
	if !d.enter() {
		metrics.RecordDispatch(metrics.ResultFailed, metrics.ReasonNotReady)
		return nil, ErrShuttingDown
	}
	defer d.inflight.Done()
	gen := d.state.Generator()

	params, err := d.resolve(req)
	if err != nil {
		metrics.RecordDispatch(metrics.ResultFailed, metrics.ReasonInvalidRequest)
		return nil, err
	}

	id := uuid.NewString()
	logger := klog.FromContext(ctx).WithValues("generationID", id)
	ctx = klog.NewContext(ctx, logger)

	if d.generationTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.generationTimeout)
		defer cancel()
	}

	logger.V(logging.DEBUG).Info("Dispatching generation", "maxLength", params.MaxLength, "poolActive", d.pool.Active())

	start := d.now()
	text, err := worker.SubmitTyped(ctx, d.pool, func(ctx context.Context) (string, error) {
		return gen.Generate(ctx, params)
	})
	elapsed := d.now().Sub(start)

	rec := &db.GenerationRecord{
		ID:               id,
		RequestID:        logging.RequestIDFromContext(ctx),
		Model:            d.state.ModelName(),
		PromptChars:      len(params.Prompt),
		MaxLength:        params.MaxLength,
		ProcessingTimeMs: elapsed.Milliseconds(),
		CreatedAt:        start.UTC(),
	}

	if err != nil {
		reason := failureReason(err)
		logger.Error(err, "Generation failed", "reason", reason, "elapsed", elapsed)
		metrics.RecordDispatch(metrics.ResultFailed, reason)
		metrics.RecordProcessingDuration(elapsed, metrics.ResultFailed)

		rec.Status = db.StatusError
		rec.Error = err.Error()
		d.record(ctx, rec)
		return nil, &DispatchError{Kind: ErrGenerationFailed, Cause: err}
	}

	metrics.RecordDispatch(metrics.ResultSuccess, metrics.ReasonNone)
	metrics.RecordProcessingDuration(elapsed, metrics.ResultSuccess)
	logger.V(logging.DEBUG).Info("Generation completed", "elapsed", elapsed, "outputChars", len(text))

	rec.Status = db.StatusOK
	rec.OutputChars = len(text)
	d.record(ctx, rec)

	return &GenerationResponse{
		ID:             id,
		GeneratedText:  text,
		ModelName:      d.state.ModelName(),
		ProcessingTime: elapsed,
	}, nil
}

// Close makes Handle reject new requests with ErrShuttingDown.
// Requests already admitted run to completion.
func (d *Dispatcher) Close() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.closed = true
}

// Wait blocks until admitted requests have returned and their records have been
// handed to the sink. Call it after Close.
func (d *Dispatcher) Wait() {
	d.inflight.Wait()
}

func (d *Dispatcher) enter() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return false
	}
	d.inflight.Add(1)
	return true
}

func (d *Dispatcher) resolve(req *GenerationRequest) (*inference.Params, error) {
	if req == nil {
		return nil, invalidRequest("request cannot be nil")
	}
	if req.Prompt == "" {
		return nil, invalidRequest("prompt cannot be empty")
	}

	p := &inference.Params{
		Prompt:      req.Prompt,
		MaxLength:   d.defaults.MaxLength,
		Temperature: d.defaults.Temperature,
		TopP:        d.defaults.TopP,
		DoSample:    d.defaults.DoSample,
	}
	if req.MaxLength != nil {
		p.MaxLength = *req.MaxLength
	}
	if req.Temperature != nil {
		p.Temperature = *req.Temperature
	}
	if req.TopP != nil {
		p.TopP = *req.TopP
	}
	if req.DoSample != nil {
		p.DoSample = *req.DoSample
	}

	if p.MaxLength < 1 {
		return nil, invalidRequest("max_length must be positive, got %d", p.MaxLength)
	}
	if d.maxLengthCap > 0 && p.MaxLength > d.maxLengthCap {
		return nil, invalidRequest("max_length %d exceeds limit %d", p.MaxLength, d.maxLengthCap)
	}
	if p.Temperature < 0 || p.Temperature > 2 {
		return nil, invalidRequest("temperature must be within [0, 2], got %g", p.Temperature)
	}
	if p.TopP < 0 || p.TopP > 1 {
		return nil, invalidRequest("top_p must be within [0, 1], got %g", p.TopP)
	}
	return p, nil
}

func (d *Dispatcher) record(ctx context.Context, rec *db.GenerationRecord) {
	if d.sink == nil {
		return
	}
	d.inflight.Add(1)
	// the record outlives the request; keep values, drop cancellation
	recCtx := context.WithoutCancel(ctx)
	go func() {
		defer d.inflight.Done()
		storeCtx, cancel := context.WithTimeout(recCtx, recordTimeout)
		defer cancel()
		if err := d.sink.Store(storeCtx, rec); err != nil {
			klog.FromContext(recCtx).Error(err, "Failed to store generation record", "generationID", rec.ID)
		}
	}()
}

func failureReason(err error) string {
	var panicErr *worker.PanicError
	switch {
	case errors.As(err, &panicErr):
		return metrics.ReasonWorkerPanic
	case errors.Is(err, limiter.ErrAcquireTimeout):
		return metrics.ReasonQueueTimeout
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return metrics.ReasonCancelled
	default:
		return metrics.ReasonWorkerError
	}
}
