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

// Package limiter provides a concurrency gate that admits at most N holders at a time.
// Waiters are admitted in arrival order.
package limiter

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"golang.org/x/sync/semaphore"
)

var (
	ErrInvalidLimit   = errors.New("limit must be at least 1")
	ErrAcquireTimeout = errors.New("timed out waiting for admission")
)

// Limiter admits at most Limit() concurrent token holders.
type Limiter struct {
	sem         *semaphore.Weighted
	limit       int
	outstanding atomic.Int64
}

// Token is one admitted unit of concurrency. It must be released exactly once;
// releases after the first are ignored.
type Token struct {
	owner    *Limiter
	released atomic.Bool
}

// New creates a limiter admitting at most limit concurrent holders.
func New(limit int) (*Limiter, error) {
	if limit < 1 {
		return nil, fmt.Errorf("%w: got %d", ErrInvalidLimit, limit)
	}
	return &Limiter{
		sem:   semaphore.NewWeighted(int64(limit)),
		limit: limit,
	}, nil
}

// Acquire waits until a slot is free or ctx is done.
// On error no token is held.
func (l *Limiter) Acquire(ctx context.Context) (*Token, error) {
	if err := l.sem.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	l.outstanding.Add(1)
	return &Token{owner: l}, nil
}

// AcquireTimeout is Acquire bounded by d. A non-positive d waits without limit.
func (l *Limiter) AcquireTimeout(ctx context.Context, d time.Duration) (*Token, error) {
	if d <= 0 {
		return l.Acquire(ctx)
	}
	waitCtx, cancel := context.WithTimeout(ctx, d)
	defer cancel()

	token, err := l.Acquire(waitCtx)
	if err != nil {
		if ctx.Err() == nil && errors.Is(err, context.DeadlineExceeded) {
			return nil, fmt.Errorf("%w after %s", ErrAcquireTimeout, d)
		}
		return nil, err
	}
	return token, nil
}

// TryAcquire takes a slot only if one is free right now.
func (l *Limiter) TryAcquire() (*Token, bool) {
	if !l.sem.TryAcquire(1) {
		return nil, false
	}
	l.outstanding.Add(1)
	return &Token{owner: l}, true
}

// Release returns the token's slot. It reports false, and changes nothing,
// for nil tokens, tokens of another limiter, and tokens already released.
func (l *Limiter) Release(t *Token) bool {
	if t == nil || t.owner != l {
		return false
	}
	if !t.released.CompareAndSwap(false, true) {
		return false
	}
	// decrement before handing the slot back so Outstanding never exceeds the limit
	l.outstanding.Add(-1)
	l.sem.Release(1)
	return true
}

// Do runs fn while holding a token. The token is released on every exit path,
// panics included.
func (l *Limiter) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	token, err := l.Acquire(ctx)
	if err != nil {
		return err
	}
	defer l.Release(token)
	return fn(ctx)
}

// Outstanding is the number of acquired and not yet released tokens.
func (l *Limiter) Outstanding() int {
	return int(l.outstanding.Load())
}

func (l *Limiter) Limit() int {
	return l.limit
}

// Release returns the token to the limiter that issued it.
func (t *Token) Release() bool {
	if t == nil || t.owner == nil {
		return false
	}
	return t.owner.Release(t)
}
