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

package limiter

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew(t *testing.T) {
	tests := []struct {
		name    string
		limit   int
		wantErr bool
	}{
		{name: "should accept limit of one", limit: 1},
		{name: "should accept larger limit", limit: 16},
		{name: "should reject zero limit", limit: 0, wantErr: true},
		{name: "should reject negative limit", limit: -3, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l, err := New(tt.limit)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidLimit)
				assert.Nil(t, l)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.limit, l.Limit())
			assert.Equal(t, 0, l.Outstanding())
		})
	}
}

func TestAcquireRelease(t *testing.T) {
	t.Run("should never exceed the limit", func(t *testing.T) {
		l, err := New(2)
		require.NoError(t, err)

		t1, ok := l.TryAcquire()
		require.True(t, ok)
		t2, ok := l.TryAcquire()
		require.True(t, ok)

		_, ok = l.TryAcquire()
		assert.False(t, ok, "third acquire must fail while two tokens are out")
		assert.Equal(t, 2, l.Outstanding())

		assert.True(t, t1.Release())
		assert.Equal(t, 1, l.Outstanding())
		assert.True(t, l.Release(t2))
		assert.Equal(t, 0, l.Outstanding())
	})

	t.Run("should ignore double release", func(t *testing.T) {
		l, err := New(1)
		require.NoError(t, err)

		token, err := l.Acquire(context.Background())
		require.NoError(t, err)

		assert.True(t, l.Release(token))
		assert.False(t, l.Release(token))
		assert.False(t, token.Release())
		assert.Equal(t, 0, l.Outstanding())

		// the freed slot is usable exactly once
		_, ok := l.TryAcquire()
		assert.True(t, ok)
		_, ok = l.TryAcquire()
		assert.False(t, ok)
	})

	t.Run("should ignore nil and foreign tokens", func(t *testing.T) {
		l1, _ := New(1)
		l2, _ := New(1)

		foreign, err := l2.Acquire(context.Background())
		require.NoError(t, err)

		assert.False(t, l1.Release(nil))
		assert.False(t, l1.Release(foreign))
		assert.False(t, l1.Release(&Token{}))
		assert.Equal(t, 0, l1.Outstanding())
		assert.Equal(t, 1, l2.Outstanding())

		var nilToken *Token
		assert.False(t, nilToken.Release())
	})

	t.Run("should keep outstanding count in range under concurrent use", func(t *testing.T) {
		const limit = 3
		l, _ := New(limit)

		var wg sync.WaitGroup
		var violations atomic.Int32
		for i := 0; i < 50; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				token, err := l.Acquire(context.Background())
				if err != nil {
					violations.Add(1)
					return
				}
				if n := l.Outstanding(); n < 0 || n > limit {
					violations.Add(1)
				}
				time.Sleep(time.Millisecond)
				token.Release()
				token.Release()
			}()
		}
		wg.Wait()

		assert.Zero(t, violations.Load())
		assert.Equal(t, 0, l.Outstanding())
	})
}

func TestAcquireWaiting(t *testing.T) {
	t.Run("should return context error when cancelled while waiting", func(t *testing.T) {
		l, _ := New(1)
		held, _ := l.TryAcquire()
		defer held.Release()

		ctx, cancel := context.WithCancel(context.Background())
		go func() {
			time.Sleep(20 * time.Millisecond)
			cancel()
		}()

		token, err := l.Acquire(ctx)
		assert.Nil(t, token)
		assert.ErrorIs(t, err, context.Canceled)
		assert.Equal(t, 1, l.Outstanding())
	})

	t.Run("should report acquire timeout distinctly", func(t *testing.T) {
		l, _ := New(1)
		held, _ := l.TryAcquire()
		defer held.Release()

		start := time.Now()
		token, err := l.AcquireTimeout(context.Background(), 30*time.Millisecond)
		assert.Nil(t, token)
		assert.ErrorIs(t, err, ErrAcquireTimeout)
		assert.GreaterOrEqual(t, time.Since(start), 30*time.Millisecond)
	})

	t.Run("should wait without limit for non-positive timeout", func(t *testing.T) {
		l, _ := New(1)
		held, _ := l.TryAcquire()

		go func() {
			time.Sleep(20 * time.Millisecond)
			held.Release()
		}()

		token, err := l.AcquireTimeout(context.Background(), 0)
		require.NoError(t, err)
		assert.True(t, token.Release())
	})

	t.Run("should admit waiters in arrival order", func(t *testing.T) {
		l, _ := New(1)
		held, _ := l.TryAcquire()

		var mu sync.Mutex
		var order []int
		var wg sync.WaitGroup
		for i := 0; i < 5; i++ {
			wg.Add(1)
			go func(id int) {
				defer wg.Done()
				token, err := l.Acquire(context.Background())
				if err != nil {
					return
				}
				mu.Lock()
				order = append(order, id)
				mu.Unlock()
				token.Release()
			}(i)
			// give each waiter time to enqueue before the next arrives
			time.Sleep(10 * time.Millisecond)
		}

		held.Release()
		wg.Wait()
		assert.Equal(t, []int{0, 1, 2, 3, 4}, order)
	})
}

func TestDo(t *testing.T) {
	t.Run("should release after error", func(t *testing.T) {
		l, _ := New(1)
		boom := errors.New("boom")

		err := l.Do(context.Background(), func(ctx context.Context) error {
			assert.Equal(t, 1, l.Outstanding())
			return boom
		})
		assert.ErrorIs(t, err, boom)
		assert.Equal(t, 0, l.Outstanding())
	})

	t.Run("should release after panic", func(t *testing.T) {
		l, _ := New(1)

		assert.Panics(t, func() {
			_ = l.Do(context.Background(), func(ctx context.Context) error {
				panic("work exploded")
			})
		})
		assert.Equal(t, 0, l.Outstanding())

		_, ok := l.TryAcquire()
		assert.True(t, ok)
	})

	t.Run("should not run fn when admission fails", func(t *testing.T) {
		l, _ := New(1)
		held, _ := l.TryAcquire()
		defer held.Release()

		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		ran := false
		err := l.Do(ctx, func(ctx context.Context) error {
			ran = true
			return nil
		})
		assert.Error(t, err)
		assert.False(t, ran)
	})
}
