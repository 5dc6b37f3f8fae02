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

// Package loadgen drives a fixed volume of generation requests against a target
// with bounded concurrency and summarizes the outcomes.
package loadgen

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"
	"golang.org/x/sync/errgroup"
	"k8s.io/klog/v2"

	"github.com/llm-d-incubation/textgen-gateway/internal/limiter"
	"github.com/llm-d-incubation/textgen-gateway/internal/util/logging"
)

const maxErrorExcerpt = 200

// Requester performs one request. A zero status with an error is a transport failure.
type Requester interface {
	Do(ctx context.Context, target string, payload any) (status int, err error)
}

// HTTPRequester posts the payload as JSON. Only a 200 with a JSON body succeeds.
type HTTPRequester struct {
	client *resty.Client
}

func NewHTTPRequester(concurrency int) *HTTPRequester {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.MaxIdleConnsPerHost = max(concurrency, 2)

	client := resty.New().
		SetHeader("Content-Type", "application/json").
		SetTransport(transport)
	// load test requests are counted once; no retries

	return &HTTPRequester{client: client}
}

func (h *HTTPRequester) Do(ctx context.Context, target string, payload any) (int, error) {
	resp, err := h.client.R().SetContext(ctx).SetBody(payload).Post(target)
	if err != nil {
		return 0, err
	}
	body := resp.Body()
	if !json.Valid(body) {
		return 0, fmt.Errorf("response is not JSON (HTTP %d): %s", resp.StatusCode(), excerpt(body))
	}
	if resp.StatusCode() != http.StatusOK {
		return resp.StatusCode(), fmt.Errorf("HTTP %d: %s", resp.StatusCode(), excerpt(body))
	}
	return resp.StatusCode(), nil
}

func excerpt(body []byte) string {
	if len(body) > maxErrorExcerpt {
		return string(body[:maxErrorExcerpt]) + "..."
	}
	return string(body)
}

type RunConfig struct {
	Target         string
	TotalRequests  int
	Concurrency    int
	Payload        any
	RequestTimeout time.Duration
}

func (c RunConfig) validate() error {
	if c.Target == "" {
		return errors.New("target cannot be empty")
	}
	if c.Concurrency < 1 {
		return fmt.Errorf("concurrency must be at least 1, got %d", c.Concurrency)
	}
	if c.TotalRequests < 0 {
		return fmt.Errorf("total requests cannot be negative, got %d", c.TotalRequests)
	}
	return nil
}

type Runner struct {
	requester Requester
	observer  func(Outcome)
	now       func() time.Time
}

type RunnerOption func(*Runner)

// WithObserver calls fn for every outcome as it is collected, from a single goroutine.
func WithObserver(fn func(Outcome)) RunnerOption {
	return func(r *Runner) {
		r.observer = fn
	}
}

func NewRunner(requester Requester, opts ...RunnerOption) *Runner {
	r := &Runner{
		requester: requester,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run issues cfg.TotalRequests requests with at most cfg.Concurrency in flight.
//
// Exactly cfg.Concurrency workers pull request indexes, so pending work does not grow
// with the total. Each request holds a limiter token from start to outcome. Failed
// requests become failed outcomes and never stop the run. If ctx ends, no new
// requests are issued; the outcomes collected so far are returned with ctx's error.
func (r *Runner) Run(ctx context.Context, cfg RunConfig) (*Stats, []Outcome, error) {
	if err := cfg.validate(); err != nil {
		return nil, nil, err
	}
	logger := klog.FromContext(ctx).WithValues("target", cfg.Target)
	logger.Info("Starting load test", "totalRequests", cfg.TotalRequests, "concurrency", cfg.Concurrency)

	lim, err := limiter.New(cfg.Concurrency)
	if err != nil {
		return nil, nil, err
	}

	indexes := make(chan int)
	results := make(chan Outcome, cfg.Concurrency)
	outcomes := make([]Outcome, 0, cfg.TotalRequests)

	collected := make(chan struct{})
	go func() {
		defer close(collected)
		for o := range results {
			if r.observer != nil {
				r.observer(o)
			}
			outcomes = append(outcomes, o)
		}
	}()

	var workers errgroup.Group
	for w := 0; w < cfg.Concurrency; w++ {
		workers.Go(func() error {
			for idx := range indexes {
				o, ok := r.issue(ctx, lim, cfg, idx)
				if !ok {
					continue
				}
				results <- o
			}
			return nil
		})
	}

feed:
	for i := 0; i < cfg.TotalRequests; i++ {
		select {
		case indexes <- i:
		case <-ctx.Done():
			break feed
		}
	}
	close(indexes)
	_ = workers.Wait()
	close(results)
	<-collected

	stats := Aggregate(outcomes)
	logger.Info("Load test finished", "successful", stats.Successful, "failed", stats.Failed)
	if err := ctx.Err(); err != nil && len(outcomes) < cfg.TotalRequests {
		return &stats, outcomes, fmt.Errorf("load test interrupted after %d of %d requests: %w",
			len(outcomes), cfg.TotalRequests, err)
	}
	return &stats, outcomes, nil
}

// issue runs one request under a limiter token. It reports false when the run was
// cancelled before the request was admitted.
func (r *Runner) issue(ctx context.Context, lim *limiter.Limiter, cfg RunConfig, idx int) (Outcome, bool) {
	tok, err := lim.Acquire(ctx)
	if err != nil {
		return Outcome{}, false
	}
	defer tok.Release()

	reqCtx := ctx
	if cfg.RequestTimeout > 0 {
		var cancel context.CancelFunc
		reqCtx, cancel = context.WithTimeout(ctx, cfg.RequestTimeout)
		defer cancel()
	}

	start := r.now()
	status, err := r.requester.Do(reqCtx, cfg.Target, cfg.Payload)
	o := Outcome{
		Index:     idx,
		Status:    status,
		Latency:   r.now().Sub(start),
		StartedAt: start,
	}
	if err != nil {
		o.Error = err.Error()
		klog.FromContext(ctx).V(logging.DEBUG).Info("Request failed", "index", idx, "status", status, "error", o.Error)
	} else if status != http.StatusOK {
		o.Error = fmt.Sprintf("unexpected status %d", status)
	} else {
		o.Success = true
	}
	return o, true
}
