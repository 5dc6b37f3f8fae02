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

// Package inference holds the text generation capability used by the dispatcher.
// Generation is blocking and possibly slow; callers run it on the worker pool.
package inference

import (
	"context"
	"fmt"
	"time"

	"k8s.io/klog/v2"
)

const (
	BackendSimulator = "simulator"
	BackendHTTP      = "http"
)

// Params are the resolved generation parameters of one request.
type Params struct {
	Prompt      string
	MaxLength   int
	Temperature float64
	TopP        float64
	DoSample    bool
}

// Generator turns a prompt into generated text.
// Implementations must be safe for concurrent use.
type Generator interface {
	Generate(ctx context.Context, params *Params) (string, error)
}

// BackendConfig selects and configures the generation backend.
type BackendConfig struct {
	Backend string `yaml:"backend"`
	// model identifier sent to the HTTP backend
	Model string `yaml:"-"`

	// http backend
	URL     string        `yaml:"url"`
	APIKey  string        `yaml:"api_key"`
	Timeout time.Duration `yaml:"timeout"`

	// simulator backend
	SimulatedLatency time.Duration `yaml:"simulated_latency"`
}

// NewGenerator builds the configured backend and checks it can serve.
// A returned error means the service must not start.
func NewGenerator(ctx context.Context, cfg BackendConfig) (Generator, error) {
	logger := klog.FromContext(ctx)

	switch cfg.Backend {
	case BackendSimulator, "":
		logger.Info("Using simulated generation backend", "latency", cfg.SimulatedLatency)
		return &Simulator{Latency: cfg.SimulatedLatency}, nil
	case BackendHTTP:
		client := NewHTTPGenerator(HTTPGeneratorConfig{
			BaseURL: cfg.URL,
			Model:   cfg.Model,
			APIKey:  cfg.APIKey,
			Timeout: cfg.Timeout,
		})
		if err := client.Probe(ctx); err != nil {
			return nil, fmt.Errorf("inference backend at %s is not available: %w", cfg.URL, err)
		}
		logger.Info("Connected to inference backend", "url", cfg.URL, "model", cfg.Model)
		return client, nil
	default:
		return nil, fmt.Errorf("unknown inference backend %q", cfg.Backend)
	}
}
