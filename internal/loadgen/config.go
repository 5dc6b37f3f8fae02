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

// The load generator's configuration definitions.

package loadgen

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Payload is the fixed request body sent by every load test request.
type Payload struct {
	Prompt      string   `json:"prompt" yaml:"prompt"`
	MaxLength   int      `json:"max_length,omitempty" yaml:"max_length"`
	Temperature float64  `json:"temperature" yaml:"temperature"`
	TopP        *float64 `json:"top_p,omitempty" yaml:"top_p,omitempty"`
	DoSample    *bool    `json:"do_sample,omitempty" yaml:"do_sample,omitempty"`
}

type Config struct {
	Target         string        `yaml:"target"`
	Concurrency    int           `yaml:"concurrency"`
	TotalRequests  int           `yaml:"total_requests"`
	RequestTimeout time.Duration `yaml:"request_timeout"`
	Payload        Payload       `yaml:"payload"`
}

// DefaultConfig returns a Config with default values.
func DefaultConfig() *Config {
	return &Config{
		Target:        "http://localhost:8000/generate",
		Concurrency:   5,
		TotalRequests: 50,
		Payload: Payload{
			Prompt:      "Hello, how are you?",
			MaxLength:   50,
			Temperature: 0.7,
		},
	}
}

// LoadConfig reads path over the defaults. An empty path returns the defaults.
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading load test config: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing load test config %s: %w", path, err)
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	if c.Target == "" {
		return fmt.Errorf("target cannot be empty")
	}
	if c.Concurrency < 1 {
		return fmt.Errorf("concurrency must be at least 1, got %d", c.Concurrency)
	}
	if c.TotalRequests < 0 {
		return fmt.Errorf("total requests cannot be negative, got %d", c.TotalRequests)
	}
	if c.RequestTimeout < 0 {
		return fmt.Errorf("request timeout cannot be negative")
	}
	return nil
}

// RunConfig converts the file configuration into the parameters of one run.
func (c *Config) RunConfig() RunConfig {
	return RunConfig{
		Target:         c.Target,
		TotalRequests:  c.TotalRequests,
		Concurrency:    c.Concurrency,
		Payload:        c.Payload,
		RequestTimeout: c.RequestTimeout,
	}
}
