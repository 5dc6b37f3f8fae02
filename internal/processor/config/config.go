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

// The generation service's configuration definitions.

package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/llm-d-incubation/textgen-gateway/internal/inference"
	"github.com/llm-d-incubation/textgen-gateway/internal/processor/dispatcher"
	"github.com/llm-d-incubation/textgen-gateway/internal/processor/worker"
	utls "github.com/llm-d-incubation/textgen-gateway/internal/util/tls"
)

const (
	DefaultModelName   = "microsoft/DialoGPT-medium"
	DefaultDevice      = "cpu"
	DefaultMaxLength   = 512
	DefaultRecordTTL   = 24 * time.Hour
	DefaultServiceName = "textgen-gateway"
)

// Environment variables that override file values.
const (
	EnvModelName         = "MODEL_NAME"
	EnvMaxLength         = "MAX_LENGTH"
	EnvDevice            = "DEVICE"
	EnvWorkerPoolSize    = "WORKER_POOL_SIZE"
	EnvInferenceBackend  = "INFERENCE_BACKEND"
	EnvInferenceURL      = "INFERENCE_URL"
	EnvInferenceAPIKey   = "INFERENCE_API_KEY" // pragma: allowlist secret
	EnvGenerationTimeout = "GENERATION_TIMEOUT"
	EnvQueueTimeout      = "QUEUE_TIMEOUT"
	EnvRedisURL          = "REDIS_URL"
)

// LookupFunc has the signature of os.LookupEnv.
type LookupFunc func(key string) (string, bool)

// RedisConfig configures the optional generation log. An empty URL disables it.
type RedisConfig struct {
	URL          string            `json:"url" yaml:"url"`
	TTL          time.Duration     `json:"ttl" yaml:"ttl"`
	ServiceName  string            `json:"service_name" yaml:"service_name"`
	Timeout      time.Duration     `json:"timeout" yaml:"timeout"`
	EnableTLS    bool              `json:"enable_tls" yaml:"enable_tls"`
	Insecure     bool              `json:"insecure" yaml:"insecure"`
	Certificates utls.Certificates `json:"certificates" yaml:"certificates"`
}

func (r RedisConfig) Enabled() bool {
	return r.URL != ""
}

type ServiceConfig struct {
	ModelName string `json:"model_name" yaml:"model_name"`
	Device    string `json:"device" yaml:"device"`
	// MaxLength is the largest max_length a request may ask for.
	MaxLength         int                        `json:"max_length" yaml:"max_length"`
	WorkerPoolSize    int                        `json:"worker_pool_size" yaml:"worker_pool_size"`
	GenerationTimeout time.Duration              `json:"generation_timeout" yaml:"generation_timeout"`
	QueueTimeout      time.Duration              `json:"queue_timeout" yaml:"queue_timeout"`
	RequestDefaults   dispatcher.RequestDefaults `json:"request_defaults" yaml:"request_defaults"`
	Inference         inference.BackendConfig    `json:"inference" yaml:"inference"`
	Redis             RedisConfig                `json:"redis" yaml:"redis"`
}

// NewConfig returns a new ServiceConfig with default values.
func NewConfig() *ServiceConfig {
	return &ServiceConfig{
		ModelName:       DefaultModelName,
		Device:          DefaultDevice,
		MaxLength:       DefaultMaxLength,
		WorkerPoolSize:  worker.DefaultPoolSize,
		RequestDefaults: dispatcher.DefaultRequestDefaults(),
		Inference: inference.BackendConfig{
			Backend: inference.BackendSimulator,
		},
		Redis: RedisConfig{
			TTL:         DefaultRecordTTL,
			ServiceName: DefaultServiceName,
		},
	}
}

// LoadFromYAML loads the configuration from a YAML file.
// Keys absent from the file keep their current values.
func (c *ServiceConfig) LoadFromYAML(filePath string) error {
	file, err := os.Open(filePath)
	if err != nil {
		return err
	}
	defer file.Close()

	decoder := yaml.NewDecoder(file)
	if err := decoder.Decode(c); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("decoding %s: %w", filePath, err)
	}
	return nil
}

// ApplyEnv overrides values from the environment. A nil lookup uses os.LookupEnv.
func (c *ServiceConfig) ApplyEnv(lookup LookupFunc) error {
	if lookup == nil {
		lookup = os.LookupEnv
	}

	var errs []error
	setString := func(key string, dst *string) {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
		}
	}
	setInt := func(key string, dst *int) {
		if v, ok := lookup(key); ok && v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = n
		}
	}
	setDuration := func(key string, dst *time.Duration) {
		if v, ok := lookup(key); ok && v != "" {
			d, err := time.ParseDuration(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = d
		}
	}

	setString(EnvModelName, &c.ModelName)
	setString(EnvDevice, &c.Device)
	setInt(EnvMaxLength, &c.MaxLength)
	setInt(EnvWorkerPoolSize, &c.WorkerPoolSize)
	setString(EnvInferenceBackend, &c.Inference.Backend)
	setString(EnvInferenceURL, &c.Inference.URL)
	setString(EnvInferenceAPIKey, &c.Inference.APIKey)
	setDuration(EnvGenerationTimeout, &c.GenerationTimeout)
	setDuration(EnvQueueTimeout, &c.QueueTimeout)
	setString(EnvRedisURL, &c.Redis.URL)

	return errors.Join(errs...)
}

func (c *ServiceConfig) Validate() error {
	if c.ModelName == "" {
		return fmt.Errorf("model name cannot be empty")
	}
	if c.MaxLength < 1 {
		return fmt.Errorf("max length must be positive, got %d", c.MaxLength)
	}
	if c.WorkerPoolSize < 1 {
		return fmt.Errorf("worker pool size must be positive, got %d", c.WorkerPoolSize)
	}
	if c.GenerationTimeout < 0 || c.QueueTimeout < 0 {
		return fmt.Errorf("timeouts cannot be negative")
	}

	d := c.RequestDefaults
	if d.MaxLength < 1 || d.MaxLength > c.MaxLength {
		return fmt.Errorf("default max_length %d must be within [1, %d]", d.MaxLength, c.MaxLength)
	}
	if d.Temperature < 0 || d.Temperature > 2 {
		return fmt.Errorf("default temperature %g must be within [0, 2]", d.Temperature)
	}
	if d.TopP < 0 || d.TopP > 1 {
		return fmt.Errorf("default top_p %g must be within [0, 1]", d.TopP)
	}

	switch c.Inference.Backend {
	case inference.BackendSimulator, "":
	case inference.BackendHTTP:
		if c.Inference.URL == "" {
			return fmt.Errorf("inference url is required for the %s backend", inference.BackendHTTP)
		}
	default:
		return fmt.Errorf("unknown inference backend %q", c.Inference.Backend)
	}

	if c.Redis.Enabled() && c.Redis.TTL < 0 {
		return fmt.Errorf("redis ttl cannot be negative")
	}
	return nil
}

// BackendConfig returns the inference settings with the model name filled in.
func (c *ServiceConfig) BackendConfig() inference.BackendConfig {
	b := c.Inference
	if b.Model == "" {
		b.Model = c.ModelName
	}
	return b
}
