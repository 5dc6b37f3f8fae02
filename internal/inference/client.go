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

package inference

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"k8s.io/klog/v2"

	"github.com/llm-d-incubation/textgen-gateway/internal/util/logging"
	utls "github.com/llm-d-incubation/textgen-gateway/internal/util/tls"
)

const (
	CompletionsPath = "/v1/completions"
	HealthPath      = "/health"
)

// HTTPGenerator implements Generator against an OpenAI-compatible completions endpoint
// (llm-d, vLLM, llm-d-inference-sim).
type HTTPGenerator struct {
	client *resty.Client
	model  string
}

// HTTPGeneratorConfig holds configuration for the HTTP backend
type HTTPGeneratorConfig struct {
	BaseURL         string        // Base URL of the inference backend (e.g., "http://localhost:8001")
	Model           string        // Model name sent with every request
	Timeout         time.Duration // Request timeout (default: 5 minutes)
	MaxIdleConns    int           // Maximum idle connections (default: 100)
	IdleConnTimeout time.Duration // Idle connection timeout (default: 90 seconds)
	APIKey          string        // Optional API key for authentication

	// TLS configuration (optional)
	TLSInsecureSkipVerify bool   // Skip TLS certificate verification (testing only)
	TLSCACertFile         string // Path to custom CA certificate file
	TLSClientCertFile     string // Path to client certificate file (mTLS)
	TLSClientKeyFile      string // Path to client private key file (mTLS)
}

type completionRequest struct {
	Model       string  `json:"model,omitempty"`
	Prompt      string  `json:"prompt"`
	MaxTokens   int     `json:"max_tokens"`
	Temperature float64 `json:"temperature"`
	TopP        float64 `json:"top_p"`
}

type completionResponse struct {
	ID      string `json:"id"`
	Model   string `json:"model"`
	Choices []struct {
		Index        int    `json:"index"`
		Text         string `json:"text"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
}

// NewHTTPGenerator creates a new HTTP-based generation backend
func NewHTTPGenerator(config HTTPGeneratorConfig) *HTTPGenerator {
	if config.Timeout == 0 {
		config.Timeout = 5 * time.Minute
	}
	if config.MaxIdleConns == 0 {
		config.MaxIdleConns = 100
	}
	if config.IdleConnTimeout == 0 {
		config.IdleConnTimeout = 90 * time.Second
	}

	client := resty.New().
		SetBaseURL(config.BaseURL).
		SetTimeout(config.Timeout).
		SetHeader("Content-Type", "application/json")

	if config.APIKey != "" {
		client.SetAuthToken(config.APIKey)
	}

	// start from Go's defaults: TLS 1.2+, system root CAs, proxy from env
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.MaxIdleConns = config.MaxIdleConns
	// the worker pool keeps several calls open against a single backend host
	transport.MaxIdleConnsPerHost = config.MaxIdleConns
	transport.IdleConnTimeout = config.IdleConnTimeout

	if config.TLSInsecureSkipVerify || config.TLSCACertFile != "" || config.TLSClientCertFile != "" {
		tlsConfig, err := utls.GetTlsConfig(utls.LOAD_TYPE_CLIENT, config.TLSInsecureSkipVerify,
			config.TLSClientCertFile, config.TLSClientKeyFile, config.TLSCACertFile)
		if err != nil {
			klog.Errorf("Failed to build TLS config, using system defaults: %v", err)
		} else {
			transport.TLSClientConfig = tlsConfig
		}
	}
	client.SetTransport(transport)

	// generation is not idempotent; no retries here

	return &HTTPGenerator{
		client: client,
		model:  config.Model,
	}
}

// Generate sends one completion request and returns the generated text.
func (c *HTTPGenerator) Generate(ctx context.Context, params *Params) (string, error) {
	if params == nil {
		return "", &ClientError{
			Category: ErrCategoryInvalidReq,
			Message:  "params cannot be nil",
		}
	}

	temperature := params.Temperature
	if !params.DoSample {
		// greedy decoding
		temperature = 0
	}
	body := completionRequest{
		Model:       c.model,
		Prompt:      params.Prompt,
		MaxTokens:   params.MaxLength,
		Temperature: temperature,
		TopP:        params.TopP,
	}

	req := c.client.R().SetContext(ctx).SetBody(body)
	if reqID, ok := ctx.Value(logging.RequestIDKey).(string); ok && reqID != "" {
		req.SetHeader("X-Request-ID", reqID)
	}

	klog.V(logging.DEBUG).Infof("Sending completion request model=%s max_tokens=%d", c.model, params.MaxLength)

	resp, err := req.Post(CompletionsPath)
	if err != nil {
		return "", c.handleRequestError(ctx, err)
	}
	if resp.StatusCode() != http.StatusOK {
		return "", c.handleErrorResponse(resp.StatusCode(), resp.Body())
	}
	var out completionResponse
	if err := json.Unmarshal(resp.Body(), &out); err != nil {
		return "", &ClientError{
			Category: ErrCategoryServer,
			Message:  fmt.Sprintf("failed to decode completion response: %v", err),
			RawError: err,
		}
	}
	if len(out.Choices) == 0 {
		return "", &ClientError{
			Category: ErrCategoryServer,
			Message:  "completion response has no choices",
			RawError: fmt.Errorf("body: %s", string(resp.Body())),
		}
	}

	klog.V(logging.TRACE).Infof("Received completion id=%s finish_reason=%s body_size=%d",
		out.ID, out.Choices[0].FinishReason, len(resp.Body()))

	return strings.TrimSpace(out.Choices[0].Text), nil
}

// Probe checks that the backend answers its health endpoint.
func (c *HTTPGenerator) Probe(ctx context.Context) error {
	resp, err := c.client.R().SetContext(ctx).Get(HealthPath)
	if err != nil {
		return c.handleRequestError(ctx, err)
	}
	if resp.StatusCode() != http.StatusOK {
		return c.handleErrorResponse(resp.StatusCode(), resp.Body())
	}
	return nil
}

// handleRequestError processes request-level errors (network, timeout, cancellation)
func (c *HTTPGenerator) handleRequestError(ctx context.Context, err error) *ClientError {
	if errors.Is(ctx.Err(), context.Canceled) {
		return &ClientError{
			Category: ErrCategoryUnknown,
			Message:  "request cancelled",
			RawError: err,
		}
	}
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return &ClientError{
			Category: ErrCategoryServer,
			Message:  "request timeout",
			RawError: err,
		}
	}

	klog.V(logging.INFO).Infof("Backend request failed with network error: %v", err)
	return &ClientError{
		Category: ErrCategoryServer,
		Message:  fmt.Sprintf("failed to execute request: %v", err),
		RawError: err,
	}
}

// handleErrorResponse parses an error body and maps the status to a ClientError
func (c *HTTPGenerator) handleErrorResponse(statusCode int, body []byte) *ClientError {
	// OpenAI-style {"error": {...}} or FastAPI-style {"detail": "..."}
	var errorResp struct {
		Error struct {
			Message string `json:"message"`
		} `json:"error"`
		Detail string `json:"detail"`
	}

	message := string(body)
	if err := json.Unmarshal(body, &errorResp); err == nil {
		switch {
		case errorResp.Error.Message != "":
			message = errorResp.Error.Message
		case errorResp.Detail != "":
			message = errorResp.Detail
		}
	}

	category := mapStatusCodeToCategory(statusCode)

	klog.V(logging.INFO).Infof("Backend request failed with status=%d, category=%s, message=%s", statusCode, category, message)

	return &ClientError{
		Category: category,
		Message:  fmt.Sprintf("HTTP %d: %s", statusCode, message),
		RawError: fmt.Errorf("status code: %d, body: %s", statusCode, string(body)),
	}
}

func mapStatusCodeToCategory(statusCode int) ErrorCategory {
	switch statusCode {
	case http.StatusBadRequest, http.StatusUnprocessableEntity:
		return ErrCategoryInvalidReq
	case http.StatusUnauthorized, http.StatusForbidden:
		return ErrCategoryAuth
	case http.StatusTooManyRequests:
		return ErrCategoryRateLimit
	default:
		if statusCode >= 500 {
			return ErrCategoryServer
		}
		return ErrCategoryUnknown
	}
}
