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

package server

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/llm-d-incubation/textgen-gateway/internal/apiserver/common"
	"github.com/llm-d-incubation/textgen-gateway/internal/apiserver/health"
	"github.com/llm-d-incubation/textgen-gateway/internal/inference"
)

func testConfig() *common.Config {
	c := common.NewConfig()
	c.Addr = "127.0.0.1:0"
	c.ShutdownTimeout = 2 * time.Second
	c.Service.ModelName = "test-model"
	return c
}

type serveResult struct {
	baseURL string
	done    chan error
}

func serve(t *testing.T, ctx context.Context, s *Server) serveResult {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	res := serveResult{baseURL: "http://" + ln.Addr().String(), done: make(chan error, 1)}
	go func() {
		res.done <- s.Serve(ctx, ln)
	}()
	return res
}

func getHealth(t *testing.T, baseURL string) health.HealthResponse {
	t.Helper()
	resp, err := http.Get(baseURL + health.HealthPath)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var body health.HealthResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	return body
}

func TestServerLifecycle(t *testing.T) {
	release := make(chan struct{})
	s, err := New(context.Background(), testConfig(), WithLoader(func(ctx context.Context) (inference.Generator, error) {
		select {
		case <-release:
			return &inference.Simulator{}, nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	res := serve(t, ctx, s)

	// listening before the model is loaded
	require.Eventually(t, func() bool {
		resp, err := http.Get(res.baseURL + health.HealthPath)
		if err != nil {
			return false
		}
		resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 2*time.Second, 10*time.Millisecond)
	assert.False(t, getHealth(t, res.baseURL).ModelLoaded)

	resp, err := http.Post(res.baseURL+"/generate", "application/json", strings.NewReader(`{"prompt":"hi"}`))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)

	close(release)
	require.Eventually(t, func() bool { return s.State().Ready() }, 2*time.Second, 10*time.Millisecond)
	assert.True(t, getHealth(t, res.baseURL).ModelLoaded)

	resp, err = http.Post(res.baseURL+"/generate", "application/json", strings.NewReader(`{"prompt":"hi there","max_length":3}`))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.NotEmpty(t, resp.Header.Get("X-Request-ID"))

	metricsResp, err := http.Get(res.baseURL + "/metrics")
	require.NoError(t, err)
	metricsResp.Body.Close()
	assert.Equal(t, http.StatusOK, metricsResp.StatusCode)

	cancel()
	select {
	case err := <-res.done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop")
	}
}

func TestServerStopsOnInitFailure(t *testing.T) {
	loadErr := errors.New("weights missing")
	s, err := New(context.Background(), testConfig(), WithLoader(func(context.Context) (inference.Generator, error) {
		return nil, loadErr
	}))
	require.NoError(t, err)

	res := serve(t, context.Background(), s)
	select {
	case err := <-res.done:
		assert.ErrorIs(t, err, loadErr)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop after initialization failure")
	}
	assert.False(t, s.State().Ready())
}

func TestServerWithRedisGenerationLog(t *testing.T) {
	mr := miniredis.RunT(t)
	cfg := testConfig()
	cfg.Service.Redis.URL = "redis://" + mr.Addr()

	s, err := New(context.Background(), cfg)
	require.NoError(t, err)
	require.NotNil(t, s.genLog)

	ctx, cancel := context.WithCancel(context.Background())
	res := serve(t, ctx, s)
	require.Eventually(t, func() bool { return s.State().Ready() }, 2*time.Second, 10*time.Millisecond)

	resp, err := http.Post(res.baseURL+"/generate", "application/json", strings.NewReader(`{"prompt":"log me"}`))
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	cancel()
	require.NoError(t, <-res.done)

	list, err := mr.List("textgen:generations")
	require.NoError(t, err)
	assert.Len(t, list, 1)
}

func TestNewRejectsBadRedis(t *testing.T) {
	cfg := testConfig()
	cfg.Service.Redis.URL = "not-a-url"
	_, err := New(context.Background(), cfg)
	assert.Error(t, err)
}

func TestStartFailsOnBusyAddress(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	cfg := testConfig()
	cfg.Addr = ln.Addr().String()
	s, err := New(context.Background(), cfg)
	require.NoError(t, err)
	assert.Error(t, s.Start(context.Background()))
}
