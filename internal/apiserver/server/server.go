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

// The file wires the api handlers, the dispatcher and the worker pool into an HTTP server.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"k8s.io/klog/v2"

	"github.com/llm-d-incubation/textgen-gateway/internal/apiserver/common"
	"github.com/llm-d-incubation/textgen-gateway/internal/apiserver/generate"
	"github.com/llm-d-incubation/textgen-gateway/internal/apiserver/health"
	"github.com/llm-d-incubation/textgen-gateway/internal/apiserver/metrics"
	"github.com/llm-d-incubation/textgen-gateway/internal/apiserver/middleware"
	db_api "github.com/llm-d-incubation/textgen-gateway/internal/database/api"
	dbredis "github.com/llm-d-incubation/textgen-gateway/internal/database/redis"
	"github.com/llm-d-incubation/textgen-gateway/internal/inference"
	"github.com/llm-d-incubation/textgen-gateway/internal/processor/dispatcher"
	"github.com/llm-d-incubation/textgen-gateway/internal/processor/worker"
	uredis "github.com/llm-d-incubation/textgen-gateway/internal/util/redis"
	utls "github.com/llm-d-incubation/textgen-gateway/internal/util/tls"
)

const readHeaderTimeout = 10 * time.Second

type Server struct {
	config     *common.Config
	state      *dispatcher.State
	pool       *worker.WorkerPool
	dispatcher *dispatcher.Dispatcher
	genLog     db_api.GenerationLogClient
	loader     dispatcher.Loader
	handler    http.Handler
}

type Option func(*Server)

// WithLoader replaces the model loader built from the inference configuration.
func WithLoader(load dispatcher.Loader) Option {
	return func(s *Server) {
		s.loader = load
	}
}

// WithGenerationLog uses genLog instead of connecting to the configured redis.
func WithGenerationLog(genLog db_api.GenerationLogClient) Option {
	return func(s *Server) {
		s.genLog = genLog
	}
}

// New builds the server. It connects to redis when a generation log is configured,
// but does not load the model; that happens in Start.
func New(ctx context.Context, config *common.Config, opts ...Option) (*Server, error) {
	if config == nil || config.Service == nil {
		return nil, errors.New("server config cannot be nil")
	}
	svc := config.Service

	s := &Server{config: config}
	for _, opt := range opts {
		opt(s)
	}
	if s.loader == nil {
		backend := svc.BackendConfig()
		s.loader = func(ctx context.Context) (inference.Generator, error) {
			return inference.NewGenerator(ctx, backend)
		}
	}
	if s.genLog == nil && svc.Redis.Enabled() {
		genLog, err := newGenerationLog(ctx, config)
		if err != nil {
			return nil, fmt.Errorf("connecting generation log: %w", err)
		}
		s.genLog = genLog
	}

	s.state = dispatcher.NewState(svc.ModelName, svc.Device)
	s.pool = worker.NewWorkerPool(svc.WorkerPoolSize, worker.WithQueueTimeout(svc.QueueTimeout))

	dispatchOpts := []dispatcher.Option{
		dispatcher.WithRequestDefaults(svc.RequestDefaults),
		dispatcher.WithMaxLengthCap(svc.MaxLength),
		dispatcher.WithGenerationTimeout(svc.GenerationTimeout),
	}
	if s.genLog != nil {
		dispatchOpts = append(dispatchOpts, dispatcher.WithRecordSink(s.genLog))
	}
	s.dispatcher = dispatcher.New(s.state, s.pool, dispatchOpts...)

	mux := http.NewServeMux()
	common.RegisterHandler(mux, generate.NewGenerateApiHandler(s.dispatcher, svc.ModelName, s.genLog))
	common.RegisterHandler(mux, health.NewHealthApiHandler(s.state))
	common.RegisterHandler(mux, metrics.NewMetricsApiHandler())
	s.handler = middleware.RequestMiddleware(mux)

	return s, nil
}

func newGenerationLog(ctx context.Context, config *common.Config) (db_api.GenerationLogClient, error) {
	rc := config.Service.Redis
	clientConf := &uredis.RedisClientConfig{
		Url:         rc.URL,
		DbIdx:       -1,
		EnableTLS:   rc.EnableTLS,
		Insecure:    rc.Insecure,
		ServiceName: rc.ServiceName,
		Timeout:     rc.Timeout,
	}
	if !rc.Certificates.IsEmpty() {
		certs := rc.Certificates
		clientConf.Certificates = &certs
	}
	return dbredis.NewGenerationLogRedis(ctx, clientConf, rc.TTL)
}

func (s *Server) Handler() http.Handler {
	return s.handler
}

func (s *Server) State() *dispatcher.State {
	return s.state
}

// Start listens on the configured address and serves until ctx is cancelled.
// The model is loaded in the background once the listener is up; a load failure
// stops the server and is returned.
func (s *Server) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.config.Addr)
	if err != nil {
		s.closeGenerationLog(ctx)
		return fmt.Errorf("listen on %s: %w", s.config.Addr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve is Start on an existing listener. It takes ownership of ln.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	logger := klog.FromContext(ctx)

	httpServer := &http.Server{
		Handler:           s.handler,
		ReadHeaderTimeout: readHeaderTimeout,
		// requests keep the logger but outlive ctx so they can drain on shutdown
		BaseContext: func(net.Listener) context.Context {
			return context.WithoutCancel(ctx)
		},
	}
	if s.config.TLSEnabled() {
		tlsConfig, err := utls.GetTlsConfig(utls.LOAD_TYPE_SERVER, false,
			s.config.SSLCertFile, s.config.SSLKeyFile, s.config.ClientCAFile)
		if err != nil {
			ln.Close()
			s.closeGenerationLog(ctx)
			return err
		}
		httpServer.TLSConfig = tlsConfig
	}

	errCh := make(chan error, 2)
	go func() {
		logger.Info("api server listening", "addr", ln.Addr().String(), "tls", s.config.TLSEnabled())
		var err error
		if httpServer.TLSConfig != nil {
			err = httpServer.ServeTLS(ln, "", "")
		} else {
			err = httpServer.Serve(ln)
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("serving http: %w", err)
		}
	}()

	initCtx, cancelInit := context.WithCancel(ctx)
	defer cancelInit()
	go func() {
		if err := s.state.Initialize(initCtx, s.loader); err != nil {
			errCh <- fmt.Errorf("model initialization failed: %w", err)
		}
	}()

	var runErr error
	select {
	case <-ctx.Done():
		logger.Info("shutting down api server")
	case runErr = <-errCh:
		logger.Error(runErr, "api server stopping")
	}
	cancelInit()

	s.shutdown(httpServer)
	return runErr
}

func (s *Server) shutdown(httpServer *http.Server) {
	logger := klog.Background()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.config.ShutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error(err, "failed to drain http server")
	}

	// running generations finish and record before the log goes away
	s.dispatcher.Close()
	s.pool.Close()
	s.dispatcher.Wait()
	s.pool.WaitAll()
	s.closeGenerationLog(shutdownCtx)
	logger.Info("api server stopped")
}

func (s *Server) closeGenerationLog(ctx context.Context) {
	if s.genLog == nil {
		return
	}
	if err := s.genLog.Close(); err != nil {
		klog.FromContext(ctx).Error(err, "failed to close generation log")
	}
}
