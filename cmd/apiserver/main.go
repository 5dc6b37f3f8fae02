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

// The entry point for the text generation API server.
// It handles server initialization, configuration, and graceful shutdown.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"k8s.io/klog/v2"

	"github.com/llm-d-incubation/textgen-gateway/internal/apiserver/common"
	"github.com/llm-d-incubation/textgen-gateway/internal/apiserver/server"
)

func main() {
	os.Exit(run())
}

func run() int {
	// make sure to flush logs before exiting
	defer klog.Flush()

	config := common.NewConfig()

	// load and validate config
	fs := flag.NewFlagSet("textgen-gateway-apiserver", flag.ContinueOnError)
	klog.InitFlags(fs)
	config.AddFlags(fs)
	if err := fs.Parse(os.Args[1:]); err != nil {
		klog.Errorf("failed to parse flags: %v", err)
		return 2
	}
	if err := config.Load(fs, os.LookupEnv); err != nil {
		klog.Errorf("failed to load config: %v", err)
		return 1
	}
	if err := config.Validate(); err != nil {
		klog.Errorf("failed to validate config: %v", err)
		return 1
	}

	// graceful shutdown
	parentCtx := context.Background()
	c := make(chan os.Signal, 2)
	ctx, cancel := context.WithCancel(parentCtx)
	defer cancel()
	signal.Notify(c, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-c
		cancel()
		<-c
		os.Exit(1)
	}()

	// start server
	logger := klog.FromContext(ctx)

	logger.Info("starting api server",
		"model", config.Service.ModelName,
		"device", config.Service.Device,
		"workerPoolSize", config.Service.WorkerPoolSize,
		"backend", config.Service.Inference.Backend,
	)

	server, err := server.New(ctx, config)
	if err != nil {
		logger.Error(err, "failed to create api server")
		return 1
	}
	if err := server.Start(ctx); err != nil {
		logger.Error(err, "api server failed")
		return 1
	}
	logger.Info("api server is terminated")
	return 0
}
