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

package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"k8s.io/klog/v2"

	"github.com/llm-d-incubation/textgen-gateway/internal/inference"
)

// Loader creates the inference capability during startup.
type Loader func(ctx context.Context) (inference.Generator, error)

type loaded struct {
	generator inference.Generator
}

// State is the process-wide readiness and model identity.
// It becomes ready at most once and never goes back.
type State struct {
	modelName string
	device    string

	started atomic.Bool
	loaded  atomic.Pointer[loaded]
}

func NewState(modelName, device string) *State {
	return &State{
		modelName: modelName,
		device:    device,
	}
}

// NewReadyState returns a State that is already initialized with gen.
func NewReadyState(modelName, device string, gen inference.Generator) *State {
	s := NewState(modelName, device)
	s.started.Store(true)
	s.loaded.Store(&loaded{generator: gen})
	return s
}

// Initialize runs load once. On success the state becomes ready. On failure it stays
// not ready and the caller is expected to abort startup; there is no second attempt.
func (s *State) Initialize(ctx context.Context, load Loader) error {
	if load == nil {
		return errors.New("loader cannot be nil")
	}
	if !s.started.CompareAndSwap(false, true) {
		return ErrAlreadyInitialized
	}

	logger := klog.FromContext(ctx)
	logger.Info("Loading model", "model", s.modelName, "device", s.device)
	start := time.Now()

	gen, err := load(ctx)
	if err != nil {
		logger.Error(err, "Failed to load model", "model", s.modelName)
		return fmt.Errorf("loading model %s: %w", s.modelName, err)
	}
	if gen == nil {
		return fmt.Errorf("loading model %s: loader returned no generator", s.modelName)
	}

	s.loaded.Store(&loaded{generator: gen})
	logger.Info("Model loaded successfully", "model", s.modelName, "device", s.device, "took", time.Since(start))
	return nil
}

func (s *State) Ready() bool {
	return s.loaded.Load() != nil
}

func (s *State) ModelName() string {
	return s.modelName
}

func (s *State) Device() string {
	return s.device
}

// Generator returns the loaded generator, or nil before initialization.
func (s *State) Generator() inference.Generator {
	if l := s.loaded.Load(); l != nil {
		return l.generator
	}
	return nil
}
