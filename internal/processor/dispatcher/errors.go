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
	"errors"
	"fmt"
)

var (
	// ErrNotReady is returned without waiting when the model is not loaded yet.
	ErrNotReady = errors.New("model not loaded")
	// ErrShuttingDown is returned once Close was called.
	ErrShuttingDown = errors.New("service is shutting down")
	// ErrGenerationFailed wraps any failure of the generation work. It is never retried.
	ErrGenerationFailed   = errors.New("generation failed")
	ErrInvalidRequest     = errors.New("invalid generation request")
	ErrAlreadyInitialized = errors.New("service state already initialized")
)

// DispatchError carries the error kind and the underlying cause.
// errors.Is matches the kind; errors.As/Unwrap reach the cause.
type DispatchError struct {
	Kind  error
	Cause error
}

func (e *DispatchError) Error() string {
	if e.Cause == nil {
		return e.Kind.Error()
	}
	return fmt.Sprintf("%v: %v", e.Kind, e.Cause)
}

func (e *DispatchError) Is(target error) bool {
	return target == e.Kind
}

func (e *DispatchError) Unwrap() error {
	return e.Cause
}

func invalidRequest(format string, args ...any) error {
	return &DispatchError{Kind: ErrInvalidRequest, Cause: fmt.Errorf(format, args...)}
}
