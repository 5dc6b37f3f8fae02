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

// The file provides logging utilities and constants for the application.
package logging

import (
	"context"
	"net/http"

	"k8s.io/klog/v2"
)

// klog verbosity levels
const (
	ERROR   = 1
	WARNING = 2
	INFO    = 3
	DEBUG   = 4
	TRACE   = 5
)

type contextKey string

// RequestIDKey is the context key holding the request ID of the current HTTP request.
const RequestIDKey contextKey = "requestID"

func GetRequestLogger(r *http.Request) klog.Logger {
	return klog.FromContext(r.Context())
}

// WithRequestID returns a context carrying the request ID and a logger tagged with it.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	logger := klog.FromContext(ctx).WithValues("requestID", requestID)
	ctx = klog.NewContext(ctx, logger)
	return context.WithValue(ctx, RequestIDKey, requestID)
}

// RequestIDFromContext returns the request ID, or "unknown" when none is set.
func RequestIDFromContext(ctx context.Context) string {
	if requestID, ok := ctx.Value(RequestIDKey).(string); ok {
		return requestID
	}
	return "unknown"
}
