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

// The file provides HTTP handlers for health check endpoints.
// The server reports healthy as soon as it listens; model_loaded tells whether it can generate.
package health

import (
	"net/http"

	"github.com/llm-d-incubation/textgen-gateway/internal/apiserver/common"
)

const (
	HealthPath = "/health"
)

// Status is the subset of the service state the health endpoint reports.
type Status interface {
	Ready() bool
	Device() string
}

type HealthResponse struct {
	Status      string `json:"status"`
	ModelLoaded bool   `json:"model_loaded"`
	Device      string `json:"device"`
}

type HealthApiHandler struct {
	status Status
}

func NewHealthApiHandler(status Status) *HealthApiHandler {
	return &HealthApiHandler{status: status}
}

func (c *HealthApiHandler) GetRoutes() []common.Route {
	return []common.Route{
		{
			Method:      http.MethodGet,
			Pattern:     HealthPath,
			HandlerFunc: c.HealthHandler,
		},
		{
			Method:      http.MethodHead,
			Pattern:     HealthPath,
			HandlerFunc: c.HealthHandler,
		},
	}
}

func (c *HealthApiHandler) HealthHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodHead {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		return
	}
	common.WriteJSON(r.Context(), w, http.StatusOK, HealthResponse{
		Status:      "healthy",
		ModelLoaded: c.status.Ready(),
		Device:      c.status.Device(),
	})
}
