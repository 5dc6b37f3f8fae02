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

// The file provides HTTP handlers for text generation and the service banner.
package generate

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"k8s.io/klog/v2"

	"github.com/llm-d-incubation/textgen-gateway/internal/apiserver/common"
	db_api "github.com/llm-d-incubation/textgen-gateway/internal/database/api"
	"github.com/llm-d-incubation/textgen-gateway/internal/processor/dispatcher"
	"github.com/llm-d-incubation/textgen-gateway/internal/util/logging"
)

const (
	GeneratePath       = "/generate"
	GenerationsPath    = "/v1/generations"
	GenerationIDHeader = "X-Generation-ID"

	maxBodyBytes       = 1 << 20
	defaultRecentLimit = 20
	detailNotLoaded    = "Model not loaded"
	detailShuttingDown = "Service is shutting down"
	bannerMessage      = "LLM API is running"
)

// Dispatcher runs a generation request.
type Dispatcher interface {
	Handle(ctx context.Context, req *dispatcher.GenerationRequest) (*dispatcher.GenerationResponse, error)
}

// GenerateResponse is the body of a successful generation. ProcessingTime is in seconds.
type GenerateResponse struct {
	GeneratedText  string  `json:"generated_text"`
	ModelName      string  `json:"model_name"`
	ProcessingTime float64 `json:"processing_time"`
}

type BannerResponse struct {
	Message string `json:"message"`
	Model   string `json:"model"`
}

type GenerationsResponse struct {
	Data []*db_api.GenerationRecord `json:"data"`
}

type GenerateApiHandler struct {
	dispatcher Dispatcher
	modelName  string
	genLog     db_api.GenerationLogClient
}

// NewGenerateApiHandler creates the handler. genLog is optional; without it the
// generation log routes are not registered.
func NewGenerateApiHandler(d Dispatcher, modelName string, genLog db_api.GenerationLogClient) *GenerateApiHandler {
	return &GenerateApiHandler{
		dispatcher: d,
		modelName:  modelName,
		genLog:     genLog,
	}
}

func (c *GenerateApiHandler) GetRoutes() []common.Route {
	routes := []common.Route{
		{
			Method:      http.MethodPost,
			Pattern:     GeneratePath,
			HandlerFunc: c.Generate,
		},
		{
			Method:      http.MethodGet,
			Pattern:     "/{$}",
			HandlerFunc: c.Banner,
		},
	}
	if c.genLog != nil {
		routes = append(routes,
			common.Route{
				Method:      http.MethodGet,
				Pattern:     GenerationsPath,
				HandlerFunc: c.ListGenerations,
			},
			common.Route{
				Method:      http.MethodGet,
				Pattern:     GenerationsPath + "/{generation_id}",
				HandlerFunc: c.RetrieveGeneration,
			},
		)
	}
	return routes
}

func (c *GenerateApiHandler) Generate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := logging.GetRequestLogger(r)

	var req dispatcher.GenerationRequest
	decoder := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := decoder.Decode(&req); err != nil {
		logger.V(logging.DEBUG).Info("invalid request body", "error", err.Error())
		common.WriteError(ctx, w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	resp, err := c.dispatcher.Handle(ctx, &req)
	if err != nil {
		c.writeDispatchError(ctx, w, err)
		return
	}

	w.Header().Set(GenerationIDHeader, resp.ID)
	common.WriteJSON(ctx, w, http.StatusOK, GenerateResponse{
		GeneratedText:  resp.GeneratedText,
		ModelName:      resp.ModelName,
		ProcessingTime: resp.ProcessingTime.Seconds(),
	})
}

// writeDispatchError maps dispatch errors to a status. The detail is the underlying cause.
func (c *GenerateApiHandler) writeDispatchError(ctx context.Context, w http.ResponseWriter, err error) {
	detail := err.Error()
	var dispatchErr *dispatcher.DispatchError
	if errors.As(err, &dispatchErr) && dispatchErr.Cause != nil {
		detail = dispatchErr.Cause.Error()
	}

	switch {
	case errors.Is(err, dispatcher.ErrNotReady):
		common.WriteError(ctx, w, http.StatusServiceUnavailable, detailNotLoaded)
	case errors.Is(err, dispatcher.ErrShuttingDown):
		common.WriteError(ctx, w, http.StatusServiceUnavailable, detailShuttingDown)
	case errors.Is(err, dispatcher.ErrInvalidRequest):
		common.WriteError(ctx, w, http.StatusBadRequest, detail)
	default:
		common.WriteError(ctx, w, http.StatusInternalServerError, detail)
	}
}

func (c *GenerateApiHandler) Banner(w http.ResponseWriter, r *http.Request) {
	common.WriteJSON(r.Context(), w, http.StatusOK, BannerResponse{
		Message: bannerMessage,
		Model:   c.modelName,
	})
}

func (c *GenerateApiHandler) ListGenerations(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	limit := defaultRecentLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			common.WriteError(ctx, w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = n
	}

	records, err := c.genLog.Recent(ctx, limit)
	if err != nil {
		klog.FromContext(ctx).Error(err, "failed to list generations")
		common.WriteError(ctx, w, http.StatusInternalServerError, "failed to list generations")
		return
	}
	common.WriteJSON(ctx, w, http.StatusOK, GenerationsResponse{Data: records})
}

func (c *GenerateApiHandler) RetrieveGeneration(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	rec, err := c.genLog.Get(ctx, r.PathValue("generation_id"))
	if err != nil {
		if errors.Is(err, db_api.ErrNotFound) {
			common.WriteError(ctx, w, http.StatusNotFound, "generation not found")
			return
		}
		klog.FromContext(ctx).Error(err, "failed to get generation")
		common.WriteError(ctx, w, http.StatusInternalServerError, "failed to get generation")
		return
	}
	common.WriteJSON(ctx, w, http.StatusOK, rec)
}
