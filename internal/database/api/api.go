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

package api

import (
	"context"
	"errors"
	"time"
)

const (
	StatusOK    = "ok"
	StatusError = "error"
)

var ErrNotFound = errors.New("generation record not found")

// GenerationRecord is the persisted summary of one dispatched generation request.
// Prompt and output text are not stored, only their sizes.
type GenerationRecord struct {
	ID               string    `json:"id"`
	RequestID        string    `json:"request_id"`
	Model            string    `json:"model"`
	PromptChars      int       `json:"prompt_chars"`
	OutputChars      int       `json:"output_chars"`
	MaxLength        int       `json:"max_length"`
	ProcessingTimeMs int64     `json:"processing_time_ms"`
	Status           string    `json:"status"`
	Error            string    `json:"error,omitempty"`
	CreatedAt        time.Time `json:"created_at"`
}

type GenerationLogClient interface {

	// Store stores a generation record and adds it to the recent list.
	Store(ctx context.Context, rec *GenerationRecord) error

	// Get returns the record with the given ID, or ErrNotFound.
	Get(ctx context.Context, ID string) (*GenerationRecord, error)

	// Recent returns up to limit records, newest first. Expired records are skipped.
	Recent(ctx context.Context, limit int) ([]*GenerationRecord, error)

	// Close closes the client.
	Close() error
}
