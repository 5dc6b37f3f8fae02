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
	"errors"
	"strings"
	"time"
)

var ErrSimulatedFailure = errors.New("simulated generation failure")

// Simulator is a deterministic stand-in for a model. It continues the prompt by
// cycling its words until the sequence holds MaxLength words, then returns the
// continuation without the prompt.
type Simulator struct {
	Latency time.Duration
	// Fail makes every call return ErrSimulatedFailure after Latency.
	Fail bool
}

func (s *Simulator) Generate(ctx context.Context, params *Params) (string, error) {
	if params == nil {
		return "", errors.New("params cannot be nil")
	}
	if s.Latency > 0 {
		timer := time.NewTimer(s.Latency)
		defer timer.Stop()
		select {
		case <-timer.C:
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	if s.Fail {
		return "", ErrSimulatedFailure
	}

	words := strings.Fields(params.Prompt)
	vocab := words
	if len(vocab) == 0 {
		vocab = []string{"..."}
	}
	var sb strings.Builder
	sb.WriteString(params.Prompt)
	for i := len(words); i < params.MaxLength; i++ {
		sb.WriteByte(' ')
		sb.WriteString(vocab[i%len(vocab)])
	}
	decoded := sb.String()
	return strings.TrimSpace(decoded[len(params.Prompt):]), nil
}
