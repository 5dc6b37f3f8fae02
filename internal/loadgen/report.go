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

package loadgen

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sync"
)

// WriteReport prints the human readable summary of a run. Latencies are in seconds.
func WriteReport(w io.Writer, s Stats) error {
	_, err := fmt.Fprintf(w, "\nLoad Test Results:\n"+
		"Total Requests: %d\n"+
		"Successful Requests: %d\n"+
		"Failed Requests: %d\n"+
		"Success Rate: %.2f%%\n"+
		"Average Response Time: %.2fs\n"+
		"Min Response Time: %.2fs\n"+
		"Max Response Time: %.2fs\n",
		s.Total, s.Successful, s.Failed, s.SuccessRate(),
		s.AvgLatency().Seconds(), s.MinLatency.Seconds(), s.MaxLatency.Seconds())
	return err
}

// OutcomeWriter appends outcomes to a JSON Lines file. It is safe for concurrent use.
type OutcomeWriter struct {
	file    *os.File
	encoder *json.Encoder
	mu      sync.Mutex
}

func NewOutcomeWriter(path string) (*OutcomeWriter, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("creating outcome file: %w", err)
	}
	return &OutcomeWriter{
		file:    f,
		encoder: json.NewEncoder(f),
	}, nil
}

func (w *OutcomeWriter) Write(o Outcome) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.encoder.Encode(o)
}

func (w *OutcomeWriter) Close() error {
	return w.file.Close()
}
