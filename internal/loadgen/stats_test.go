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
	"bufio"
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleOutcomes() []Outcome {
	return []Outcome{
		{Index: 0, Status: 200, Success: true, Latency: 300 * time.Millisecond},
		{Index: 1, Status: 500, Error: "HTTP 500"},
		{Index: 2, Status: 200, Success: true, Latency: 100 * time.Millisecond},
		{Index: 3, Status: 0, Error: "connection refused"},
		{Index: 4, Status: 200, Success: true, Latency: 200 * time.Millisecond},
	}
}

func TestAggregate(t *testing.T) {
	s := Aggregate(sampleOutcomes())
	assert.Equal(t, 5, s.Total)
	assert.Equal(t, 3, s.Successful)
	assert.Equal(t, 2, s.Failed)
	assert.Equal(t, 60.0, s.SuccessRate())
	assert.Equal(t, 100*time.Millisecond, s.MinLatency)
	assert.Equal(t, 300*time.Millisecond, s.MaxLatency)
	assert.Equal(t, 200*time.Millisecond, s.AvgLatency())
}

func TestAggregateIgnoresOrder(t *testing.T) {
	in := sampleOutcomes()
	want := Aggregate(in)
	reversed := make([]Outcome, len(in))
	for i, o := range in {
		reversed[len(in)-1-i] = o
	}
	assert.Equal(t, want, Aggregate(reversed))
	assert.Equal(t, want, Aggregate(append(in[3:], in[:3]...)))
}

func TestMerge(t *testing.T) {
	parts := make([]Stats, 0)
	for _, o := range sampleOutcomes() {
		parts = append(parts, statsOf(o))
	}
	a, b, c := parts[0].Merge(parts[1]), parts[2], parts[3].Merge(parts[4])

	t.Run("is associative", func(t *testing.T) {
		assert.Equal(t, a.Merge(b).Merge(c), a.Merge(b.Merge(c)))
	})
	t.Run("is commutative", func(t *testing.T) {
		assert.Equal(t, a.Merge(c), c.Merge(a))
		assert.Equal(t, parts[1].Merge(parts[2]), parts[2].Merge(parts[1]))
	})
	t.Run("has an identity", func(t *testing.T) {
		assert.Equal(t, a, a.Merge(Stats{}))
		assert.Equal(t, a, Stats{}.Merge(a))
	})
	t.Run("keeps failure-only latencies at zero", func(t *testing.T) {
		s := parts[1].Merge(parts[3])
		assert.Zero(t, s.MinLatency)
		assert.Zero(t, s.MaxLatency)
		assert.Zero(t, s.AvgLatency())
	})
}

func TestEmptyStats(t *testing.T) {
	s := Aggregate(nil)
	assert.Zero(t, s.Total)
	assert.Zero(t, s.SuccessRate())
	assert.Zero(t, s.AvgLatency())
}

func TestWriteReport(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteReport(&buf, Aggregate(sampleOutcomes())))

	out := buf.String()
	for _, line := range []string{
		"Load Test Results:",
		"Total Requests: 5",
		"Successful Requests: 3",
		"Failed Requests: 2",
		"Success Rate: 60.00%",
		"Average Response Time: 0.20s",
		"Min Response Time: 0.10s",
		"Max Response Time: 0.30s",
	} {
		assert.Contains(t, out, line+"\n")
	}
}

func TestOutcomeWriter(t *testing.T) {
	path := filepath.Join(t.TempDir(), "outcomes.jsonl")
	w, err := NewOutcomeWriter(path)
	require.NoError(t, err)
	for _, o := range sampleOutcomes() {
		require.NoError(t, w.Write(o))
	}
	require.NoError(t, w.Close())

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	var lines []Outcome
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		var o Outcome
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &o))
		lines = append(lines, o)
	}
	require.NoError(t, scanner.Err())
	require.Len(t, lines, 5)
	assert.Equal(t, 300*time.Millisecond, lines[0].Latency)
	assert.Equal(t, "connection refused", lines[3].Error)
}

func TestLoadConfig(t *testing.T) {
	t.Run("should return defaults without a path", func(t *testing.T) {
		cfg, err := LoadConfig("")
		require.NoError(t, err)
		assert.Equal(t, DefaultConfig(), cfg)
		assert.NoError(t, cfg.Validate())
	})

	t.Run("should overlay the file on the defaults", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "loadgen.yaml")
		require.NoError(t, os.WriteFile(path, []byte(`
target: http://gateway:8000/generate
concurrency: 8
request_timeout: 5s
payload:
  prompt: Tell me a story
  max_length: 20
  temperature: 0.7
`), 0o600))

		cfg, err := LoadConfig(path)
		require.NoError(t, err)
		assert.Equal(t, "http://gateway:8000/generate", cfg.Target)
		assert.Equal(t, 8, cfg.Concurrency)
		assert.Equal(t, 50, cfg.TotalRequests)
		assert.Equal(t, 5*time.Second, cfg.RequestTimeout)
		assert.Equal(t, "Tell me a story", cfg.Payload.Prompt)
		assert.Equal(t, 20, cfg.Payload.MaxLength)

		run := cfg.RunConfig()
		assert.Equal(t, cfg.Payload, run.Payload)
		assert.Equal(t, 8, run.Concurrency)
	})

	t.Run("should fail on a missing file", func(t *testing.T) {
		_, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
		assert.Error(t, err)
	})

	t.Run("should reject invalid values", func(t *testing.T) {
		cfg := DefaultConfig()
		cfg.Concurrency = 0
		assert.Error(t, cfg.Validate())

		cfg = DefaultConfig()
		cfg.RequestTimeout = -time.Second
		assert.Error(t, cfg.Validate())
	})
}
