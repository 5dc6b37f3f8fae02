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

package cli

import (
	"bufio"
	"bytes"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunCommand(t *testing.T) {
	var hits atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1)%2 == 0 {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte(`{"detail":"Model not loaded"}`))
			return
		}
		_, _ = w.Write([]byte(`{"generated_text":"hi","model_name":"m","processing_time":0.1}`))
	}))
	defer srv.Close()

	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "loadgen.yaml")
	require.NoError(t, os.WriteFile(cfgPath, []byte("total_requests: 7\nconcurrency: 9\n"), 0o600))
	outPath := filepath.Join(dir, "outcomes.jsonl")

	var stdout bytes.Buffer
	rootCmd.SetOut(&stdout)
	rootCmd.SetArgs([]string{"run", "--config", cfgPath, "--target", srv.URL, "-n", "10", "-c", "2", "--out", outPath})
	require.NoError(t, Execute())

	out := stdout.String()
	assert.Contains(t, out, "Starting load test with 2 concurrent users...")
	assert.Contains(t, out, "Total Requests: 10\n")
	assert.Contains(t, out, "Successful Requests: 5\n")
	assert.Contains(t, out, "Failed Requests: 5\n")
	assert.Contains(t, out, "Success Rate: 50.00%\n")
	assert.Equal(t, int64(10), hits.Load())

	f, err := os.Open(outPath)
	require.NoError(t, err)
	defer f.Close()
	lines := 0
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		lines++
	}
	assert.Equal(t, 10, lines)
}
