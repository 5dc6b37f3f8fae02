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
	"time"
)

// Outcome is the record of one load test request. Status is 0 when the request
// failed before an HTTP status was received.
type Outcome struct {
	Index     int           `json:"index"`
	Status    int           `json:"status"`
	Latency   time.Duration `json:"latency_ns"`
	Success   bool          `json:"success"`
	Error     string        `json:"error,omitempty"`
	StartedAt time.Time     `json:"started_at"`
}

// Stats summarizes a set of outcomes. Latencies cover successful outcomes only
// and are zero when there are none.
type Stats struct {
	Total      int           `json:"total"`
	Successful int           `json:"successful"`
	Failed     int           `json:"failed"`
	MinLatency time.Duration `json:"min_latency_ns"`
	MaxLatency time.Duration `json:"max_latency_ns"`
	SumLatency time.Duration `json:"sum_latency_ns"`
}

// Aggregate reduces outcomes to Stats. The result does not depend on their order.
func Aggregate(outcomes []Outcome) Stats {
	var s Stats
	for _, o := range outcomes {
		s = s.Merge(statsOf(o))
	}
	return s
}

func statsOf(o Outcome) Stats {
	if !o.Success {
		return Stats{Total: 1, Failed: 1}
	}
	return Stats{
		Total:      1,
		Successful: 1,
		MinLatency: o.Latency,
		MaxLatency: o.Latency,
		SumLatency: o.Latency,
	}
}

// Merge combines two partial summaries. It is associative and commutative.
func (s Stats) Merge(o Stats) Stats {
	out := Stats{
		Total:      s.Total + o.Total,
		Successful: s.Successful + o.Successful,
		Failed:     s.Failed + o.Failed,
		SumLatency: s.SumLatency + o.SumLatency,
	}
	switch {
	case s.Successful == 0:
		out.MinLatency, out.MaxLatency = o.MinLatency, o.MaxLatency
	case o.Successful == 0:
		out.MinLatency, out.MaxLatency = s.MinLatency, s.MaxLatency
	default:
		out.MinLatency = min(s.MinLatency, o.MinLatency)
		out.MaxLatency = max(s.MaxLatency, o.MaxLatency)
	}
	return out
}

// SuccessRate is the percentage of successful outcomes, 0 when there are none.
func (s Stats) SuccessRate() float64 {
	if s.Total == 0 {
		return 0
	}
	return float64(s.Successful) / float64(s.Total) * 100
}

func (s Stats) AvgLatency() time.Duration {
	if s.Successful == 0 {
		return 0
	}
	return s.SumLatency / time.Duration(s.Successful)
}
