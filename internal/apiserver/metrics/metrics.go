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

// The file defines Prometheus metrics and provides functions for recording HTTP request metrics.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// RouteUnmatched labels requests that matched no registered route.
const RouteUnmatched = "unmatched"

var (
	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "textgen_http_requests_total",
			Help: "Total number of HTTP requests to the generation service",
		},
		[]string{"method", "route", "status"},
	)
	httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "textgen_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds, including queueing for a worker",
			Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
		},
		[]string{"method", "route", "status"},
	)
	httpRequestsInFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "textgen_http_requests_in_flight",
			Help: "Current number of HTTP requests being processed by the generation service",
		},
	)
)

func init() {
	prometheus.MustRegister(httpRequestsTotal)
	prometheus.MustRegister(httpRequestDuration)
	prometheus.MustRegister(httpRequestsInFlight)
}

func RecordRequestStart() {
	httpRequestsInFlight.Inc()
}

// RecordRequestFinish records a finished request. route is the matched mux pattern,
// never the raw path, to keep label cardinality bounded.
func RecordRequestFinish(method, route, status string, duration time.Duration) {
	if route == "" {
		route = RouteUnmatched
	}
	httpRequestsInFlight.Dec()
	httpRequestsTotal.WithLabelValues(method, route, status).Inc()
	httpRequestDuration.WithLabelValues(method, route, status).Observe(duration.Seconds())
}
