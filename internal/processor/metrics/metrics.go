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

package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// labels definition
const (
	// result labels
	ResultSuccess = "success"
	ResultFailed  = "failed"

	// reason labels
	ReasonNone           = "none"
	ReasonNotReady       = "not_ready"
	ReasonInvalidRequest = "invalid_request"
	ReasonQueueTimeout   = "queue_timeout"
	ReasonCancelled      = "cancelled"
	ReasonWorkerError    = "worker_error"
	ReasonWorkerPanic    = "worker_panic"
)

var (
	// number of dispatched generation requests
	dispatchTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "textgen_dispatch_total",
			Help: "Total number of generation requests handled by the dispatcher",
		}, []string{"result", "reason"},
	)

	// end-to-end processing time (queue wait + generation)
	processingDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name: "textgen_processing_duration_seconds",
			Help: "Duration from acceptance to completion of a generation request in seconds",
			// Bucket 1: ~ 0.05s ... Bucket 12: ~ 102.4s
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 12),
		}, []string{"result"},
	)

	// time spent waiting for a free worker slot
	queueWaitDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "textgen_queue_wait_seconds",
			Help:    "Time a generation request waited for a worker slot in seconds",
			Buckets: prometheus.ExponentialBuckets(0.001, 4, 10),
		},
	)

	// current number of busy worker slots
	activeWorkers = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "textgen_active_workers",
			Help: "Current number of worker slots executing generation work",
		},
	)

	// current number of requests waiting for a worker slot
	queuedRequests = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "textgen_queued_requests",
			Help: "Current number of requests waiting for a worker slot",
		},
	)

	// configured pool size
	poolSize = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "textgen_worker_pool_size",
			Help: "Configured number of worker slots",
		},
	)
)

func init() {
	prometheus.MustRegister(dispatchTotal)
	prometheus.MustRegister(processingDuration)
	prometheus.MustRegister(queueWaitDuration)
	prometheus.MustRegister(activeWorkers)
	prometheus.MustRegister(queuedRequests)
	prometheus.MustRegister(poolSize)
}

// Recorder funcs

// RecordDispatch increments the dispatch counter.
func RecordDispatch(result string, reason string) {
	dispatchTotal.WithLabelValues(result, reason).Inc()
}

// RecordProcessingDuration observes the time from acceptance to completion.
func RecordProcessingDuration(duration time.Duration, result string) {
	processingDuration.WithLabelValues(result).Observe(duration.Seconds())
}

// RecordQueueWait observes how long a request waited for a slot.
func RecordQueueWait(duration time.Duration) {
	queueWaitDuration.Observe(duration.Seconds())
}

func IncActiveWorkers() {
	activeWorkers.Inc()
}

func DecActiveWorkers() {
	activeWorkers.Dec()
}

func IncQueuedRequests() {
	queuedRequests.Inc()
}

func DecQueuedRequests() {
	queuedRequests.Dec()
}

func SetPoolSize(size int) {
	poolSize.Set(float64(size))
}
