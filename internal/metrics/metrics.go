// SPDX-License-Identifier: Apache-2.0

package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	OutcomeCommitted = "committed"
	OutcomeNoop      = "noop"
	OutcomeRejected  = "rejected"
	OutcomeConflict  = "conflict"
	OutcomeError     = "error"
)

var (
	initOnce sync.Once

	mutationsTotalCounter    *prometheus.CounterVec
	mutationDurationMetric   prometheus.Histogram
	casRetriesCounter        prometheus.Counter
	liveConnectionsGauge     prometheus.Gauge
	liveSubscriptionsGauge   prometheus.Gauge
	messagesEnqueuedCounter  *prometheus.CounterVec
	channelOverflowCounter   prometheus.Counter
	dispatchLaneBacklogGauge prometheus.Gauge
)

// Init registers metrics on the default Prometheus registry exactly once.
func Init() {
	initOnce.Do(func() {
		mutationsTotalCounter = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "event_mutations_total",
				Help: "Total number of event mutations by outcome.",
			},
			[]string{"outcome"},
		)

		mutationDurationMetric = prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "event_mutation_duration_seconds",
				Help:    "Time spent holding an event ordering slot, in seconds.",
				Buckets: prometheus.DefBuckets,
			},
		)

		casRetriesCounter = prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "event_mutation_cas_retries_total",
				Help: "Total number of conditional writes retried after a version mismatch.",
			},
		)

		liveConnectionsGauge = prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "live_connections",
				Help: "Number of connected live-channel observers.",
			},
		)

		liveSubscriptionsGauge = prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "live_subscriptions",
				Help: "Number of active connection/event subscriptions.",
			},
		)

		messagesEnqueuedCounter = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "live_messages_enqueued_total",
				Help: "Total number of messages enqueued on observer queues by type.",
			},
			[]string{"type"},
		)

		channelOverflowCounter = prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "live_channel_overflow_total",
				Help: "Total number of queued messages dropped because an observer lagged.",
			},
		)

		dispatchLaneBacklogGauge = prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "dispatch_lane_backlog",
				Help: "Number of committed states waiting for fan-out across all lanes.",
			},
		)

		prometheus.MustRegister(
			mutationsTotalCounter,
			mutationDurationMetric,
			casRetriesCounter,
			liveConnectionsGauge,
			liveSubscriptionsGauge,
			messagesEnqueuedCounter,
			channelOverflowCounter,
			dispatchLaneBacklogGauge,
		)

		// Ensure counter vectors are visible at /metrics before first increment.
		for _, outcome := range []string{
			OutcomeCommitted,
			OutcomeNoop,
			OutcomeRejected,
			OutcomeConflict,
			OutcomeError,
		} {
			mutationsTotalCounter.WithLabelValues(outcome)
		}
	})
}

func IncMutation(outcome string) {
	Init()
	mutationsTotalCounter.WithLabelValues(outcome).Inc()
}

func ObserveMutationDuration(d time.Duration) {
	Init()
	mutationDurationMetric.Observe(d.Seconds())
}

func IncCASRetries() {
	Init()
	casRetriesCounter.Inc()
}

func IncLiveConnections() {
	Init()
	liveConnectionsGauge.Inc()
}

func DecLiveConnections() {
	Init()
	liveConnectionsGauge.Dec()
}

func AddLiveSubscriptions(n int) {
	Init()
	liveSubscriptionsGauge.Add(float64(n))
}

func IncMessagesEnqueued(messageType string) {
	Init()
	messagesEnqueuedCounter.WithLabelValues(messageType).Inc()
}

func IncChannelOverflow() {
	Init()
	channelOverflowCounter.Inc()
}

func AddLaneBacklog(n int) {
	Init()
	dispatchLaneBacklogGauge.Add(float64(n))
}
