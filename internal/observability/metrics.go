package observability

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	registerOnce sync.Once

	syncCycles = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "worksync",
			Subsystem: "engine",
			Name:      "cycles_total",
			Help:      "Completed sync cycles.",
		},
		[]string{"outcome"},
	)
	cycleDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "worksync",
			Subsystem: "engine",
			Name:      "cycle_duration_seconds",
			Help:      "Sync cycle duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
	)
	eventsProcessed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "worksync",
			Subsystem: "engine",
			Name:      "events_total",
			Help:      "Events processed, by command and outcome.",
		},
		[]string{"command", "outcome"},
	)
	remoteCalls = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "worksync",
			Subsystem: "remote",
			Name:      "calls_total",
			Help:      "Outbound calls, by target and outcome.",
		},
		[]string{"target", "outcome"},
	)
)

func RegisterMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(syncCycles, cycleDuration, eventsProcessed, remoteCalls)
	})
}

func RecordCycle(outcome string, duration time.Duration) {
	RegisterMetrics()
	syncCycles.WithLabelValues(outcome).Inc()
	cycleDuration.Observe(duration.Seconds())
}

func RecordEvent(command, outcome string) {
	RegisterMetrics()
	eventsProcessed.WithLabelValues(command, outcome).Inc()
}

func RecordRemoteCall(target string, err error) {
	RegisterMetrics()
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	remoteCalls.WithLabelValues(target, outcome).Inc()
}
