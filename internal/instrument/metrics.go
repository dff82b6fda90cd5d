package instrument

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "gtgather"

var (
	phaseDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "phase_duration_seconds",
		Help:      "Wall time spent in each phase of a gather run.",
		Buckets:   prometheus.ExponentialBuckets(0.0001, 4, 12), // 0.1ms to ~7min
	}, []string{"phase"})

	gatheredBytes = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "gathered_bytes_total",
		Help:      "Bytes received by the coordinator in payload exchanges.",
	})

	decodedRecords = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "decoded_records_total",
		Help:      "Variants decoded by the coordinator.",
	})

	aborts = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "aborts_total",
		Help:      "Group aborts issued by this process, by failed state.",
	}, []string{"state"})
)

// ObserveGather records a completed payload exchange at the coordinator.
func ObserveGather(bytes uint64, records int) {
	gatheredBytes.Add(float64(bytes))
	decodedRecords.Add(float64(records))
}

// ObserveAbort counts a group abort raised while in state.
func ObserveAbort(state string) {
	aborts.WithLabelValues(state).Inc()
}
