package dmstate

import (
	"github.com/prometheus/client_golang/prometheus"
)

type metrics struct {
	registry          *prometheus.Registry
	eventsRecorded    *prometheus.CounterVec
	storageFailures   *prometheus.CounterVec
	broadcastSkipped  prometheus.Counter
	pushBatches       prometheus.Counter
	pushBatchFailures prometheus.Counter
}

// registered on a private registry instead of the global default one
func newMetrics(subscribers func() float64) *metrics {
	m := &metrics{
		registry: prometheus.NewRegistry(),
		eventsRecorded: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "doormonitor_events_recorded_total",
			Help: "Signals appended to the event logs",
		}, []string{"kind"}),
		storageFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "doormonitor_storage_failures_total",
			Help: "Failed event log appends",
		}, []string{"kind"}),
		broadcastSkipped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "doormonitor_broadcast_skipped_total",
			Help: "Live deliveries skipped because the subscriber was not ready",
		}),
		pushBatches: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "doormonitor_push_batches_total",
			Help: "Push notification batches sent",
		}),
		pushBatchFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "doormonitor_push_batch_failures_total",
			Help: "Push notification batches that failed",
		}),
	}

	m.registry.MustRegister(
		m.eventsRecorded,
		m.storageFailures,
		m.broadcastSkipped,
		m.pushBatches,
		m.pushBatchFailures,
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Name: "doormonitor_live_subscribers",
			Help: "Currently connected live channel subscribers",
		}, subscribers))

	return m
}
