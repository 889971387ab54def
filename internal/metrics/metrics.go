package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	AdmissionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "readergw_admissions_total",
			Help: "Extraction requests by final outcome and tier",
		},
		[]string{"outcome", "tier"}, // billed|denied|failed , free|pro|...
	)

	BilledCostTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "readergw_billed_cost_usd_total",
			Help: "Sum of recorded usage cost in USD",
		},
		[]string{"tier"},
	)

	CounterStoreErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "readergw_counter_store_errors_total",
			Help: "Window counter store failures (requests were denied)",
		},
		[]string{"op"}, // check|peek
	)

	LedgerErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "readergw_ledger_errors_total",
			Help: "Usage ledger write failures",
		},
		[]string{"op"}, // record|reverse
	)

	ProjectedEvents = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "readergw_projected_events_total",
			Help: "Usage events written to the analytics store by the projector",
		},
		[]string{"status"}, // ok|failed|skipped
	)

	HandleDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "readergw_gatekeeper_duration_seconds",
			Help:    "Time spent handling one extraction request end to end",
			Buckets: prometheus.DefBuckets,
		},
	)
)

var once sync.Once

// MustRegister registers every collector once; later calls are no-ops.
func MustRegister(r prometheus.Registerer) {
	once.Do(func() {
		r.MustRegister(
			AdmissionsTotal,
			BilledCostTotal,
			CounterStoreErrors,
			LedgerErrors,
			ProjectedEvents,
			HandleDuration,
		)
	})
}
