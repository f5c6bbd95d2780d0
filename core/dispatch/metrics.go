package dispatch

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics instruments the dispatcher.
type Metrics struct {
	AssignmentsTotal  prometheus.Counter
	StaleEpochRetries prometheus.Counter
	MatchRetries      prometheus.Counter
	TimeoutsTotal     prometheus.Counter
	ExpiredTotal      prometheus.Counter
}

// NewMetrics registers dispatcher metrics on the registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		AssignmentsTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "gridmesh_dispatch_assignments_total",
			Help: "Total successful job assignments",
		}),
		StaleEpochRetries: factory.NewCounter(prometheus.CounterOpts{
			Name: "gridmesh_dispatch_stale_epoch_retries_total",
			Help: "Assign attempts lost to a concurrent dispatcher",
		}),
		MatchRetries: factory.NewCounter(prometheus.CounterOpts{
			Name: "gridmesh_dispatch_match_retries_total",
			Help: "Jobs requeued with backoff after an empty match pass",
		}),
		TimeoutsTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "gridmesh_dispatch_assignment_timeouts_total",
			Help: "Assignments closed by the timeout sweep",
		}),
		ExpiredTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "gridmesh_dispatch_jobs_expired_total",
			Help: "Jobs expired after exhausting match or reassignment budgets",
		}),
	}
}
