package settle

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics instruments the settlement engine.
type Metrics struct {
	VerdictsTotal    *prometheus.CounterVec
	SlashesTotal     prometheus.Counter
	DisputesResolved prometheus.Counter
}

// NewMetrics registers settlement metrics on the registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		VerdictsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "gridmesh_settle_verdicts_total",
			Help: "Verification verdicts by result",
		}, []string{"result"}),
		SlashesTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "gridmesh_settle_slashes_total",
			Help: "Slashes applied for rejected results",
		}),
		DisputesResolved: factory.NewCounter(prometheus.CounterOpts{
			Name: "gridmesh_settle_disputes_resolved_total",
			Help: "Dispute windows resolved, by merit or fallback",
		}),
	}
}
