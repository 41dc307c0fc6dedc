package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the engine-facing prometheus instruments.
type Metrics struct {
	OrdersTotal        prometheus.Counter
	FillsTotal         prometheus.Counter
	RejectsTotal       prometheus.Counter
	LevelsRemovedTotal prometheus.Counter
	SubmitDuration     prometheus.Histogram
}

func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		OrdersTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "chainbook_orders_total",
			Help: "Orders accepted (rested or fully matched).",
		}),
		FillsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "chainbook_fills_total",
			Help: "Individual fill events.",
		}),
		RejectsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "chainbook_rejects_total",
			Help: "Submissions rejected before any state change.",
		}),
		LevelsRemovedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "chainbook_levels_removed_total",
			Help: "Price levels drained and deleted from a tree.",
		}),
		SubmitDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "chainbook_submit_duration_seconds",
			Help:    "Wall time of one submission, matching included.",
			Buckets: prometheus.ExponentialBuckets(1e-6, 4, 12),
		}),
	}
	if reg != nil {
		reg.MustRegister(
			m.OrdersTotal,
			m.FillsTotal,
			m.RejectsTotal,
			m.LevelsRemovedTotal,
			m.SubmitDuration,
		)
	}
	return m
}
