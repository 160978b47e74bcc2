package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "memrecall"

// Collectors are the Prometheus metrics of the recall engine.
type Collectors struct {
	Calls        *prometheus.CounterVec
	Degrades     *prometheus.CounterVec
	Duration     prometheus.Histogram
	StageSeconds *prometheus.HistogramVec
	Selected     *prometheus.HistogramVec
}

// NewCollectors creates the collectors and registers them with reg. A nil
// reg leaves them unregistered.
func NewCollectors(reg prometheus.Registerer) *Collectors {
	f := promauto.With(reg)
	return &Collectors{
		Calls: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "recall",
				Name:      "calls_total",
				Help:      "Total number of recall calls by outcome",
			},
			[]string{"outcome"},
		),
		Degrades: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "recall",
				Name:      "degrades_total",
				Help:      "Total number of degraded recall stages by reason",
			},
			[]string{"reason"},
		),
		Duration: f.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "recall",
				Name:      "duration_seconds",
				Help:      "Recall call duration in seconds",
				Buckets:   []float64{.01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 30},
			},
		),
		StageSeconds: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "recall",
				Name:      "stage_duration_seconds",
				Help:      "Recall stage duration in seconds",
				Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 5, 15},
			},
			[]string{"stage"},
		),
		Selected: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "recall",
				Name:      "selected_items",
				Help:      "Number of items returned per recall call by kind",
				Buckets:   prometheus.ExponentialBuckets(1, 2, 8),
			},
			[]string{"kind"},
		),
	}
}

// Observe folds a finished record into the collectors. A nil receiver is
// a no-op.
func (c *Collectors) Observe(r *Record) {
	if c == nil || r == nil {
		return
	}
	c.Calls.WithLabelValues(string(r.Outcome)).Inc()
	for _, reason := range r.Reasons {
		c.Degrades.WithLabelValues(reason).Inc()
	}
	c.Duration.Observe(r.ElapsedMs / 1000)
	for _, s := range r.Stages {
		c.StageSeconds.WithLabelValues(s.Name).Observe(s.Ms / 1000)
	}
	c.Selected.WithLabelValues("events").Observe(float64(r.Evidence.Events))
	c.Selected.WithLabelValues("atoms").Observe(float64(r.Evidence.Atoms))
	c.Selected.WithLabelValues("floors").Observe(float64(r.Evidence.Floors))
	c.Selected.WithLabelValues("causal").Observe(float64(r.Causal.Injected))
	c.Selected.WithLabelValues("diffused").Observe(float64(r.Diffusion.Kept))
}
