// Package metrics exposes Prometheus counters for the triage pipeline.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector registers and records the service's Prometheus metrics. All
// counters are safe for concurrent use.
type Collector struct {
	registry *prometheus.Registry

	evaluations     prometheus.Counter
	rulesMatched    prometheus.Counter
	recommendations prometheus.Counter
	plans           prometheus.Counter
	planSteps       *prometheus.CounterVec
}

// NewCollector creates a collector on the given registry. If registry is
// nil, a fresh registry is used.
func NewCollector(registry *prometheus.Registry) *Collector {
	if registry == nil {
		registry = prometheus.NewRegistry()
	}

	factory := promauto.With(registry)

	return &Collector{
		registry: registry,
		evaluations: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "quillmail",
			Subsystem: "triage",
			Name:      "evaluations_total",
			Help:      "Number of rule evaluations performed.",
		}),
		rulesMatched: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "quillmail",
			Subsystem: "triage",
			Name:      "rules_matched_total",
			Help:      "Number of rules matched across all evaluations.",
		}),
		recommendations: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "quillmail",
			Subsystem: "triage",
			Name:      "recommendations_total",
			Help:      "Number of action recommendations persisted.",
		}),
		plans: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "quillmail",
			Subsystem: "triage",
			Name:      "plans_total",
			Help:      "Number of execution plans created.",
		}),
		planSteps: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "quillmail",
			Subsystem: "triage",
			Name:      "plan_steps_total",
			Help:      "Number of plan steps by eligibility decision.",
		}, []string{"decision"}),
	}
}

// RecordEvaluation records one evaluation pass and how many rules it matched.
func (c *Collector) RecordEvaluation(matchedRules int) {
	c.evaluations.Inc()
	c.rulesMatched.Add(float64(matchedRules))
}

// RecordRecommendation records one persisted recommendation.
func (c *Collector) RecordRecommendation() {
	c.recommendations.Inc()
}

// RecordPlan records one created plan and its per-step decisions.
func (c *Collector) RecordPlan(decisions []string) {
	c.plans.Inc()
	for _, d := range decisions {
		c.planSteps.WithLabelValues(d).Inc()
	}
}

// Handler returns the HTTP handler serving the metrics endpoint.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{
		ErrorHandling: promhttp.ContinueOnError,
	})
}
