package metrics

import (
	"errors"

	"ai-meal-calendar/internal/shared"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Collectors exposes generator calls as Prometheus metrics.
type Collectors struct {
	generations *prometheus.CounterVec
	tokens      *prometheus.CounterVec
	latency     *prometheus.HistogramVec
}

// NewCollectors registers the generation collectors with reg.
func NewCollectors(reg prometheus.Registerer) *Collectors {
	f := promauto.With(reg)
	return &Collectors{
		generations: f.NewCounterVec(prometheus.CounterOpts{
			Name: "meal_calendar_generations_total",
			Help: "Generator calls by operation and outcome",
		}, []string{"operation", "status"}),
		tokens: f.NewCounterVec(prometheus.CounterOpts{
			Name: "meal_calendar_generation_tokens_total",
			Help: "Tokens consumed by generator calls",
		}, []string{"operation", "kind"}),
		latency: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "meal_calendar_generation_duration_seconds",
			Help:    "Duration of generator calls",
			Buckets: []float64{0.5, 1, 2.5, 5, 10, 20, 40, 90},
		}, []string{"operation"}),
	}
}

// RecordMeta updates the collectors for one generator call.
func (c *Collectors) RecordMeta(meta shared.AgentMeta) error {
	status := "success"
	if !meta.Success {
		status = "failure"
	}
	c.generations.WithLabelValues(meta.AgentName, status).Inc()
	c.tokens.WithLabelValues(meta.AgentName, "prompt").Add(float64(meta.Usage.PromptTokens))
	c.tokens.WithLabelValues(meta.AgentName, "completion").Add(float64(meta.Usage.CompletionTokens))
	c.latency.WithLabelValues(meta.AgentName).Observe(meta.Latency.Seconds())
	return nil
}

// MetaRecorder is anything that accepts generator call metadata.
type MetaRecorder interface {
	RecordMeta(meta shared.AgentMeta) error
}

// Multi fans one call out to several recorders.
type Multi []MetaRecorder

func (m Multi) RecordMeta(meta shared.AgentMeta) error {
	var errs []error
	for _, r := range m {
		if r == nil {
			continue
		}
		if err := r.RecordMeta(meta); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
