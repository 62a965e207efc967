// Package metrics provides Prometheus metrics for postcraft.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"postcraft/internal/domain"
	"postcraft/internal/usecase"
)

// Metrics holds the collectors. It implements usecase.Recorder and the
// router's update counter.
type Metrics struct {
	UpdatesTotal           *prometheus.CounterVec
	EventsRecordedTotal    prometheus.Counter
	GenerationsTotal       *prometheus.CounterVec
	GenerationCallsTotal   *prometheus.CounterVec
	GenerationCallDuration *prometheus.HistogramVec
	TokensTotal            *prometheus.CounterVec
}

// NewMetrics creates the collectors and registers them on reg.
// A nil reg uses prometheus.DefaultRegisterer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &Metrics{
		UpdatesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "postcraft_updates_total",
				Help: "Total number of inbound chat updates by kind",
			},
			[]string{"kind"},
		),
		EventsRecordedTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "postcraft_events_recorded_total",
				Help: "Total number of events stored",
			},
		),
		GenerationsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "postcraft_generations_total",
				Help: "Total number of generation runs by outcome",
			},
			[]string{"status"},
		),
		GenerationCallsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "postcraft_generation_calls_total",
				Help: "Total number of generation API calls",
			},
			[]string{"platform", "status"},
		),
		GenerationCallDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "postcraft_generation_call_duration_seconds",
				Help:    "Duration of generation API calls in seconds",
				Buckets: []float64{.25, .5, 1, 2, 4, 8, 15, 30, 60},
			},
			[]string{"platform"},
		),
		TokensTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "postcraft_tokens_total",
				Help: "Tokens consumed by completed generation runs",
			},
			[]string{"kind"},
		),
	}
}

func (m *Metrics) UpdateReceived(kind string) {
	m.UpdatesTotal.WithLabelValues(kind).Inc()
}

func (m *Metrics) EventRecorded() {
	m.EventsRecordedTotal.Inc()
}

func (m *Metrics) GenerationCall(platform domain.Platform, status string, d time.Duration) {
	m.GenerationCallsTotal.WithLabelValues(platform.String(), status).Inc()
	m.GenerationCallDuration.WithLabelValues(platform.String()).Observe(d.Seconds())
}

// GenerationFinished counts the run and, for completed runs, the tokens spent.
func (m *Metrics) GenerationFinished(status usecase.GenerationStatus, usage domain.Usage) {
	m.GenerationsTotal.WithLabelValues(string(status)).Inc()
	if status != usecase.StatusDone {
		return
	}
	m.TokensTotal.WithLabelValues("prompt").Add(float64(usage.PromptTokens))
	m.TokensTotal.WithLabelValues("completion").Add(float64(usage.CompletionTokens))
}
