// Package metrics records run statistics as prometheus metrics and writes
// them to a textfile for node_exporter's textfile collector.
package metrics

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Recorder owns a private registry so runs never touch the global one.
// A nil *Recorder is valid and records nothing.
type Recorder struct {
	registry *prometheus.Registry

	// apps counts analyzed applications.
	// Labels: status (ok, failed, no_flows)
	apps *prometheus.CounterVec

	// flows counts flow verdicts.
	// Labels: mode, verdict (consistent, inconsistent, unjustified)
	flows *prometheus.CounterVec

	// contradictions counts contradicting statement pairs by predicate.
	// Labels: predicate (1..16)
	contradictions *prometheus.CounterVec

	// skipped counts inputs dropped during resolution.
	// Labels: kind
	skipped *prometheus.CounterVec

	// appDuration measures per-app analysis time.
	appDuration prometheus.Histogram

	// llmRequests counts narrative requests.
	// Labels: provider, status (ok, error, cached)
	llmRequests *prometheus.CounterVec

	// subsumption exposes the memo hit/miss totals of the two indexes.
	// Labels: ontology (entity, data), result (hit, miss)
	subsumption *prometheus.GaugeVec
}

// NewRecorder creates a recorder whose metrics live under namespace.
func NewRecorder(namespace string) *Recorder {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Recorder{
		registry: reg,
		apps: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "analysis",
			Name:      "apps_total",
			Help:      "Applications analyzed by outcome",
		}, []string{"status"}),
		flows: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "analysis",
			Name:      "flows_total",
			Help:      "Data flows checked by verdict",
		}, []string{"mode", "verdict"}),
		contradictions: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "analysis",
			Name:      "contradictions_total",
			Help:      "Contradicting policy statement pairs by predicate",
		}, []string{"predicate"}),
		skipped: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ingest",
			Name:      "skipped_total",
			Help:      "Inputs dropped during resolution by kind",
		}, []string{"kind"}),
		appDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "analysis",
			Name:      "app_duration_seconds",
			Help:      "Time to analyze one application",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5, 30},
		}),
		llmRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "llm",
			Name:      "requests_total",
			Help:      "Narrative summary requests by outcome",
		}, []string{"provider", "status"}),
		subsumption: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "subsume",
			Name:      "memo_lookups",
			Help:      "Subsumption memo lookups by ontology and result",
		}, []string{"ontology", "result"}),
	}
}

// Registry exposes the underlying registry.
func (r *Recorder) Registry() *prometheus.Registry {
	if r == nil {
		return nil
	}
	return r.registry
}

// App records one analyzed application.
func (r *Recorder) App(status string, d time.Duration) {
	if r == nil {
		return
	}
	r.apps.WithLabelValues(status).Inc()
	r.appDuration.Observe(d.Seconds())
}

// Flow records one flow verdict.
func (r *Recorder) Flow(mode, verdict string) {
	if r == nil {
		return
	}
	r.flows.WithLabelValues(mode, verdict).Inc()
}

// Contradiction records one contradicting pair.
func (r *Recorder) Contradiction(predicate int) {
	if r == nil {
		return
	}
	r.contradictions.WithLabelValues(fmt.Sprint(predicate)).Inc()
}

// Skipped records one dropped input.
func (r *Recorder) Skipped(kind string) {
	if r == nil {
		return
	}
	r.skipped.WithLabelValues(kind).Inc()
}

// LLMRequest records one narrative request.
func (r *Recorder) LLMRequest(provider, status string) {
	if r == nil {
		return
	}
	r.llmRequests.WithLabelValues(provider, status).Inc()
}

// Subsumption sets the memo totals for one ontology's index.
func (r *Recorder) Subsumption(ontology string, hits, misses uint64) {
	if r == nil {
		return
	}
	r.subsumption.WithLabelValues(ontology, "hit").Set(float64(hits))
	r.subsumption.WithLabelValues(ontology, "miss").Set(float64(misses))
}

// WriteTextfile writes every metric to path in the text exposition format.
func (r *Recorder) WriteTextfile(path string) error {
	if r == nil || path == "" {
		return nil
	}
	if err := prometheus.WriteToTextfile(path, r.registry); err != nil {
		return fmt.Errorf("failed to write metrics: %w", err)
	}
	return nil
}
