package metrics

import (
	"sort"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "tbl"

// Default is the process-wide collector set used by the CLI.
var Default = New()

// Metrics holds prometheus collectors for evaluation and duplication.
type Metrics struct {
	evaluationTime  *prometheus.HistogramVec
	traceWarnings   *prometheus.CounterVec
	duplicationTime *prometheus.HistogramVec
	duplicated      *prometheus.CounterVec
}

// New creates unregistered collectors.
func New() *Metrics {
	return &Metrics{
		evaluationTime: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "eval",
				Name:      "duration_seconds",
				Help:      "Capability evaluation time in seconds.",
				Buckets:   prometheus.ExponentialBuckets(0.00001, 2, 12), // 10µs to ~20ms
			},
			[]string{"kind", "result"}, // result: "success" or "warning"
		),
		traceWarnings: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "eval",
				Name:      "trace_warnings_total",
				Help:      "Soft evaluation failures by trace source.",
			},
			[]string{"source"},
		),
		duplicationTime: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "repeat",
				Name:      "duration_seconds",
				Help:      "Subtree duplication time in seconds.",
				Buckets:   prometheus.ExponentialBuckets(0.001, 2, 12), // 1ms to ~2s
			},
			[]string{"result"}, // "success", "rejected", "collision" or "error"
		),
		duplicated: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "repeat",
				Name:      "entities_total",
				Help:      "Entities created by duplication, by kind.",
			},
			[]string{"kind"},
		),
	}
}

// ObserveEvaluation records one top-level evaluation.
func (m *Metrics) ObserveEvaluation(kind string, durationSeconds float64, warnings int) {
	result := "success"
	if warnings > 0 {
		result = "warning"
	}
	m.evaluationTime.WithLabelValues(kind, result).Observe(durationSeconds)
}

// IncTraceWarning counts a warn-level trace entry.
func (m *Metrics) IncTraceWarning(source string) {
	m.traceWarnings.WithLabelValues(source).Inc()
}

// ObserveDuplication records one duplication attempt outcome.
func (m *Metrics) ObserveDuplication(result string, durationSeconds float64) {
	m.duplicationTime.WithLabelValues(result).Observe(durationSeconds)
}

// AddDuplicated counts created entities of one kind.
func (m *Metrics) AddDuplicated(kind string, n int) {
	if n > 0 {
		m.duplicated.WithLabelValues(kind).Add(float64(n))
	}
}

// MustRegister registers all collectors with registry.
func (m *Metrics) MustRegister(registry prometheus.Registerer) {
	registry.MustRegister(
		m.evaluationTime,
		m.traceWarnings,
		m.duplicationTime,
		m.duplicated,
	)
}

// Sample is one flattened series for display.
type Sample struct {
	Name   string
	Labels string
	Value  float64 // counter value, or observation count for histograms
}

// Summary flattens the tbl_* series gathered from g.
func Summary(g prometheus.Gatherer) ([]Sample, error) {
	families, err := g.Gather()
	if err != nil {
		return nil, err
	}
	var out []Sample
	for _, mf := range families {
		if !strings.HasPrefix(mf.GetName(), namespace+"_") {
			continue
		}
		for _, m := range mf.GetMetric() {
			var labels []string
			for _, lp := range m.GetLabel() {
				labels = append(labels, lp.GetName()+"="+lp.GetValue())
			}
			s := Sample{Name: mf.GetName(), Labels: strings.Join(labels, ",")}
			switch {
			case m.GetHistogram() != nil:
				s.Value = float64(m.GetHistogram().GetSampleCount())
			case m.GetCounter() != nil:
				s.Value = m.GetCounter().GetValue()
			}
			out = append(out, s)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Name != out[j].Name {
			return out[i].Name < out[j].Name
		}
		return out[i].Labels < out[j].Labels
	})
	return out, nil
}
