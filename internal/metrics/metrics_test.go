package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetrics(t *testing.T) {
	registry := prometheus.NewRegistry()
	m := New()
	m.MustRegister(registry)

	t.Run("ObserveEvaluation", func(t *testing.T) {
		m.ObserveEvaluation("formula", 0.0001, 0)
		m.ObserveEvaluation("condition", 0.0002, 2)
		assert.Equal(t, 2, testutil.CollectAndCount(m.evaluationTime))
	})

	t.Run("IncTraceWarning", func(t *testing.T) {
		m.IncTraceWarning("guard")
		m.IncTraceWarning("guard")
		assert.Equal(t, 2.0, testutil.ToFloat64(m.traceWarnings.WithLabelValues("guard")))
	})

	t.Run("ObserveDuplication", func(t *testing.T) {
		m.ObserveDuplication("success", 0.01)
		m.ObserveDuplication("rejected", 0.001)
		assert.Equal(t, 2, testutil.CollectAndCount(m.duplicationTime))
	})

	t.Run("AddDuplicated skips zero", func(t *testing.T) {
		m.AddDuplicated("node", 3)
		m.AddDuplicated("formula", 0)
		assert.Equal(t, 1, testutil.CollectAndCount(m.duplicated))
		assert.Equal(t, 3.0, testutil.ToFloat64(m.duplicated.WithLabelValues("node")))
	})

	t.Run("Summary", func(t *testing.T) {
		samples, err := Summary(registry)
		require.NoError(t, err)
		require.NotEmpty(t, samples)
		for _, s := range samples {
			assert.Contains(t, s.Name, "tbl_")
		}
	})
}

func TestMustRegisterTwicePanics(t *testing.T) {
	registry := prometheus.NewRegistry()
	m := New()
	m.MustRegister(registry)
	assert.Panics(t, func() { m.MustRegister(registry) })
}
