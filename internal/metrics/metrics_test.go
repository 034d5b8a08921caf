package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetrics_Record(t *testing.T) {
	m := New()

	m.RecordGraded("spread", "win")
	m.RecordGraded("spread", "win")
	m.RecordGraded("total", "push")
	m.RecordParseFailure("total")
	m.SetFlagged(3)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.PredictionsGraded.WithLabelValues("spread", "win")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.PredictionsGraded.WithLabelValues("total", "push")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ParseFailures.WithLabelValues("total")))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.ModelsFlagged))

	families, err := m.Registry().Gather()
	require.NoError(t, err)
	assert.NotEmpty(t, families)
}

func TestMetrics_SeparateRegistries(t *testing.T) {
	// each instance registers on its own registry, so two never collide
	a, b := New(), New()
	a.RecordEnsemble("weighted", "accepted")

	assert.Equal(t, 1.0, testutil.ToFloat64(a.EnsembleDecisions.WithLabelValues("weighted", "accepted")))
	assert.Equal(t, 0.0, testutil.ToFloat64(b.EnsembleDecisions.WithLabelValues("weighted", "accepted")))
}
