package validation

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/XavierBriggs/fortuna/services/prediction-engine/internal/tracker"
	"github.com/XavierBriggs/fortuna/services/prediction-engine/pkg/models"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var now = time.Date(2025, 6, 14, 12, 0, 0, 0, time.UTC)

func healthyRecord(id string) *models.ModelPerformanceRecord {
	rec := models.NewModelPerformanceRecord(id)
	rec.TotalPredictions = 100
	rec.CorrectPredictions = 60
	rec.Accuracy = 0.6
	rec.ConfidenceCalibration[60] = models.BucketStats{Total: 100, Correct: 60, Accuracy: 0.6}
	rec.Daily["2025-06-13"] = models.BucketStats{Total: 20, Correct: 12, Accuracy: 0.6}
	rec.Daily["2025-05-01"] = models.BucketStats{Total: 80, Correct: 48, Accuracy: 0.6}
	return rec
}

func TestEvaluate_Healthy(t *testing.T) {
	eval := Evaluate(healthyRecord("m1"), DefaultThresholds(), now)

	assert.True(t, eval.Evaluated)
	assert.False(t, eval.NeedsRetraining)
	assert.Empty(t, eval.Reasons)
	assert.InDelta(t, 0.05, eval.CalibrationError, 1e-9)
	require.NotNil(t, eval.TrailingAccuracy)
	assert.InDelta(t, 0.6, *eval.TrailingAccuracy, 1e-9)
	assert.InDelta(t, 0.0, eval.Drift, 1e-9)
	assert.Equal(t, now, eval.EvaluatedAt)
}

func TestEvaluate_BelowMinimumIsNotEvaluated(t *testing.T) {
	rec := healthyRecord("m1")
	rec.TotalPredictions = 49
	rec.Accuracy = 0.1

	eval := Evaluate(rec, DefaultThresholds(), now)
	assert.False(t, eval.Evaluated)
	assert.False(t, eval.NeedsRetraining)
}

func TestEvaluate_Breaches(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*models.ModelPerformanceRecord)
		reason string
	}{
		{
			name: "accuracy",
			mutate: func(r *models.ModelPerformanceRecord) {
				r.Accuracy = 0.48
			},
			reason: "accuracy 0.480 below",
		},
		{
			name: "calibration",
			mutate: func(r *models.ModelPerformanceRecord) {
				r.ConfidenceCalibration[90] = models.BucketStats{Total: 30, Correct: 12, Accuracy: 0.4}
			},
			reason: "calibration error",
		},
		{
			name: "drift",
			mutate: func(r *models.ModelPerformanceRecord) {
				r.Daily["2025-06-13"] = models.BucketStats{Total: 20, Correct: 6, Accuracy: 0.3}
			},
			reason: "drifted",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := healthyRecord("m1")
			tt.mutate(rec)

			eval := Evaluate(rec, DefaultThresholds(), now)
			assert.True(t, eval.NeedsRetraining)
			require.Len(t, eval.Reasons, 1)
			assert.Contains(t, eval.Reasons[0], tt.reason)
		})
	}
}

func TestEvaluate_SmallWindowSkipsDrift(t *testing.T) {
	rec := healthyRecord("m1")
	rec.Daily["2025-06-13"] = models.BucketStats{Total: 5, Correct: 0, Accuracy: 0}

	eval := Evaluate(rec, DefaultThresholds(), now)
	assert.Nil(t, eval.TrailingAccuracy)
	assert.False(t, eval.NeedsRetraining)
}

func TestScheduler_Run(t *testing.T) {
	bad := healthyRecord("b-model")
	bad.Accuracy = 0.4
	snap := tracker.Snapshot{
		"b-model": bad,
		"a-model": healthyRecord("a-model"),
	}

	s := NewScheduler(DefaultThresholds(), func() time.Time { return now })
	evals := s.Run(snap)

	require.Len(t, evals, 2)
	assert.Equal(t, "a-model", evals[0].ModelID)
	assert.Equal(t, "b-model", evals[1].ModelID)

	flagged := Flagged(evals)
	require.Len(t, flagged, 1)
	assert.Equal(t, "b-model", flagged[0].ModelID)
}

type mockSink struct {
	saved [][]models.ModelEvaluation
	err   error
}

func (m *mockSink) SaveEvaluations(ctx context.Context, evals []models.ModelEvaluation) error {
	m.saved = append(m.saved, evals)
	return m.err
}

func quietLogger() *logrus.Entry {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return logrus.NewEntry(l)
}

func TestRunner_RunOnce(t *testing.T) {
	bad := healthyRecord("m2")
	bad.Accuracy = 0.4
	snap := tracker.Snapshot{"m1": healthyRecord("m1"), "m2": bad}

	sink := &mockSink{}
	r, err := NewRunner("*/15 * * * *", NewScheduler(DefaultThresholds(), func() time.Time { return now }),
		func() tracker.Snapshot { return snap }, quietLogger(), sink)
	require.NoError(t, err)

	var flaggedCount int
	r.OnFlagged(func(n int) { flaggedCount = n })

	evals, err := r.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Len(t, evals, 2)
	assert.Equal(t, 1, flaggedCount)
	require.Len(t, sink.saved, 1)
	assert.Len(t, sink.saved[0], 2)
	assert.Len(t, r.Last(), 2)
}

func TestRunner_SinkError(t *testing.T) {
	sink := &mockSink{err: errors.New("db down")}
	r, err := NewRunner("@hourly", NewScheduler(DefaultThresholds(), nil),
		func() tracker.Snapshot { return tracker.Snapshot{} }, quietLogger(), sink)
	require.NoError(t, err)

	_, err = r.RunOnce(context.Background())
	assert.ErrorContains(t, err, "db down")
}

func TestNewRunner_InvalidSchedule(t *testing.T) {
	_, err := NewRunner("every tuesday", NewScheduler(DefaultThresholds(), nil),
		func() tracker.Snapshot { return nil }, quietLogger())
	assert.Error(t, err)
}

func TestRunner_StartStopsWithContext(t *testing.T) {
	r, err := NewRunner("@daily", NewScheduler(DefaultThresholds(), nil),
		func() tracker.Snapshot { return nil }, quietLogger())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- r.Start(ctx) }()
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("runner did not stop")
	}
}
