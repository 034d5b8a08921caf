package ensemble

import (
	"testing"
	"time"

	"github.com/XavierBriggs/fortuna/services/prediction-engine/pkg/models"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func pred(t *testing.T, modelID string, side models.Side, line float64, confidence float64) models.CalibratedPrediction {
	t.Helper()
	p, err := models.NewSpreadPrediction(side, decimal.NewFromFloat(line))
	require.NoError(t, err)
	return models.CalibratedPrediction{
		GameID:     "g1",
		ModelID:    modelID,
		Prediction: p,
		Confidence: models.CalibratedConfidence{Value: confidence, Recommendation: models.RecommendAccept},
	}
}

func equalWeights(ids ...string) map[string]float64 {
	w := make(map[string]float64, len(ids))
	for _, id := range ids {
		w[id] = 1 / float64(len(ids))
	}
	return w
}

func TestAggregate_InsufficientModels(t *testing.T) {
	agg := NewAggregator(DefaultConfig(), nil)

	_, err := agg.Aggregate([]models.CalibratedPrediction{
		pred(t, "a", models.SideHome, -1.5, 0.8),
		pred(t, "b", models.SideHome, -1.5, 0.8),
	}, equalWeights("a", "b"))
	assert.ErrorIs(t, err, ErrInsufficientModels)
}

func TestAggregate_WeightedAgreeing(t *testing.T) {
	agg := NewAggregator(DefaultConfig(), nil)

	got, err := agg.Aggregate([]models.CalibratedPrediction{
		pred(t, "a", models.SideHome, -1.5, 0.9),
		pred(t, "b", models.SideHome, -1.5, 0.85),
		pred(t, "c", models.SideHome, -1.5, 0.8),
	}, equalWeights("a", "b", "c"))
	require.NoError(t, err)

	assert.InDelta(t, 0.85, got.Confidence.Value, 1e-9)
	assert.Equal(t, models.SideHome, got.Prediction.Side())
	assert.Equal(t, models.RecommendAccept, got.Confidence.Recommendation)
	assert.Equal(t, []string{"a", "b", "c"}, got.Contributors)
	assert.Equal(t, "g1", got.GameID)
	assert.Equal(t, "ensemble:weighted", got.ModelID)
	assert.NotEmpty(t, got.ID)
	assert.Empty(t, got.Confidence.Warning)
}

func TestAggregate_WeightedHeavierSideWins(t *testing.T) {
	agg := NewAggregator(DefaultConfig(), nil)

	preds := []models.CalibratedPrediction{
		pred(t, "strong", models.SideAway, 1.5, 0.7),
		pred(t, "weak1", models.SideHome, -1.5, 0.8),
		pred(t, "weak2", models.SideHome, -1.5, 0.8),
	}
	got, err := agg.Aggregate(preds, map[string]float64{"strong": 0.6, "weak1": 0.2, "weak2": 0.2})
	require.NoError(t, err)
	assert.Equal(t, models.SideAway, got.Prediction.Side())
	assert.InDelta(t, 0.7, got.Confidence.Value, 1e-9)
	assert.Equal(t, []string{"strong"}, got.Contributors)

	// the same inputs by vote count
	maj := NewAggregator(Config{Strategy: StrategyMajority, MinModels: 3, ConfidenceThreshold: 0.65}, nil)
	got, err = maj.Aggregate(preds, nil)
	require.NoError(t, err)
	assert.Equal(t, models.SideHome, got.Prediction.Side())
	assert.InDelta(t, 0.8, got.Confidence.Value, 1e-9)
	assert.Equal(t, []string{"weak1", "weak2"}, got.Contributors)
}

func TestAggregate_WeightedMeanUsesWeights(t *testing.T) {
	agg := NewAggregator(DefaultConfig(), nil)

	got, err := agg.Aggregate([]models.CalibratedPrediction{
		pred(t, "a", models.SideHome, -1.5, 0.9),
		pred(t, "b", models.SideHome, -2.5, 0.7),
		pred(t, "c", models.SideHome, -1.5, 0.7),
	}, map[string]float64{"a": 0.5, "b": 0.25, "c": 0.25})
	require.NoError(t, err)

	assert.InDelta(t, 0.8, got.Confidence.Value, 1e-9)
	line, _ := got.Prediction.Line()
	assert.Equal(t, "-1.5", line.String(), "heaviest member's line represents the side")
}

func TestAggregate_MissingWeightsUsePrior(t *testing.T) {
	agg := NewAggregator(DefaultConfig(), nil)

	got, err := agg.Aggregate([]models.CalibratedPrediction{
		pred(t, "a", models.SideHome, -1.5, 0.9),
		pred(t, "b", models.SideHome, -1.5, 0.85),
		pred(t, "c", models.SideHome, -1.5, 0.8),
	}, nil)
	require.NoError(t, err)
	assert.InDelta(t, 0.85, got.Confidence.Value, 1e-9)
	assert.Contains(t, got.Confidence.Warning, "stale weights")
	assert.Contains(t, got.Confidence.Warning, "a, b, c")
}

func TestAggregate_BelowThreshold(t *testing.T) {
	agg := NewAggregator(DefaultConfig(), nil)

	got, err := agg.Aggregate([]models.CalibratedPrediction{
		pred(t, "a", models.SideHome, -1.5, 0.6),
		pred(t, "b", models.SideHome, -1.5, 0.6),
		pred(t, "c", models.SideHome, -1.5, 0.62),
	}, equalWeights("a", "b", "c"))
	assert.ErrorIs(t, err, ErrBelowThreshold)
	assert.Equal(t, models.RecommendReject, got.Confidence.Recommendation)
	assert.False(t, got.Prediction.IsZero())
}

func TestAggregate_Stacking(t *testing.T) {
	accuracy := map[string]float64{"a": 0.55, "b": 0.61, "c": 0.58}
	agg := NewAggregator(Config{Strategy: StrategyStacking, MinModels: 3, ConfidenceThreshold: 0.65, StackingDiscount: 0.05},
		func(id string) (float64, bool) {
			v, ok := accuracy[id]
			return v, ok
		})

	got, err := agg.Aggregate([]models.CalibratedPrediction{
		pred(t, "a", models.SideHome, -1.5, 0.9),
		pred(t, "b", models.SideAway, 1.5, 0.8),
		pred(t, "c", models.SideHome, -1.5, 0.85),
	}, nil)
	require.NoError(t, err)
	assert.Equal(t, models.SideAway, got.Prediction.Side())
	assert.InDelta(t, 0.76, got.Confidence.Value, 1e-9)
	assert.Equal(t, []string{"b"}, got.Contributors)
	assert.Empty(t, got.Confidence.Warning)
}

func TestAggregate_RejectsBadInput(t *testing.T) {
	agg := NewAggregator(DefaultConfig(), nil)

	dup := []models.CalibratedPrediction{
		pred(t, "a", models.SideHome, -1.5, 0.9),
		pred(t, "a", models.SideHome, -1.5, 0.9),
		pred(t, "b", models.SideHome, -1.5, 0.9),
	}
	_, err := agg.Aggregate(dup, nil)
	assert.ErrorIs(t, err, ErrDuplicateModel)

	mixed := []models.CalibratedPrediction{
		pred(t, "a", models.SideHome, -1.5, 0.9),
		pred(t, "b", models.SideHome, -1.5, 0.9),
		pred(t, "c", models.SideHome, -1.5, 0.9),
	}
	mixed[2].GameID = "g2"
	_, err = agg.Aggregate(mixed, nil)
	assert.ErrorIs(t, err, ErrMixedEvents)

	empty := append([]models.CalibratedPrediction{}, mixed[:2]...)
	empty = append(empty, models.CalibratedPrediction{GameID: "g1", ModelID: "c"})
	_, err = agg.Aggregate(empty, nil)
	assert.ErrorIs(t, err, ErrInvalidPrediction)
}

func TestParseStrategy(t *testing.T) {
	s, err := ParseStrategy("")
	require.NoError(t, err)
	assert.Equal(t, StrategyWeighted, s)

	s, err = ParseStrategy("Majority")
	require.NoError(t, err)
	assert.Equal(t, StrategyMajority, s)

	_, err = ParseStrategy("boosting")
	assert.Error(t, err)
}

func record(id string, total, correct int, buckets map[int]models.BucketStats, updated time.Time) *models.ModelPerformanceRecord {
	rec := models.NewModelPerformanceRecord(id)
	rec.TotalPredictions = total
	rec.CorrectPredictions = correct
	rec.Accuracy = float64(correct) / float64(total)
	rec.ConfidenceCalibration = buckets
	rec.LastUpdated = updated
	return rec
}

func TestScore(t *testing.T) {
	now := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	cfg := DefaultWeightConfig()

	rec := record("a", 50, 30, map[int]models.BucketStats{70: {Total: 50, Correct: 30, Accuracy: 0.6}}, now.Add(-30*24*time.Hour))
	s := Score(rec, cfg, now)

	assert.InDelta(t, 0.3, s.Performance, 1e-9)  // 0.6 * 50/100
	assert.InDelta(t, 0.85, s.Calibration, 1e-9) // 1 - |0.6 - 0.75|
	assert.InDelta(t, 0.36787944, s.Recency, 1e-6)
	assert.InDelta(t, 0.3*0.5+0.85*0.3+0.36787944*0.2, s.Total, 1e-6)
}

func TestComputeWeights(t *testing.T) {
	now := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	cfg := DefaultWeightConfig()
	buckets := func() map[int]models.BucketStats {
		return map[int]models.BucketStats{70: {Total: 200, Correct: 150, Accuracy: 0.75}}
	}

	records := map[string]*models.ModelPerformanceRecord{
		"good": record("good", 200, 150, buckets(), now),
		"poor": record("poor", 200, 90, map[int]models.BucketStats{70: {Total: 200, Correct: 90, Accuracy: 0.45}}, now.Add(-60*24*time.Hour)),
	}

	w := ComputeWeights(records, []string{"poor", "good", "new", "good"}, cfg, now)

	var sum float64
	for _, v := range w.Values {
		sum += v
	}
	assert.InDelta(t, 1.0, sum, 1e-9)
	assert.Len(t, w.Values, 3)
	assert.Greater(t, w.Values["good"], w.Values["poor"])
	assert.Equal(t, []string{"new"}, w.Stale)
	assert.InDelta(t, (w.Values["good"]+w.Values["poor"])/2, w.Values["new"], 1e-9)
	assert.Equal(t, now, w.ComputedAt)
}

func TestComputeWeights_NoDataIsEqualSplit(t *testing.T) {
	w := ComputeWeights(nil, []string{"a", "b", "c", "d"}, DefaultWeightConfig(), time.Now())

	for _, id := range []string{"a", "b", "c", "d"} {
		assert.InDelta(t, 0.25, w.Values[id], 1e-9)
	}
	assert.Equal(t, []string{"a", "b", "c", "d"}, w.Stale)
}

func TestComputeWeights_ConfiguredPrior(t *testing.T) {
	cfg := DefaultWeightConfig()
	cfg.Priors = map[string]float64{"a": 3, "b": 1}

	w := ComputeWeights(nil, []string{"a", "b"}, cfg, time.Now())
	assert.InDelta(t, 0.75, w.Values["a"], 1e-9)
	assert.InDelta(t, 0.25, w.Values["b"], 1e-9)
}

func TestWeightConfig_Validate(t *testing.T) {
	require.NoError(t, DefaultWeightConfig().Validate())

	cfg := DefaultWeightConfig()
	cfg.Recency = 0.5
	assert.Error(t, cfg.Validate())
}
