package models

import (
	"math"
	"time"
)

// BucketStats counts graded predictions within one slice of a model's history
type BucketStats struct {
	Total    int     `json:"total"`
	Correct  int     `json:"correct"`
	Accuracy float64 `json:"accuracy"`
}

// Add records one graded prediction and refreshes accuracy
func (b BucketStats) Add(correct bool) BucketStats {
	b.Total++
	if correct {
		b.Correct++
	}
	b.Accuracy = float64(b.Correct) / float64(b.Total)
	return b
}

// Merge combines two stats
func (b BucketStats) Merge(other BucketStats) BucketStats {
	b.Total += other.Total
	b.Correct += other.Correct
	if b.Total > 0 {
		b.Accuracy = float64(b.Correct) / float64(b.Total)
	}
	return b
}

// ConfidenceBucket returns the ten-point band for a confidence, e.g. 0.73 -> 70
func ConfidenceBucket(confidence float64) int {
	if math.IsNaN(confidence) || confidence <= 0 {
		return 0
	}
	if confidence >= 1 {
		return 100
	}
	// epsilon keeps 0.7*10 = 6.9999... style products in the right band
	return int(math.Floor(confidence*10+1e-9)) * 10
}

// ModelPerformanceRecord is the accumulated accuracy history of one model
type ModelPerformanceRecord struct {
	ModelID               string                     `json:"model_id"`
	TotalPredictions      int                        `json:"total_predictions"`
	CorrectPredictions    int                        `json:"correct_predictions"`
	Accuracy              float64                    `json:"accuracy"`
	ConfidenceCalibration map[int]BucketStats        `json:"confidence_calibration"`
	ByMarket              map[MarketType]BucketStats `json:"by_market"`
	Daily                 map[string]BucketStats     `json:"daily"` // key: 2006-01-02 (UTC)
	LastUpdated           time.Time                  `json:"last_updated"`
}

// DayFormat is the key layout of ModelPerformanceRecord.Daily
const DayFormat = "2006-01-02"

// NewModelPerformanceRecord creates an empty record
func NewModelPerformanceRecord(modelID string) *ModelPerformanceRecord {
	return &ModelPerformanceRecord{
		ModelID:               modelID,
		ConfidenceCalibration: make(map[int]BucketStats),
		ByMarket:              make(map[MarketType]BucketStats),
		Daily:                 make(map[string]BucketStats),
	}
}

// CalibrationError is the mean absolute gap between each bucket's observed
// accuracy and the confidence it claims (the bucket midpoint). Returns ok=false
// when no bucket has data.
func (r *ModelPerformanceRecord) CalibrationError() (float64, bool) {
	var sum float64
	var n int
	for bucket, stats := range r.ConfidenceCalibration {
		if stats.Total == 0 {
			continue
		}
		sum += math.Abs(stats.Accuracy - BucketMidpoint(bucket))
		n++
	}
	if n == 0 {
		return 0, false
	}
	return sum / float64(n), true
}

// BucketMidpoint is the confidence a bucket represents
func BucketMidpoint(bucket int) float64 {
	if bucket >= 100 {
		return 1.0
	}
	return float64(bucket)/100 + 0.05
}

// TrailingAccuracy aggregates daily stats over the window ending at now
func (r *ModelPerformanceRecord) TrailingAccuracy(now time.Time, window time.Duration) BucketStats {
	var out BucketStats
	start := now.UTC().Add(-window)
	for day, stats := range r.Daily {
		t, err := time.Parse(DayFormat, day)
		if err != nil {
			continue
		}
		// a day counts if any part of it falls in the window
		if t.Add(24*time.Hour).After(start) && !t.After(now.UTC()) {
			out = out.Merge(stats)
		}
	}
	return out
}

// Clone returns a deep copy
func (r *ModelPerformanceRecord) Clone() *ModelPerformanceRecord {
	out := *r
	out.ConfidenceCalibration = make(map[int]BucketStats, len(r.ConfidenceCalibration))
	for k, v := range r.ConfidenceCalibration {
		out.ConfidenceCalibration[k] = v
	}
	out.ByMarket = make(map[MarketType]BucketStats, len(r.ByMarket))
	for k, v := range r.ByMarket {
		out.ByMarket[k] = v
	}
	out.Daily = make(map[string]BucketStats, len(r.Daily))
	for k, v := range r.Daily {
		out.Daily[k] = v
	}
	return &out
}

// HistoricalAccuracy is the per-market accuracy fed into calibration
type HistoricalAccuracy struct {
	Type       MarketType `json:"type"`
	Accuracy   float64    `json:"accuracy"`
	SampleSize int        `json:"sample_size"`
}

// ModelEvaluation is the result of a validation pass for one model
type ModelEvaluation struct {
	ModelID          string    `json:"model_id"`
	Evaluated        bool      `json:"evaluated"` // false when below the sample minimum
	TotalPredictions int       `json:"total_predictions"`
	Accuracy         float64   `json:"accuracy"`
	CalibrationError float64   `json:"calibration_error"`
	TrailingAccuracy *float64  `json:"trailing_accuracy,omitempty"`
	Drift            float64   `json:"drift"`
	NeedsRetraining  bool      `json:"needs_retraining"`
	Reasons          []string  `json:"reasons,omitempty"`
	EvaluatedAt      time.Time `json:"evaluated_at"`
}

// EnsembleWeights is a normalized weight snapshot used by ensemble aggregation
type EnsembleWeights struct {
	Values     map[string]float64 `json:"values"`
	Stale      []string           `json:"stale,omitempty"` // models weighted by their prior
	ComputedAt time.Time          `json:"computed_at"`
}
