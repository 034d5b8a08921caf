// Package tracker accumulates per-model accuracy and confidence calibration from
// graded outcomes.
//
// A Tracker has a single logical owner and does no locking. Callers that grade
// concurrently must serialize Record calls and hand Snapshot copies to readers.
package tracker

import (
	"sort"
	"time"

	"github.com/XavierBriggs/fortuna/services/prediction-engine/pkg/models"
)

// Clock returns the current time
type Clock func() time.Time

// Tracker is the keyed store modelID -> ModelPerformanceRecord
type Tracker struct {
	records map[string]*models.ModelPerformanceRecord
	now     Clock
}

// New creates an empty tracker. A nil clock uses time.Now.
func New(clock Clock) *Tracker {
	if clock == nil {
		clock = time.Now
	}
	return &Tracker{
		records: make(map[string]*models.ModelPerformanceRecord),
		now:     clock,
	}
}

// Record adds one graded outcome. WIN is correct and LOSS incorrect; PUSH and
// PENDING never touch any counter. Returns true when the record changed.
func (t *Tracker) Record(modelID string, pred models.CalibratedPrediction, outcome models.Outcome) bool {
	if modelID == "" {
		return false
	}

	var correct bool
	switch outcome {
	case models.OutcomeWin:
		correct = true
	case models.OutcomeLoss:
		correct = false
	default:
		return false
	}

	rec, ok := t.records[modelID]
	if !ok {
		rec = models.NewModelPerformanceRecord(modelID)
		t.records[modelID] = rec
	}

	now := t.now().UTC()

	rec.TotalPredictions++
	if correct {
		rec.CorrectPredictions++
	}
	rec.Accuracy = float64(rec.CorrectPredictions) / float64(rec.TotalPredictions)

	bucket := models.ConfidenceBucket(pred.Confidence.Value)
	rec.ConfidenceCalibration[bucket] = rec.ConfidenceCalibration[bucket].Add(correct)

	if market := pred.Prediction.Market(); market != "" {
		rec.ByMarket[market] = rec.ByMarket[market].Add(correct)
	}

	day := now.Format(models.DayFormat)
	rec.Daily[day] = rec.Daily[day].Add(correct)

	rec.LastUpdated = now
	return true
}

// Get returns a copy of one model's record
func (t *Tracker) Get(modelID string) (*models.ModelPerformanceRecord, bool) {
	rec, ok := t.records[modelID]
	if !ok {
		return nil, false
	}
	return rec.Clone(), true
}

// Snapshot returns a deep copy of every record. It is safe to share with readers.
func (t *Tracker) Snapshot() Snapshot {
	out := make(Snapshot, len(t.records))
	for id, rec := range t.records {
		out[id] = rec.Clone()
	}
	return out
}

// Restore replaces the tracker contents with previously persisted records
func (t *Tracker) Restore(records []*models.ModelPerformanceRecord) {
	t.records = make(map[string]*models.ModelPerformanceRecord, len(records))
	for _, rec := range records {
		if rec == nil || rec.ModelID == "" {
			continue
		}
		c := rec.Clone()
		if c.ConfidenceCalibration == nil {
			c.ConfidenceCalibration = make(map[int]models.BucketStats)
		}
		if c.ByMarket == nil {
			c.ByMarket = make(map[models.MarketType]models.BucketStats)
		}
		if c.Daily == nil {
			c.Daily = make(map[string]models.BucketStats)
		}
		t.records[c.ModelID] = c
	}
}

// HistoricalAccuracy returns a model's accuracy on one market
func (t *Tracker) HistoricalAccuracy(modelID string, market models.MarketType) models.HistoricalAccuracy {
	return historical(t.records[modelID], market)
}

// Snapshot is an immutable view of the tracker at one point in time
type Snapshot map[string]*models.ModelPerformanceRecord

// ModelIDs returns the tracked model ids in sorted order
func (s Snapshot) ModelIDs() []string {
	ids := make([]string, 0, len(s))
	for id := range s {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Records returns the records sorted by model id
func (s Snapshot) Records() []*models.ModelPerformanceRecord {
	out := make([]*models.ModelPerformanceRecord, 0, len(s))
	for _, id := range s.ModelIDs() {
		out = append(out, s[id])
	}
	return out
}

// HistoricalAccuracy returns a model's accuracy on one market
func (s Snapshot) HistoricalAccuracy(modelID string, market models.MarketType) models.HistoricalAccuracy {
	return historical(s[modelID], market)
}

func historical(rec *models.ModelPerformanceRecord, market models.MarketType) models.HistoricalAccuracy {
	out := models.HistoricalAccuracy{Type: market}
	if rec == nil {
		return out
	}
	stats := rec.ByMarket[market]
	out.Accuracy = stats.Accuracy
	out.SampleSize = stats.Total
	return out
}
