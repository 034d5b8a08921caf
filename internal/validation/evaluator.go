// Package validation checks model performance against thresholds and flags models
// that need retraining. It only flags; retraining happens elsewhere.
package validation

import (
	"fmt"
	"time"

	"github.com/XavierBriggs/fortuna/services/prediction-engine/internal/tracker"
	"github.com/XavierBriggs/fortuna/services/prediction-engine/pkg/models"
)

// Thresholds configure when a model is flagged
type Thresholds struct {
	// Models with fewer graded predictions are not evaluated
	MinPredictions int `mapstructure:"min_predictions" json:"min_predictions"`

	MinAccuracy         float64 `mapstructure:"min_accuracy" json:"min_accuracy"`
	MaxCalibrationError float64 `mapstructure:"max_calibration_error" json:"max_calibration_error"`

	// Drift is lifetime accuracy minus accuracy over DriftWindow
	MaxDrift    float64       `mapstructure:"max_drift" json:"max_drift"`
	DriftWindow time.Duration `mapstructure:"drift_window" json:"drift_window"`
	// Drift is only measured once the window holds this many predictions
	MinWindowPredictions int `mapstructure:"min_window_predictions" json:"min_window_predictions"`
}

// DefaultThresholds returns the default validation thresholds
func DefaultThresholds() Thresholds {
	return Thresholds{
		MinPredictions:       50,
		MinAccuracy:          0.52,
		MaxCalibrationError:  0.15,
		MaxDrift:             0.10,
		DriftWindow:          7 * 24 * time.Hour,
		MinWindowPredictions: 10,
	}
}

// Evaluate checks one model's record. Records below MinPredictions come back
// with Evaluated=false and are never flagged.
func Evaluate(rec *models.ModelPerformanceRecord, th Thresholds, now time.Time) models.ModelEvaluation {
	eval := models.ModelEvaluation{
		ModelID:          rec.ModelID,
		TotalPredictions: rec.TotalPredictions,
		Accuracy:         rec.Accuracy,
		EvaluatedAt:      now,
	}
	if rec.TotalPredictions < th.MinPredictions {
		return eval
	}
	eval.Evaluated = true

	if rec.Accuracy < th.MinAccuracy {
		eval.Reasons = append(eval.Reasons, fmt.Sprintf("accuracy %.3f below %.3f", rec.Accuracy, th.MinAccuracy))
	}

	if mae, ok := rec.CalibrationError(); ok {
		eval.CalibrationError = mae
		if mae > th.MaxCalibrationError {
			eval.Reasons = append(eval.Reasons, fmt.Sprintf("calibration error %.3f above %.3f", mae, th.MaxCalibrationError))
		}
	}

	trailing := rec.TrailingAccuracy(now, th.DriftWindow)
	if trailing.Total >= th.MinWindowPredictions && trailing.Total > 0 {
		acc := trailing.Accuracy
		eval.TrailingAccuracy = &acc
		eval.Drift = rec.Accuracy - acc
		if eval.Drift > th.MaxDrift {
			eval.Reasons = append(eval.Reasons, fmt.Sprintf("trailing accuracy %.3f drifted %.3f below lifetime", acc, eval.Drift))
		}
	}

	eval.NeedsRetraining = len(eval.Reasons) > 0
	return eval
}

// Scheduler evaluates every tracked model. It has no timer of its own; Run is
// called by an external trigger.
type Scheduler struct {
	thresholds Thresholds
	now        tracker.Clock
}

// NewScheduler creates a new scheduler. A nil clock uses time.Now.
func NewScheduler(th Thresholds, clock tracker.Clock) *Scheduler {
	if clock == nil {
		clock = time.Now
	}
	return &Scheduler{thresholds: th, now: clock}
}

// Run evaluates every model in the snapshot, sorted by model id
func (s *Scheduler) Run(snap tracker.Snapshot) []models.ModelEvaluation {
	now := s.now().UTC()
	out := make([]models.ModelEvaluation, 0, len(snap))
	for _, rec := range snap.Records() {
		out = append(out, Evaluate(rec, s.thresholds, now))
	}
	return out
}

// Flagged filters evaluations down to the models needing retraining
func Flagged(evals []models.ModelEvaluation) []models.ModelEvaluation {
	var out []models.ModelEvaluation
	for _, e := range evals {
		if e.NeedsRetraining {
			out = append(out, e)
		}
	}
	return out
}
