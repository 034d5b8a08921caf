package contracts

import (
	"context"
	"time"

	"github.com/XavierBriggs/fortuna/services/prediction-engine/pkg/models"
)

// PredictionStore is the persistence the grading pipeline reads from and writes to
type PredictionStore interface {
	// GetGamesWithPendingPredictions returns final games of the given sports that
	// still have PENDING predictions
	GetGamesWithPendingPredictions(ctx context.Context, sportKeys []string) ([]models.Game, error)

	// GetGame returns a single game, nil when it does not exist
	GetGame(ctx context.Context, gameID string) (*models.Game, error)

	// GetPendingPredictions returns the ungraded predictions of a game, excluding
	// those marked with a grade error
	GetPendingPredictions(ctx context.Context, gameID string) ([]models.Prediction, error)

	// GetGradedPredictions returns predictions graded since the given time (for re-grading)
	GetGradedPredictions(ctx context.Context, since time.Time) ([]models.Prediction, error)

	// UpdateOutcome grades one prediction if it is still PENDING and reports
	// whether this call made the change
	UpdateOutcome(ctx context.Context, predictionID string, outcome models.Outcome, gradedAt time.Time) (bool, error)

	// CorrectOutcome overwrites the outcome of an already graded prediction
	CorrectOutcome(ctx context.Context, predictionID string, outcome models.Outcome, gradedAt time.Time) error

	// MarkGradeError parks a prediction that cannot be graded so later passes skip it
	MarkGradeError(ctx context.Context, predictionID, reason string) error

	// GetUncalibratedPredictions returns predictions that have no calibrated confidence yet
	GetUncalibratedPredictions(ctx context.Context, limit int) ([]models.Prediction, error)

	// UpdateCalibration writes the calibrated confidence back to the prediction
	UpdateCalibration(ctx context.Context, predictionID string, c models.CalibratedConfidence) error
}

// TeamContextProvider supplies the team context used during calibration
type TeamContextProvider interface {
	// GetRecentScores returns a team's most recent final scores, newest first
	GetRecentScores(ctx context.Context, sportKey, team string, limit int) ([]float64, error)

	// GetHomeWinRate returns a team's recent home win rate, nil without data
	GetHomeWinRate(ctx context.Context, sportKey, team string, limit int) (*float64, error)
}

// PerformanceStore persists tracker aggregates and validation results
type PerformanceStore interface {
	LoadPerformance(ctx context.Context) ([]*models.ModelPerformanceRecord, error)
	SavePerformance(ctx context.Context, rec *models.ModelPerformanceRecord) error
	EvaluationSink
}

// EvaluationSink receives the result of a validation run
type EvaluationSink interface {
	SaveEvaluations(ctx context.Context, evals []models.ModelEvaluation) error
}

// WeightCache shares the latest ensemble weight snapshot between instances
type WeightCache interface {
	SaveWeights(ctx context.Context, w models.EnsembleWeights) error

	// LoadWeights returns nil when no snapshot has been published
	LoadWeights(ctx context.Context) (*models.EnsembleWeights, error)
}

// GradeDeduplicator suppresses repeated grading of the same final score
type GradeDeduplicator interface {
	// MarkGraded returns true the first time a game is seen with this score
	MarkGraded(ctx context.Context, gameID string, score models.FinalScore) (bool, error)
}
