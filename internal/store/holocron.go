package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/XavierBriggs/fortuna/services/prediction-engine/pkg/models"
	"github.com/lib/pq"
)

// HolocronStore implements the engine's persistence contracts on PostgreSQL
type HolocronStore struct {
	db *sql.DB
}

// Open opens and configures the Holocron connection pool
func Open(dsn string, maxOpen, maxIdle int, lifetime time.Duration) (*sql.DB, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(maxOpen)
	db.SetMaxIdleConns(maxIdle)
	db.SetConnMaxLifetime(lifetime)

	return db, nil
}

// NewHolocronStore creates a new Holocron store
func NewHolocronStore(db *sql.DB) *HolocronStore {
	return &HolocronStore{db: db}
}

// Ping checks database connectivity
func (s *HolocronStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

const gameColumns = `
	g.game_id, g.sport_key, g.status, g.home_team, COALESCE(g.home_team_id, ''),
	g.away_team, COALESCE(g.away_team_id, ''), g.home_score, g.away_score,
	g.commence_time, g.updated_at`

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanGame(row rowScanner) (models.Game, error) {
	var (
		g          models.Game
		status     string
		home, away sql.NullInt64
	)
	err := row.Scan(
		&g.GameID, &g.SportKey, &status, &g.HomeTeam, &g.HomeTeamID,
		&g.AwayTeam, &g.AwayTeamID, &home, &away,
		&g.CommenceTime, &g.UpdatedAt,
	)
	if err != nil {
		return g, err
	}

	g.Status = models.GameStatus(status)
	if home.Valid {
		h := int(home.Int64)
		g.HomeScore = &h
	}
	if away.Valid {
		a := int(away.Int64)
		g.AwayScore = &a
	}
	return g, nil
}

// GetGamesWithPendingPredictions returns final games that still have pending predictions
func (s *HolocronStore) GetGamesWithPendingPredictions(ctx context.Context, sportKeys []string) ([]models.Game, error) {
	query := `
		SELECT DISTINCT` + gameColumns + `
		FROM games g
		JOIN predictions p ON p.game_id = g.game_id
		WHERE p.outcome = 'pending'
		  AND p.grade_error IS NULL
		  AND g.status = 'final'
		  AND g.sport_key = ANY($1)
	`

	rows, err := s.db.QueryContext(ctx, query, pq.Array(sportKeys))
	if err != nil {
		return nil, fmt.Errorf("query pending games: %w", err)
	}
	defer rows.Close()

	var games []models.Game
	for rows.Next() {
		g, err := scanGame(rows)
		if err != nil {
			return nil, fmt.Errorf("scan game: %w", err)
		}
		games = append(games, g)
	}
	return games, rows.Err()
}

// GetGame returns a single game, nil when it does not exist
func (s *HolocronStore) GetGame(ctx context.Context, gameID string) (*models.Game, error) {
	query := `SELECT` + gameColumns + `
		FROM games g
		WHERE g.game_id = $1
	`

	g, err := scanGame(s.db.QueryRowContext(ctx, query, gameID))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get game %s: %w", gameID, err)
	}
	return &g, nil
}

const predictionColumns = `
	id, game_id, model_id, prediction_type, prediction_value, confidence,
	outcome, created_at, graded_at`

func (s *HolocronStore) queryPredictions(ctx context.Context, query string, args ...interface{}) ([]models.Prediction, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var preds []models.Prediction
	for rows.Next() {
		var (
			p        models.Prediction
			value    string
			outcome  string
			gradedAt sql.NullTime
		)
		err := rows.Scan(&p.ID, &p.GameID, &p.ModelID, &p.PredictionType, &value,
			&p.Confidence, &outcome, &p.CreatedAt, &gradedAt)
		if err != nil {
			return nil, err
		}

		p.PredictionValue = models.RawValue(value)
		p.Outcome = models.Outcome(outcome)
		if gradedAt.Valid {
			t := gradedAt.Time
			p.GradedAt = &t
		}
		preds = append(preds, p)
	}
	return preds, rows.Err()
}

// GetPendingPredictions returns the ungraded predictions of a game
func (s *HolocronStore) GetPendingPredictions(ctx context.Context, gameID string) ([]models.Prediction, error) {
	query := `SELECT` + predictionColumns + `
		FROM predictions
		WHERE game_id = $1 AND outcome = 'pending' AND grade_error IS NULL
		ORDER BY created_at
	`

	preds, err := s.queryPredictions(ctx, query, gameID)
	if err != nil {
		return nil, fmt.Errorf("get pending predictions: %w", err)
	}
	return preds, nil
}

// GetGradedPredictions returns predictions graded since the given time
func (s *HolocronStore) GetGradedPredictions(ctx context.Context, since time.Time) ([]models.Prediction, error) {
	query := `SELECT` + predictionColumns + `
		FROM predictions
		WHERE outcome <> 'pending' AND graded_at >= $1
		ORDER BY game_id, created_at
	`

	preds, err := s.queryPredictions(ctx, query, since)
	if err != nil {
		return nil, fmt.Errorf("get graded predictions: %w", err)
	}
	return preds, nil
}

// UpdateOutcome grades a pending prediction. It reports false when the row was
// no longer pending, which means another pass graded it first.
func (s *HolocronStore) UpdateOutcome(ctx context.Context, predictionID string, outcome models.Outcome, gradedAt time.Time) (bool, error) {
	query := `
		UPDATE predictions
		SET outcome = $1, graded_at = $2
		WHERE id = $3 AND outcome = 'pending'
	`

	res, err := s.db.ExecContext(ctx, query, string(outcome), gradedAt, predictionID)
	if err != nil {
		return false, fmt.Errorf("update outcome %s: %w", predictionID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("update outcome %s: %w", predictionID, err)
	}
	return n > 0, nil
}

// CorrectOutcome overwrites the outcome of an already graded prediction
func (s *HolocronStore) CorrectOutcome(ctx context.Context, predictionID string, outcome models.Outcome, gradedAt time.Time) error {
	query := `
		UPDATE predictions
		SET outcome = $1, graded_at = $2
		WHERE id = $3 AND outcome <> 'pending'
	`

	_, err := s.db.ExecContext(ctx, query, string(outcome), gradedAt, predictionID)
	if err != nil {
		return fmt.Errorf("correct outcome %s: %w", predictionID, err)
	}
	return nil
}

// MarkGradeError records why a pending prediction cannot be graded. Marked rows
// drop out of the pending queries until grade_error is cleared.
func (s *HolocronStore) MarkGradeError(ctx context.Context, predictionID, reason string) error {
	query := `
		UPDATE predictions
		SET grade_error = $1
		WHERE id = $2 AND outcome = 'pending'
	`

	if _, err := s.db.ExecContext(ctx, query, reason, predictionID); err != nil {
		return fmt.Errorf("mark grade error %s: %w", predictionID, err)
	}
	return nil
}

// GetUncalibratedPredictions returns predictions without a calibrated confidence
func (s *HolocronStore) GetUncalibratedPredictions(ctx context.Context, limit int) ([]models.Prediction, error) {
	query := `SELECT` + predictionColumns + `
		FROM predictions
		WHERE calibrated_at IS NULL
		ORDER BY created_at
		LIMIT $1
	`

	preds, err := s.queryPredictions(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("get uncalibrated predictions: %w", err)
	}
	return preds, nil
}

// UpdateCalibration writes the calibrated confidence back to a prediction
func (s *HolocronStore) UpdateCalibration(ctx context.Context, predictionID string, c models.CalibratedConfidence) error {
	query := `
		UPDATE predictions
		SET calibrated_confidence = $1, recommendation = $2, warning = $3, calibrated_at = NOW()
		WHERE id = $4
	`

	warning := sql.NullString{String: c.Warning, Valid: c.Warning != ""}
	_, err := s.db.ExecContext(ctx, query, c.Value, string(c.Recommendation), warning, predictionID)
	if err != nil {
		return fmt.Errorf("update calibration %s: %w", predictionID, err)
	}
	return nil
}

// GetRecentScores returns a team's most recent final scores, newest first
func (s *HolocronStore) GetRecentScores(ctx context.Context, sportKey, team string, limit int) ([]float64, error) {
	query := `
		SELECT CASE WHEN home_team = $2 THEN home_score ELSE away_score END
		FROM games
		WHERE sport_key = $1
		  AND status = 'final'
		  AND (home_team = $2 OR away_team = $2)
		  AND home_score IS NOT NULL AND away_score IS NOT NULL
		ORDER BY commence_time DESC
		LIMIT $3
	`

	rows, err := s.db.QueryContext(ctx, query, sportKey, team, limit)
	if err != nil {
		return nil, fmt.Errorf("query recent scores: %w", err)
	}
	defer rows.Close()

	var scores []float64
	for rows.Next() {
		var score int
		if err := rows.Scan(&score); err != nil {
			return nil, fmt.Errorf("scan score: %w", err)
		}
		scores = append(scores, float64(score))
	}
	return scores, rows.Err()
}

// GetHomeWinRate returns a team's win rate over its recent home games
func (s *HolocronStore) GetHomeWinRate(ctx context.Context, sportKey, team string, limit int) (*float64, error) {
	query := `
		SELECT COUNT(*), COUNT(*) FILTER (WHERE home_score > away_score)
		FROM (
			SELECT home_score, away_score
			FROM games
			WHERE sport_key = $1 AND status = 'final' AND home_team = $2
			  AND home_score IS NOT NULL AND away_score IS NOT NULL
			ORDER BY commence_time DESC
			LIMIT $3
		) recent
	`

	var played, won int
	if err := s.db.QueryRowContext(ctx, query, sportKey, team, limit).Scan(&played, &won); err != nil {
		return nil, fmt.Errorf("query home win rate: %w", err)
	}
	if played == 0 {
		return nil, nil
	}

	rate := float64(won) / float64(played)
	return &rate, nil
}

// LoadPerformance loads every persisted performance record
func (s *HolocronStore) LoadPerformance(ctx context.Context) ([]*models.ModelPerformanceRecord, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT model_id, record FROM model_performance`)
	if err != nil {
		return nil, fmt.Errorf("query performance: %w", err)
	}
	defer rows.Close()

	var records []*models.ModelPerformanceRecord
	for rows.Next() {
		var (
			modelID string
			raw     []byte
		)
		if err := rows.Scan(&modelID, &raw); err != nil {
			return nil, fmt.Errorf("scan performance: %w", err)
		}

		rec := models.NewModelPerformanceRecord(modelID)
		if err := json.Unmarshal(raw, rec); err != nil {
			return nil, fmt.Errorf("parse performance record %s: %w", modelID, err)
		}
		rec.ModelID = modelID
		records = append(records, rec)
	}
	return records, rows.Err()
}

// SavePerformance upserts one model's performance record
func (s *HolocronStore) SavePerformance(ctx context.Context, rec *models.ModelPerformanceRecord) error {
	raw, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal performance record: %w", err)
	}

	query := `
		INSERT INTO model_performance (model_id, record, total_predictions, accuracy, updated_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (model_id) DO UPDATE
		SET record = EXCLUDED.record,
		    total_predictions = EXCLUDED.total_predictions,
		    accuracy = EXCLUDED.accuracy,
		    updated_at = EXCLUDED.updated_at
	`

	_, err = s.db.ExecContext(ctx, query, rec.ModelID, raw, rec.TotalPredictions, rec.Accuracy, rec.LastUpdated)
	if err != nil {
		return fmt.Errorf("save performance %s: %w", rec.ModelID, err)
	}
	return nil
}

// SaveEvaluations writes the result of a validation run in one transaction
func (s *HolocronStore) SaveEvaluations(ctx context.Context, evals []models.ModelEvaluation) error {
	if len(evals) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	query := `
		INSERT INTO model_evaluations (
			model_id, evaluated, total_predictions, accuracy, calibration_error,
			trailing_accuracy, drift, needs_retraining, reasons, evaluated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`

	for _, e := range evals {
		var trailing sql.NullFloat64
		if e.TrailingAccuracy != nil {
			trailing = sql.NullFloat64{Float64: *e.TrailingAccuracy, Valid: true}
		}

		_, err := tx.ExecContext(ctx, query,
			e.ModelID, e.Evaluated, e.TotalPredictions, e.Accuracy, e.CalibrationError,
			trailing, e.Drift, e.NeedsRetraining, pq.Array(e.Reasons), e.EvaluatedAt,
		)
		if err != nil {
			return fmt.Errorf("insert evaluation %s: %w", e.ModelID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}
