package grader

import (
	"context"
	"fmt"
	"time"

	"github.com/XavierBriggs/fortuna/services/prediction-engine/internal/parser"
	"github.com/XavierBriggs/fortuna/services/prediction-engine/internal/resolver"
	"github.com/XavierBriggs/fortuna/services/prediction-engine/pkg/models"
)

// RegradeDiff is a graded prediction whose recomputed outcome differs from the stored one
type RegradeDiff struct {
	PredictionID string
	GameID       string
	ModelID      string
	Value        models.RawValue
	Stored       models.Outcome
	Recomputed   models.Outcome
}

// Regrade recomputes the outcome of predictions graded since the given time from
// the current game scores. With apply set, differing outcomes are written back.
// Tracker aggregates are left untouched.
func (g *Grader) Regrade(ctx context.Context, since time.Time, apply bool) ([]RegradeDiff, GradeResult, error) {
	result := newGradeResult()

	preds, err := g.deps.Store.GetGradedPredictions(ctx, since)
	if err != nil {
		return nil, result, fmt.Errorf("get graded predictions: %w", err)
	}

	games := make(map[string]*models.Game)
	var diffs []RegradeDiff
	now := g.clock().UTC()

	for _, pred := range preds {
		game, ok := games[pred.GameID]
		if !ok {
			game, err = g.deps.Store.GetGame(ctx, pred.GameID)
			if err != nil {
				result.Errors = append(result.Errors, GradeError{GameID: pred.GameID, Err: err})
				continue
			}
			games[pred.GameID] = game
			if game != nil {
				result.Games++
			}
		}
		if game == nil || !game.IsFinal() {
			continue
		}

		profile, err := g.registry.Get(game.SportKey)
		if err != nil {
			result.Errors = append(result.Errors, GradeError{GameID: game.GameID, PredictionID: pred.ID, Err: err})
			continue
		}

		canon, err := parser.New(profile).ParseForGame(pred, *game)
		if err != nil {
			result.Errors = append(result.Errors, GradeError{GameID: game.GameID, PredictionID: pred.ID, Err: err})
			continue
		}

		outcome := resolver.ResolveGame(canon, *game)
		result.Graded++
		result.ByOutcome[outcome]++
		if outcome == pred.Outcome {
			continue
		}

		diffs = append(diffs, RegradeDiff{
			PredictionID: pred.ID,
			GameID:       pred.GameID,
			ModelID:      pred.ModelID,
			Value:        pred.PredictionValue,
			Stored:       pred.Outcome,
			Recomputed:   outcome,
		})

		if apply {
			if err := g.deps.Store.CorrectOutcome(ctx, pred.ID, outcome, now); err != nil {
				result.Errors = append(result.Errors, GradeError{GameID: game.GameID, PredictionID: pred.ID, Err: err})
			}
		}
	}

	return diffs, result, nil
}
