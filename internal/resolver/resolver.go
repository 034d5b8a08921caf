// Package resolver grades canonical predictions against final scores. It is the
// single grading rule used by live grading, backfills and audits.
package resolver

import (
	"github.com/XavierBriggs/fortuna/services/prediction-engine/pkg/models"
	"github.com/shopspring/decimal"
)

// Resolve determines the outcome of a prediction. A nil score is always PENDING.
//
// Spread: the side covers when its margin plus its own line is positive, so
// HOME -1.5 needs to win by 2 and AWAY +1.5 may lose by 1.
// Moneyline: the price is ignored; a tie is a push.
// Total: combined score against the line, equality is a push.
func Resolve(pred models.CanonicalPrediction, score *models.FinalScore) models.Outcome {
	if score == nil || pred.IsZero() {
		return models.OutcomePending
	}

	switch pred.Market() {
	case models.MarketSpread:
		return resolveSpread(pred, *score)
	case models.MarketMoneyline:
		return resolveMoneyline(pred, *score)
	case models.MarketTotal:
		return resolveTotal(pred, *score)
	default:
		return models.OutcomePending
	}
}

// ResolveGame resolves against a game record; non-final games stay PENDING
func ResolveGame(pred models.CanonicalPrediction, game models.Game) models.Outcome {
	return Resolve(pred, ScoreFromGame(game))
}

// ScoreFromGame returns the final score, or nil when the game is not FINAL or a
// score is missing
func ScoreFromGame(game models.Game) *models.FinalScore {
	if !game.IsFinal() {
		return nil
	}
	return &models.FinalScore{Home: *game.HomeScore, Away: *game.AwayScore}
}

func resolveSpread(pred models.CanonicalPrediction, score models.FinalScore) models.Outcome {
	line, _ := pred.Line()

	margin := score.Home - score.Away
	if pred.Side() == models.SideAway {
		margin = -margin
	}

	return compare(decimal.NewFromInt(int64(margin)).Add(line), decimal.Zero)
}

func resolveMoneyline(pred models.CanonicalPrediction, score models.FinalScore) models.Outcome {
	margin := score.Home - score.Away
	if pred.Side() == models.SideAway {
		margin = -margin
	}

	switch {
	case margin > 0:
		return models.OutcomeWin
	case margin == 0:
		return models.OutcomePush
	default:
		return models.OutcomeLoss
	}
}

func resolveTotal(pred models.CanonicalPrediction, score models.FinalScore) models.Outcome {
	line, _ := pred.Line()
	total := decimal.NewFromInt(int64(score.Total()))

	if pred.Side() == models.SideUnder {
		return compare(line, total)
	}
	return compare(total, line)
}

// compare returns WIN when a > b, PUSH when equal, LOSS otherwise
func compare(a, b decimal.Decimal) models.Outcome {
	switch a.Cmp(b) {
	case 1:
		return models.OutcomeWin
	case 0:
		return models.OutcomePush
	default:
		return models.OutcomeLoss
	}
}
