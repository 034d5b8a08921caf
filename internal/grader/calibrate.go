package grader

import (
	"context"
	"fmt"

	"github.com/XavierBriggs/fortuna/services/prediction-engine/internal/calibrator"
	"github.com/XavierBriggs/fortuna/services/prediction-engine/internal/parser"
	"github.com/XavierBriggs/fortuna/services/prediction-engine/pkg/models"
	"github.com/sirupsen/logrus"
)

// teamContext is the per-game context shared by all predictions on the game
type teamContext struct {
	homeWinRate *float64
	homeScores  []float64
	awayScores  []float64
}

// CalibratePending calibrates a batch of predictions that have no calibrated
// confidence yet and writes the result back. Returns the number written.
func (g *Grader) CalibratePending(ctx context.Context) (int, error) {
	preds, err := g.deps.Store.GetUncalibratedPredictions(ctx, g.cfg.CalibrateBatch)
	if err != nil {
		return 0, fmt.Errorf("get uncalibrated predictions: %w", err)
	}

	games := make(map[string]*models.Game)
	contexts := make(map[string]teamContext)
	written := 0

	for _, pred := range preds {
		game, ok := games[pred.GameID]
		if !ok {
			game, err = g.deps.Store.GetGame(ctx, pred.GameID)
			if err != nil {
				return written, fmt.Errorf("get game %s: %w", pred.GameID, err)
			}
			games[pred.GameID] = game
		}
		if game == nil {
			continue
		}

		tc, ok := contexts[game.GameID]
		if !ok {
			tc = g.loadTeamContext(ctx, *game)
			contexts[game.GameID] = tc
		}

		c, err := g.calibrate(pred, *game, tc)
		if err != nil {
			g.log.WithError(err).WithField("prediction_id", pred.ID).Warn("Skipping calibration")
			continue
		}

		if err := g.deps.Store.UpdateCalibration(ctx, pred.ID, c); err != nil {
			return written, fmt.Errorf("update calibration: %w", err)
		}
		written++
	}

	if written > 0 {
		g.log.WithField("predictions", written).Info("Calibrated predictions")
	}
	return written, nil
}

// calibrate runs the calibrator for one stored prediction
func (g *Grader) calibrate(pred models.Prediction, game models.Game, tc teamContext) (models.CalibratedConfidence, error) {
	profile, err := g.registry.Get(game.SportKey)
	if err != nil {
		return models.CalibratedConfidence{}, err
	}

	market, err := models.ParseMarketType(pred.PredictionType)
	if err != nil {
		market = models.MarketType(pred.PredictionType)
	}

	cctx := calibrator.Context{
		RawValue:        pred.PredictionValue,
		Game:            game,
		HomeTeamWinRate: tc.homeWinRate,
	}
	if market == models.MarketTotal {
		cctx.RecentHomeScores = tc.homeScores
		cctx.RecentAwayScores = tc.awayScores
	}
	if h := g.Snapshot().HistoricalAccuracy(pred.ModelID, market); h.SampleSize > 0 {
		cctx.Historical = &h
	}

	c := calibrator.New(parser.New(profile)).Calibrate(pred.Confidence, market, cctx, g.cfg.Calibration)
	g.metrics.RecordCalibration(string(market), string(c.Recommendation))
	return c, nil
}

func (g *Grader) loadTeamContext(ctx context.Context, game models.Game) teamContext {
	var tc teamContext
	if g.deps.Teams == nil || g.cfg.ContextGames <= 0 {
		return tc
	}

	log := g.log.WithFields(logrus.Fields{"game_id": game.GameID, "sport_key": game.SportKey})

	rate, err := g.deps.Teams.GetHomeWinRate(ctx, game.SportKey, game.HomeTeam, g.cfg.ContextGames)
	if err != nil {
		log.WithError(err).Warn("Failed to load home win rate")
	} else {
		tc.homeWinRate = rate
	}

	if tc.homeScores, err = g.deps.Teams.GetRecentScores(ctx, game.SportKey, game.HomeTeam, g.cfg.ContextGames); err != nil {
		log.WithError(err).Warn("Failed to load home team scores")
	}
	if tc.awayScores, err = g.deps.Teams.GetRecentScores(ctx, game.SportKey, game.AwayTeam, g.cfg.ContextGames); err != nil {
		log.WithError(err).Warn("Failed to load away team scores")
	}
	return tc
}
