// Package grader runs the grading pipeline: final games are resolved against their
// pending predictions, outcomes are persisted and fed into the performance tracker,
// and ensemble weights are recomputed as the statistics move.
package grader

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/XavierBriggs/fortuna/services/prediction-engine/internal/calibrator"
	"github.com/XavierBriggs/fortuna/services/prediction-engine/internal/ensemble"
	"github.com/XavierBriggs/fortuna/services/prediction-engine/internal/metrics"
	"github.com/XavierBriggs/fortuna/services/prediction-engine/internal/parser"
	"github.com/XavierBriggs/fortuna/services/prediction-engine/internal/resolver"
	"github.com/XavierBriggs/fortuna/services/prediction-engine/internal/sports"
	"github.com/XavierBriggs/fortuna/services/prediction-engine/internal/tracker"
	"github.com/XavierBriggs/fortuna/services/prediction-engine/pkg/contracts"
	"github.com/XavierBriggs/fortuna/services/prediction-engine/pkg/models"
	"github.com/sirupsen/logrus"
)

// Config controls the grading loop
type Config struct {
	Sports         []string
	PollInterval   time.Duration
	RecomputeEvery int
	CalibrateBatch int
	ContextGames   int

	Calibration calibrator.Config
	Weights     ensemble.WeightConfig
}

// Deps are the grader's collaborators. Only Store is required.
type Deps struct {
	Store       contracts.PredictionStore
	Performance contracts.PerformanceStore
	Teams       contracts.TeamContextProvider
	Weights     contracts.WeightCache
	Dedup       contracts.GradeDeduplicator
}

// Grader owns the engine's only Tracker
type Grader struct {
	cfg      Config
	deps     Deps
	registry *sports.Registry
	metrics  *metrics.Metrics
	log      *logrus.Entry
	clock    tracker.Clock

	// mu serializes tracker writes
	mu             sync.Mutex
	tracker        *tracker.Tracker
	sinceRecompute int

	snapshot atomic.Pointer[tracker.Snapshot]
	weights  atomic.Pointer[models.EnsembleWeights]
}

// New creates a new grader. A nil clock uses time.Now.
func New(cfg Config, deps Deps, registry *sports.Registry, m *metrics.Metrics, log *logrus.Entry, clock tracker.Clock) *Grader {
	if clock == nil {
		clock = time.Now
	}
	if cfg.RecomputeEvery < 1 {
		cfg.RecomputeEvery = 1
	}

	g := &Grader{
		cfg:      cfg,
		deps:     deps,
		registry: registry,
		metrics:  m,
		log:      log,
		clock:    clock,
		tracker:  tracker.New(clock),
	}
	g.publishSnapshot()
	return g
}

// LoadState restores tracker records and the last weight snapshot
func (g *Grader) LoadState(ctx context.Context) error {
	if g.deps.Performance != nil {
		records, err := g.deps.Performance.LoadPerformance(ctx)
		if err != nil {
			return fmt.Errorf("load performance: %w", err)
		}

		g.mu.Lock()
		g.tracker.Restore(records)
		g.publishSnapshot()
		g.mu.Unlock()

		g.log.WithField("models", len(records)).Info("Restored performance records")
	}

	if g.deps.Weights != nil {
		w, err := g.deps.Weights.LoadWeights(ctx)
		if err != nil {
			g.log.WithError(err).Warn("Failed to load cached weights")
		} else if w != nil {
			g.weights.Store(w)
			return nil
		}
	}

	g.RecomputeWeights(ctx)
	return nil
}

// Start runs grading passes until ctx is cancelled. The first pass runs immediately.
func (g *Grader) Start(ctx context.Context) error {
	ticker := time.NewTicker(g.cfg.PollInterval)
	defer ticker.Stop()

	if err := g.runPass(ctx); err != nil {
		g.log.WithError(err).Error("Initial grading pass failed")
	}

	for {
		select {
		case <-ticker.C:
			if err := g.runPass(ctx); err != nil {
				g.log.WithError(err).Error("Grading pass failed")
			}
		case <-ctx.Done():
			return nil
		}
	}
}

// runPass grades, calibrates and refreshes weights once
func (g *Grader) runPass(ctx context.Context) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic in grading pass: %v", r)
		}
	}()

	start := time.Now()
	defer func() {
		g.metrics.ObserveGradingPass(time.Since(start).Seconds())
	}()

	result, err := g.GradePending(ctx)
	if err != nil {
		return err
	}
	if result.Graded > 0 || len(result.Errors) > 0 {
		g.log.WithFields(logrus.Fields{
			"games":  result.Games,
			"graded": result.Graded,
			"errors": len(result.Errors),
		}).Info("Grading pass complete")
	}

	if g.cfg.CalibrateBatch > 0 {
		if _, err := g.CalibratePending(ctx); err != nil {
			g.log.WithError(err).Warn("Calibration pass failed")
		}
	}

	g.mu.Lock()
	pending := g.sinceRecompute
	g.mu.Unlock()
	if pending > 0 {
		g.RecomputeWeights(ctx)
	}
	return nil
}

// GradePending grades every final game of the configured sports that still has
// pending predictions. A failing game is recorded and the pass continues.
func (g *Grader) GradePending(ctx context.Context) (GradeResult, error) {
	result := newGradeResult()

	games, err := g.deps.Store.GetGamesWithPendingPredictions(ctx, g.cfg.Sports)
	if err != nil {
		return result, fmt.Errorf("get pending games: %w", err)
	}

	for _, game := range games {
		r, err := g.GradeGame(ctx, game)
		if err != nil {
			result.Errors = append(result.Errors, GradeError{GameID: game.GameID, Err: err})
			continue
		}
		result.merge(r)
	}
	return result, nil
}

// HandleGameUpdate grades a game announced final on the update stream. Repeats of
// the same final score are skipped.
func (g *Grader) HandleGameUpdate(ctx context.Context, gameID string) (GradeResult, error) {
	game, err := g.deps.Store.GetGame(ctx, gameID)
	if err != nil {
		return newGradeResult(), fmt.Errorf("get game: %w", err)
	}
	if game == nil || !game.IsFinal() {
		return newGradeResult(), nil
	}

	if g.deps.Dedup != nil {
		first, err := g.deps.Dedup.MarkGraded(ctx, game.GameID, *resolver.ScoreFromGame(*game))
		if err != nil {
			g.log.WithError(err).WithField("game_id", gameID).Warn("Dedup check failed, grading anyway")
		} else if !first {
			return newGradeResult(), nil
		}
	}

	return g.GradeGame(ctx, *game)
}

// GradeGame resolves the pending predictions of one game
func (g *Grader) GradeGame(ctx context.Context, game models.Game) (GradeResult, error) {
	result := newGradeResult()
	if !game.IsFinal() {
		return result, nil
	}

	profile, err := g.registry.Get(game.SportKey)
	if err != nil {
		return result, err
	}

	preds, err := g.deps.Store.GetPendingPredictions(ctx, game.GameID)
	if err != nil {
		return result, fmt.Errorf("get pending predictions: %w", err)
	}
	result.Games = 1

	p := parser.New(profile)
	now := g.clock().UTC()
	log := g.log.WithField("game_id", game.GameID)

	type graded struct {
		pred    models.Prediction
		canon   models.CanonicalPrediction
		outcome models.Outcome
	}
	var done []graded

	for _, pred := range preds {
		canon, err := p.ParseForGame(pred, game)
		if err != nil {
			g.metrics.RecordParseFailure(pred.PredictionType)
			log.WithFields(logrus.Fields{
				"prediction_id": pred.ID,
				"model_id":      pred.ModelID,
			}).WithError(err).Warn("Unparseable prediction value")
			result.Errors = append(result.Errors, GradeError{GameID: game.GameID, PredictionID: pred.ID, Err: err})
			if err := g.deps.Store.MarkGradeError(ctx, pred.ID, err.Error()); err != nil {
				log.WithError(err).WithField("prediction_id", pred.ID).Warn("Failed to record grade error")
			}
			continue
		}

		outcome := resolver.ResolveGame(canon, game)
		if outcome == models.OutcomePending {
			result.Pending++
			continue
		}

		updated, err := g.deps.Store.UpdateOutcome(ctx, pred.ID, outcome, now)
		if err != nil {
			result.Errors = append(result.Errors, GradeError{GameID: game.GameID, PredictionID: pred.ID, Err: err})
			continue
		}
		if !updated {
			// graded concurrently by the other path
			continue
		}

		g.metrics.RecordGraded(string(canon.Market()), string(outcome))
		result.Graded++
		result.ByOutcome[outcome]++
		done = append(done, graded{pred: pred, canon: canon, outcome: outcome})
	}

	if len(done) == 0 {
		return result, nil
	}

	g.mu.Lock()
	changed := make(map[string]*models.ModelPerformanceRecord)
	for _, d := range done {
		cp := models.CalibratedPrediction{
			ID:         d.pred.ID,
			GameID:     d.pred.GameID,
			ModelID:    d.pred.ModelID,
			Prediction: d.canon,
			Confidence: models.CalibratedConfidence{Value: d.pred.Confidence},
		}
		if g.tracker.Record(d.pred.ModelID, cp, d.outcome) {
			rec, _ := g.tracker.Get(d.pred.ModelID)
			changed[d.pred.ModelID] = rec
			g.sinceRecompute++
		}
	}
	g.publishSnapshot()
	recompute := g.sinceRecompute >= g.cfg.RecomputeEvery
	g.mu.Unlock()

	if g.deps.Performance != nil {
		for id, rec := range changed {
			if err := g.deps.Performance.SavePerformance(ctx, rec); err != nil {
				log.WithError(err).WithField("model_id", id).Warn("Failed to save performance record")
			}
		}
	}

	if recompute {
		g.RecomputeWeights(ctx)
	}

	log.WithFields(logrus.Fields{
		"graded":  result.Graded,
		"pending": result.Pending,
	}).Debug("Graded game")
	return result, nil
}

// RecomputeWeights derives weights from the current snapshot and publishes them
func (g *Grader) RecomputeWeights(ctx context.Context) models.EnsembleWeights {
	g.mu.Lock()
	g.sinceRecompute = 0
	g.mu.Unlock()

	snap := g.Snapshot()
	w := ensemble.ComputeWeights(snap, snap.ModelIDs(), g.cfg.Weights, g.clock())
	g.weights.Store(&w)

	if g.deps.Weights != nil {
		if err := g.deps.Weights.SaveWeights(ctx, w); err != nil {
			g.log.WithError(err).Warn("Failed to publish weights")
		}
	}
	return w
}

// Snapshot returns the latest published tracker snapshot
func (g *Grader) Snapshot() tracker.Snapshot {
	return *g.snapshot.Load()
}

// Weights returns the latest weight snapshot
func (g *Grader) Weights() models.EnsembleWeights {
	if w := g.weights.Load(); w != nil {
		return *w
	}
	return models.EnsembleWeights{Values: map[string]float64{}}
}

// Accuracy returns a model's lifetime accuracy, used by stacking
func (g *Grader) Accuracy(modelID string) (float64, bool) {
	rec, ok := g.Snapshot()[modelID]
	if !ok || rec.TotalPredictions == 0 {
		return 0, false
	}
	return rec.Accuracy, true
}

// publishSnapshot must be called with mu held
func (g *Grader) publishSnapshot() {
	snap := g.tracker.Snapshot()
	g.snapshot.Store(&snap)
}
