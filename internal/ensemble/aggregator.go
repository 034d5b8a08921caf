// Package ensemble combines calibrated predictions from several models into one
// decision per event.
package ensemble

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/XavierBriggs/fortuna/services/prediction-engine/pkg/models"
	"github.com/google/uuid"
)

var (
	ErrInsufficientModels = errors.New("insufficient models for ensemble")
	ErrBelowThreshold     = errors.New("ensemble confidence below threshold")
	ErrMixedEvents        = errors.New("predictions are for different events or markets")
	ErrDuplicateModel     = errors.New("model contributes more than one prediction")
	ErrInvalidPrediction  = errors.New("prediction has no canonical value")
)

// Strategy selects how contributing predictions are combined
type Strategy string

const (
	StrategyWeighted Strategy = "weighted"
	StrategyMajority Strategy = "majority"
	StrategyStacking Strategy = "stacking"
)

// ParseStrategy validates a strategy name; empty means weighted
func ParseStrategy(s string) (Strategy, error) {
	switch Strategy(strings.ToLower(strings.TrimSpace(s))) {
	case "", StrategyWeighted:
		return StrategyWeighted, nil
	case StrategyMajority:
		return StrategyMajority, nil
	case StrategyStacking:
		return StrategyStacking, nil
	default:
		return "", fmt.Errorf("unknown ensemble strategy: %q", s)
	}
}

// Config controls aggregation
type Config struct {
	Strategy            Strategy `mapstructure:"strategy" json:"strategy"`
	MinModels           int      `mapstructure:"min_models" json:"min_models"`
	ConfidenceThreshold float64  `mapstructure:"confidence_threshold" json:"confidence_threshold"`
	StackingDiscount    float64  `mapstructure:"stacking_discount" json:"stacking_discount"`
}

// DefaultConfig returns the default aggregation settings
func DefaultConfig() Config {
	return Config{
		Strategy:            StrategyWeighted,
		MinModels:           3,
		ConfidenceThreshold: 0.65,
		StackingDiscount:    0.05,
	}
}

// AccuracyLookup returns a model's lifetime accuracy, used by stacking
type AccuracyLookup func(modelID string) (float64, bool)

// Aggregator combines predictions. It holds no mutable state.
type Aggregator struct {
	cfg      Config
	accuracy AccuracyLookup
}

// NewAggregator creates a new aggregator
func NewAggregator(cfg Config, accuracy AccuracyLookup) *Aggregator {
	if cfg.Strategy == "" {
		cfg.Strategy = StrategyWeighted
	}
	if accuracy == nil {
		accuracy = func(string) (float64, bool) { return 0, false }
	}
	return &Aggregator{cfg: cfg, accuracy: accuracy}
}

// Aggregate combines predictions for one game and market. weights is a snapshot
// that may be stale; models missing from it get an equal prior.
//
// When the result falls below the confidence threshold the combined prediction is
// still returned, marked REJECT, together with ErrBelowThreshold.
func (a *Aggregator) Aggregate(preds []models.CalibratedPrediction, weights map[string]float64) (models.CalibratedPrediction, error) {
	if err := a.validate(preds); err != nil {
		return models.CalibratedPrediction{}, err
	}

	w, stale := normalize(preds, weights)

	var (
		chosen       models.CanonicalPrediction
		confidence   float64
		contributors []string
	)
	switch a.cfg.Strategy {
	case StrategyMajority:
		chosen, confidence, contributors = majority(preds)
	case StrategyStacking:
		chosen, confidence, contributors = a.stacking(preds)
	default:
		chosen, confidence, contributors = weighted(preds, w)
	}

	out := models.CalibratedPrediction{
		ID:           uuid.NewString(),
		GameID:       preds[0].GameID,
		ModelID:      "ensemble:" + string(a.cfg.Strategy),
		Prediction:   chosen,
		Contributors: contributors,
		Confidence: models.CalibratedConfidence{
			Value:          confidence,
			Recommendation: models.RecommendAccept,
		},
	}
	if len(stale) > 0 && a.cfg.Strategy == StrategyWeighted {
		out.Confidence.Warning = fmt.Sprintf("stale weights: prior used for %s", strings.Join(stale, ", "))
	}

	if confidence < a.cfg.ConfidenceThreshold {
		out.Confidence.Recommendation = models.RecommendReject
		return out, fmt.Errorf("%w: %.4f < %.4f", ErrBelowThreshold, confidence, a.cfg.ConfidenceThreshold)
	}
	return out, nil
}

func (a *Aggregator) validate(preds []models.CalibratedPrediction) error {
	seen := make(map[string]bool, len(preds))
	for i, p := range preds {
		if p.Prediction.IsZero() {
			return fmt.Errorf("%w: model %q", ErrInvalidPrediction, p.ModelID)
		}
		if seen[p.ModelID] {
			return fmt.Errorf("%w: %q", ErrDuplicateModel, p.ModelID)
		}
		seen[p.ModelID] = true

		if i > 0 && (p.GameID != preds[0].GameID || p.Prediction.Market() != preds[0].Prediction.Market()) {
			return fmt.Errorf("%w: %s/%s vs %s/%s", ErrMixedEvents,
				p.GameID, p.Prediction.Market(), preds[0].GameID, preds[0].Prediction.Market())
		}
	}

	if len(seen) < a.cfg.MinModels {
		return fmt.Errorf("%w: have %d, need %d", ErrInsufficientModels, len(seen), a.cfg.MinModels)
	}
	return nil
}

// normalize restricts the snapshot to the contributing models and rescales it to 1
func normalize(preds []models.CalibratedPrediction, weights map[string]float64) (map[string]float64, []string) {
	n := float64(len(preds))
	out := make(map[string]float64, len(preds))
	var stale []string
	var total float64
	for _, p := range preds {
		v, ok := weights[p.ModelID]
		if !ok || v < 0 {
			v = 1 / n
			stale = append(stale, p.ModelID)
		}
		out[p.ModelID] = v
		total += v
	}

	for id := range out {
		if total <= 0 {
			out[id] = 1 / n
		} else {
			out[id] /= total
		}
	}
	sort.Strings(stale)
	return out, stale
}

// group collects the predictions backing one side
type group struct {
	side    models.Side
	members []models.CalibratedPrediction
	weight  float64
	confSum float64
}

func groupBySide(preds []models.CalibratedPrediction, weightOf func(models.CalibratedPrediction) float64) []*group {
	bySide := make(map[models.Side]*group)
	var order []*group
	for _, p := range preds {
		g, ok := bySide[p.Prediction.Side()]
		if !ok {
			g = &group{side: p.Prediction.Side()}
			bySide[g.side] = g
			order = append(order, g)
		}
		g.members = append(g.members, p)
		g.weight += weightOf(p)
		g.confSum += p.Confidence.Value
	}

	// heavier side first; ties go to the more confident side, then side name
	sort.SliceStable(order, func(i, j int) bool {
		if order[i].weight != order[j].weight {
			return order[i].weight > order[j].weight
		}
		mi := order[i].confSum / float64(len(order[i].members))
		mj := order[j].confSum / float64(len(order[j].members))
		if mi != mj {
			return mi > mj
		}
		return order[i].side < order[j].side
	})
	return order
}

// representative picks the canonical value of the heaviest member
func representative(g *group, weightOf func(models.CalibratedPrediction) float64) models.CanonicalPrediction {
	best := g.members[0]
	for _, m := range g.members[1:] {
		if weightOf(m) > weightOf(best) {
			best = m
		}
	}
	return best.Prediction
}

func modelIDs(ps []models.CalibratedPrediction) []string {
	ids := make([]string, 0, len(ps))
	for _, p := range ps {
		ids = append(ids, p.ModelID)
	}
	sort.Strings(ids)
	return ids
}

func weighted(preds []models.CalibratedPrediction, w map[string]float64) (models.CanonicalPrediction, float64, []string) {
	weightOf := func(p models.CalibratedPrediction) float64 { return w[p.ModelID] }
	winner := groupBySide(preds, weightOf)[0]

	var confidence float64
	if winner.weight > 0 {
		for _, m := range winner.members {
			confidence += m.Confidence.Value * w[m.ModelID]
		}
		confidence /= winner.weight
	} else {
		confidence = winner.confSum / float64(len(winner.members))
	}

	return representative(winner, weightOf), confidence, modelIDs(winner.members)
}

func majority(preds []models.CalibratedPrediction) (models.CanonicalPrediction, float64, []string) {
	one := func(models.CalibratedPrediction) float64 { return 1 }
	winner := groupBySide(preds, one)[0]

	// equal votes: the first member in input order represents the side
	return winner.members[0].Prediction, winner.confSum / float64(len(winner.members)), modelIDs(winner.members)
}

func (a *Aggregator) stacking(preds []models.CalibratedPrediction) (models.CanonicalPrediction, float64, []string) {
	best := preds[0]
	bestAcc, _ := a.lookup(best.ModelID)
	for _, p := range preds[1:] {
		acc, _ := a.lookup(p.ModelID)
		switch {
		case acc > bestAcc:
		case acc == bestAcc && p.Confidence.Value > best.Confidence.Value:
		case acc == bestAcc && p.Confidence.Value == best.Confidence.Value && p.ModelID < best.ModelID:
		default:
			continue
		}
		best, bestAcc = p, acc
	}

	return best.Prediction, best.Confidence.Value * (1 - a.cfg.StackingDiscount), []string{best.ModelID}
}

// lookup maps unknown models below every known accuracy
func (a *Aggregator) lookup(modelID string) (float64, bool) {
	acc, ok := a.accuracy(modelID)
	if !ok {
		return -1, false
	}
	return acc, true
}
