// Package calibrator turns a model's raw confidence into a bounded, market-aware
// confidence with an accept/reject recommendation.
//
// Steps run in a fixed order; later steps clamp into tighter ranges:
//
//  1. market weight
//  2. damping of the excess over MaxConfidence
//  3. pull toward OptimalRange.Max for inputs that were already over it
//  4. home advantage boost
//  5. scoring consistency (totals only)
//  6. unusual value penalty and warning
//  7. historical accuracy blend
//  8. clamp to [MinConfidence, MaxConfidence]
//  9. recommendation
package calibrator

import (
	"fmt"
	"math"

	"github.com/XavierBriggs/fortuna/services/prediction-engine/internal/parser"
	"github.com/XavierBriggs/fortuna/services/prediction-engine/pkg/models"
	"gonum.org/v1/gonum/stat"
)

// Context is the game and team information available when a prediction is made.
// Everything must be resolved by the caller; the calibrator does no I/O.
type Context struct {
	RawValue models.RawValue
	Game     models.Game

	// HomeTeamWinRate is the home team's recent win rate, nil when unknown
	HomeTeamWinRate *float64

	RecentHomeScores []float64
	RecentAwayScores []float64

	// Historical is the model's accuracy on this market, nil when unknown
	Historical *models.HistoricalAccuracy
}

// Calibrator validates prediction values with a sport's parser while calibrating
type Calibrator struct {
	parser *parser.Parser
}

// New creates a calibrator for the parser's sport
func New(p *parser.Parser) *Calibrator {
	return &Calibrator{parser: p}
}

// Calibrate computes the calibrated confidence. The result depends only on its
// inputs, so recomputing it from stored inputs reproduces the stored value.
func (c *Calibrator) Calibrate(raw float64, market models.MarketType, ctx Context, cfg Config) models.CalibratedConfidence {
	var warnings []string

	raw, ok := sanitizeRaw(raw)
	if !ok {
		warnings = append(warnings, "raw confidence outside [0, 1]")
	}

	pred, err := c.parser.ParseForGame(models.Prediction{
		PredictionType:  string(market),
		PredictionValue: ctx.RawValue,
	}, ctx.Game)
	if err != nil {
		return malformed(raw, err, cfg)
	}

	// 1
	value := raw * cfg.MarketWeight(pred.Market())

	// 2
	if value > cfg.MaxConfidence {
		excess := value - cfg.MaxConfidence
		value = cfg.MaxConfidence - excess*cfg.ExcessDamping
	}

	// 3
	if boundary := cfg.OptimalRange.Max; raw > boundary && value > boundary {
		value = boundary*cfg.OptimalPull + value*(1-cfg.OptimalPull)
	}

	// 4
	if ctx.HomeTeamWinRate != nil && *ctx.HomeTeamWinRate > cfg.HomeWinRateThreshold {
		value *= cfg.HomeAdvantageBoost
	}

	// 5
	if pred.Market() == models.MarketTotal {
		if consistency, ok := ScoringConsistency(ctx.RecentHomeScores, ctx.RecentAwayScores); ok {
			value *= cfg.ConsistencyBase + cfg.ConsistencyWeight*consistency
		}
	}

	// 6
	penalty, warning := c.unusualPenalty(pred, cfg)
	if warning != "" {
		warnings = append(warnings, warning)
		value *= 1 - penalty
	}

	// 7
	if h := ctx.Historical; h != nil && h.SampleSize > cfg.HistoricalMinSamples {
		weight := math.Min(float64(h.SampleSize)/float64(cfg.HistoricalFullWeightSamples), cfg.HistoricalMaxWeight)
		value = value*(1-weight) + clamp(h.Accuracy, 0, 1)*weight
	}

	// 8
	value = clamp(value, cfg.MinConfidence, cfg.MaxConfidence)

	// 9
	out := models.CalibratedConfidence{
		Value:          value,
		Recommendation: models.RecommendReject,
	}
	if value >= cfg.AcceptThreshold {
		out.Recommendation = models.RecommendAccept
	}
	if len(warnings) > 0 {
		out.Warning = warnings[0]
	}
	return out
}

// malformed handles values the parser rejects: they can never be accepted
func malformed(raw float64, err error, cfg Config) models.CalibratedConfidence {
	value := math.Min(raw*cfg.MalformedFactor, cfg.MalformedCap)
	return models.CalibratedConfidence{
		Value:          clamp(value, cfg.MinConfidence, cfg.MaxConfidence),
		Warning:        fmt.Sprintf("invalid prediction value: %v", err),
		Recommendation: models.RecommendReject,
	}
}

// unusualPenalty flags values that parse but sit outside the sport's usual range.
// The penalty grows with the relative distance past the bound.
func (c *Calibrator) unusualPenalty(pred models.CanonicalPrediction, cfg Config) (float64, string) {
	profile := c.parser.Profile()
	line, hasLine := pred.Line()
	if !hasLine {
		return 0, ""
	}
	v := math.Abs(line.InexactFloat64())

	var (
		excess  float64
		warning string
	)
	switch pred.Market() {
	case models.MarketSpread:
		if v > profile.UnusualSpread {
			excess = (v - profile.UnusualSpread) / profile.UnusualSpread
			warning = fmt.Sprintf("unusual %s spread %s (typical magnitude up to %v)", profile.DisplayName, line, profile.UnusualSpread)
		}
	case models.MarketTotal:
		switch {
		case v > profile.TypicalTotalMax:
			excess = (v - profile.TypicalTotalMax) / profile.TypicalTotalMax
		case v < profile.TypicalTotalMin:
			excess = (profile.TypicalTotalMin - v) / profile.TypicalTotalMin
		}
		if excess > 0 {
			warning = fmt.Sprintf("%s total %s outside typical range [%v, %v]", profile.DisplayName, line, profile.TypicalTotalMin, profile.TypicalTotalMax)
		}
	case models.MarketMoneyline:
		extreme := float64(profile.ExtremeOdds)
		if v > extreme {
			excess = (v - extreme) / extreme
			warning = fmt.Sprintf("extreme moneyline price %s (beyond ±%d)", line, profile.ExtremeOdds)
		}
	}

	if warning == "" {
		return 0, ""
	}
	return math.Min(excess*cfg.UnusualPenaltyRate, cfg.MaxUnusualPenalty), warning
}

// ScoringConsistency returns 1/(1+stdev/mean) averaged over the teams that have
// at least two recent scores. ok is false when neither team does.
func ScoringConsistency(home, away []float64) (float64, bool) {
	var sum float64
	var n int
	for _, scores := range [][]float64{home, away} {
		if len(scores) < 2 {
			continue
		}
		mean, std := stat.MeanStdDev(scores, nil)
		if mean <= 0 || math.IsNaN(std) || math.IsInf(std, 0) {
			continue
		}
		sum += 1 / (1 + std/mean)
		n++
	}
	if n == 0 {
		return 0, false
	}
	return sum / float64(n), true
}

// sanitizeRaw maps any input into [0, 1]; ok is false when it had to
func sanitizeRaw(raw float64) (float64, bool) {
	switch {
	case math.IsNaN(raw):
		return 0, false
	case raw < 0:
		return 0, false
	case raw > 1:
		return 1, false
	}
	return raw, true
}

func clamp(v, lo, hi float64) float64 {
	if math.IsNaN(v) {
		return lo
	}
	return math.Max(lo, math.Min(hi, v))
}
