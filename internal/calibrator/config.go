package calibrator

import (
	"fmt"

	"github.com/XavierBriggs/fortuna/services/prediction-engine/pkg/models"
)

// Range is a closed confidence interval
type Range struct {
	Min float64 `mapstructure:"min" json:"min"`
	Max float64 `mapstructure:"max" json:"max"`
}

// Config controls every calibration step. It is passed into each call; there is
// no package level default instance.
type Config struct {
	// Step 1: per-market reliability multipliers
	MarketWeights map[models.MarketType]float64 `mapstructure:"market_weights" json:"market_weights"`

	// Step 2 and step 8
	MinConfidence float64 `mapstructure:"min_confidence" json:"min_confidence"`
	MaxConfidence float64 `mapstructure:"max_confidence" json:"max_confidence"`
	ExcessDamping float64 `mapstructure:"excess_damping" json:"excess_damping"`

	// Step 3: raw confidence above OptimalRange.Max is pulled toward it
	OptimalRange Range   `mapstructure:"optimal_range" json:"optimal_range"`
	OptimalPull  float64 `mapstructure:"optimal_pull" json:"optimal_pull"`

	// Step 4
	HomeWinRateThreshold float64 `mapstructure:"home_win_rate_threshold" json:"home_win_rate_threshold"`
	HomeAdvantageBoost   float64 `mapstructure:"home_advantage_boost" json:"home_advantage_boost"`

	// Step 5: confidence *= ConsistencyBase + ConsistencyWeight*consistency
	ConsistencyBase   float64 `mapstructure:"consistency_base" json:"consistency_base"`
	ConsistencyWeight float64 `mapstructure:"consistency_weight" json:"consistency_weight"`

	// Step 6: penalty per unit of relative excess over the sport's unusual bound
	UnusualPenaltyRate float64 `mapstructure:"unusual_penalty_rate" json:"unusual_penalty_rate"`
	MaxUnusualPenalty  float64 `mapstructure:"max_unusual_penalty" json:"max_unusual_penalty"`

	// Step 7
	HistoricalMinSamples        int     `mapstructure:"historical_min_samples" json:"historical_min_samples"`
	HistoricalFullWeightSamples int     `mapstructure:"historical_full_weight_samples" json:"historical_full_weight_samples"`
	HistoricalMaxWeight         float64 `mapstructure:"historical_max_weight" json:"historical_max_weight"`

	// Step 9
	AcceptThreshold float64 `mapstructure:"accept_threshold" json:"accept_threshold"`

	// Malformed values: min(raw*MalformedFactor, MalformedCap)
	MalformedFactor float64 `mapstructure:"malformed_factor" json:"malformed_factor"`
	MalformedCap    float64 `mapstructure:"malformed_cap" json:"malformed_cap"`
}

// DefaultConfig returns the default calibration settings
func DefaultConfig() Config {
	return Config{
		MarketWeights: map[models.MarketType]float64{
			models.MarketSpread:    1.05,
			models.MarketMoneyline: 1.0,
			models.MarketTotal:     0.95,
		},
		MinConfidence:               0.5,
		MaxConfidence:               0.85,
		ExcessDamping:               0.5,
		OptimalRange:                Range{Min: 0.55, Max: 0.75},
		OptimalPull:                 0.7,
		HomeWinRateThreshold:        0.6,
		HomeAdvantageBoost:          1.05,
		ConsistencyBase:             0.8,
		ConsistencyWeight:           0.2,
		UnusualPenaltyRate:          0.25,
		MaxUnusualPenalty:           0.15,
		HistoricalMinSamples:        10,
		HistoricalFullWeightSamples: 100,
		HistoricalMaxWeight:         0.4,
		AcceptThreshold:             0.65,
		MalformedFactor:             0.7,
		MalformedCap:                0.65,
	}
}

// MarketWeight returns the step 1 multiplier; unknown markets are unweighted
func (c Config) MarketWeight(market models.MarketType) float64 {
	if w, ok := c.MarketWeights[market]; ok {
		return w
	}
	return 1.0
}

// Validate rejects configurations that cannot satisfy the clamp bounds
func (c Config) Validate() error {
	if c.MinConfidence < 0 || c.MaxConfidence > 1 || c.MinConfidence > c.MaxConfidence {
		return fmt.Errorf("confidence bounds [%v, %v] must satisfy 0 <= min <= max <= 1", c.MinConfidence, c.MaxConfidence)
	}
	if c.OptimalRange.Min > c.OptimalRange.Max {
		return fmt.Errorf("optimal range min %v exceeds max %v", c.OptimalRange.Min, c.OptimalRange.Max)
	}
	for market, w := range c.MarketWeights {
		if !market.Valid() {
			return fmt.Errorf("market weight for unknown market %q", market)
		}
		if w <= 0 {
			return fmt.Errorf("market weight for %s must be positive, got %v", market, w)
		}
	}
	if c.ExcessDamping < 0 || c.ExcessDamping > 1 {
		return fmt.Errorf("excess damping must be in [0, 1], got %v", c.ExcessDamping)
	}
	if c.OptimalPull < 0 || c.OptimalPull > 1 {
		return fmt.Errorf("optimal pull must be in [0, 1], got %v", c.OptimalPull)
	}
	if c.HomeAdvantageBoost < 1 {
		return fmt.Errorf("home advantage boost must be >= 1, got %v", c.HomeAdvantageBoost)
	}
	if c.ConsistencyBase < 0 || c.ConsistencyBase+c.ConsistencyWeight > 1 {
		return fmt.Errorf("consistency scaling must never raise confidence (base %v + weight %v)", c.ConsistencyBase, c.ConsistencyWeight)
	}
	if c.MaxUnusualPenalty < 0 || c.MaxUnusualPenalty >= 1 {
		return fmt.Errorf("max unusual penalty must be in [0, 1), got %v", c.MaxUnusualPenalty)
	}
	if c.HistoricalMaxWeight < 0 || c.HistoricalMaxWeight > 1 {
		return fmt.Errorf("historical max weight must be in [0, 1], got %v", c.HistoricalMaxWeight)
	}
	if c.HistoricalFullWeightSamples <= 0 {
		return fmt.Errorf("historical full weight samples must be positive")
	}
	if c.AcceptThreshold < 0 || c.AcceptThreshold > 1 {
		return fmt.Errorf("accept threshold must be in [0, 1], got %v", c.AcceptThreshold)
	}
	if c.MalformedFactor < 0 || c.MalformedCap < 0 {
		return fmt.Errorf("malformed scaling must be non-negative")
	}
	return nil
}
