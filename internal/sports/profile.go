package sports

import "fmt"

// Profile holds the sport-specific plausibility bounds used by parsing and calibration
type Profile struct {
	SportKey    string `mapstructure:"sport_key"`
	DisplayName string `mapstructure:"display_name"`

	// Totals outside [MinTotal, MaxTotal] are rejected as implausible
	MinTotal float64 `mapstructure:"min_total"`
	MaxTotal float64 `mapstructure:"max_total"`

	// Totals outside the typical range are accepted but penalized during calibration
	TypicalTotalMin float64 `mapstructure:"typical_total_min"`
	TypicalTotalMax float64 `mapstructure:"typical_total_max"`

	// Spreads with a larger magnitude are unusual (not invalid)
	UnusualSpread float64 `mapstructure:"unusual_spread"`

	// Moneyline prices beyond this magnitude are flagged as extreme
	ExtremeOdds int `mapstructure:"extreme_odds"`

	Enabled bool `mapstructure:"enabled"`
}

// Validate checks that the bounds are internally consistent
func (p Profile) Validate() error {
	if p.SportKey == "" {
		return fmt.Errorf("sport profile missing sport key")
	}
	if p.MinTotal <= 0 || p.MaxTotal <= p.MinTotal {
		return fmt.Errorf("%s: invalid total bounds [%v, %v]", p.SportKey, p.MinTotal, p.MaxTotal)
	}
	if p.TypicalTotalMin < p.MinTotal || p.TypicalTotalMax > p.MaxTotal || p.TypicalTotalMax < p.TypicalTotalMin {
		return fmt.Errorf("%s: typical total range [%v, %v] outside bounds", p.SportKey, p.TypicalTotalMin, p.TypicalTotalMax)
	}
	if p.UnusualSpread <= 0 {
		return fmt.Errorf("%s: unusual spread must be positive", p.SportKey)
	}
	if p.ExtremeOdds < 100 {
		return fmt.Errorf("%s: extreme odds must be at least 100", p.SportKey)
	}
	return nil
}

// Sport keys follow The Odds API naming used across fortuna
const (
	BaseballMLB         = "baseball_mlb"
	BasketballNBA       = "basketball_nba"
	AmericanFootballNFL = "americanfootball_nfl"
	IceHockeyNHL        = "icehockey_nhl"
)

// MLB returns the baseball profile: run line 1.5, totals in runs
func MLB() Profile {
	return Profile{
		SportKey:        BaseballMLB,
		DisplayName:     "MLB",
		MinTotal:        3,
		MaxTotal:        20,
		TypicalTotalMin: 6,
		TypicalTotalMax: 12,
		UnusualSpread:   2.5,
		ExtremeOdds:     400,
		Enabled:         true,
	}
}

// NBA returns the basketball profile
func NBA() Profile {
	return Profile{
		SportKey:        BasketballNBA,
		DisplayName:     "NBA",
		MinTotal:        150,
		MaxTotal:        300,
		TypicalTotalMin: 195,
		TypicalTotalMax: 250,
		UnusualSpread:   16.5,
		ExtremeOdds:     1000,
		Enabled:         true,
	}
}

// NFL returns the football profile
func NFL() Profile {
	return Profile{
		SportKey:        AmericanFootballNFL,
		DisplayName:     "NFL",
		MinTotal:        20,
		MaxTotal:        80,
		TypicalTotalMin: 36,
		TypicalTotalMax: 54,
		UnusualSpread:   14,
		ExtremeOdds:     800,
		Enabled:         true,
	}
}

// NHL returns the hockey profile: puck line 1.5, totals in goals
func NHL() Profile {
	return Profile{
		SportKey:        IceHockeyNHL,
		DisplayName:     "NHL",
		MinTotal:        3,
		MaxTotal:        12,
		TypicalTotalMin: 5,
		TypicalTotalMax: 7,
		UnusualSpread:   2.5,
		ExtremeOdds:     400,
		Enabled:         true,
	}
}
