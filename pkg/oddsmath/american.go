package oddsmath

import (
	"fmt"
	"math"
)

// MinAmericanMagnitude is the smallest |odds| a valid American price can have
const MinAmericanMagnitude = 100

// IsValidAmerican reports whether odds is a valid American price (|odds| >= 100)
func IsValidAmerican(american int) bool {
	return american <= -MinAmericanMagnitude || american >= MinAmericanMagnitude
}

// AmericanToDecimal converts American odds to decimal odds
// American +150 → Decimal 2.50
// American -150 → Decimal 1.67
func AmericanToDecimal(american int) (float64, error) {
	if !IsValidAmerican(american) {
		return 0, fmt.Errorf("invalid American odds %d: magnitude must be at least %d", american, MinAmericanMagnitude)
	}

	if american > 0 {
		return (float64(american) / 100.0) + 1.0, nil
	}

	return (100.0 / float64(-american)) + 1.0, nil
}

// DecimalToAmerican converts decimal odds to American odds
// Decimal 2.50 → American +150
// Decimal 1.67 → American -150
func DecimalToAmerican(decimal float64) (int, error) {
	if decimal <= 1.0 || math.IsNaN(decimal) || math.IsInf(decimal, 0) {
		return 0, fmt.Errorf("invalid decimal odds: must be > 1.0")
	}

	if decimal >= 2.0 {
		return int(math.Round((decimal - 1.0) * 100.0)), nil
	}

	return int(math.Round(-100.0 / (decimal - 1.0))), nil
}

// AmericanToImpliedProbability converts American odds to the bookmaker's implied probability
// -110 → 0.5238, +150 → 0.40
func AmericanToImpliedProbability(american int) (float64, error) {
	decimal, err := AmericanToDecimal(american)
	if err != nil {
		return 0, err
	}

	return 1.0 / decimal, nil
}

// ProbabilityToAmerican converts a probability to fair American odds
func ProbabilityToAmerican(probability float64) (int, error) {
	if probability <= 0 || probability >= 1 {
		return 0, fmt.Errorf("invalid probability: must be between 0 and 1")
	}

	return DecimalToAmerican(1.0 / probability)
}
