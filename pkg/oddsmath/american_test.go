package oddsmath_test

import (
	"testing"

	"github.com/XavierBriggs/fortuna/services/prediction-engine/pkg/oddsmath"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAmericanToDecimal(t *testing.T) {
	tests := []struct {
		name     string
		american int
		want     float64
	}{
		{"Positive odds +100", 100, 2.0},
		{"Positive odds +150", 150, 2.5},
		{"Negative odds -110", -110, 1.909090909},
		{"Negative odds -150", -150, 1.666666667},
		{"Negative odds -200", -200, 1.5},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := oddsmath.AmericanToDecimal(tt.american)
			require.NoError(t, err)
			assert.InDelta(t, tt.want, got, 0.0001)
		})
	}
}

func TestAmericanToDecimal_RejectsSmallMagnitudes(t *testing.T) {
	for _, american := range []int{0, 50, -99, 99} {
		_, err := oddsmath.AmericanToDecimal(american)
		assert.Error(t, err, "odds %d", american)
	}
}

func TestIsValidAmerican(t *testing.T) {
	assert.True(t, oddsmath.IsValidAmerican(100))
	assert.True(t, oddsmath.IsValidAmerican(-100))
	assert.True(t, oddsmath.IsValidAmerican(-150))
	assert.False(t, oddsmath.IsValidAmerican(0))
	assert.False(t, oddsmath.IsValidAmerican(-99))
}

func TestDecimalToAmerican(t *testing.T) {
	tests := []struct {
		name    string
		decimal float64
		want    int
	}{
		{"Even odds 2.0", 2.0, 100},
		{"Underdog 2.5", 2.5, 150},
		{"Favorite 1.5", 1.5, -200},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := oddsmath.DecimalToAmerican(tt.decimal)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	_, err := oddsmath.DecimalToAmerican(1.0)
	assert.Error(t, err)
}

func TestImpliedProbability(t *testing.T) {
	tests := []struct {
		name     string
		american int
		want     float64
	}{
		{"Even odds +100", 100, 0.50},
		{"Favorite -110", -110, 0.5238},
		{"Heavy favorite -200", -200, 0.6667},
		{"Underdog +150", 150, 0.40},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := oddsmath.AmericanToImpliedProbability(tt.american)
			require.NoError(t, err)
			assert.InDelta(t, tt.want, got, 0.001)
		})
	}
}

func TestProbabilityToAmerican(t *testing.T) {
	got, err := oddsmath.ProbabilityToAmerican(0.4)
	require.NoError(t, err)
	assert.Equal(t, 150, got)

	_, err = oddsmath.ProbabilityToAmerican(1.2)
	assert.Error(t, err)
}
