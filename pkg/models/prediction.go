package models

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// MarketType is the betting market a prediction is made on
type MarketType string

const (
	MarketSpread    MarketType = "spread"
	MarketMoneyline MarketType = "moneyline"
	MarketTotal     MarketType = "total"
)

// ParseMarketType maps the market labels found in stored predictions to a MarketType
func ParseMarketType(s string) (MarketType, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "spread", "spreads", "run_line", "runline", "puck_line", "point_spread":
		return MarketSpread, nil
	case "moneyline", "h2h", "ml", "money_line":
		return MarketMoneyline, nil
	case "total", "totals", "over_under", "ou":
		return MarketTotal, nil
	default:
		return "", fmt.Errorf("unknown market type: %q", s)
	}
}

// Valid reports whether m is one of the supported markets
func (m MarketType) Valid() bool {
	return m == MarketSpread || m == MarketMoneyline || m == MarketTotal
}

// Side is the resolved side of a bet, never a raw team name
type Side string

const (
	SideHome  Side = "home"
	SideAway  Side = "away"
	SideOver  Side = "over"
	SideUnder Side = "under"
)

// Outcome is the graded result of a prediction
type Outcome string

const (
	OutcomeWin     Outcome = "win"
	OutcomeLoss    Outcome = "loss"
	OutcomePush    Outcome = "push"
	OutcomePending Outcome = "pending"
)

// IsFinal reports whether the outcome is no longer pending
func (o Outcome) IsFinal() bool {
	return o == OutcomeWin || o == OutcomeLoss || o == OutcomePush
}

// Recommendation tells the caller whether to surface a prediction
type Recommendation string

const (
	RecommendAccept Recommendation = "ACCEPT"
	RecommendReject Recommendation = "REJECT"
)

// RawValue is a prediction value as stored upstream: either a string or a number.
// Numbers keep their literal text so "-1.50" and -1.5 parse identically.
type RawValue string

// NumberValue builds a RawValue from a numeric prediction value
func NumberValue(v float64) RawValue {
	return RawValue(fmt.Sprintf("%g", v))
}

// UnmarshalJSON accepts both JSON strings and JSON numbers
func (r *RawValue) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*r = ""
		return nil
	}

	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*r = RawValue(s)
		return nil
	}

	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("prediction value must be a string or number: %w", err)
	}
	*r = RawValue(n.String())
	return nil
}

// Prediction is the raw prediction record produced by a model
type Prediction struct {
	ID              string     `json:"id"`
	GameID          string     `json:"game_id"`
	ModelID         string     `json:"model_id"`
	PredictionType  string     `json:"prediction_type"`
	PredictionValue RawValue   `json:"prediction_value"`
	Confidence      float64    `json:"confidence"`
	Outcome         Outcome    `json:"outcome,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
	GradedAt        *time.Time `json:"graded_at,omitempty"`
}

// CalibratedConfidence is the bounded, annotated confidence attached to a prediction
type CalibratedConfidence struct {
	Value          float64        `json:"value"`
	Warning        string         `json:"warning,omitempty"`
	Recommendation Recommendation `json:"recommendation"`
}

// Accepted reports whether the prediction should be surfaced
func (c CalibratedConfidence) Accepted() bool {
	return c.Recommendation == RecommendAccept
}

// CalibratedPrediction is a canonical prediction with its calibrated confidence
type CalibratedPrediction struct {
	ID           string               `json:"id,omitempty"`
	GameID       string               `json:"game_id"`
	ModelID      string               `json:"model_id"`
	Prediction   CanonicalPrediction  `json:"prediction"`
	Confidence   CalibratedConfidence `json:"confidence"`
	Contributors []string             `json:"contributors,omitempty"` // ensemble only
}
