package models

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

var minAmericanOdds = decimal.NewFromInt(100)

// Canonical construction errors
var (
	ErrInvalidSide = errors.New("side does not belong to market")
	ErrInvalidLine = errors.New("invalid line for market")
)

// CanonicalPrediction is the normalized, unambiguous form of a bet.
// Values are immutable; build them with the New*Prediction constructors.
type CanonicalPrediction struct {
	market MarketType
	side   Side
	line   decimal.Decimal
	// hasLine is false only for side-only moneyline encodings
	hasLine bool
}

// NewSpreadPrediction builds a spread prediction; line is from side's perspective
func NewSpreadPrediction(side Side, line decimal.Decimal) (CanonicalPrediction, error) {
	if side != SideHome && side != SideAway {
		return CanonicalPrediction{}, fmt.Errorf("%w: %s on %s", ErrInvalidSide, side, MarketSpread)
	}
	if line.IsZero() {
		return CanonicalPrediction{}, fmt.Errorf("%w: spread cannot be zero", ErrInvalidLine)
	}
	return CanonicalPrediction{market: MarketSpread, side: side, line: line, hasLine: true}, nil
}

// NewTotalPrediction builds an over/under prediction
func NewTotalPrediction(side Side, line decimal.Decimal) (CanonicalPrediction, error) {
	if side != SideOver && side != SideUnder {
		return CanonicalPrediction{}, fmt.Errorf("%w: %s on %s", ErrInvalidSide, side, MarketTotal)
	}
	if !line.IsPositive() {
		return CanonicalPrediction{}, fmt.Errorf("%w: total must be positive, got %s", ErrInvalidLine, line)
	}
	return CanonicalPrediction{market: MarketTotal, side: side, line: line, hasLine: true}, nil
}

// NewMoneylinePrediction builds a moneyline prediction. odds may be nil for
// side-only encodings; otherwise it must be valid American odds.
func NewMoneylinePrediction(side Side, odds *decimal.Decimal) (CanonicalPrediction, error) {
	if side != SideHome && side != SideAway {
		return CanonicalPrediction{}, fmt.Errorf("%w: %s on %s", ErrInvalidSide, side, MarketMoneyline)
	}
	if odds == nil {
		return CanonicalPrediction{market: MarketMoneyline, side: side}, nil
	}
	if odds.Abs().LessThan(minAmericanOdds) || !odds.Equal(odds.Truncate(0)) {
		return CanonicalPrediction{}, fmt.Errorf("%w: %s is not valid American odds", ErrInvalidLine, odds)
	}
	return CanonicalPrediction{market: MarketMoneyline, side: side, line: *odds, hasLine: true}, nil
}

// Market returns the market type
func (p CanonicalPrediction) Market() MarketType { return p.market }

// Side returns the resolved side
func (p CanonicalPrediction) Side() Side { return p.side }

// Line returns the line and whether one is set
func (p CanonicalPrediction) Line() (decimal.Decimal, bool) { return p.line, p.hasLine }

// IsZero reports whether p was never constructed
func (p CanonicalPrediction) IsZero() bool { return p.market == "" }

// HomeLine projects a spread onto the home side: the sign flips for away-side spreads
func (p CanonicalPrediction) HomeLine() (decimal.Decimal, bool) {
	if p.market != MarketSpread {
		return decimal.Decimal{}, false
	}
	if p.side == SideAway {
		return p.line.Neg(), true
	}
	return p.line, true
}

// Equal compares two canonical predictions by value
func (p CanonicalPrediction) Equal(other CanonicalPrediction) bool {
	if p.market != other.market || p.side != other.side || p.hasLine != other.hasLine {
		return false
	}
	return !p.hasLine || p.line.Equal(other.line)
}

// String renders the prediction in a stable display form, e.g. "spread home -1.5"
func (p CanonicalPrediction) String() string {
	if !p.hasLine {
		return fmt.Sprintf("%s %s", p.market, p.side)
	}
	return fmt.Sprintf("%s %s %s", p.market, p.side, p.line.String())
}

type canonicalJSON struct {
	Market MarketType       `json:"market"`
	Side   Side             `json:"side"`
	Line   *decimal.Decimal `json:"line,omitempty"`
}

// MarshalJSON implements json.Marshaler
func (p CanonicalPrediction) MarshalJSON() ([]byte, error) {
	out := canonicalJSON{Market: p.market, Side: p.side}
	if p.hasLine {
		line := p.line
		out.Line = &line
	}
	return json.Marshal(out)
}

// UnmarshalJSON validates through the constructors
func (p *CanonicalPrediction) UnmarshalJSON(data []byte) error {
	var in canonicalJSON
	if err := json.Unmarshal(data, &in); err != nil {
		return err
	}

	var (
		parsed CanonicalPrediction
		err    error
	)
	switch in.Market {
	case MarketSpread, MarketTotal:
		if in.Line == nil {
			return fmt.Errorf("%w: %s requires a line", ErrInvalidLine, in.Market)
		}
		if in.Market == MarketSpread {
			parsed, err = NewSpreadPrediction(in.Side, *in.Line)
		} else {
			parsed, err = NewTotalPrediction(in.Side, *in.Line)
		}
	case MarketMoneyline:
		parsed, err = NewMoneylinePrediction(in.Side, in.Line)
	default:
		return fmt.Errorf("unknown market type: %q", in.Market)
	}
	if err != nil {
		return err
	}

	*p = parsed
	return nil
}
