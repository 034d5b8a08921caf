package parser

import (
	"errors"
	"fmt"

	"github.com/XavierBriggs/fortuna/services/prediction-engine/pkg/models"
)

// ErrUnsupportedMarket is returned for a missing or unknown market type. It is the
// one hard failure of the parser and is deliberately not a ParseError.
var ErrUnsupportedMarket = errors.New("unsupported market type")

// Reasons wrapped by ParseError
var (
	ErrEmptyValue       = errors.New("empty prediction value")
	ErrMalformedValue   = errors.New("malformed prediction value")
	ErrZeroSpread       = errors.New("spread cannot be zero")
	ErrUnknownTeam      = errors.New("team does not match home or away team")
	ErrAmbiguousTeam    = errors.New("team matches both home and away team")
	ErrMissingDirection = errors.New("total has no over/under direction")
	ErrTotalOutOfRange  = errors.New("total outside plausible range")
	ErrInvalidOdds      = errors.New("invalid American odds")
)

// ParseError describes a raw value that cannot be turned into a canonical prediction
type ParseError struct {
	Market models.MarketType
	Raw    models.RawValue
	Err    error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse %s value %q: %v", e.Market, string(e.Raw), e.Err)
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

// IsParseError reports whether err is (or wraps) a ParseError
func IsParseError(err error) bool {
	var pe *ParseError
	return errors.As(err, &pe)
}
