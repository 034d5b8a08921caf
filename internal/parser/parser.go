// Package parser turns the many upstream encodings of a betting line into a
// models.CanonicalPrediction.
//
// Accepted forms:
//
//	spread:    "-1.5", "+1.5", "-Yankees 1.5", "Yankees -1.5"
//	moneyline: "-150", "+140", "Yankees", "<team id>"
//	total:     "OVER 8.5", "under 9", "O 8.5", "u9", "o 8.5"
//
// Bare numbers are read from the home side's perspective. Team names must match
// the game's teams exactly (case-sensitive). A total without a direction is an
// error; the parser never assumes OVER.
package parser

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/XavierBriggs/fortuna/services/prediction-engine/internal/sports"
	"github.com/XavierBriggs/fortuna/services/prediction-engine/pkg/models"
	"github.com/XavierBriggs/fortuna/services/prediction-engine/pkg/oddsmath"
	"github.com/shopspring/decimal"
)

var (
	spreadTeamPattern = regexp.MustCompile(`^([+-])?\s*(.*?\S)\s+([+-]?\d+(?:\.\d+)?)$`)
	totalPattern      = regexp.MustCompile(`(?i)^(over|under|o|u)\s*([+-]?\d+(?:\.\d+)?)$`)
)

// Parser parses raw prediction values for one sport
type Parser struct {
	profile sports.Profile
}

// New creates a parser bound to a sport profile
func New(profile sports.Profile) *Parser {
	return &Parser{profile: profile}
}

// Profile returns the sport profile the parser validates against
func (p *Parser) Profile() sports.Profile {
	return p.profile
}

// Parse converts a raw value into a canonical prediction
func (p *Parser) Parse(market models.MarketType, raw models.RawValue, homeTeam, awayTeam string) (models.CanonicalPrediction, error) {
	return p.parse(market, raw, teams{
		home: nonEmpty(homeTeam),
		away: nonEmpty(awayTeam),
	})
}

// ParseForGame parses a stored prediction against its game. Team ids are
// accepted alongside team names.
func (p *Parser) ParseForGame(pred models.Prediction, game models.Game) (models.CanonicalPrediction, error) {
	market, err := models.ParseMarketType(pred.PredictionType)
	if err != nil {
		return models.CanonicalPrediction{}, fmt.Errorf("%w: %v", ErrUnsupportedMarket, err)
	}

	return p.parse(market, pred.PredictionValue, teams{
		home: game.HomeIdentifiers(),
		away: game.AwayIdentifiers(),
	})
}

func (p *Parser) parse(market models.MarketType, raw models.RawValue, t teams) (models.CanonicalPrediction, error) {
	if !market.Valid() {
		return models.CanonicalPrediction{}, fmt.Errorf("%w: %q", ErrUnsupportedMarket, market)
	}

	value := strings.TrimSpace(string(raw))
	if value == "" {
		return models.CanonicalPrediction{}, &ParseError{Market: market, Raw: raw, Err: ErrEmptyValue}
	}

	var (
		pred models.CanonicalPrediction
		err  error
	)
	switch market {
	case models.MarketSpread:
		pred, err = p.parseSpread(value, t)
	case models.MarketMoneyline:
		pred, err = p.parseMoneyline(value, t)
	case models.MarketTotal:
		pred, err = p.parseTotal(value)
	}
	if err != nil {
		return models.CanonicalPrediction{}, &ParseError{Market: market, Raw: raw, Err: err}
	}

	return pred, nil
}

func (p *Parser) parseSpread(value string, t teams) (models.CanonicalPrediction, error) {
	// Bare signed decimal: home perspective
	if line, ok := parseNumber(value); ok {
		if line.IsZero() {
			return models.CanonicalPrediction{}, ErrZeroSpread
		}
		return models.NewSpreadPrediction(models.SideHome, line)
	}

	m := spreadTeamPattern.FindStringSubmatch(value)
	if m == nil {
		return models.CanonicalPrediction{}, fmt.Errorf("%w: expected \"<sign><team> <spread>\"", ErrMalformedValue)
	}
	prefix, team, number := m[1], strings.TrimSpace(m[2]), m[3]

	line, err := decimal.NewFromString(strings.TrimPrefix(number, "+"))
	if err != nil {
		return models.CanonicalPrediction{}, fmt.Errorf("%w: %v", ErrMalformedValue, err)
	}

	if prefix != "" {
		// "-Yankees -1.5" says the sign twice; refuse to guess which one is meant
		if strings.HasPrefix(number, "-") || strings.HasPrefix(number, "+") {
			return models.CanonicalPrediction{}, fmt.Errorf("%w: sign given on both team and spread", ErrMalformedValue)
		}
		if prefix == "-" {
			line = line.Neg()
		}
	}

	if line.IsZero() {
		return models.CanonicalPrediction{}, ErrZeroSpread
	}

	side, err := t.match(team)
	if err != nil {
		return models.CanonicalPrediction{}, err
	}

	// The line stays attached to the named team; HomeLine() performs the sign
	// flip when an away-side spread is needed from the home perspective.
	return models.NewSpreadPrediction(side, line)
}

func (p *Parser) parseMoneyline(value string, t teams) (models.CanonicalPrediction, error) {
	// Team identifiers win over odds so numeric team ids are not read as prices
	side, err := t.match(value)
	switch {
	case err == nil:
		return models.NewMoneylinePrediction(side, nil)
	case errors.Is(err, ErrAmbiguousTeam):
		return models.CanonicalPrediction{}, err
	}

	if odds, ok := parseNumber(value); ok {
		if !odds.Equal(odds.Truncate(0)) || !odds.Abs().IsPositive() {
			return models.CanonicalPrediction{}, fmt.Errorf("%w: %s", ErrInvalidOdds, value)
		}
		if odds.Abs().LessThan(decimal.NewFromInt(oddsmath.MinAmericanMagnitude)) {
			return models.CanonicalPrediction{}, fmt.Errorf("%w: |%s| < %d", ErrInvalidOdds, value, oddsmath.MinAmericanMagnitude)
		}
		return models.NewMoneylinePrediction(models.SideHome, &odds)
	}

	return models.CanonicalPrediction{}, err
}

func (p *Parser) parseTotal(value string) (models.CanonicalPrediction, error) {
	m := totalPattern.FindStringSubmatch(value)
	if m == nil {
		if _, ok := parseNumber(value); ok {
			return models.CanonicalPrediction{}, ErrMissingDirection
		}
		return models.CanonicalPrediction{}, fmt.Errorf("%w: expected \"OVER <n>\" or \"UNDER <n>\"", ErrMalformedValue)
	}

	side := models.SideOver
	if strings.HasPrefix(strings.ToLower(m[1]), "u") {
		side = models.SideUnder
	}

	line, err := decimal.NewFromString(strings.TrimPrefix(m[2], "+"))
	if err != nil {
		return models.CanonicalPrediction{}, fmt.Errorf("%w: %v", ErrMalformedValue, err)
	}

	f := line.InexactFloat64()
	if !line.IsPositive() || f < p.profile.MinTotal || f > p.profile.MaxTotal {
		return models.CanonicalPrediction{}, fmt.Errorf("%w: %s not in [%v, %v] for %s",
			ErrTotalOutOfRange, line, p.profile.MinTotal, p.profile.MaxTotal, p.profile.DisplayName)
	}

	return models.NewTotalPrediction(side, line)
}

// parseNumber parses a plain decimal, tolerating a leading '+'
func parseNumber(value string) (decimal.Decimal, bool) {
	s := strings.TrimPrefix(value, "+")
	if s == "" || strings.ContainsAny(s, " \t") {
		return decimal.Decimal{}, false
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Decimal{}, false
	}
	return d, true
}

type teams struct {
	home []string
	away []string
}

func (t teams) match(name string) (models.Side, error) {
	home := contains(t.home, name)
	away := contains(t.away, name)

	switch {
	case home && away:
		return "", fmt.Errorf("%w: %q", ErrAmbiguousTeam, name)
	case home:
		return models.SideHome, nil
	case away:
		return models.SideAway, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownTeam, name)
	}
}

func contains(values []string, s string) bool {
	for _, v := range values {
		if v == s {
			return true
		}
	}
	return false
}

func nonEmpty(s string) []string {
	if s == "" {
		return nil
	}
	return []string{s}
}
