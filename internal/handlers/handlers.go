package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/XavierBriggs/fortuna/services/prediction-engine/internal/calibrator"
	"github.com/XavierBriggs/fortuna/services/prediction-engine/internal/ensemble"
	"github.com/XavierBriggs/fortuna/services/prediction-engine/internal/metrics"
	"github.com/XavierBriggs/fortuna/services/prediction-engine/internal/parser"
	"github.com/XavierBriggs/fortuna/services/prediction-engine/internal/resolver"
	"github.com/XavierBriggs/fortuna/services/prediction-engine/internal/sports"
	"github.com/XavierBriggs/fortuna/services/prediction-engine/internal/tracker"
	"github.com/XavierBriggs/fortuna/services/prediction-engine/internal/validation"
	"github.com/XavierBriggs/fortuna/services/prediction-engine/pkg/models"
	"github.com/XavierBriggs/fortuna/services/prediction-engine/pkg/oddsmath"
	"github.com/go-chi/chi/v5"
)

// EngineState is the grader's published view of performance and weights
type EngineState interface {
	Snapshot() tracker.Snapshot
	Weights() models.EnsembleWeights
	Accuracy(modelID string) (float64, bool)
}

// Handler contains dependencies for HTTP handlers
type Handler struct {
	registry    *sports.Registry
	calibration calibrator.Config
	ensemble    ensemble.Config
	thresholds  validation.Thresholds
	state       EngineState
	metrics     *metrics.Metrics
	clock       tracker.Clock
}

// NewHandler creates a new handler
func NewHandler(registry *sports.Registry, calibration calibrator.Config, ens ensemble.Config, thresholds validation.Thresholds, state EngineState, m *metrics.Metrics) *Handler {
	return &Handler{
		registry:    registry,
		calibration: calibration,
		ensemble:    ens,
		thresholds:  thresholds,
		state:       state,
		metrics:     m,
		clock:       time.Now,
	}
}

// HealthCheck returns service health
func (h *Handler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{
		"status":  "healthy",
		"service": "prediction-engine",
	})
}

// ParseRequest is the body of POST /api/v1/parse
type ParseRequest struct {
	SportKey        string          `json:"sport_key"`
	PredictionType  string          `json:"prediction_type"`
	PredictionValue models.RawValue `json:"prediction_value"`
	HomeTeam        string          `json:"home_team"`
	HomeTeamID      string          `json:"home_team_id"`
	AwayTeam        string          `json:"away_team"`
	AwayTeamID      string          `json:"away_team_id"`
}

// ParseResponse is the canonical form of a raw value
type ParseResponse struct {
	Prediction         models.CanonicalPrediction `json:"prediction"`
	ImpliedProbability *float64                   `json:"implied_probability,omitempty"`
}

// Parse normalizes a raw prediction value
func (h *Handler) Parse(w http.ResponseWriter, r *http.Request) {
	var req ParseRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, fmt.Sprintf("invalid request: %v", err))
		return
	}

	p, ok := h.parserFor(w, req.SportKey)
	if !ok {
		return
	}

	game := models.Game{
		SportKey: req.SportKey,
		HomeTeam: req.HomeTeam, HomeTeamID: req.HomeTeamID,
		AwayTeam: req.AwayTeam, AwayTeamID: req.AwayTeamID,
	}
	canon, ok := h.parse(w, p, req.PredictionType, req.PredictionValue, game)
	if !ok {
		return
	}

	resp := ParseResponse{Prediction: canon}
	if line, hasLine := canon.Line(); hasLine && canon.Market() == models.MarketMoneyline {
		if prob, err := oddsmath.AmericanToImpliedProbability(int(line.IntPart())); err == nil {
			resp.ImpliedProbability = &prob
		}
	}
	respondJSON(w, http.StatusOK, resp)
}

// ResolveRequest is the body of POST /api/v1/resolve
type ResolveRequest struct {
	PredictionType  string          `json:"prediction_type"`
	PredictionValue models.RawValue `json:"prediction_value"`
	Game            models.Game     `json:"game"`
}

// ResolveResponse is the outcome of one prediction
type ResolveResponse struct {
	Prediction models.CanonicalPrediction `json:"prediction"`
	Outcome    models.Outcome             `json:"outcome"`
}

// Resolve grades a raw prediction against a game
func (h *Handler) Resolve(w http.ResponseWriter, r *http.Request) {
	var req ResolveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, fmt.Sprintf("invalid request: %v", err))
		return
	}

	p, ok := h.parserFor(w, req.Game.SportKey)
	if !ok {
		return
	}

	canon, ok := h.parse(w, p, req.PredictionType, req.PredictionValue, req.Game)
	if !ok {
		return
	}

	respondJSON(w, http.StatusOK, ResolveResponse{
		Prediction: canon,
		Outcome:    resolver.ResolveGame(canon, req.Game),
	})
}

// CalibrateRequest is the body of POST /api/v1/calibrate
type CalibrateRequest struct {
	ModelID          string          `json:"model_id"`
	PredictionType   string          `json:"prediction_type"`
	PredictionValue  models.RawValue `json:"prediction_value"`
	Confidence       float64         `json:"confidence"`
	Game             models.Game     `json:"game"`
	HomeTeamWinRate  *float64        `json:"home_team_win_rate"`
	RecentHomeScores []float64       `json:"recent_home_scores"`
	RecentAwayScores []float64       `json:"recent_away_scores"`
}

// Calibrate returns the calibrated confidence of a raw model confidence
func (h *Handler) Calibrate(w http.ResponseWriter, r *http.Request) {
	var req CalibrateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, fmt.Sprintf("invalid request: %v", err))
		return
	}

	p, ok := h.parserFor(w, req.Game.SportKey)
	if !ok {
		return
	}

	market, err := models.ParseMarketType(req.PredictionType)
	if err != nil {
		market = models.MarketType(req.PredictionType)
	}

	cctx := calibrator.Context{
		RawValue:         req.PredictionValue,
		Game:             req.Game,
		HomeTeamWinRate:  req.HomeTeamWinRate,
		RecentHomeScores: req.RecentHomeScores,
		RecentAwayScores: req.RecentAwayScores,
	}
	if req.ModelID != "" {
		if hist := h.state.Snapshot().HistoricalAccuracy(req.ModelID, market); hist.SampleSize > 0 {
			cctx.Historical = &hist
		}
	}

	c := calibrator.New(p).Calibrate(req.Confidence, market, cctx, h.calibration)
	h.metrics.RecordCalibration(string(market), string(c.Recommendation))

	resp := CalibrateResponse{CalibratedConfidence: c, Accepted: c.Accepted()}
	if odds, err := oddsmath.ProbabilityToAmerican(c.Value); err == nil {
		resp.FairOdds = &odds
	}
	respondJSON(w, http.StatusOK, resp)
}

// CalibrateResponse is the calibrated confidence plus the fair American price it implies
type CalibrateResponse struct {
	models.CalibratedConfidence
	Accepted bool `json:"accepted"`
	FairOdds *int `json:"fair_odds,omitempty"`
}

// EnsembleRequest is the body of POST /api/v1/ensemble
type EnsembleRequest struct {
	Predictions []models.CalibratedPrediction `json:"predictions"`
	Strategy    string                        `json:"strategy,omitempty"`
	// Weights override the published weight snapshot
	Weights map[string]float64 `json:"weights,omitempty"`
}

// EnsembleResponse is the ensemble decision
type EnsembleResponse struct {
	Prediction models.CalibratedPrediction `json:"prediction"`
	Accepted   bool                        `json:"accepted"`
}

// Ensemble aggregates calibrated predictions on one event
func (h *Handler) Ensemble(w http.ResponseWriter, r *http.Request) {
	var req EnsembleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, fmt.Sprintf("invalid request: %v", err))
		return
	}

	cfg := h.ensemble
	if req.Strategy != "" {
		s, err := ensemble.ParseStrategy(req.Strategy)
		if err != nil {
			respondError(w, http.StatusBadRequest, err.Error())
			return
		}
		cfg.Strategy = s
	}

	weights := req.Weights
	if weights == nil {
		weights = h.state.Weights().Values
	}

	out, err := ensemble.NewAggregator(cfg, h.state.Accuracy).Aggregate(req.Predictions, weights)
	switch {
	case err == nil:
		h.metrics.RecordEnsemble(string(cfg.Strategy), "accepted")
		respondJSON(w, http.StatusOK, EnsembleResponse{Prediction: out, Accepted: true})
	case errors.Is(err, ensemble.ErrBelowThreshold):
		h.metrics.RecordEnsemble(string(cfg.Strategy), "below_threshold")
		respondJSON(w, http.StatusOK, EnsembleResponse{Prediction: out, Accepted: false})
	default:
		h.metrics.RecordEnsemble(string(cfg.Strategy), "invalid")
		respondError(w, http.StatusUnprocessableEntity, err.Error())
	}
}

// ModelSummary is one row of GET /api/v1/models
type ModelSummary struct {
	*models.ModelPerformanceRecord
	Weight *float64 `json:"weight,omitempty"`
}

// GetModels lists every tracked model with its current weight
func (h *Handler) GetModels(w http.ResponseWriter, r *http.Request) {
	weights := h.state.Weights()

	records := h.state.Snapshot().Records()
	out := make([]ModelSummary, 0, len(records))
	for _, rec := range records {
		s := ModelSummary{ModelPerformanceRecord: rec}
		if v, ok := weights.Values[rec.ModelID]; ok {
			s.Weight = &v
		}
		out = append(out, s)
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"models": out,
		"count":  len(out),
	})
}

// GetModelEvaluation evaluates one model against the validation thresholds now
func (h *Handler) GetModelEvaluation(w http.ResponseWriter, r *http.Request) {
	modelID := chi.URLParam(r, "modelID")

	rec, ok := h.state.Snapshot()[modelID]
	if !ok {
		respondError(w, http.StatusNotFound, fmt.Sprintf("model %s not found", modelID))
		return
	}

	respondJSON(w, http.StatusOK, validation.Evaluate(rec, h.thresholds, h.clock()))
}

// GetWeights returns the published weight snapshot
func (h *Handler) GetWeights(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, h.state.Weights())
}

func (h *Handler) parserFor(w http.ResponseWriter, sportKey string) (*parser.Parser, bool) {
	profile, err := h.registry.Get(sportKey)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return nil, false
	}
	return parser.New(profile), true
}

func (h *Handler) parse(w http.ResponseWriter, p *parser.Parser, market string, raw models.RawValue, game models.Game) (models.CanonicalPrediction, bool) {
	canon, err := p.ParseForGame(models.Prediction{PredictionType: market, PredictionValue: raw}, game)
	if err == nil {
		return canon, true
	}

	if errors.Is(err, parser.ErrUnsupportedMarket) {
		respondError(w, http.StatusBadRequest, err.Error())
		return canon, false
	}

	h.metrics.RecordParseFailure(market)
	respondError(w, http.StatusUnprocessableEntity, err.Error())
	return canon, false
}

// respondJSON writes a JSON response
func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// respondError writes an error response
func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{
		"error": message,
	})
}
