package handlers

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/XavierBriggs/fortuna/services/prediction-engine/internal/calibrator"
	"github.com/XavierBriggs/fortuna/services/prediction-engine/internal/ensemble"
	"github.com/XavierBriggs/fortuna/services/prediction-engine/internal/metrics"
	"github.com/XavierBriggs/fortuna/services/prediction-engine/internal/sports"
	"github.com/XavierBriggs/fortuna/services/prediction-engine/internal/tracker"
	"github.com/XavierBriggs/fortuna/services/prediction-engine/internal/validation"
	"github.com/XavierBriggs/fortuna/services/prediction-engine/pkg/models"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeState struct {
	snap    tracker.Snapshot
	weights models.EnsembleWeights
}

func (f *fakeState) Snapshot() tracker.Snapshot      { return f.snap }
func (f *fakeState) Weights() models.EnsembleWeights { return f.weights }
func (f *fakeState) Accuracy(id string) (float64, bool) {
	rec, ok := f.snap[id]
	if !ok {
		return 0, false
	}
	return rec.Accuracy, true
}

func newTestServer(t *testing.T) (*httptest.Server, *fakeState) {
	t.Helper()

	rec := models.NewModelPerformanceRecord("xgb_v2")
	rec.TotalPredictions = 60
	rec.CorrectPredictions = 36
	rec.Accuracy = 0.6

	state := &fakeState{
		snap:    tracker.Snapshot{"xgb_v2": rec},
		weights: models.EnsembleWeights{Values: map[string]float64{"xgb_v2": 1}},
	}

	m := metrics.New()
	h := NewHandler(sports.NewRegistry(), calibrator.DefaultConfig(), ensemble.DefaultConfig(), validation.DefaultThresholds(), state, m)

	l := logrus.New()
	l.SetOutput(io.Discard)

	srv := httptest.NewServer(NewRouter(h, []string{"*"}, m.Registry(), logrus.NewEntry(l)))
	t.Cleanup(srv.Close)
	return srv, state
}

func post(t *testing.T, srv *httptest.Server, path string, body interface{}) (*http.Response, map[string]interface{}) {
	t.Helper()
	data, err := json.Marshal(body)
	require.NoError(t, err)

	resp, err := http.Post(srv.URL+path, "application/json", bytes.NewReader(data))
	require.NoError(t, err)
	defer resp.Body.Close()

	var out map[string]interface{}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return resp, out
}

func get(t *testing.T, srv *httptest.Server, path string) (*http.Response, map[string]interface{}) {
	t.Helper()
	resp, err := http.Get(srv.URL + path)
	require.NoError(t, err)
	defer resp.Body.Close()

	var out map[string]interface{}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return resp, out
}

func intPtr(v int) *int { return &v }

func mlbGame(home, away int) models.Game {
	return models.Game{
		GameID:    "g1",
		SportKey:  sports.BaseballMLB,
		Status:    models.StatusFinal,
		HomeTeam:  "New York Yankees",
		AwayTeam:  "Boston Red Sox",
		HomeScore: intPtr(home),
		AwayScore: intPtr(away),
	}
}

func TestHealthCheck(t *testing.T) {
	srv, _ := newTestServer(t)
	resp, body := get(t, srv, "/health")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "healthy", body["status"])
}

func TestParse(t *testing.T) {
	srv, _ := newTestServer(t)

	resp, body := post(t, srv, "/api/v1/parse", ParseRequest{
		SportKey:        sports.BaseballMLB,
		PredictionType:  "spread",
		PredictionValue: "-1.5",
		HomeTeam:        "New York Yankees",
		AwayTeam:        "Boston Red Sox",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	pred := body["prediction"].(map[string]interface{})
	assert.Equal(t, "spread", pred["market"])
	assert.Equal(t, "home", pred["side"])
	assert.Equal(t, "-1.5", pred["line"])
	assert.NotContains(t, body, "implied_probability")
}

func TestParse_MoneylineImpliedProbability(t *testing.T) {
	srv, _ := newTestServer(t)

	resp, body := post(t, srv, "/api/v1/parse", ParseRequest{
		SportKey:        sports.BaseballMLB,
		PredictionType:  "moneyline",
		PredictionValue: "+150",
		HomeTeam:        "New York Yankees",
		AwayTeam:        "Boston Red Sox",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.InDelta(t, 0.4, body["implied_probability"].(float64), 1e-9)
}

func TestParse_Errors(t *testing.T) {
	srv, _ := newTestServer(t)

	tests := []struct {
		name   string
		req    ParseRequest
		status int
	}{
		{"unknown sport", ParseRequest{SportKey: "cricket_ipl", PredictionType: "spread", PredictionValue: "-1.5"}, http.StatusBadRequest},
		{"unsupported market", ParseRequest{SportKey: sports.BaseballMLB, PredictionType: "props", PredictionValue: "x"}, http.StatusBadRequest},
		{"malformed value", ParseRequest{SportKey: sports.BaseballMLB, PredictionType: "spread", PredictionValue: "garbage",
			HomeTeam: "New York Yankees", AwayTeam: "Boston Red Sox"}, http.StatusUnprocessableEntity},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, body := post(t, srv, "/api/v1/parse", tt.req)
			assert.Equal(t, tt.status, resp.StatusCode)
			assert.NotEmpty(t, body["error"])
		})
	}
}

func TestResolve(t *testing.T) {
	srv, _ := newTestServer(t)

	tests := []struct {
		value   models.RawValue
		market  string
		game    models.Game
		outcome string
	}{
		{"-1.5", "spread", mlbGame(5, 3), "win"},
		{"-1.5", "spread", mlbGame(4, 3), "loss"},
		{"OVER 8", "total", mlbGame(5, 3), "push"},
		{"Boston Red Sox", "moneyline", mlbGame(2, 3), "win"},
	}

	for _, tt := range tests {
		resp, body := post(t, srv, "/api/v1/resolve", ResolveRequest{
			PredictionType: tt.market, PredictionValue: tt.value, Game: tt.game,
		})
		require.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Equal(t, tt.outcome, body["outcome"], "%s %s", tt.market, tt.value)
	}

	pending := mlbGame(5, 3)
	pending.Status = models.StatusInProgress
	_, body := post(t, srv, "/api/v1/resolve", ResolveRequest{PredictionType: "spread", PredictionValue: "-1.5", Game: pending})
	assert.Equal(t, "pending", body["outcome"])
}

func TestCalibrate(t *testing.T) {
	srv, _ := newTestServer(t)

	resp, body := post(t, srv, "/api/v1/calibrate", CalibrateRequest{
		PredictionType:  "spread",
		PredictionValue: "-1.5",
		Confidence:      0.7,
		Game:            mlbGame(0, 0),
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.InDelta(t, 0.735, body["value"].(float64), 1e-9)
	assert.Equal(t, "ACCEPT", body["recommendation"])
	assert.Equal(t, true, body["accepted"])
	assert.Equal(t, -277.0, body["fair_odds"])

	_, body = post(t, srv, "/api/v1/calibrate", CalibrateRequest{
		PredictionType:  "total",
		PredictionValue: "8.5",
		Confidence:      0.9,
		Game:            mlbGame(0, 0),
	})
	assert.Equal(t, "REJECT", body["recommendation"])
	assert.Equal(t, false, body["accepted"])
	assert.NotEmpty(t, body["warning"])
}

func spreadPrediction(t *testing.T, modelID string, confidence float64) models.CalibratedPrediction {
	t.Helper()
	canon, err := models.NewSpreadPrediction(models.SideHome, decimal.RequireFromString("-1.5"))
	require.NoError(t, err)
	return models.CalibratedPrediction{
		GameID:     "g1",
		ModelID:    modelID,
		Prediction: canon,
		Confidence: models.CalibratedConfidence{Value: confidence, Recommendation: models.RecommendAccept},
	}
}

func TestEnsemble(t *testing.T) {
	srv, _ := newTestServer(t)

	resp, body := post(t, srv, "/api/v1/ensemble", EnsembleRequest{
		Predictions: []models.CalibratedPrediction{
			spreadPrediction(t, "a", 0.9),
			spreadPrediction(t, "b", 0.85),
			spreadPrediction(t, "c", 0.8),
		},
		Weights: map[string]float64{"a": 1, "b": 1, "c": 1},
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, true, body["accepted"])

	pred := body["prediction"].(map[string]interface{})
	assert.Equal(t, "ensemble:weighted", pred["model_id"])
	assert.Len(t, pred["contributors"], 3)
}

func TestEnsemble_BelowThreshold(t *testing.T) {
	srv, _ := newTestServer(t)

	resp, body := post(t, srv, "/api/v1/ensemble", EnsembleRequest{
		Predictions: []models.CalibratedPrediction{
			spreadPrediction(t, "a", 0.6),
			spreadPrediction(t, "b", 0.6),
			spreadPrediction(t, "c", 0.6),
		},
		Strategy: "majority",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, false, body["accepted"])
}

func TestEnsemble_Invalid(t *testing.T) {
	srv, _ := newTestServer(t)

	resp, _ := post(t, srv, "/api/v1/ensemble", EnsembleRequest{
		Predictions: []models.CalibratedPrediction{spreadPrediction(t, "a", 0.9)},
	})
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)

	resp, _ = post(t, srv, "/api/v1/ensemble", EnsembleRequest{Strategy: "voodoo"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestModelsAndWeights(t *testing.T) {
	srv, _ := newTestServer(t)

	resp, body := get(t, srv, "/api/v1/models")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, 1.0, body["count"])

	resp, body = get(t, srv, "/api/v1/weights")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, 1.0, body["values"].(map[string]interface{})["xgb_v2"])
}

func TestGetModelEvaluation(t *testing.T) {
	srv, state := newTestServer(t)
	state.snap["xgb_v2"].LastUpdated = time.Now()

	resp, body := get(t, srv, "/api/v1/models/xgb_v2/evaluation")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "xgb_v2", body["model_id"])
	assert.Equal(t, true, body["evaluated"])

	resp, _ = get(t, srv, "/api/v1/models/missing/evaluation")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestMetricsEndpoint(t *testing.T) {
	srv, _ := newTestServer(t)

	resp, err := http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}
