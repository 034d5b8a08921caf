package ensemble

import (
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/XavierBriggs/fortuna/services/prediction-engine/pkg/models"
)

// WeightConfig mixes the three per-model scores. The mix should sum to 1.
type WeightConfig struct {
	Performance float64 `mapstructure:"performance" json:"performance"`
	Calibration float64 `mapstructure:"calibration" json:"calibration"`
	Recency     float64 `mapstructure:"recency" json:"recency"`

	// Models with fewer predictions have their accuracy discounted linearly
	SampleSaturation int `mapstructure:"sample_saturation" json:"sample_saturation"`
	// recency = exp(-daysSinceUpdate / RecencyDays)
	RecencyDays float64 `mapstructure:"recency_days" json:"recency_days"`

	// Priors are raw scores for models without data; unset means an equal split
	Priors map[string]float64 `mapstructure:"priors" json:"priors,omitempty"`
}

// DefaultWeightConfig returns the default score mix
func DefaultWeightConfig() WeightConfig {
	return WeightConfig{
		Performance:      0.5,
		Calibration:      0.3,
		Recency:          0.2,
		SampleSaturation: 100,
		RecencyDays:      30,
	}
}

// Validate checks the mix sums to 1
func (c WeightConfig) Validate() error {
	if c.Performance < 0 || c.Calibration < 0 || c.Recency < 0 {
		return fmt.Errorf("weight mix must be non-negative")
	}
	if sum := c.Performance + c.Calibration + c.Recency; math.Abs(sum-1) > 1e-6 {
		return fmt.Errorf("weight mix must sum to 1, got %v", sum)
	}
	if c.SampleSaturation <= 0 || c.RecencyDays <= 0 {
		return fmt.Errorf("sample saturation and recency days must be positive")
	}
	return nil
}

// ModelScore is the unnormalized score of one model
type ModelScore struct {
	Performance float64 `json:"performance"`
	Calibration float64 `json:"calibration"`
	Recency     float64 `json:"recency"`
	Total       float64 `json:"total"`
}

// Score computes the raw weight score of a model with data
func Score(rec *models.ModelPerformanceRecord, cfg WeightConfig, now time.Time) ModelScore {
	var s ModelScore

	sampleFactor := math.Min(1, float64(rec.TotalPredictions)/float64(cfg.SampleSaturation))
	s.Performance = rec.Accuracy * sampleFactor

	if mae, ok := rec.CalibrationError(); ok {
		s.Calibration = math.Max(0, 1-mae)
	}

	days := now.Sub(rec.LastUpdated).Hours() / 24
	if days < 0 {
		days = 0
	}
	s.Recency = math.Exp(-days / cfg.RecencyDays)

	s.Total = s.Performance*cfg.Performance + s.Calibration*cfg.Calibration + s.Recency*cfg.Recency
	return s
}

// ComputeWeights scores every model in modelIDs and normalizes to 1. Models with
// no graded predictions get their configured prior, or the mean score of the
// models that do have data, and are listed in Stale.
func ComputeWeights(records map[string]*models.ModelPerformanceRecord, modelIDs []string, cfg WeightConfig, now time.Time) models.EnsembleWeights {
	ids := uniqueSorted(modelIDs)
	out := models.EnsembleWeights{
		Values:     make(map[string]float64, len(ids)),
		ComputedAt: now,
	}
	if len(ids) == 0 {
		return out
	}

	raw := make(map[string]float64, len(ids))
	var scoredSum float64
	var scored int
	for _, id := range ids {
		rec := records[id]
		if rec == nil || rec.TotalPredictions == 0 {
			out.Stale = append(out.Stale, id)
			continue
		}
		raw[id] = Score(rec, cfg, now).Total
		scoredSum += raw[id]
		scored++
	}

	prior := 1.0
	if scored > 0 {
		prior = scoredSum / float64(scored)
	}
	for _, id := range out.Stale {
		if p, ok := cfg.Priors[id]; ok && p >= 0 {
			raw[id] = p
		} else {
			raw[id] = prior
		}
	}

	var total float64
	for _, v := range raw {
		total += v
	}
	for _, id := range ids {
		if total <= 0 {
			out.Values[id] = 1 / float64(len(ids))
			continue
		}
		out.Values[id] = raw[id] / total
	}
	return out
}

func uniqueSorted(ids []string) []string {
	seen := make(map[string]bool, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}
