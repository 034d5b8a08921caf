package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/XavierBriggs/fortuna/services/prediction-engine/pkg/models"
	"github.com/redis/go-redis/v9"
)

// RedisCache shares engine state between instances: the latest ensemble weights,
// graded-score dedup keys and the retraining flags of the last validation run.
type RedisCache struct {
	client    *redis.Client
	prefix    string
	weightTTL time.Duration
	dedupTTL  time.Duration
}

// NewRedisCache creates a new Redis cache
func NewRedisCache(client *redis.Client, prefix string, weightTTL, dedupTTL time.Duration) *RedisCache {
	if prefix == "" {
		prefix = "prediction-engine"
	}
	return &RedisCache{
		client:    client,
		prefix:    prefix,
		weightTTL: weightTTL,
		dedupTTL:  dedupTTL,
	}
}

func (c *RedisCache) key(parts ...string) string {
	k := c.prefix
	for _, p := range parts {
		k += ":" + p
	}
	return k
}

// SaveWeights publishes a weight snapshot
func (c *RedisCache) SaveWeights(ctx context.Context, w models.EnsembleWeights) error {
	data, err := json.Marshal(w)
	if err != nil {
		return fmt.Errorf("marshaling weights: %w", err)
	}

	if err := c.client.Set(ctx, c.key("weights"), data, c.weightTTL).Err(); err != nil {
		return fmt.Errorf("failed to save weights: %w", err)
	}
	return nil
}

// LoadWeights returns the last published snapshot, nil when there is none
func (c *RedisCache) LoadWeights(ctx context.Context) (*models.EnsembleWeights, error) {
	data, err := c.client.Get(ctx, c.key("weights")).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load weights: %w", err)
	}

	var w models.EnsembleWeights
	if err := json.Unmarshal(data, &w); err != nil {
		return nil, fmt.Errorf("parsing weights: %w", err)
	}
	return &w, nil
}

// MarkGraded returns true the first time a game is seen with this final score.
// A corrected score produces a new key, so the game is graded again.
func (c *RedisCache) MarkGraded(ctx context.Context, gameID string, score models.FinalScore) (bool, error) {
	key := c.key("graded", gameID, fmt.Sprintf("%d-%d", score.Home, score.Away))

	ok, err := c.client.SetNX(ctx, key, "1", c.dedupTTL).Result()
	if err != nil {
		return false, fmt.Errorf("failed to set dedup key: %w", err)
	}
	return ok, nil
}

// SaveEvaluations replaces the set of models flagged for retraining
func (c *RedisCache) SaveEvaluations(ctx context.Context, evals []models.ModelEvaluation) error {
	key := c.key("retraining")

	flagged := make([]interface{}, 0, len(evals))
	for _, e := range evals {
		if e.NeedsRetraining {
			flagged = append(flagged, e.ModelID)
		}
	}

	pipe := c.client.TxPipeline()
	pipe.Del(ctx, key)
	if len(flagged) > 0 {
		pipe.SAdd(ctx, key, flagged...)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to save retraining flags: %w", err)
	}
	return nil
}

// FlaggedModels returns the models flagged by the last validation run
func (c *RedisCache) FlaggedModels(ctx context.Context) ([]string, error) {
	ids, err := c.client.SMembers(ctx, c.key("retraining")).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read retraining flags: %w", err)
	}
	return ids, nil
}
