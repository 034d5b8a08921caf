package consumer

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/XavierBriggs/fortuna/services/prediction-engine/internal/config"
	"github.com/XavierBriggs/fortuna/services/prediction-engine/internal/grader"
	"github.com/XavierBriggs/fortuna/services/prediction-engine/internal/metrics"
	"github.com/XavierBriggs/fortuna/services/prediction-engine/pkg/models"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

const (
	defaultBatchSize = 100
	defaultBlock     = 1 * time.Second
)

// GameHandler grades a game announced on the update stream
type GameHandler interface {
	HandleGameUpdate(ctx context.Context, gameID string) (grader.GradeResult, error)
}

// gameUpdate is the part of a games.updates message the engine reads
type gameUpdate struct {
	GameID   string            `json:"game_id"`
	SportKey string            `json:"sport_key"`
	Status   models.GameStatus `json:"status"`
}

// StreamConsumer consumes game updates from Redis Streams and grades final games
type StreamConsumer struct {
	redis        *redis.Client
	handler      GameHandler
	streamConfig config.StreamConfig
	metrics      *metrics.Metrics
	log          *logrus.Entry
}

// NewStreamConsumer creates a new stream consumer
func NewStreamConsumer(redisClient *redis.Client, handler GameHandler, streamConfig config.StreamConfig, m *metrics.Metrics, log *logrus.Entry) *StreamConsumer {
	if streamConfig.BatchSize <= 0 {
		streamConfig.BatchSize = defaultBatchSize
	}
	if streamConfig.Block <= 0 {
		streamConfig.Block = defaultBlock
	}
	return &StreamConsumer{
		redis:        redisClient,
		handler:      handler,
		streamConfig: streamConfig,
		metrics:      m,
		log:          log,
	}
}

// Start consumes every configured stream until ctx is cancelled
func (sc *StreamConsumer) Start(ctx context.Context) error {
	streams := sc.streamConfig.GameUpdatesStreams
	if len(streams) == 0 {
		return fmt.Errorf("no game update streams configured")
	}

	sc.log.WithField("streams", streams).Info("Stream consumer started")

	for _, stream := range streams {
		sc.createConsumerGroup(ctx, stream)
	}

	var wg sync.WaitGroup
	for _, stream := range streams {
		wg.Add(1)
		go func(stream string) {
			defer wg.Done()
			sc.consumeStream(ctx, stream)
		}(stream)
	}

	wg.Wait()
	return nil
}

// createConsumerGroup creates a consumer group for a stream
func (sc *StreamConsumer) createConsumerGroup(ctx context.Context, stream string) {
	err := sc.redis.XGroupCreateMkStream(ctx, stream, sc.streamConfig.ConsumerGroup, "0").Err()
	if err != nil && !strings.HasPrefix(err.Error(), "BUSYGROUP") {
		sc.log.WithError(err).WithField("stream", stream).Warn("Failed to create consumer group")
	}
}

// consumeStream reads one stream in batches
func (sc *StreamConsumer) consumeStream(ctx context.Context, stream string) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		streams, err := sc.redis.XReadGroup(ctx, &redis.XReadGroupArgs{
			Group:    sc.streamConfig.ConsumerGroup,
			Consumer: sc.streamConfig.ConsumerID,
			Streams:  []string{stream, ">"},
			Count:    sc.streamConfig.BatchSize,
			Block:    sc.streamConfig.Block,
		}).Result()

		if err != nil {
			if err == redis.Nil || ctx.Err() != nil {
				continue
			}
			sc.log.WithError(err).WithField("stream", stream).Warn("Stream read error")
			select {
			case <-ctx.Done():
			case <-time.After(time.Second):
			}
			continue
		}

		for _, s := range streams {
			for _, message := range s.Messages {
				sc.processMessage(ctx, s.Stream, message)
			}
		}
	}
}

// processMessage grades the game of a final update and acknowledges the message
func (sc *StreamConsumer) processMessage(ctx context.Context, stream string, msg redis.XMessage) {
	defer sc.ackMessage(ctx, stream, msg.ID)

	if kind, _ := msg.Values["type"].(string); kind == "boxscore" {
		sc.metrics.RecordStreamMessage(stream, "skipped")
		return
	}

	dataStr, ok := msg.Values["data"].(string)
	if !ok {
		sc.log.WithField("stream", stream).Warn("Invalid message format")
		sc.metrics.RecordStreamMessage(stream, "invalid")
		return
	}

	var update gameUpdate
	if err := json.Unmarshal([]byte(dataStr), &update); err != nil || update.GameID == "" {
		sc.log.WithField("stream", stream).Warn("Failed to parse game update")
		sc.metrics.RecordStreamMessage(stream, "invalid")
		return
	}

	if update.Status != models.StatusFinal {
		sc.metrics.RecordStreamMessage(stream, "skipped")
		return
	}

	result, err := sc.handler.HandleGameUpdate(ctx, update.GameID)
	if err != nil {
		sc.log.WithError(err).WithField("game_id", update.GameID).Error("Failed to grade game")
		sc.metrics.RecordStreamMessage(stream, "error")
		return
	}

	sc.metrics.RecordStreamMessage(stream, "graded")
	if result.Graded > 0 {
		sc.log.WithFields(logrus.Fields{
			"game_id": update.GameID,
			"graded":  result.Graded,
		}).Info("Graded final game")
	}
}

// ackMessage acknowledges a message in the stream
func (sc *StreamConsumer) ackMessage(ctx context.Context, stream string, messageID string) {
	if err := sc.redis.XAck(ctx, stream, sc.streamConfig.ConsumerGroup, messageID).Err(); err != nil {
		sc.log.WithError(err).WithFields(logrus.Fields{
			"stream":     stream,
			"message_id": messageID,
		}).Warn("Failed to ack message")
	}
}
