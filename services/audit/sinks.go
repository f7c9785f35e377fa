package audit

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/campusiq/opsgovernor/models"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// LogSink writes a one-line summary of each ActionLog
type LogSink struct {
	logger *zap.Logger
}

// NewLogSink creates a sink writing to logger
func NewLogSink(logger *zap.Logger) *LogSink {
	return &LogSink{logger: logger}
}

// Name returns the sink name
func (s *LogSink) Name() string { return "log" }

// Publish logs the summary of log
func (s *LogSink) Publish(ctx context.Context, log *models.ActionLog) error {
	sum := log.Summary()
	fields := []zap.Field{
		zap.String("action_log_id", sum.ID.String()),
		zap.String("actor", sum.Actor),
		zap.String("entity", sum.Entity),
		zap.String("operation", string(sum.Operation)),
		zap.String("outcome", string(sum.Outcome)),
		zap.Int64("affected_count", sum.AffectedCount),
	}
	if sum.RiskLevel != "" {
		fields = append(fields, zap.String("risk_level", string(sum.RiskLevel)))
	}
	if sum.RollsBack != nil {
		fields = append(fields, zap.String("rolls_back", sum.RollsBack.String()))
	}
	s.logger.Info("action recorded", fields...)
	return nil
}

// RedisPublisher is the subset of *redis.Client used by RedisSink
type RedisPublisher interface {
	Publish(ctx context.Context, channel string, message interface{}) *redis.IntCmd
}

// RedisSink publishes ActionLog summaries on a pub/sub channel. Snapshots are
// not published; subscribers fetch the full entry from the audit API.
type RedisSink struct {
	client  RedisPublisher
	channel string
}

// NewRedisSink creates a sink publishing to channel
func NewRedisSink(client RedisPublisher, channel string) *RedisSink {
	return &RedisSink{client: client, channel: channel}
}

// Name returns the sink name
func (s *RedisSink) Name() string { return "redis" }

// Publish sends the JSON summary of log
func (s *RedisSink) Publish(ctx context.Context, log *models.ActionLog) error {
	data, err := json.Marshal(log.Summary())
	if err != nil {
		return fmt.Errorf("marshal action log summary: %w", err)
	}
	if err := s.client.Publish(ctx, s.channel, string(data)).Err(); err != nil {
		return fmt.Errorf("publish to %s: %w", s.channel, err)
	}
	return nil
}

// NewRedisClient parses url and verifies the connection
func NewRedisClient(ctx context.Context, url string, logger *zap.Logger) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	logger.Info("redis connected", zap.String("addr", opts.Addr))
	return client, nil
}
