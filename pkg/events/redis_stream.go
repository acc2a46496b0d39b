package events

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

const defaultStreamMaxLen = 10000

// RedisStreamConfig configures the Redis Streams transport.
type RedisStreamConfig struct {
	Addr     string
	Password string
	Stream   string
	MaxLen   int64
}

// RedisStream publishes events to a Redis stream and reads them back through
// consumer groups. It serves deployments without a RabbitMQ broker.
type RedisStream struct {
	client *redis.Client
	stream string
	maxLen int64
}

func NewRedisStream(cfg RedisStreamConfig) (*RedisStream, error) {
	addr := strings.TrimSpace(cfg.Addr)
	if addr == "" {
		return nil, errors.New("redis addr required")
	}
	stream := strings.TrimSpace(cfg.Stream)
	if stream == "" {
		stream = "library:events"
	}
	maxLen := cfg.MaxLen
	if maxLen <= 0 {
		maxLen = defaultStreamMaxLen
	}
	return &RedisStream{
		client: redis.NewClient(&redis.Options{Addr: addr, Password: cfg.Password}),
		stream: stream,
		maxLen: maxLen,
	}, nil
}

// Publish appends evt to the stream, trimming old entries approximately.
func (s *RedisStream) Publish(ctx context.Context, evt Event) error {
	body, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}
	return s.client.XAdd(ctx, &redis.XAddArgs{
		Stream: s.stream,
		MaxLen: s.maxLen,
		Approx: true,
		Values: map[string]any{
			"type":  evt.Type,
			"event": string(body),
		},
	}).Err()
}

func (s *RedisStream) Close() error {
	return s.client.Close()
}

// Handler processes one event. A nil error acknowledges it.
type Handler func(context.Context, Event) error

// Poll reads up to count new entries for the consumer group without blocking
// and returns how many were acknowledged.
func (s *RedisStream) Poll(ctx context.Context, group, consumer string, count int64, handler Handler) (int, error) {
	return s.read(ctx, group, consumer, count, -1, handler)
}

// Consume reads the stream until ctx is cancelled.
func (s *RedisStream) Consume(ctx context.Context, group, consumer string, handler Handler) error {
	for {
		if ctx.Err() != nil {
			return nil
		}
		if _, err := s.read(ctx, group, consumer, 16, 5*time.Second, handler); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			slog.Warn("event stream read failed", "stream", s.stream, "err", err)
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(time.Second):
			}
		}
	}
}

func (s *RedisStream) read(ctx context.Context, group, consumer string, count int64, block time.Duration, handler Handler) (int, error) {
	if err := s.ensureGroup(ctx, group); err != nil {
		return 0, err
	}
	streams, err := s.client.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    group,
		Consumer: consumer,
		Streams:  []string{s.stream, ">"},
		Count:    count,
		Block:    block,
	}).Result()
	if err == redis.Nil {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	acked := 0
	for _, stream := range streams {
		for _, msg := range stream.Messages {
			raw, _ := msg.Values["event"].(string)
			var evt Event
			if err := json.Unmarshal([]byte(raw), &evt); err != nil {
				slog.Warn("dropping malformed event", "stream", s.stream, "id", msg.ID, "err", err)
				_ = s.client.XAck(ctx, s.stream, group, msg.ID).Err()
				continue
			}
			if err := handler(ctx, evt); err != nil {
				slog.Warn("event handler failed", "type", evt.Type, "id", evt.ID, "err", err)
				continue
			}
			if err := s.client.XAck(ctx, s.stream, group, msg.ID).Err(); err != nil {
				return acked, err
			}
			acked++
		}
	}
	return acked, nil
}

func (s *RedisStream) ensureGroup(ctx context.Context, group string) error {
	err := s.client.XGroupCreateMkStream(ctx, s.stream, group, "0").Err()
	if err != nil && !strings.Contains(err.Error(), "BUSYGROUP") {
		return err
	}
	return nil
}
