package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/mw10013/orgagent/internal/config"
	"github.com/redis/go-redis/v9"
)

// Stream is the notification transport over a Redis stream with a consumer
// group. Unacknowledged messages stay pending and are reclaimed after
// ClaimMinIdle, which implements retry; a message whose delivery count
// reaches MaxAttempts is acknowledged and dropped as poison.
type Stream struct {
	client       *redis.Client
	stream       string
	group        string
	consumer     string
	batchSize    int
	block        time.Duration
	claimMinIdle time.Duration
	maxAttempts  int
}

// NewStream connects to Redis and returns the transport.
func NewStream(redisURL string, cfg config.QueueConfig) (*Stream, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis URL: %w", err)
	}
	return &Stream{
		client:       redis.NewClient(opts),
		stream:       cfg.Stream,
		group:        cfg.Group,
		consumer:     cfg.Consumer,
		batchSize:    cfg.BatchSize,
		block:        cfg.Block,
		claimMinIdle: cfg.ClaimMinIdle,
		maxAttempts:  cfg.MaxAttempts,
	}, nil
}

func (s *Stream) Close() error {
	return s.client.Close()
}

// Enqueue publishes one notification. Used by the intake endpoints outside
// production, where no storage-side bucket notification feeds the stream.
func (s *Stream) Enqueue(ctx context.Context, n Notification) error {
	body, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("marshal notification: %w", err)
	}
	err = s.client.XAdd(ctx, &redis.XAddArgs{
		Stream: s.stream,
		Values: map[string]any{"body": body},
	}).Err()
	if err != nil {
		return fmt.Errorf("enqueue notification: %w", err)
	}
	return nil
}

// Run drains the stream until ctx is cancelled, handing each message to
// handler and acknowledging per the returned outcome.
func (s *Stream) Run(ctx context.Context, handler Handler) error {
	if err := s.ensureGroup(ctx); err != nil {
		return err
	}
	slog.Info("queue consumer started",
		"stream", s.stream, "group", s.group, "consumer", s.consumer)

	for {
		if err := ctx.Err(); err != nil {
			return nil
		}

		s.claimStale(ctx, handler)

		streams, err := s.client.XReadGroup(ctx, &redis.XReadGroupArgs{
			Group:    s.group,
			Consumer: s.consumer,
			Streams:  []string{s.stream, ">"},
			Count:    int64(s.batchSize),
			Block:    s.block,
		}).Result()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			slog.Error("read notification batch", "stream", s.stream, "error", err)
			time.Sleep(time.Second)
			continue
		}

		for _, str := range streams {
			for _, msg := range str.Messages {
				s.dispatch(ctx, handler, msg, 1)
			}
		}
	}
}

func (s *Stream) ensureGroup(ctx context.Context) error {
	err := s.client.XGroupCreateMkStream(ctx, s.stream, s.group, "$").Err()
	if err != nil && !strings.Contains(err.Error(), "BUSYGROUP") {
		return fmt.Errorf("create consumer group: %w", err)
	}
	return nil
}

// claimStale takes over messages another consumer claimed but never
// acknowledged, and drops messages that exhausted their attempts.
func (s *Stream) claimStale(ctx context.Context, handler Handler) {
	entries, err := s.client.XPendingExt(ctx, &redis.XPendingExtArgs{
		Stream: s.stream,
		Group:  s.group,
		Idle:   s.claimMinIdle,
		Start:  "-",
		End:    "+",
		Count:  int64(s.batchSize),
	}).Result()
	if err != nil {
		if ctx.Err() == nil && !errors.Is(err, redis.Nil) {
			slog.Error("list pending notifications", "stream", s.stream, "error", err)
		}
		return
	}

	for _, entry := range entries {
		if int(entry.RetryCount) >= s.maxAttempts {
			slog.Error("dropping notification after max attempts",
				"message_id", entry.ID, "attempts", entry.RetryCount)
			s.ack(ctx, entry.ID)
			continue
		}

		msgs, err := s.client.XClaim(ctx, &redis.XClaimArgs{
			Stream:   s.stream,
			Group:    s.group,
			Consumer: s.consumer,
			MinIdle:  s.claimMinIdle,
			Messages: []string{entry.ID},
		}).Result()
		if err != nil {
			if !errors.Is(err, redis.Nil) {
				slog.Error("claim pending notification", "message_id", entry.ID, "error", err)
			}
			continue
		}
		for _, msg := range msgs {
			s.dispatch(ctx, handler, msg, int(entry.RetryCount)+1)
		}
	}
}

func (s *Stream) dispatch(ctx context.Context, handler Handler, msg redis.XMessage, attempt int) {
	body, _ := msg.Values["body"].(string)

	outcome := handler.Handle(ctx, Message{ID: msg.ID, Body: []byte(body), Attempt: attempt})
	switch outcome {
	case Ack:
		s.ack(ctx, msg.ID)
	case Retry:
		// Leave the message pending; it is reclaimed after ClaimMinIdle.
		slog.Warn("notification left for retry", "message_id", msg.ID, "attempt", attempt)
	}
}

func (s *Stream) ack(ctx context.Context, id string) {
	if err := s.client.XAck(ctx, s.stream, s.group, id).Err(); err != nil && ctx.Err() == nil {
		slog.Error("acknowledge notification", "message_id", id, "error", err)
	}
}
