package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/nidhogg/majordomo/internal/orchestrator"
)

// WorkflowEvent is one progress notification from a running workflow.
// Consumers use these for live progress indicators; nothing in the
// workflow depends on delivery.
type WorkflowEvent struct {
	ID        string         `json:"id"`
	Event     string         `json:"event"` // "step.started", "step.finished", "workflow.paused", "workflow.finished"
	SessionID string         `json:"session_id"`
	UserID    string         `json:"user_id"`
	Payload   map[string]any `json:"payload,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

const streamPrefix = "majordomo:workflow:"

// Bus publishes workflow events onto per-session Redis streams.
type Bus struct {
	rdb    *redis.Client
	logger *zap.Logger
}

// NewBus connects the event bus to Redis.
func NewBus(redisURL string, logger *zap.Logger) (*Bus, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	rdb := redis.NewClient(opts)
	if err := rdb.Ping(context.Background()).Err(); err != nil {
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return &Bus{rdb: rdb, logger: logger}, nil
}

// Emit implements the coordinator's event sink. Failures are logged and
// swallowed so observers can never stall a workflow.
func (b *Bus) Emit(ctx context.Context, event string, user orchestrator.UserContext, payload map[string]any) {
	ev := &WorkflowEvent{
		ID:        uuid.New().String(),
		Event:     event,
		SessionID: user.SessionID,
		UserID:    user.UserID,
		Payload:   payload,
		Timestamp: time.Now(),
	}
	data, err := json.Marshal(ev)
	if err != nil {
		b.logger.Warn("marshal workflow event", zap.Error(err))
		return
	}

	stream := streamPrefix + ev.SessionID
	err = b.rdb.XAdd(ctx, &redis.XAddArgs{
		Stream: stream,
		MaxLen: 1000,
		Approx: true,
		Values: map[string]interface{}{"data": string(data)},
	}).Err()
	if err != nil {
		b.logger.Warn("publish workflow event",
			zap.String("stream", stream), zap.Error(err))
		return
	}

	b.logger.Debug("published workflow event",
		zap.String("event", ev.Event),
		zap.String("session", ev.SessionID))
}

// Subscribe listens for a session's workflow events. Returns a channel
// that emits events until the context is cancelled.
func (b *Bus) Subscribe(ctx context.Context, sessionID string) <-chan *WorkflowEvent {
	ch := make(chan *WorkflowEvent, 16)
	stream := streamPrefix + sessionID

	go func() {
		defer close(ch)
		lastID := "$"

		for {
			select {
			case <-ctx.Done():
				return
			default:
			}

			results, err := b.rdb.XRead(ctx, &redis.XReadArgs{
				Streams: []string{stream, lastID},
				Count:   10,
				Block:   time.Second * 2,
			}).Result()

			if err != nil {
				if err == context.Canceled || err == context.DeadlineExceeded {
					return
				}
				continue
			}

			for _, r := range results {
				for _, msg := range r.Messages {
					lastID = msg.ID
					data, ok := msg.Values["data"].(string)
					if !ok {
						continue
					}
					var ev WorkflowEvent
					if json.Unmarshal([]byte(data), &ev) == nil {
						ch <- &ev
					}
				}
			}
		}
	}()

	return ch
}

// Close shuts down the Redis connection.
func (b *Bus) Close() error {
	return b.rdb.Close()
}
