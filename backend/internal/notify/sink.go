// Package notify publishes fire-and-forget pipeline events.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"projectbrain/backend/pkg/logger"
)

// Event types
const (
	EventMessageIngested  = "message.ingested"
	EventMessageDuplicate = "message.duplicate"
	EventQuestionResolved = "question.resolved"
	EventGraphCleanup     = "graph.orphans_cleaned"
	EventProcessingStatus = "processing.status"
)

// Event is one notification
type Event struct {
	Type      string                 `json:"type"`
	ProjectID string                 `json:"project_id,omitempty"`
	MessageID string                 `json:"message_id,omitempty"`
	At        time.Time              `json:"at"`
	Data      map[string]interface{} `json:"data,omitempty"`
}

// NewEvent stamps an event with the current time
func NewEvent(eventType, projectID, messageID string, data map[string]interface{}) Event {
	return Event{Type: eventType, ProjectID: projectID, MessageID: messageID, At: time.Now().UTC(), Data: data}
}

// Sink receives events. Notify never fails the caller; delivery problems
// are the sink's to log.
type Sink interface {
	Notify(ctx context.Context, e Event)
}

// ============================================================================
// Log Sink
// ============================================================================

// LogSink writes events to the structured log
type LogSink struct {
	logger *zap.Logger
}

// NewLogSink creates a log sink. l may be nil for the global logger.
func NewLogSink(l *zap.Logger) *LogSink {
	if l == nil {
		l = logger.Named("notify")
	}
	return &LogSink{logger: l}
}

func (s *LogSink) Notify(_ context.Context, e Event) {
	fields := []zap.Field{
		zap.String("event", e.Type),
		zap.Time("at", e.At),
	}
	if e.ProjectID != "" {
		fields = append(fields, zap.String("project_id", e.ProjectID))
	}
	if e.MessageID != "" {
		fields = append(fields, zap.String("message_id", e.MessageID))
	}
	if len(e.Data) > 0 {
		fields = append(fields, zap.Any("data", e.Data))
	}
	s.logger.Info("Pipeline event", fields...)
}

// ============================================================================
// Redis Sink
// ============================================================================

// DefaultChannel is used when no channel is configured
const DefaultChannel = "projectbrain.events"

// RedisSink publishes events as JSON on a Redis pub/sub channel
type RedisSink struct {
	rdb     *goredis.Client
	channel string
	timeout time.Duration
	logger  *zap.Logger
}

// NewRedisSink connects to addr and verifies the connection
func NewRedisSink(ctx context.Context, addr, channel string) (*RedisSink, error) {
	if addr == "" {
		return nil, fmt.Errorf("missing redis address")
	}
	rdb := goredis.NewClient(&goredis.Options{
		Addr:        addr,
		DialTimeout: 5 * time.Second,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return NewRedisSinkWithClient(rdb, channel), nil
}

// NewRedisSinkWithClient wraps an existing client
func NewRedisSinkWithClient(rdb *goredis.Client, channel string) *RedisSink {
	if channel == "" {
		channel = DefaultChannel
	}
	return &RedisSink{
		rdb:     rdb,
		channel: channel,
		timeout: 2 * time.Second,
		logger:  logger.Named("notify.redis"),
	}
}

// Channel is the pub/sub channel events go to
func (s *RedisSink) Channel() string {
	return s.channel
}

func (s *RedisSink) Notify(ctx context.Context, e Event) {
	if err := s.Publish(ctx, e); err != nil {
		s.logger.Warn("Failed to publish event",
			zap.String("event", e.Type),
			zap.String("channel", s.channel),
			zap.Error(err))
	}
}

// Publish sends one event and reports the outcome
func (s *RedisSink) Publish(ctx context.Context, e Event) error {
	raw, err := json.Marshal(e)
	if err != nil {
		return err
	}
	// Detached from the caller's cancellation, bounded by the sink timeout
	pubCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.timeout)
	defer cancel()
	return s.rdb.Publish(pubCtx, s.channel, raw).Err()
}

// Subscribe forwards events from the channel to onEvent until ctx ends
func (s *RedisSink) Subscribe(ctx context.Context, onEvent func(Event)) error {
	sub := s.rdb.Subscribe(ctx, s.channel)
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return fmt.Errorf("redis subscribe: %w", err)
	}

	go func() {
		defer sub.Close()
		ch := sub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case m, ok := <-ch:
				if !ok || m == nil {
					return
				}
				var e Event
				if err := json.Unmarshal([]byte(m.Payload), &e); err != nil {
					s.logger.Warn("Bad event payload", zap.Error(err))
					continue
				}
				onEvent(e)
			}
		}
	}()
	return nil
}

func (s *RedisSink) Close() error {
	return s.rdb.Close()
}

// ============================================================================
// Fan-out
// ============================================================================

// Multi delivers every event to each sink in order
type Multi []Sink

func (m Multi) Notify(ctx context.Context, e Event) {
	for _, s := range m {
		if s != nil {
			s.Notify(ctx, e)
		}
	}
}

// Discard drops every event
type Discard struct{}

func (Discard) Notify(context.Context, Event) {}

// Recorder keeps events in memory
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *Recorder) Notify(_ context.Context, e Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

// Events returns a copy of what was recorded
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}

// Types lists the recorded event types in order
func (r *Recorder) Types() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.events))
	for i, e := range r.events {
		out[i] = e.Type
	}
	return out
}
