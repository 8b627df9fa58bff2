// Package eventsource feeds the dispatcher from the external producer
// stream. Producers publish IntelligenceEvent JSON on a redis pub/sub
// channel; this service subscribes and pipes decoded events into the
// dispatcher.
package eventsource

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/leadstream/leadstream/internal/domain"
	"github.com/leadstream/leadstream/internal/metrics"
)

// NewClient creates a redis client from a URL (e.g. "redis://localhost:6379")
// and verifies the connection.
func NewClient(ctx context.Context, redisURL string) (*redis.Client, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis URL: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to ping redis: %w", err)
	}
	return client, nil
}

// Source subscribes to the event channel and forwards decoded events.
type Source struct {
	client  *redis.Client
	channel string
	sink    domain.EventSink
}

func NewSource(client *redis.Client, channel string, sink domain.EventSink) *Source {
	return &Source{client: client, channel: channel, sink: sink}
}

// Run listens for producer events until ctx is cancelled. Malformed
// frames are logged and skipped; they never stop the stream.
func (s *Source) Run(ctx context.Context) {
	pubsub := s.client.Subscribe(ctx, s.channel)
	defer func() { _ = pubsub.Close() }()

	slog.Info("Event source subscribed", "channel", s.channel)

	ch := pubsub.Channel()
	for {
		select {
		case msg := <-ch:
			if msg == nil {
				return
			}
			s.handleFrame(msg.Payload)
		case <-ctx.Done():
			return
		}
	}
}

func (s *Source) handleFrame(payload string) {
	var event domain.IntelligenceEvent
	if err := json.Unmarshal([]byte(payload), &event); err != nil {
		metrics.EventSourceMessagesTotal.WithLabelValues("malformed").Inc()
		slog.Warn("Dropping malformed producer event", "error", err)
		return
	}
	if event.TenantID == "" || event.EventType == "" {
		metrics.EventSourceMessagesTotal.WithLabelValues("incomplete").Inc()
		slog.Warn("Dropping producer event without tenant or type")
		return
	}
	if event.EventID == uuid.Nil {
		event.EventID = uuid.New()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}

	metrics.EventSourceMessagesTotal.WithLabelValues("ok").Inc()
	s.sink.Dispatch(&event)
}

// Publisher pushes events onto the channel. Used by producers and tests.
type Publisher struct {
	client  *redis.Client
	channel string
}

func NewPublisher(client *redis.Client, channel string) *Publisher {
	return &Publisher{client: client, channel: channel}
}

func (p *Publisher) Publish(ctx context.Context, event *domain.IntelligenceEvent) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}
	if err := p.client.Publish(ctx, p.channel, payload).Err(); err != nil {
		return fmt.Errorf("failed to publish event: %w", err)
	}
	return nil
}
