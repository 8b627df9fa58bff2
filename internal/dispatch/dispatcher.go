// Package dispatch routes intelligence events from the producer stream to
// matching subscriptions. Pure routing: no business computation happens
// here.
package dispatch

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"github.com/leadstream/leadstream/internal/domain"
	"github.com/leadstream/leadstream/internal/metrics"
	"github.com/leadstream/leadstream/internal/registry"
)

// connectionSender is the slice of the gateway the dispatcher needs:
// queue a frame, and tear a connection down when its transport is dead.
type connectionSender interface {
	Send(connectionID uuid.UUID, payload []byte) bool
	Disconnect(connectionID uuid.UUID, code int, reason string)
}

type candidateSource interface {
	Candidates(event *domain.IntelligenceEvent) []registry.Candidate
}

type observer interface {
	RecordEvent(processingTimeMs float64, cacheHit bool)
	RecordFanout(d time.Duration)
}

// Dispatcher consumes the external event stream on a single goroutine,
// which is what preserves per-subscription arrival order: events for one
// tenant are matched and enqueued in the order they arrive.
type Dispatcher struct {
	sender   connectionSender
	subs     candidateSource
	observer observer
	clock    clockwork.Clock
	events   chan *domain.IntelligenceEvent
	done     chan struct{}
}

const eventBufferSize = 256

func New(sender connectionSender, subs candidateSource, observer observer, clock clockwork.Clock) *Dispatcher {
	return &Dispatcher{
		sender:   sender,
		subs:     subs,
		observer: observer,
		clock:    clock,
		events:   make(chan *domain.IntelligenceEvent, eventBufferSize),
		done:     make(chan struct{}),
	}
}

// Dispatch hands one event to the dispatch loop. Blocks only if the event
// buffer is full, which backpressures the producer feed rather than any
// connection.
func (d *Dispatcher) Dispatch(event *domain.IntelligenceEvent) {
	select {
	case d.events <- event:
	case <-d.done:
	}
}

// Run consumes events until ctx is cancelled. A fault dispatching one
// event is recovered and logged; it never aborts delivery of subsequent
// events.
func (d *Dispatcher) Run(ctx context.Context) {
	defer close(d.done)
	for {
		select {
		case event := <-d.events:
			d.dispatchOne(event)
		case <-ctx.Done():
			return
		}
	}
}

func (d *Dispatcher) dispatchOne(event *domain.IntelligenceEvent) {
	defer func() {
		if r := recover(); r != nil {
			metrics.DispatcherPanicsTotal.Inc()
			slog.Error("Dispatch panic recovered",
				"event_id", event.EventID.String(), "panic", r)
		}
	}()

	start := d.clock.Now()

	metrics.EventsDispatchedTotal.WithLabelValues(string(event.EventType)).Inc()
	if event.CacheHit {
		metrics.EventCacheHitsTotal.WithLabelValues("hit").Inc()
	} else {
		metrics.EventCacheHitsTotal.WithLabelValues("miss").Inc()
	}
	d.observer.RecordEvent(event.ProcessingTimeMs, event.CacheHit)

	// Snapshot candidates under the registry lock, deliver outside it.
	candidates := d.subs.Candidates(event)
	if len(candidates) == 0 {
		return
	}

	payload, err := json.Marshal(domain.NewEventEnvelope(event))
	if err != nil {
		slog.Error("Failed to marshal event envelope",
			"event_id", event.EventID.String(), "error", err)
		return
	}

	delivered := 0
	for _, candidate := range candidates {
		if d.sender.Send(candidate.ConnectionID, payload) {
			delivered++
			metrics.DeliveriesTotal.WithLabelValues("sent").Inc()
			continue
		}
		// Dead transport: no retry. Scheduling the disconnect lets the
		// registries self-heal instead of accumulating dead subscriptions.
		metrics.DeliveriesTotal.WithLabelValues("dead").Inc()
		connectionID := candidate.ConnectionID
		go d.sender.Disconnect(connectionID, domain.CloseNormal, "delivery failed")
	}

	if delivered > 0 {
		latency := d.clock.Since(start)
		d.observer.RecordFanout(latency)
		metrics.FanoutDuration.Observe(latency.Seconds())
	}

	slog.Debug("Event dispatched",
		"event_id", event.EventID.String(),
		"tenant_id", event.TenantID,
		"topic", string(event.EventType),
		"candidates", len(candidates),
		"delivered", delivered,
	)
}
