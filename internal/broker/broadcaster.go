// Package broker fans task progress events out to live client subscriptions.
// Delivery is best-effort and at-most-once per connection: a slow or dropped
// subscriber loses events rather than ever blocking task processing.
package broker

import (
	"encoding/json"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bl1nk/agent-worker/internal/platform/metrics"
)

// Event types carried on the stream. A stream terminates with done or error;
// heartbeat keeps idle consumers alive.
const (
	EventMeta      = "meta"
	EventProgress  = "progress"
	EventText      = "text"
	EventDone      = "done"
	EventError     = "error"
	EventHeartbeat = "heartbeat"
)

// Event is one record on a subscription stream.
type Event struct {
	Type      string          `json:"type"`
	Data      json.RawMessage `json:"data,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
	Seq       uint64          `json:"seq"`
}

// subscriberBuffer bounds how many undelivered events a connection may hold
// before further events are dropped for it.
const subscriberBuffer = 16

// subscription ties a connection to its optional task/user filters.
// The channel is closed exactly once, under the subscription's own mutex,
// so a publish racing a removal can never send on a closed channel.
type subscription struct {
	connectionID string
	taskID       string
	userID       string
	lastActivity time.Time

	mu     sync.Mutex
	ch     chan Event
	closed bool
}

// close marks the subscription dead and closes its channel. Safe to call
// more than once and safe against concurrent deliver calls.
func (s *subscription) close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		close(s.ch)
	}
}

// Broadcaster routes events to subscriptions by connection, task or user.
type Broadcaster struct {
	mu     sync.RWMutex
	subs   map[string]*subscription
	seq    atomic.Uint64
	logger *slog.Logger
}

// NewBroadcaster creates an empty Broadcaster.
func NewBroadcaster(logger *slog.Logger) *Broadcaster {
	return &Broadcaster{
		subs:   make(map[string]*subscription),
		logger: logger.With("component", "broadcaster"),
	}
}

// Subscribe registers a connection, optionally scoped to a task and/or user,
// and returns the channel its events arrive on. Re-subscribing an existing
// connection ID replaces the prior subscription.
func (b *Broadcaster) Subscribe(connectionID, taskID, userID string) <-chan Event {
	sub := &subscription{
		connectionID: connectionID,
		taskID:       taskID,
		userID:       userID,
		ch:           make(chan Event, subscriberBuffer),
		lastActivity: time.Now(),
	}

	b.mu.Lock()
	old := b.subs[connectionID]
	b.subs[connectionID] = sub
	total := len(b.subs)
	b.mu.Unlock()

	if old != nil {
		old.close()
	}

	metrics.SubscriptionsActive.Set(float64(total))
	b.logger.Debug("subscription added",
		"connection_id", connectionID,
		"task_id", taskID,
		"user_id", userID,
		"total_subscriptions", total)

	return sub.ch
}

// Unsubscribe removes a connection and closes its channel.
func (b *Broadcaster) Unsubscribe(connectionID string) {
	b.mu.Lock()
	sub, ok := b.subs[connectionID]
	if ok {
		delete(b.subs, connectionID)
	}
	total := len(b.subs)
	b.mu.Unlock()

	if ok {
		sub.close()
		metrics.SubscriptionsActive.Set(float64(total))
		b.logger.Debug("subscription removed",
			"connection_id", connectionID,
			"total_subscriptions", total)
	}
}

// Publish sends an event to one connection. Returns false when the
// connection is gone or its buffer is full; callers do not retry.
func (b *Broadcaster) Publish(connectionID, eventType string, data json.RawMessage) bool {
	b.mu.Lock()
	sub, ok := b.subs[connectionID]
	if ok {
		sub.lastActivity = time.Now()
	}
	b.mu.Unlock()

	if !ok {
		return false
	}

	return b.deliver(sub, eventType, data)
}

// PublishToTask sends an event to every connection subscribed to the task.
// Returns the number of connections reached.
func (b *Broadcaster) PublishToTask(taskID, eventType string, data json.RawMessage) int {
	return b.broadcast(eventType, data, func(sub *subscription) bool {
		return sub.taskID == taskID
	})
}

// PublishToUser sends an event to every connection subscribed to the user.
// Returns the number of connections reached.
func (b *Broadcaster) PublishToUser(userID, eventType string, data json.RawMessage) int {
	return b.broadcast(eventType, data, func(sub *subscription) bool {
		return sub.userID == userID
	})
}

// broadcast delivers one event to all subscriptions matching the predicate.
func (b *Broadcaster) broadcast(
	eventType string,
	data json.RawMessage,
	match func(*subscription) bool,
) int {
	now := time.Now()

	b.mu.Lock()
	var targets []*subscription
	for _, sub := range b.subs {
		if match(sub) {
			sub.lastActivity = now
			targets = append(targets, sub)
		}
	}
	b.mu.Unlock()

	delivered := 0
	for _, sub := range targets {
		if b.deliver(sub, eventType, data) {
			delivered++
		}
	}

	return delivered
}

// deliver performs the non-blocking send that makes delivery at-most-once.
func (b *Broadcaster) deliver(sub *subscription, eventType string, data json.RawMessage) bool {
	event := Event{
		Type:      eventType,
		Data:      data,
		Timestamp: time.Now().UTC(),
		Seq:       b.seq.Add(1),
	}

	sub.mu.Lock()
	defer sub.mu.Unlock()

	if sub.closed {
		return false
	}

	select {
	case sub.ch <- event:
		metrics.EventsDelivered.WithLabelValues(eventType).Inc()
		return true
	default:
		b.logger.Debug("event dropped, subscriber buffer full",
			"connection_id", sub.connectionID,
			"event_type", eventType)
		return false
	}
}

// ReapStale removes subscriptions idle for longer than maxAge and returns
// the count removed. Driven by a periodic external timer.
func (b *Broadcaster) ReapStale(maxAge time.Duration) int {
	cutoff := time.Now().Add(-maxAge)

	b.mu.Lock()
	var removed []*subscription
	for id, sub := range b.subs {
		if sub.lastActivity.Before(cutoff) {
			removed = append(removed, sub)
			delete(b.subs, id)
		}
	}
	total := len(b.subs)
	b.mu.Unlock()

	for _, sub := range removed {
		sub.close()
	}

	if len(removed) > 0 {
		metrics.SubscriptionsActive.Set(float64(total))
		b.logger.Info("reaped stale subscriptions", "removed", len(removed))
	}

	return len(removed)
}

// Stats reports the current subscription count.
func (b *Broadcaster) Stats() map[string]any {
	b.mu.RLock()
	defer b.mu.RUnlock()

	ids := make([]string, 0, len(b.subs))
	for id := range b.subs {
		ids = append(ids, id)
	}

	return map[string]any{
		"active_connections": len(b.subs),
		"connections":        ids,
	}
}
