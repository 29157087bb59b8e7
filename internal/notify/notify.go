// SPDX-License-Identifier: AGPL-3.0-or-later

// Package notify implements the notification bus component (G): a
// per-client subscription registry for background-batch completion events.
// Publishing never blocks — a slow or absent subscriber simply drops the
// event, since a client can always re-query to converge.
package notify

import (
	"sync"

	"github.com/avocetlabs/birdtile/internal/geo"
	"github.com/avocetlabs/birdtile/internal/metrics"
)

// EventType identifies the kind of notification payload.
type EventType string

const (
	EventTypeConnected   EventType = "connected"
	EventTypeTileUpdate  EventType = "tileUpdate"
)

// Event is the payload delivered to a subscriber.
type Event struct {
	Type    EventType        `json:"type"`
	Message string           `json:"message,omitempty"`
	Data    *BatchCompletion `json:"data,omitempty"`
}

// BatchCompletion describes the completion of one background batch.
type BatchCompletion struct {
	CompletedTileIDs []string      `json:"completedTileIds"`
	BatchNumber      int           `json:"batchNumber"`
	TotalBatches     int           `json:"totalBatches"`
	RemainingTileIDs []string      `json:"remainingTileIds"`
	Viewport         geo.Viewport  `json:"viewport"`
	IsComplete       bool          `json:"isComplete"`
}

// channelBuffer bounds how many undelivered events a subscriber tolerates
// before Publish starts dropping rather than blocking.
const channelBuffer = 16

// Bus is the shared, concurrently accessed per-client subscriber registry.
type Bus struct {
	mu          sync.RWMutex
	subscribers map[string]chan Event
}

// New constructs an empty Bus.
func New() *Bus {
	return &Bus{subscribers: make(map[string]chan Event)}
}

// Subscribe registers clientID and returns a channel of events scoped to
// it. A client may only have one active subscription at a time; a second
// Subscribe call replaces the first, whose channel is closed.
func (b *Bus) Subscribe(clientID string) <-chan Event {
	ch := make(chan Event, channelBuffer)

	b.mu.Lock()
	if old, ok := b.subscribers[clientID]; ok {
		close(old)
	}
	b.subscribers[clientID] = ch
	metrics.NotifySubscribers.Set(float64(len(b.subscribers)))
	b.mu.Unlock()

	return ch
}

// Unsubscribe terminates clientID's stream, if any.
func (b *Bus) Unsubscribe(clientID string) {
	b.mu.Lock()
	if ch, ok := b.subscribers[clientID]; ok {
		close(ch)
		delete(b.subscribers, clientID)
	}
	metrics.NotifySubscribers.Set(float64(len(b.subscribers)))
	b.mu.Unlock()
}

// Publish delivers event to clientID's subscriber if one is present and
// keeping up; otherwise the event is dropped. Publish never blocks.
func (b *Bus) Publish(clientID string, event Event) {
	b.mu.RLock()
	ch, ok := b.subscribers[clientID]
	b.mu.RUnlock()

	if !ok {
		metrics.NotifyEventsDropped.WithLabelValues("no_subscriber").Inc()
		return
	}

	select {
	case ch <- event:
		metrics.NotifyEventsPublished.Inc()
	default:
		metrics.NotifyEventsDropped.WithLabelValues("subscriber_slow").Inc()
	}
}

// SubscriberCount reports the current number of registered subscribers.
func (b *Bus) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers)
}
