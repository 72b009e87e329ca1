package events

import (
	"log/slog"
	"sync"

	"github.com/google/uuid"
)

// subscriberBuffer is the per-subscriber queue depth. A subscriber that
// falls this far behind starts losing events rather than stalling
// publishers.
const subscriberBuffer = 256

// Bus is the in-process event broker. Publishing never blocks: a full
// subscriber queue drops the event for that subscriber only.
type Bus struct {
	mu       sync.RWMutex
	channels map[string]map[string]chan Event // channel → subscriber id → queue
}

// NewBus creates an empty bus.
func NewBus() *Bus {
	return &Bus{channels: make(map[string]map[string]chan Event)}
}

// Subscribe registers a new subscriber on a channel and returns its id and
// receive queue. The queue is closed by Unsubscribe.
func (b *Bus) Subscribe(channel string) (string, <-chan Event) {
	id := uuid.New().String()
	ch := make(chan Event, subscriberBuffer)

	b.mu.Lock()
	defer b.mu.Unlock()
	subs, ok := b.channels[channel]
	if !ok {
		subs = make(map[string]chan Event)
		b.channels[channel] = subs
	}
	subs[id] = ch
	return id, ch
}

// Unsubscribe removes a subscriber and closes its queue. Unknown ids are
// ignored so double unsubscribes are harmless.
func (b *Bus) Unsubscribe(channel, id string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	subs, ok := b.channels[channel]
	if !ok {
		return
	}
	ch, ok := subs[id]
	if !ok {
		return
	}
	delete(subs, id)
	if len(subs) == 0 {
		delete(b.channels, channel)
	}
	// Safe while holding the write lock: Publish sends under the read lock,
	// so no send can be in flight here.
	close(ch)
}

// Publish delivers an event to every subscriber of its channel without
// blocking. Slow subscribers lose the event.
func (b *Bus) Publish(evt Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for id, ch := range b.channels[evt.Channel] {
		select {
		case ch <- evt:
		default:
			slog.Warn("Event dropped for slow subscriber",
				"channel", evt.Channel, "type", evt.Type, "subscriber_id", id)
		}
	}
}

// subscriberCount returns the number of subscribers for a channel.
// Unexported; tests poll it instead of sleeping.
func (b *Bus) subscriberCount(channel string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.channels[channel])
}
