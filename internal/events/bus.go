package events

import (
	"log/slog"
	"sync"

	"github.com/trellico/trellico/internal/logging"
)

var busLog = logging.ForComponent(logging.CompUI)

// Event is a named payload as delivered to subscribers.
type Event struct {
	Name    string `json:"event"`
	Payload any    `json:"payload"`
}

// Bus fans events out to subscribers over buffered channels.
// Publish never blocks: a subscriber that falls behind loses events rather
// than stalling the supervisor read loop or a watcher callback.
type Bus struct {
	mu     sync.RWMutex
	subs   map[int]chan Event
	nextID int
}

// NewBus creates an empty bus. A bus with no subscribers discards events.
func NewBus() *Bus {
	return &Bus{subs: make(map[int]chan Event)}
}

// Publish implements Sink.
func (b *Bus) Publish(name string, payload any) {
	ev := Event{Name: name, Payload: payload}

	b.mu.RLock()
	defer b.mu.RUnlock()
	for id, ch := range b.subs {
		select {
		case ch <- ev:
		default:
			busLog.Debug("event_dropped",
				slog.String("event", name),
				slog.Int("subscriber", id),
			)
		}
	}
}

// Subscribe registers a new subscriber with the given channel buffer size
// and returns its channel plus an unsubscribe function. Unsubscribe closes
// the channel; it is safe to call more than once.
func (b *Bus) Subscribe(buffer int) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = 64
	}
	ch := make(chan Event, buffer)

	b.mu.Lock()
	id := b.nextID
	b.nextID++
	b.subs[id] = ch
	b.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			b.mu.Unlock()
			close(ch)
		})
	}
	return ch, cancel
}

// SubscriberCount returns the number of active subscribers.
func (b *Bus) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}
