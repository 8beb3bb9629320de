package connectivity

import (
	"log/slog"
	"sync"
	"time"

	"connkeeper/internal/degradation"
	"connkeeper/internal/models"
)

// EventType names a published connectivity event.
type EventType string

const (
	EventStatusChanged      EventType = "status-changed"
	EventDegradationChanged EventType = "degradation-changed"
	EventOfflineMinutes     EventType = "offline-minutes"
	EventSchedulerIdle      EventType = "scheduler-idle"
	EventNetworkRestored    EventType = "network-restored"
	EventSyncOfflineData    EventType = "sync-offline-data"
)

// Event is delivered to subscribers. Snapshot is always settled state at the
// moment the event was produced.
type Event struct {
	ID         string                      `json:"id"`
	Type       EventType                   `json:"type"`
	At         time.Time                   `json:"at"`
	Snapshot   models.ConnectivitySnapshot `json:"snapshot"`
	Level      degradation.Level           `json:"level"`
	LastSyncAt *time.Time                  `json:"last_sync_at,omitempty"`
}

// bus fans events out to subscribers without ever blocking the publisher.
type bus struct {
	logger *slog.Logger

	mu     sync.Mutex
	subs   map[int]chan Event
	nextID int
	closed bool
}

func newBus(logger *slog.Logger) *bus {
	return &bus{
		logger: logger,
		subs:   make(map[int]chan Event),
	}
}

func (b *bus) subscribe(buffer int) (<-chan Event, func()) {
	if buffer < 1 {
		buffer = 1
	}
	ch := make(chan Event, buffer)

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		close(ch)
		return ch, func() {}
	}
	id := b.nextID
	b.nextID++
	b.subs[id] = ch

	return ch, func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if sub, ok := b.subs[id]; ok {
			delete(b.subs, id)
			close(sub)
		}
	}
}

func (b *bus) publish(e Event) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	for id, ch := range b.subs {
		select {
		case ch <- e:
		default:
			b.logger.Warn("subscriber is slow, event dropped", "subscriber", id, "event", e.Type)
		}
	}
}

func (b *bus) close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	b.closed = true
	for id, ch := range b.subs {
		delete(b.subs, id)
		close(ch)
	}
}
