package session

import (
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// EventType names a session lifecycle signal.
type EventType string

const (
	// EventSessionExpired is broadcast when a refresh is rejected and the
	// session has been cleared.
	EventSessionExpired EventType = "auth:session-expired"
	EventSignedIn       EventType = "auth:signed-in"
	EventSignedOut      EventType = "auth:signed-out"
	EventTokenRefreshed EventType = "auth:token-refreshed"
	EventProfileUpdated EventType = "auth:profile-updated"
)

// Event is delivered to every subscriber.
type Event struct {
	Type   EventType
	UserID string
	At     time.Time
}

// Broadcaster fans events out to subscribers. A subscriber that does not
// keep up loses events rather than blocking the session.
type Broadcaster struct {
	mu     sync.Mutex
	subs   map[int]chan Event
	nextID int
}

func NewBroadcaster() *Broadcaster {
	return &Broadcaster{subs: make(map[int]chan Event)}
}

// Subscribe returns a channel of events and a function that ends the
// subscription and closes the channel.
func (b *Broadcaster) Subscribe(buffer int) (<-chan Event, func()) {
	if buffer < 1 {
		buffer = 1
	}
	ch := make(chan Event, buffer)

	b.mu.Lock()
	id := b.nextID
	b.nextID++
	b.subs[id] = ch
	b.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			b.mu.Unlock()
			close(ch)
		})
	}
}

// Publish delivers e to every subscriber without blocking.
func (b *Broadcaster) Publish(e Event) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for id, ch := range b.subs {
		select {
		case ch <- e:
		default:
			log.Debug().Int("subscriber", id).Str("event", string(e.Type)).Msg("subscriber full, event dropped")
		}
	}
}
