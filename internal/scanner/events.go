package scanner

import (
	"sync"
)

// EventType labels the scan lifecycle events published to subscribers.
type EventType string

const (
	EventRunStarted      EventType = "run_started"
	EventProgress        EventType = "progress"
	EventBusinessAdded   EventType = "business_added"
	EventBusinessUpdated EventType = "business_updated"
	EventRunCompleted    EventType = "run_completed"
	EventRunFailed       EventType = "run_failed"
)

// Event is a scan lifecycle notification. Payload depends on the type:
// RunProgress for progress, Business for added/updated, AnalysisRun for
// the terminal events.
type Event struct {
	Type    EventType `json:"type"`
	RunID   string    `json:"run_id"`
	Payload any       `json:"payload,omitempty"`
}

// Broadcaster fans scan events out to subscribers. Publish never blocks:
// a subscriber that falls behind its channel buffer misses events rather
// than stalling the scan loop.
type Broadcaster struct {
	mu   sync.Mutex
	subs map[chan Event]struct{}
}

// NewBroadcaster creates an empty broadcaster.
func NewBroadcaster() *Broadcaster {
	return &Broadcaster{subs: make(map[chan Event]struct{})}
}

// Subscribe registers a new subscriber and returns its event channel
// along with a cancel function. The channel is closed on cancel.
func (b *Broadcaster) Subscribe() (<-chan Event, func()) {
	ch := make(chan Event, 64)
	b.mu.Lock()
	b.subs[ch] = struct{}{}
	b.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, ch)
			b.mu.Unlock()
			close(ch)
		})
	}
	return ch, cancel
}

// Publish delivers the event to every subscriber with room in its buffer.
func (b *Broadcaster) Publish(e Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for ch := range b.subs {
		select {
		case ch <- e:
		default:
		}
	}
}
