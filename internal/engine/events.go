package engine

import (
	"sync"
	"time"

	"github.com/sacaslabs/sacas-daemon/internal/registry"
)

// feedCapacity bounds the in-memory event history.
const feedCapacity = 1000

// Event is a notable occurrence in the world.
type Event struct {
	Seq         uint64           `json:"seq"`
	Time        time.Time        `json:"time"`
	Category    string           `json:"category"` // "combat", "parasite", "weather", "economy", "registry"
	Agent       registry.AgentID `json:"agent,omitempty"`
	Description string           `json:"description"`
}

// Feed is the shared event history plus live subscriber fan-out. Slow
// subscribers drop events rather than block the simulation.
type Feed struct {
	mu      sync.Mutex
	events  []Event
	seq     uint64
	subs    map[uint64]chan Event
	nextSub uint64
	now     func() time.Time
}

// NewFeed creates an empty feed.
func NewFeed() *Feed {
	return &Feed{
		subs: make(map[uint64]chan Event),
		now:  time.Now,
	}
}

// Emit appends an event and fans it out to subscribers.
func (f *Feed) Emit(category string, agent registry.AgentID, description string) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.seq++
	e := Event{
		Seq:         f.seq,
		Time:        f.now().UTC(),
		Category:    category,
		Agent:       agent,
		Description: description,
	}
	f.events = append(f.events, e)
	if len(f.events) > feedCapacity {
		f.events = f.events[len(f.events)-feedCapacity:]
	}

	for _, ch := range f.subs {
		select {
		case ch <- e:
		default:
		}
	}
}

// Recent returns up to n most recent events, oldest first.
func (f *Feed) Recent(n int) []Event {
	f.mu.Lock()
	defer f.mu.Unlock()

	start := 0
	if len(f.events) > n {
		start = len(f.events) - n
	}
	out := make([]Event, len(f.events)-start)
	copy(out, f.events[start:])
	return out
}

// Subscribe registers a live event channel. The caller must Unsubscribe.
func (f *Feed) Subscribe() (uint64, <-chan Event) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.nextSub++
	ch := make(chan Event, 64)
	f.subs[f.nextSub] = ch
	return f.nextSub, ch
}

// Unsubscribe removes and closes a subscriber channel.
func (f *Feed) Unsubscribe(id uint64) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if ch, ok := f.subs[id]; ok {
		delete(f.subs, id)
		close(ch)
	}
}
