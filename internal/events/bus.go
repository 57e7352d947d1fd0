// Package events is the notification channel between the persistence engine
// and whatever renders pages. Publishing never blocks the publisher.
package events

import (
	"sync"
	"time"

	"github.com/agentworkforce/pagekeeper/internal/pagedoc"
	"github.com/agentworkforce/pagekeeper/internal/registry"
)

type Type string

const (
	PageLoaded      Type = "page.loaded"
	PageRefreshed   Type = "page.refreshed"
	PageSaved       Type = "page.saved"
	PageCreated     Type = "page.created"
	PageRenamed     Type = "page.renamed"
	RegistryUpdated Type = "registry.updated"
	Warning         Type = "warning"
)

type Event struct {
	Type       Type              `json:"type"`
	PageID     string            `json:"pageId,omitempty"`
	Title      string            `json:"title,omitempty"`
	Generation uint64            `json:"generation,omitempty"`
	Source     string            `json:"source,omitempty"`
	Document   *pagedoc.Document `json:"document,omitempty"`
	Pages      []registry.Page   `json:"pages,omitempty"`
	Message    string            `json:"message,omitempty"`
	Time       time.Time         `json:"time"`
}

// Publisher is the side of the bus the engine depends on.
type Publisher interface {
	Publish(Event)
}

type Bus struct {
	mu     sync.RWMutex
	subs   map[uint64]chan Event
	nextID uint64
	closed bool
	onDrop func(Event)
	now    func() time.Time
}

type Option func(*Bus)

// WithDropHandler is called for every event a full subscriber missed.
func WithDropHandler(fn func(Event)) Option {
	return func(b *Bus) {
		b.onDrop = fn
	}
}

func NewBus(opts ...Option) *Bus {
	b := &Bus{subs: map[uint64]chan Event{}, now: time.Now}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Subscribe returns a channel receiving every event published after the
// call, and a function that unsubscribes and closes it.
func (b *Bus) Subscribe(buffer int) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = 16
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
	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			if sub, ok := b.subs[id]; ok {
				delete(b.subs, id)
				close(sub)
			}
		})
	}
}

func (b *Bus) Publish(event Event) {
	if b == nil {
		return
	}
	if event.Time.IsZero() {
		event.Time = b.now().UTC()
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, ch := range b.subs {
		select {
		case ch <- event:
		default:
			if b.onDrop != nil {
				b.onDrop(event)
			}
		}
	}
}

// Close closes every subscriber channel. Later publishes are ignored.
func (b *Bus) Close() {
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

// Recorder keeps every published event in memory.
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *Recorder) Publish(event Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
}

func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}

// OfType returns the recorded events of type t in publish order.
func (r *Recorder) OfType(t Type) []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Event
	for _, event := range r.events {
		if event.Type == t {
			out = append(out, event)
		}
	}
	return out
}
