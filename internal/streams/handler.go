package streams

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"github.com/jimdaga/reelpipe/internal/pipeline"
)

// Feed fans events out to in-process subscribers keyed by record ID. It is
// the handler for an EventConsumer and can also be used directly as a
// pipeline.EventSink when the API and worker share a process.
type Feed struct {
	mu     sync.Mutex
	subs   map[uuid.UUID]map[chan pipeline.Event]struct{}
	buffer int
}

// NewFeed creates a Feed whose subscriber channels hold buffer events
func NewFeed(buffer int) *Feed {
	if buffer <= 0 {
		buffer = 16
	}
	return &Feed{subs: map[uuid.UUID]map[chan pipeline.Event]struct{}{}, buffer: buffer}
}

// Subscribe follows events for one task or subtitle. The returned cancel
// must be called to release the channel.
func (f *Feed) Subscribe(id uuid.UUID) (<-chan pipeline.Event, func()) {
	ch := make(chan pipeline.Event, f.buffer)
	f.mu.Lock()
	if f.subs[id] == nil {
		f.subs[id] = map[chan pipeline.Event]struct{}{}
	}
	f.subs[id][ch] = struct{}{}
	f.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			f.mu.Lock()
			defer f.mu.Unlock()
			delete(f.subs[id], ch)
			if len(f.subs[id]) == 0 {
				delete(f.subs, id)
			}
			close(ch)
		})
	}
}

// Handle delivers ev to every subscriber of ev.ID. Slow subscribers miss
// events instead of blocking the stream; the record itself stays the source
// of truth.
func (f *Feed) Handle(ev pipeline.Event) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for ch := range f.subs[ev.ID] {
		select {
		case ch <- ev:
		default:
		}
	}
	return nil
}

// Publish implements pipeline.EventSink
func (f *Feed) Publish(ctx context.Context, ev pipeline.Event) error {
	return f.Handle(ev)
}

// Subscribers reports how many channels follow id
func (f *Feed) Subscribers(id uuid.UUID) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.subs[id])
}
