package trace

import (
	"sync"
	"time"
)

// Hook is invoked synchronously for every event added to a Buffer.
type Hook func(Event)

// DefaultMaxEvents is the retention limit used when none is configured.
const DefaultMaxEvents = 500

// subscriberBuffer is the channel capacity handed to each subscriber.
const subscriberBuffer = 256

// Buffer is a bounded ring of trace events. It retains the most recent
// maxEvents entries, oldest evicted first.
type Buffer struct {
	mu          sync.Mutex
	maxEvents   int
	events      []Event
	hook        Hook
	subscribers map[int]chan Event
	nextSubID   int
}

// NewBuffer creates a Buffer retaining at most maxEvents entries.
// Non-positive values fall back to DefaultMaxEvents.
func NewBuffer(maxEvents int) *Buffer {
	if maxEvents <= 0 {
		maxEvents = DefaultMaxEvents
	}
	return &Buffer{
		maxEvents:   maxEvents,
		subscribers: make(map[int]chan Event),
	}
}

// SetHook installs the observer hook. The hook runs synchronously on the
// producer's goroutine for every subsequent Add; a slow hook stalls the
// producer. Pass nil to remove the hook.
func (b *Buffer) SetHook(hook Hook) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.hook = hook
}

// Add records an event. A zero timestamp is stamped with the current time.
// The event is appended, the ring truncated to the retention limit, the
// event offered to every subscriber feed without blocking, and the hook
// (if any) invoked.
func (b *Buffer) Add(event Event) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	b.mu.Lock()
	b.events = append(b.events, event)
	if len(b.events) > b.maxEvents {
		// Copy down rather than re-slice so the evicted prefix can be
		// collected.
		overflow := len(b.events) - b.maxEvents
		b.events = append(b.events[:0:0], b.events[overflow:]...)
	}
	hook := b.hook
	// Feeds are enqueued under the mutex: cancel closes the channel under
	// the same mutex, so a concurrent cancel can never turn an enqueue
	// into a send on a closed channel. Every send below is non-blocking.
	for _, ch := range b.subscribers {
		select {
		case ch <- event:
		default:
			// Feed full: drop this subscriber's oldest event to make room,
			// keeping the enqueue non-blocking for the producer.
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- event:
			default:
			}
		}
	}
	b.mu.Unlock()

	if hook != nil {
		hook(event)
	}
}

// Record is a convenience wrapper constructing and adding an event.
func (b *Buffer) Record(kind, message string, payload map[string]any) {
	b.Add(NewEvent(kind, message, payload))
}

// Snapshot returns a copy of the retained events, oldest first.
func (b *Buffer) Snapshot() []Event {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]Event, len(b.events))
	copy(out, b.events)
	return out
}

// Len returns the number of retained events.
func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.events)
}

// Subscribe registers a feed receiving every event added after this call.
// The returned cancel function must be called to release the feed; after
// cancel the channel is closed.
func (b *Buffer) Subscribe() (<-chan Event, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := b.nextSubID
	b.nextSubID++
	ch := make(chan Event, subscriberBuffer)
	b.subscribers[id] = ch

	cancel := func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if sub, ok := b.subscribers[id]; ok {
			delete(b.subscribers, id)
			close(sub)
		}
	}
	return ch, cancel
}
