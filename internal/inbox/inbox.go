package inbox

import (
	"container/heap"
	"context"
	"sync"
	"time"

	"github.com/flitsinc/go-swarm/internal/schema"
)

// Event is one scored occurrence delivered to a single persona. The
// priority is persona-specific: a broadcast occurrence becomes one Event
// per relevant persona, each with its own score.
type Event struct {
	ID        string          `json:"id"`
	ContextID string          `json:"context_id"`
	Subject   string          `json:"subject,omitempty"`
	Body      string          `json:"body"`
	Payload   map[string]any  `json:"payload,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
	Priority  schema.Priority `json:"priority"`
}

// Entry wraps an Event with enqueue metadata. Entries order by priority
// descending; equal priorities keep FIFO order via the arrival sequence.
type Entry struct {
	Event      Event     `json:"event"`
	EnqueuedAt time.Time `json:"enqueued_at"`
	seq        uint64
}

// Inbox is a bounded priority queue owned by one persona. Enqueue never
// blocks and never grows past capacity: at capacity, the lowest-priority
// entry (incoming included) is the one dropped.
type Inbox struct {
	mu       sync.Mutex
	capacity int
	entries  entryHeap
	seq      uint64
	dropped  uint64
	wake     chan struct{}
}

const DefaultCapacity = 1000

func New(capacity int) *Inbox {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Inbox{
		capacity: capacity,
		wake:     make(chan struct{}, 1),
	}
}

// Enqueue inserts the event, evicting the current lowest-priority entry
// when full. Returns false if the event was dropped instead of queued.
// Dropping is backpressure, not an error.
func (b *Inbox) Enqueue(evt Event) bool {
	b.mu.Lock()
	b.seq++
	entry := Entry{Event: evt, EnqueuedAt: time.Now().UTC(), seq: b.seq}

	if b.entries.Len() < b.capacity {
		heap.Push(&b.entries, entry)
		b.mu.Unlock()
		b.signal()
		return true
	}

	min := b.lowestIndex()
	if evt.Priority <= b.entries[min].Event.Priority {
		b.dropped++
		b.mu.Unlock()
		return false
	}
	heap.Remove(&b.entries, min)
	b.dropped++
	heap.Push(&b.entries, entry)
	b.mu.Unlock()
	b.signal()
	return true
}

// Peek returns up to n entries in priority order without removing them.
// Never blocks.
func (b *Inbox) Peek(n int) []Entry {
	b.mu.Lock()
	defer b.mu.Unlock()
	if n <= 0 || b.entries.Len() == 0 {
		return nil
	}

	clone := make(entryHeap, b.entries.Len())
	copy(clone, b.entries)
	heap.Init(&clone)

	if n > clone.Len() {
		n = clone.Len()
	}
	out := make([]Entry, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, heap.Pop(&clone).(Entry))
	}
	return out
}

// Pop removes and returns the highest-priority entry, blocking until one
// arrives, the timeout elapses, or ctx is cancelled. This is the only
// blocking operation the inbox exposes.
func (b *Inbox) Pop(ctx context.Context, timeout time.Duration) (Entry, bool) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	for {
		b.mu.Lock()
		if b.entries.Len() > 0 {
			entry := heap.Pop(&b.entries).(Entry)
			remaining := b.entries.Len()
			b.mu.Unlock()
			if remaining > 0 {
				b.signal()
			}
			return entry, true
		}
		b.mu.Unlock()

		select {
		case <-ctx.Done():
			return Entry{}, false
		case <-timer.C:
			return Entry{}, false
		case <-b.wake:
		}
	}
}

// Take removes the entry holding the given event id, if still queued.
// The scheduler uses this to dispatch exactly the entry that was
// arbitrated, not whatever floated to the top in the meantime.
func (b *Inbox) Take(eventID string) (Entry, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i := range b.entries {
		if b.entries[i].Event.ID == eventID {
			entry := heap.Remove(&b.entries, i).(Entry)
			return entry, true
		}
	}
	return Entry{}, false
}

func (b *Inbox) Size() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.entries.Len()
}

func (b *Inbox) Capacity() int {
	return b.capacity
}

// Dropped returns how many events have been rejected or evicted so far.
func (b *Inbox) Dropped() uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.dropped
}

func (b *Inbox) signal() {
	select {
	case b.wake <- struct{}{}:
	default:
	}
}

// lowestIndex returns the index of the entry that loses an eviction:
// lowest priority, and among equals the most recent arrival.
func (b *Inbox) lowestIndex() int {
	min := 0
	for i := 1; i < b.entries.Len(); i++ {
		cur, low := b.entries[i], b.entries[min]
		if cur.Event.Priority < low.Event.Priority ||
			(cur.Event.Priority == low.Event.Priority && cur.seq > low.seq) {
			min = i
		}
	}
	return min
}

type entryHeap []Entry

func (h entryHeap) Len() int { return len(h) }

func (h entryHeap) Less(i, j int) bool {
	if h[i].Event.Priority != h[j].Event.Priority {
		return h[i].Event.Priority > h[j].Event.Priority
	}
	return h[i].seq < h[j].seq
}

func (h entryHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *entryHeap) Push(x any) { *h = append(*h, x.(Entry)) }

func (h *entryHeap) Pop() any {
	old := *h
	n := len(old)
	entry := old[n-1]
	*h = old[:n-1]
	return entry
}
