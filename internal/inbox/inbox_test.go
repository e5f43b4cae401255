package inbox

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/flitsinc/go-swarm/internal/schema"
)

func evt(id string, priority float64) Event {
	return Event{
		ID:        id,
		ContextID: "room-1",
		Body:      "body " + id,
		Timestamp: time.Now().UTC(),
		Priority:  schema.ClampPriority(priority),
	}
}

func TestEnqueueEvictsLowestWhenFull(t *testing.T) {
	b := New(3)
	require.True(t, b.Enqueue(evt("a", 0.2)))
	require.True(t, b.Enqueue(evt("b", 0.5)))
	require.True(t, b.Enqueue(evt("c", 0.9)))

	// New entry outranks the current lowest: 0.2 is evicted.
	require.True(t, b.Enqueue(evt("d", 0.3)))
	require.Equal(t, 3, b.Size())

	top := b.Peek(3)
	require.Len(t, top, 3)
	require.Equal(t, "c", top[0].Event.ID)
	require.Equal(t, "b", top[1].Event.ID)
	require.Equal(t, "d", top[2].Event.ID)
}

func TestEnqueueRejectsLowerOrEqualWhenFull(t *testing.T) {
	b := New(2)
	require.True(t, b.Enqueue(evt("a", 0.5)))
	require.True(t, b.Enqueue(evt("b", 0.7)))

	require.False(t, b.Enqueue(evt("c", 0.5)))
	require.False(t, b.Enqueue(evt("d", 0.1)))
	require.Equal(t, 2, b.Size())
	require.Equal(t, uint64(2), b.Dropped())

	top := b.Peek(2)
	require.Equal(t, "b", top[0].Event.ID)
	require.Equal(t, "a", top[1].Event.ID)
}

func TestSizeNeverExceedsCapacity(t *testing.T) {
	b := New(10)
	for i := 0; i < 100; i++ {
		b.Enqueue(evt(fmt.Sprintf("e%d", i), float64(i)/100))
	}
	require.Equal(t, 10, b.Size())
}

func TestFIFOAmongEqualPriorities(t *testing.T) {
	b := New(10)
	for _, id := range []string{"first", "second", "third"} {
		require.True(t, b.Enqueue(evt(id, 0.5)))
	}

	top := b.Peek(3)
	require.Equal(t, "first", top[0].Event.ID)
	require.Equal(t, "second", top[1].Event.ID)
	require.Equal(t, "third", top[2].Event.ID)

	got, ok := b.Pop(context.Background(), time.Second)
	require.True(t, ok)
	require.Equal(t, "first", got.Event.ID)
}

func TestPeekDoesNotRemove(t *testing.T) {
	b := New(5)
	b.Enqueue(evt("a", 0.4))
	b.Enqueue(evt("b", 0.8))

	require.Len(t, b.Peek(5), 2)
	require.Len(t, b.Peek(1), 1)
	require.Equal(t, 2, b.Size())
}

func TestPopTimesOutOnEmpty(t *testing.T) {
	b := New(5)
	start := time.Now()
	_, ok := b.Pop(context.Background(), 50*time.Millisecond)
	require.False(t, ok)
	require.GreaterOrEqual(t, time.Since(start), 50*time.Millisecond)
}

func TestPopWakesOnEnqueue(t *testing.T) {
	b := New(5)
	done := make(chan Entry, 1)
	go func() {
		entry, ok := b.Pop(context.Background(), 2*time.Second)
		if ok {
			done <- entry
		}
		close(done)
	}()

	time.Sleep(20 * time.Millisecond)
	b.Enqueue(evt("ping", 0.6))

	select {
	case entry, ok := <-done:
		require.True(t, ok)
		require.Equal(t, "ping", entry.Event.ID)
	case <-time.After(2 * time.Second):
		t.Fatal("pop did not wake")
	}
}

func TestPopHonorsCancellation(t *testing.T) {
	b := New(5)
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()
	start := time.Now()
	_, ok := b.Pop(ctx, 5*time.Second)
	require.False(t, ok)
	require.Less(t, time.Since(start), time.Second)
}

func TestTakeRemovesSpecificEntry(t *testing.T) {
	b := New(5)
	b.Enqueue(evt("a", 0.4))
	b.Enqueue(evt("b", 0.8))
	b.Enqueue(evt("c", 0.6))

	entry, ok := b.Take("c")
	require.True(t, ok)
	require.Equal(t, "c", entry.Event.ID)
	require.Equal(t, 2, b.Size())

	_, ok = b.Take("c")
	require.False(t, ok)

	// Remaining order is intact.
	top := b.Peek(2)
	require.Equal(t, "b", top[0].Event.ID)
	require.Equal(t, "a", top[1].Event.ID)
}
