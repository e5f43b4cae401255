package ingest

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flitsinc/go-swarm/internal/coordinator"
	"github.com/flitsinc/go-swarm/internal/inbox"
	"github.com/flitsinc/go-swarm/internal/journal"
	"github.com/flitsinc/go-swarm/internal/schema"
	"github.com/flitsinc/go-swarm/internal/scheduler"
	"github.com/flitsinc/go-swarm/internal/testutil"
)

func newTestSwarm(t *testing.T, specs ...scheduler.PersonaSpec) *scheduler.Swarm {
	t.Helper()
	if len(specs) == 0 {
		specs = []scheduler.PersonaSpec{
			{ID: "ada", Name: "Ada"},
			{ID: "bob", Name: "Bob"},
		}
	}
	swarm, err := scheduler.NewSwarm(specs, coordinator.New(coordinator.Config{}), scheduler.NoopExecutor{}, nil, nil)
	require.NoError(t, err)
	return swarm
}

func TestBroadcastFansOutWithSharedEventID(t *testing.T) {
	swarm := newTestSwarm(t)
	ing := &Ingestor{Swarm: swarm}

	delivery, err := ing.Broadcast(context.Background(), Occurrence{
		ContextID:  "room-1",
		Body:       "hello everyone",
		Priorities: map[string]float64{"ada": 0.9, "bob": 0.4},
	})
	require.NoError(t, err)
	assert.NotEmpty(t, delivery.EventID)
	assert.Equal(t, []string{"ada", "bob"}, delivery.Accepted)
	assert.Empty(t, delivery.Dropped)
	assert.Empty(t, delivery.Unknown)

	ada, _ := swarm.Agent("ada")
	bob, _ := swarm.Agent("bob")
	adaTop := ada.Inbox.Peek(1)
	bobTop := bob.Inbox.Peek(1)
	require.Len(t, adaTop, 1)
	require.Len(t, bobTop, 1)

	// Same event id everywhere so all reactions converge on one trigger,
	// but each persona sees its own priority.
	assert.Equal(t, delivery.EventID, adaTop[0].Event.ID)
	assert.Equal(t, delivery.EventID, bobTop[0].Event.ID)
	assert.Equal(t, schema.ClampPriority(0.9), adaTop[0].Event.Priority)
	assert.Equal(t, schema.ClampPriority(0.4), bobTop[0].Event.Priority)
}

func TestBroadcastSkipsPersonasWithoutPriority(t *testing.T) {
	swarm := newTestSwarm(t)
	ing := &Ingestor{Swarm: swarm}

	_, err := ing.Broadcast(context.Background(), Occurrence{
		ContextID:  "room-1",
		Body:       "only for ada",
		Priorities: map[string]float64{"ada": 0.5},
	})
	require.NoError(t, err)

	bob, _ := swarm.Agent("bob")
	assert.Equal(t, 0, bob.Inbox.Size())
}

func TestBroadcastReportsUnknownPersonas(t *testing.T) {
	swarm := newTestSwarm(t)
	ing := &Ingestor{Swarm: swarm}

	delivery, err := ing.Broadcast(context.Background(), Occurrence{
		ContextID:  "room-1",
		Body:       "hi",
		Priorities: map[string]float64{"ada": 0.5, "ghost": 0.9},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"ada"}, delivery.Accepted)
	assert.Equal(t, []string{"ghost"}, delivery.Unknown)
}

func TestBroadcastReportsDroppedDeliveries(t *testing.T) {
	swarm := newTestSwarm(t, scheduler.PersonaSpec{ID: "ada", Name: "Ada", InboxCapacity: 1})
	ada, _ := swarm.Agent("ada")
	require.True(t, ada.Inbox.Enqueue(inbox.Event{
		ID:        "blocker",
		ContextID: "room-1",
		Body:      "urgent",
		Timestamp: time.Now().UTC(),
		Priority:  schema.ClampPriority(0.95),
	}))

	ing := &Ingestor{Swarm: swarm}
	delivery, err := ing.Broadcast(context.Background(), Occurrence{
		ContextID:  "room-1",
		Body:       "low priority chatter",
		Priorities: map[string]float64{"ada": 0.2},
	})
	require.NoError(t, err)
	assert.Empty(t, delivery.Accepted)
	assert.Equal(t, []string{"ada"}, delivery.Dropped)
}

func TestBroadcastValidation(t *testing.T) {
	ing := &Ingestor{Swarm: newTestSwarm(t)}
	ctx := context.Background()

	_, err := ing.Broadcast(ctx, Occurrence{Body: "x", Priorities: map[string]float64{"ada": 1}})
	assert.Error(t, err, "missing context id")

	_, err = ing.Broadcast(ctx, Occurrence{ContextID: "room-1", Priorities: map[string]float64{"ada": 1}})
	assert.Error(t, err, "missing body")

	_, err = ing.Broadcast(ctx, Occurrence{ContextID: "room-1", Body: "x"})
	assert.Error(t, err, "missing priorities")
}

func TestBroadcastJournalsOccurrence(t *testing.T) {
	db, cleanup := testutil.OpenTestDB(t)
	t.Cleanup(cleanup)
	jrnl := journal.New(db)

	ing := &Ingestor{Swarm: newTestSwarm(t), Journal: jrnl}
	delivery, err := ing.Broadcast(context.Background(), Occurrence{
		ContextID:  "room-1",
		Subject:    "New message",
		Body:       "hello",
		Priorities: map[string]float64{"ada": 0.7},
	})
	require.NoError(t, err)

	records, err := jrnl.List(context.Background(), schema.StreamEvents, journal.ListOptions{})
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "hello", records[0].Body)
	assert.Equal(t, delivery.EventID, records[0].Metadata[schema.MetaEventID])
}
