package state_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flitsinc/go-swarm/internal/state"
	"github.com/flitsinc/go-swarm/internal/testutil"
)

func newTestStore(t *testing.T) *state.Store {
	t.Helper()
	db, cleanup := testutil.OpenTestDB(t)
	t.Cleanup(cleanup)
	return state.NewStore(db)
}

func TestUpsertAndListPersonas(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	p, err := s.UpsertPersona(ctx, "ada", "Ada", state.PersonaRunning)
	require.NoError(t, err)
	assert.Equal(t, "ada", p.ID)
	assert.Equal(t, state.PersonaRunning, p.Status)

	_, err = s.UpsertPersona(ctx, "bob", "Bob", state.PersonaRunning)
	require.NoError(t, err)

	personas, err := s.ListPersonas(ctx, 0)
	require.NoError(t, err)
	require.Len(t, personas, 2)
}

func TestUpsertPersonaUpdatesExisting(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.UpsertPersona(ctx, "ada", "Ada", state.PersonaRunning)
	require.NoError(t, err)
	_, err = s.UpsertPersona(ctx, "ada", "Ada Lovelace", state.PersonaStopped)
	require.NoError(t, err)

	personas, err := s.ListPersonas(ctx, 10)
	require.NoError(t, err)
	require.Len(t, personas, 1)
	assert.Equal(t, "Ada Lovelace", personas[0].Name)
	assert.Equal(t, state.PersonaStopped, personas[0].Status)
}

func TestUpsertPersonaRequiresID(t *testing.T) {
	s := newTestStore(t)
	_, err := s.UpsertPersona(context.Background(), "", "Nameless", state.PersonaRunning)
	assert.Error(t, err)
}

func TestSetPersonaStatus(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.UpsertPersona(ctx, "ada", "Ada", state.PersonaRunning)
	require.NoError(t, err)
	require.NoError(t, s.SetPersonaStatus(ctx, "ada", state.PersonaStopped))

	personas, err := s.ListPersonas(ctx, 10)
	require.NoError(t, err)
	require.Len(t, personas, 1)
	assert.Equal(t, state.PersonaStopped, personas[0].Status)
}
