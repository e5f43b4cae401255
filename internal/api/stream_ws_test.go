package api

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flitsinc/go-swarm/internal/journal"
	"github.com/flitsinc/go-swarm/internal/schema"
	"github.com/flitsinc/go-swarm/internal/testutil"
)

type fakeWSWriter struct {
	msgs chan []byte
}

func (f *fakeWSWriter) Write(_ context.Context, _ websocket.MessageType, data []byte) error {
	f.msgs <- data
	return nil
}

func TestStreamRecords(t *testing.T) {
	db, cleanup := testutil.OpenTestDB(t)
	t.Cleanup(cleanup)
	jrnl := journal.New(db)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	writer := &fakeWSWriter{msgs: make(chan []byte, 8)}
	done := make(chan error, 1)
	go func() {
		done <- streamRecords(ctx, jrnl, []string{schema.StreamDispatches}, writer)
	}()

	require.Eventually(t, func() bool {
		return jrnl.SubscriberCount() == 1
	}, time.Second, 5*time.Millisecond)

	_, err := jrnl.Append(context.Background(), journal.RecordInput{
		Stream: schema.StreamEvents,
		Body:   "filtered out",
	})
	require.NoError(t, err)
	want, err := jrnl.Append(context.Background(), journal.RecordInput{
		Stream:    schema.StreamDispatches,
		AgentID:   "ada",
		ContextID: "room-1",
		Body:      "dispatched",
	})
	require.NoError(t, err)

	select {
	case data := <-writer.msgs:
		var rec journal.Record
		require.NoError(t, json.Unmarshal(data, &rec))
		assert.Equal(t, want.ID, rec.ID)
		assert.Equal(t, schema.StreamDispatches, rec.Stream)
	case <-time.After(time.Second):
		t.Fatal("record never streamed")
	}

	cancel()
	select {
	case err := <-done:
		assert.Error(t, err)
	case <-time.After(time.Second):
		t.Fatal("streamRecords did not stop on cancel")
	}
}
