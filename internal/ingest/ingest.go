package ingest

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/flitsinc/go-swarm/internal/inbox"
	"github.com/flitsinc/go-swarm/internal/journal"
	"github.com/flitsinc/go-swarm/internal/schema"
	"github.com/flitsinc/go-swarm/internal/scheduler"
)

// Occurrence is one raw happening (e.g. a chat message) as handed over
// by the host. The host decides which personas are relevant and what the
// occurrence is worth to each of them; the core only routes.
type Occurrence struct {
	ContextID string         `json:"context_id"`
	Subject   string         `json:"subject,omitempty"`
	Body      string         `json:"body"`
	Payload   map[string]any `json:"payload,omitempty"`
	// Priorities maps persona id to a [0,1] score. Personas absent from
	// the map never see the occurrence.
	Priorities map[string]float64 `json:"priorities"`
}

// Delivery reports how a broadcast landed.
type Delivery struct {
	EventID  string   `json:"event_id"`
	Accepted []string `json:"accepted"`
	Dropped  []string `json:"dropped"`
	Unknown  []string `json:"unknown,omitempty"`
}

// Ingestor is the event-ingestion boundary: it fans one occurrence out
// into per-persona inbox events sharing a single event id, so that every
// persona reacting to it converges on the same coordination trigger.
type Ingestor struct {
	Swarm   *scheduler.Swarm
	Journal *journal.Journal
}

func (i *Ingestor) Broadcast(ctx context.Context, occ Occurrence) (Delivery, error) {
	if strings.TrimSpace(occ.ContextID) == "" {
		return Delivery{}, fmt.Errorf("context_id is required")
	}
	if strings.TrimSpace(occ.Body) == "" {
		return Delivery{}, fmt.Errorf("body is required")
	}
	if len(occ.Priorities) == 0 {
		return Delivery{}, fmt.Errorf("priorities are required")
	}

	eventID := ulid.Make().String()
	timestamp := time.Now().UTC()
	delivery := Delivery{EventID: eventID}

	// Deterministic delivery order keeps logs and tests stable.
	agentIDs := make([]string, 0, len(occ.Priorities))
	for agentID := range occ.Priorities {
		agentIDs = append(agentIDs, agentID)
	}
	sort.Strings(agentIDs)

	for _, agentID := range agentIDs {
		if _, ok := i.Swarm.Agent(agentID); !ok {
			delivery.Unknown = append(delivery.Unknown, agentID)
			continue
		}
		evt := inbox.Event{
			ID:        eventID,
			ContextID: occ.ContextID,
			Subject:   occ.Subject,
			Body:      occ.Body,
			Payload:   occ.Payload,
			Timestamp: timestamp,
			Priority:  schema.ClampPriority(occ.Priorities[agentID]),
		}
		if i.Swarm.Deliver(agentID, evt) {
			delivery.Accepted = append(delivery.Accepted, agentID)
		} else {
			delivery.Dropped = append(delivery.Dropped, agentID)
		}
	}

	if i.Journal != nil {
		_, _ = i.Journal.Append(ctx, journal.RecordInput{
			Stream:    schema.StreamEvents,
			ContextID: occ.ContextID,
			Subject:   occ.Subject,
			Body:      occ.Body,
			Metadata: map[string]any{
				schema.MetaEventID: eventID,
				"accepted":         len(delivery.Accepted),
				"dropped":          len(delivery.Dropped),
			},
		})
	}
	return delivery, nil
}
