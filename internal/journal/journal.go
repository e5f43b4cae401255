package journal

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/flitsinc/go-swarm/internal/schema"
)

// Journal is an append-only record log over sqlite with in-memory
// fan-out to live subscribers. It is an observability surface: records
// are never consumed, only listed and streamed.
type Journal struct {
	db *sql.DB

	mu   sync.RWMutex
	subs map[string]*subscriber
}

type subscriber struct {
	streams map[string]struct{}
	ch      chan Record
}

func New(db *sql.DB) *Journal {
	return &Journal{db: db, subs: map[string]*subscriber{}}
}

type Record struct {
	ID        string         `json:"id"`
	Stream    string         `json:"stream"`
	AgentID   string         `json:"agent_id,omitempty"`
	ContextID string         `json:"context_id,omitempty"`
	Subject   string         `json:"subject,omitempty"`
	Body      string         `json:"body"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}

type RecordInput struct {
	Stream    string
	AgentID   string
	ContextID string
	Subject   string
	Body      string
	Metadata  map[string]any
}

type ListOptions struct {
	AgentID   string
	ContextID string
	Limit     int
	Order     string
}

func (j *Journal) Append(ctx context.Context, input RecordInput) (Record, error) {
	if !schema.KnownStream(input.Stream) {
		return Record{}, fmt.Errorf("unknown stream %q", input.Stream)
	}
	if strings.TrimSpace(input.Body) == "" {
		return Record{}, fmt.Errorf("body is required")
	}

	id := ulid.Make().String()
	createdAt := time.Now().UTC()
	metadataJSON, err := encodeJSON(input.Metadata)
	if err != nil {
		return Record{}, fmt.Errorf("encode metadata: %w", err)
	}

	_, err = j.db.ExecContext(ctx, `
		INSERT INTO journal (id, stream, agent_id, context_id, subject, body, metadata, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, id, input.Stream, nullString(input.AgentID), nullString(input.ContextID), nullString(input.Subject), input.Body, metadataJSON, createdAt.Format(time.RFC3339Nano))
	if err != nil {
		return Record{}, fmt.Errorf("insert record: %w", err)
	}

	record := Record{
		ID:        id,
		Stream:    input.Stream,
		AgentID:   input.AgentID,
		ContextID: input.ContextID,
		Subject:   input.Subject,
		Body:      input.Body,
		Metadata:  input.Metadata,
		CreatedAt: createdAt,
	}

	j.broadcast(record)
	return record, nil
}

func (j *Journal) List(ctx context.Context, stream string, opts ListOptions) ([]Record, error) {
	if !schema.KnownStream(stream) {
		return nil, fmt.Errorf("unknown stream %q", stream)
	}
	limit := opts.Limit
	if limit <= 0 {
		limit = 50
	}
	orderBy := "created_at DESC"
	if strings.EqualFold(opts.Order, "fifo") {
		orderBy = "created_at ASC"
	}

	where := "WHERE stream = ?"
	args := []any{stream}
	if opts.AgentID != "" {
		where += " AND agent_id = ?"
		args = append(args, opts.AgentID)
	}
	if opts.ContextID != "" {
		where += " AND context_id = ?"
		args = append(args, opts.ContextID)
	}
	query := fmt.Sprintf(`SELECT id, stream, agent_id, context_id, subject, body, metadata, created_at FROM journal %s ORDER BY %s LIMIT ?`, where, orderBy)
	args = append(args, limit)

	rows, err := j.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list records: %w", err)
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		var rec Record
		var agentID, contextID, subject, metadataStr sql.NullString
		var createdAtStr string
		if err := rows.Scan(&rec.ID, &rec.Stream, &agentID, &contextID, &subject, &rec.Body, &metadataStr, &createdAtStr); err != nil {
			return nil, fmt.Errorf("scan record: %w", err)
		}
		rec.AgentID = agentID.String
		rec.ContextID = contextID.String
		rec.Subject = subject.String
		rec.Metadata = decodeJSONMap(metadataStr.String)
		rec.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAtStr)
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate records: %w", err)
	}
	return out, nil
}

// Subscribe delivers records appended after the call, filtered to the
// given streams (all streams when empty). The channel closes when ctx is
// done. Slow subscribers miss records rather than block appends.
func (j *Journal) Subscribe(ctx context.Context, streams []string) <-chan Record {
	ch := make(chan Record, 64)
	streamSet := map[string]struct{}{}
	for _, s := range streams {
		if s == "" {
			continue
		}
		streamSet[s] = struct{}{}
	}
	id := ulid.Make().String()

	sub := &subscriber{streams: streamSet, ch: ch}
	j.mu.Lock()
	j.subs[id] = sub
	j.mu.Unlock()

	go func() {
		<-ctx.Done()
		j.mu.Lock()
		delete(j.subs, id)
		j.mu.Unlock()
		close(ch)
	}()

	return ch
}

func (j *Journal) SubscriberCount() int {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return len(j.subs)
}

func (j *Journal) broadcast(record Record) {
	j.mu.RLock()
	defer j.mu.RUnlock()
	for _, sub := range j.subs {
		if len(sub.streams) > 0 {
			if _, ok := sub.streams[record.Stream]; !ok {
				continue
			}
		}
		select {
		case sub.ch <- record:
		default:
			// Drop if subscriber is slow.
		}
	}
}

func encodeJSON(v any) (string, error) {
	if v == nil {
		return "", nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func decodeJSONMap(v string) map[string]any {
	if v == "" {
		return nil
	}
	var out map[string]any
	if err := json.Unmarshal([]byte(v), &out); err != nil {
		return nil
	}
	return out
}

func nullString(v string) any {
	if v == "" {
		return nil
	}
	return v
}
