package state

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

type Store struct {
	db *sql.DB
}

func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

type Persona struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Status    string    `json:"status"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

const (
	PersonaRunning = "running"
	PersonaStopped = "stopped"
)

// UpsertPersona registers a persona or updates its status if it already exists.
func (s *Store) UpsertPersona(ctx context.Context, id, name, status string) (Persona, error) {
	if id == "" {
		return Persona{}, fmt.Errorf("persona id is required")
	}
	now := time.Now().UTC()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO personas (id, name, status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET name = excluded.name, status = excluded.status, updated_at = excluded.updated_at
	`, id, name, status, now.Format(time.RFC3339Nano), now.Format(time.RFC3339Nano))
	if err != nil {
		return Persona{}, fmt.Errorf("upsert persona: %w", err)
	}
	return Persona{ID: id, Name: name, Status: status, CreatedAt: now, UpdatedAt: now}, nil
}

func (s *Store) SetPersonaStatus(ctx context.Context, id, status string) error {
	now := time.Now().UTC()
	_, err := s.db.ExecContext(ctx, `UPDATE personas SET status = ?, updated_at = ? WHERE id = ?`,
		status, now.Format(time.RFC3339Nano), id)
	if err != nil {
		return fmt.Errorf("update persona status: %w", err)
	}
	return nil
}

func (s *Store) ListPersonas(ctx context.Context, limit int) ([]Persona, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `SELECT id, name, status, created_at, updated_at FROM personas ORDER BY created_at ASC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("list personas: %w", err)
	}
	defer rows.Close()

	var out []Persona
	for rows.Next() {
		var p Persona
		var createdAtStr, updatedAtStr string
		if err := rows.Scan(&p.ID, &p.Name, &p.Status, &createdAtStr, &updatedAtStr); err != nil {
			return nil, fmt.Errorf("scan persona: %w", err)
		}
		p.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAtStr)
		p.UpdatedAt, _ = time.Parse(time.RFC3339Nano, updatedAtStr)
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate personas: %w", err)
	}
	return out, nil
}
