package databases

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Cycle is a correlation record for one reasoning operation (spec §3):
// user_input, fast_response, tool_work, and their descendants form a tree
// via parent_cycle_id/root_cycle_id so a full request can be traced end to
// end across queues and workers.
type Cycle struct {
	ID           uuid.UUID
	ParentID     *uuid.UUID
	RootID       uuid.UUID
	Type         string // user_input|fast_response|tool_work|...
	Topic        string
	Status       string // processing|completed|cancelled|failed
	CreatedAt    time.Time
	CompletedAt  *time.Time
}

// CycleStore is the durable cycle-correlation store.
type CycleStore struct {
	pool *pgxpool.Pool
}

// NewCycleStore builds a Postgres-backed cycle store.
func NewCycleStore(pool *pgxpool.Pool) *CycleStore {
	return &CycleStore{pool: pool}
}

// Create inserts a new cycle record. If ParentID is nil, the cycle is its
// own root.
func (s *CycleStore) Create(ctx context.Context, c Cycle) (Cycle, error) {
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	if c.RootID == uuid.Nil {
		c.RootID = c.ID
	}
	if c.Status == "" {
		c.Status = "processing"
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now().UTC()
	}

	_, err := s.pool.Exec(ctx, `
INSERT INTO cycles (id, parent_cycle_id, root_cycle_id, type, topic, status, created_at)
VALUES ($1,$2,$3,$4,$5,$6,$7)`,
		c.ID, c.ParentID, c.RootID, c.Type, c.Topic, c.Status, c.CreatedAt)
	if err != nil {
		return Cycle{}, fmt.Errorf("insert cycle: %w", err)
	}
	return c, nil
}

// SetStatus transitions a cycle's status, stamping completed_at for
// terminal states.
func (s *CycleStore) SetStatus(ctx context.Context, id uuid.UUID, status string) error {
	var completedAt *time.Time
	if status == "completed" || status == "cancelled" || status == "failed" {
		now := time.Now().UTC()
		completedAt = &now
	}
	_, err := s.pool.Exec(ctx, `
UPDATE cycles SET status = $2, completed_at = $3 WHERE id = $1`, id, status, completedAt)
	if err != nil {
		return fmt.Errorf("set cycle status: %w", err)
	}
	return nil
}

// ActiveByTopic returns in-flight (processing) cycles for a topic, used to
// detect an in-flight tool-work cycle on a semantically similar prompt
// (§4.4 Phase C) and to cancel active tool-work on a cancel/self-resolved
// intent.
func (s *CycleStore) ActiveByTopic(ctx context.Context, topic string, cycleType string) ([]Cycle, error) {
	rows, err := s.pool.Query(ctx, `
SELECT id, parent_cycle_id, root_cycle_id, type, topic, status, created_at, completed_at
FROM cycles WHERE topic = $1 AND type = $2 AND status = 'processing'
ORDER BY created_at DESC`, topic, cycleType)
	if err != nil {
		return nil, fmt.Errorf("query active cycles: %w", err)
	}
	defer rows.Close()

	var out []Cycle
	for rows.Next() {
		var c Cycle
		if err := rows.Scan(&c.ID, &c.ParentID, &c.RootID, &c.Type, &c.Topic, &c.Status, &c.CreatedAt, &c.CompletedAt); err != nil {
			return nil, fmt.Errorf("scan cycle: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}
