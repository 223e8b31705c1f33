package databases

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// CuriosityThread is a SEED_THREAD-created exploration, distinct from the
// conversational Thread: it is not tied to a (user, channel, platform)
// triple and only ever exists because the drift engine opened it (§4.11).
type CuriosityThread struct {
	ID          uuid.UUID
	SeedTopic   string
	SeedConcept string
	Opening     string
	Active      bool
	CreatedAt   time.Time
	ClosedAt    *time.Time
}

// CuriosityThreadStore is the durable curiosity-thread store.
type CuriosityThreadStore struct {
	pool *pgxpool.Pool
}

// NewCuriosityThreadStore builds a Postgres-backed curiosity-thread store.
func NewCuriosityThreadStore(pool *pgxpool.Pool) *CuriosityThreadStore {
	return &CuriosityThreadStore{pool: pool}
}

// Create opens a new curiosity thread, the SEED_THREAD action's effect.
func (s *CuriosityThreadStore) Create(ctx context.Context, t CuriosityThread) (CuriosityThread, error) {
	row := s.pool.QueryRow(ctx, `
INSERT INTO curiosity_threads (seed_topic, seed_concept, opening)
VALUES ($1,$2,$3)
RETURNING id, seed_topic, seed_concept, opening, active, created_at, closed_at`,
		t.SeedTopic, t.SeedConcept, t.Opening)
	return scanCuriosityThreadRow(row)
}

// ActiveForTopic reports whether seedTopic already has an open curiosity
// thread, SEED_THREAD's "no active thread for same seed_topic" gate.
func (s *CuriosityThreadStore) ActiveForTopic(ctx context.Context, seedTopic string) (bool, error) {
	var exists bool
	err := s.pool.QueryRow(ctx, `
SELECT EXISTS(SELECT 1 FROM curiosity_threads WHERE seed_topic = $1 AND active = TRUE)`, seedTopic).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check active curiosity thread: %w", err)
	}
	return exists, nil
}

// CountActive reports how many curiosity threads are currently open,
// SEED_THREAD's "<=5 active threads" gate.
func (s *CuriosityThreadStore) CountActive(ctx context.Context) (int, error) {
	var count int
	err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM curiosity_threads WHERE active = TRUE`).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count active curiosity threads: %w", err)
	}
	return count, nil
}

// MostRecentCreatedAt returns the creation time of the most recently
// opened curiosity thread (active or not), used for SEED_THREAD's 24h
// global cooldown. ok is false if none has ever been created.
func (s *CuriosityThreadStore) MostRecentCreatedAt(ctx context.Context) (time.Time, bool, error) {
	var createdAt time.Time
	err := s.pool.QueryRow(ctx, `SELECT created_at FROM curiosity_threads ORDER BY created_at DESC LIMIT 1`).Scan(&createdAt)
	if err == pgx.ErrNoRows {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, fmt.Errorf("query most recent curiosity thread: %w", err)
	}
	return createdAt, true, nil
}

// Close marks a curiosity thread inactive.
func (s *CuriosityThreadStore) Close(ctx context.Context, id uuid.UUID) error {
	_, err := s.pool.Exec(ctx, `UPDATE curiosity_threads SET active = FALSE, closed_at = NOW() WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("close curiosity thread: %w", err)
	}
	return nil
}

func scanCuriosityThreadRow(row pgx.Row) (CuriosityThread, error) {
	var t CuriosityThread
	if err := row.Scan(&t.ID, &t.SeedTopic, &t.SeedConcept, &t.Opening, &t.Active, &t.CreatedAt, &t.ClosedAt); err != nil {
		return CuriosityThread{}, fmt.Errorf("scan curiosity thread: %w", err)
	}
	return t, nil
}
