package databases

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// IdentityDimensionNames are the six named identity dimensions (spec §3/§4.9).
var IdentityDimensionNames = [6]string{
	"curiosity", "assertiveness", "warmth", "playfulness", "skepticism", "emotional_intensity",
}

// IdentityVector is one of the six named personality dimensions, each with
// a baseline, current activation, and its own plasticity/inertia tuning.
type IdentityVector struct {
	Dimension         string
	Baseline          float64
	Activation        float64
	PlasticityRate    float64
	InertiaRate       float64
	MinCap            float64
	MaxCap            float64
	SignalHistory      []float64 // bounded ring buffer, size 20
	ReinforcementCount int
	DriftToday         float64
	DriftWindowStart   time.Time
	UpdatedAt          time.Time
}

// IdentityEvent is an append-only log entry recording every reinforcement,
// inertia pull, baseline drift, and coherence nudge applied to a dimension.
// Supplements the spec's data model (see SPEC_FULL.md §3) so the voice
// mapper and operators can audit how a baseline moved over time.
type IdentityEvent struct {
	ID        int64
	Dimension string
	EventType string // reinforce|inertia|drift|coherence
	Delta     float64
	Detail    map[string]any
	CreatedAt time.Time
}

// IdentityStore is the durable identity-vector store (C9). Callers must only
// mutate vectors through the identity service (internal/identity); this
// store is the persistence boundary, not a place to write rows directly.
type IdentityStore struct {
	pool *pgxpool.Pool
}

// NewIdentityStore builds a Postgres-backed identity store.
func NewIdentityStore(pool *pgxpool.Pool) *IdentityStore {
	return &IdentityStore{pool: pool}
}

// Get returns one dimension's vector.
func (s *IdentityStore) Get(ctx context.Context, dimension string) (IdentityVector, error) {
	row := s.pool.QueryRow(ctx, `
SELECT dimension, baseline, activation, plasticity_rate, inertia_rate, min_cap, max_cap,
       signal_history, reinforcement_count, drift_today, drift_window_start, updated_at
FROM identity_vectors WHERE dimension = $1`, dimension)
	return scanIdentityVectorRow(row)
}

// All returns all six identity vectors.
func (s *IdentityStore) All(ctx context.Context) ([]IdentityVector, error) {
	rows, err := s.pool.Query(ctx, `
SELECT dimension, baseline, activation, plasticity_rate, inertia_rate, min_cap, max_cap,
       signal_history, reinforcement_count, drift_today, drift_window_start, updated_at
FROM identity_vectors ORDER BY dimension`)
	if err != nil {
		return nil, fmt.Errorf("query identity vectors: %w", err)
	}
	defer rows.Close()

	var out []IdentityVector
	for rows.Next() {
		v, err := scanIdentityVector(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

// Save persists the full state of one dimension, as computed by the
// identity service after reinforcement, inertia, drift, or coherence
// adjustments (§4.9). evt is appended to the audit log in the same
// transaction; pass a nil evt for a plain save with no auditable event.
func (s *IdentityStore) Save(ctx context.Context, v IdentityVector, evt *IdentityEvent) error {
	historyBytes, err := json.Marshal(v.SignalHistory)
	if err != nil {
		return fmt.Errorf("marshal signal history: %w", err)
	}

	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	_, err = tx.Exec(ctx, `
UPDATE identity_vectors SET
    baseline = $2, activation = $3, plasticity_rate = $4, inertia_rate = $5,
    min_cap = $6, max_cap = $7, signal_history = $8, reinforcement_count = $9,
    drift_today = $10, drift_window_start = $11, updated_at = NOW()
WHERE dimension = $1`,
		v.Dimension, v.Baseline, v.Activation, v.PlasticityRate, v.InertiaRate,
		v.MinCap, v.MaxCap, historyBytes, v.ReinforcementCount, v.DriftToday, v.DriftWindowStart)
	if err != nil {
		return fmt.Errorf("update identity vector: %w", err)
	}

	if evt != nil {
		detailBytes, err := json.Marshal(evt.Detail)
		if err != nil {
			return fmt.Errorf("marshal event detail: %w", err)
		}
		if _, err := tx.Exec(ctx, `
INSERT INTO identity_events (dimension, event_type, delta, detail) VALUES ($1,$2,$3,$4)`,
			evt.Dimension, evt.EventType, evt.Delta, detailBytes); err != nil {
			return fmt.Errorf("insert identity event: %w", err)
		}
	}

	return tx.Commit(ctx)
}

// RecentEvents returns the audit log for one dimension, newest first.
func (s *IdentityStore) RecentEvents(ctx context.Context, dimension string, limit int) ([]IdentityEvent, error) {
	rows, err := s.pool.Query(ctx, `
SELECT id, dimension, event_type, delta, detail, created_at
FROM identity_events WHERE dimension = $1 ORDER BY created_at DESC LIMIT $2`, dimension, limit)
	if err != nil {
		return nil, fmt.Errorf("query identity events: %w", err)
	}
	defer rows.Close()

	var out []IdentityEvent
	for rows.Next() {
		var e IdentityEvent
		var detailBytes []byte
		if err := rows.Scan(&e.ID, &e.Dimension, &e.EventType, &e.Delta, &detailBytes, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan identity event: %w", err)
		}
		_ = json.Unmarshal(detailBytes, &e.Detail)
		out = append(out, e)
	}
	return out, rows.Err()
}

func scanIdentityVector(rows pgx.Rows) (IdentityVector, error) {
	var v IdentityVector
	var historyBytes []byte
	if err := rows.Scan(&v.Dimension, &v.Baseline, &v.Activation, &v.PlasticityRate, &v.InertiaRate,
		&v.MinCap, &v.MaxCap, &historyBytes, &v.ReinforcementCount, &v.DriftToday, &v.DriftWindowStart, &v.UpdatedAt); err != nil {
		return IdentityVector{}, fmt.Errorf("scan identity vector: %w", err)
	}
	_ = json.Unmarshal(historyBytes, &v.SignalHistory)
	return v, nil
}

func scanIdentityVectorRow(row pgx.Row) (IdentityVector, error) {
	var v IdentityVector
	var historyBytes []byte
	if err := row.Scan(&v.Dimension, &v.Baseline, &v.Activation, &v.PlasticityRate, &v.InertiaRate,
		&v.MinCap, &v.MaxCap, &historyBytes, &v.ReinforcementCount, &v.DriftToday, &v.DriftWindowStart, &v.UpdatedAt); err != nil {
		return IdentityVector{}, fmt.Errorf("scan identity vector: %w", err)
	}
	_ = json.Unmarshal(historyBytes, &v.SignalHistory)
	return v, nil
}
