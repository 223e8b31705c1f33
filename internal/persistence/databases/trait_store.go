package databases

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// UserTrait is a per-user trait record (spec C8). trait_store owns the
// record; category drives decay and retention per §4.10.
type UserTrait struct {
	ID                 uuid.UUID
	Key                string
	Value              string
	Category           string // core|preference|physical|relationship|general|communication_style|micro_preference
	Confidence         float64
	Source             string // explicit|inferred
	IsLiteral          bool
	ReinforcementCount int
	Embedding          []float32
	CreatedAt          time.Time
	LastReinforcedAt   time.Time
	LastConflictAt     *time.Time
	FloorSince         *time.Time
}

// TraitStore is the durable per-user trait store (C8).
type TraitStore struct {
	pool *pgxpool.Pool
}

// NewTraitStore builds a Postgres-backed trait store.
func NewTraitStore(pool *pgxpool.Pool) *TraitStore {
	return &TraitStore{pool: pool}
}

// Reinforce upserts a trait: a new key is inserted, an existing one has its
// confidence nudged toward the new observation and reinforcement_count bumped.
// A conflicting value (same key, different value) records last_conflict_at.
func (s *TraitStore) Reinforce(ctx context.Context, t UserTrait) (UserTrait, error) {
	if t.ID == uuid.Nil {
		t.ID = uuid.New()
	}
	embBytes, err := json.Marshal(t.Embedding)
	if err != nil {
		return UserTrait{}, fmt.Errorf("marshal embedding: %w", err)
	}

	row := s.pool.QueryRow(ctx, `
INSERT INTO user_traits (id, key, value, category, confidence, source, is_literal, reinforcement_count, embedding)
VALUES ($1,$2,$3,$4,$5,$6,$7,1,$8)
ON CONFLICT (key) DO UPDATE SET
    value = EXCLUDED.value,
    confidence = LEAST(1.0, (user_traits.confidence + EXCLUDED.confidence) / 2 + 0.05),
    reinforcement_count = user_traits.reinforcement_count + 1,
    last_reinforced_at = NOW(),
    last_conflict_at = CASE WHEN user_traits.value <> EXCLUDED.value THEN NOW() ELSE user_traits.last_conflict_at END,
    floor_since = NULL
RETURNING id, key, value, category, confidence, source, is_literal, reinforcement_count, embedding, created_at, last_reinforced_at, last_conflict_at, floor_since`,
		t.ID, t.Key, t.Value, t.Category, t.Confidence, t.Source, t.IsLiteral, embBytes)

	return scanTraitRow(row)
}

// ByCategory returns all traits in a category, used by the identity voice
// mapper and SUGGEST's trait-matching gate.
func (s *TraitStore) ByCategory(ctx context.Context, category string) ([]UserTrait, error) {
	rows, err := s.pool.Query(ctx, `
SELECT id, key, value, category, confidence, source, is_literal, reinforcement_count, embedding, created_at, last_reinforced_at, last_conflict_at, floor_since
FROM user_traits WHERE category = $1 ORDER BY confidence DESC`, category)
	if err != nil {
		return nil, fmt.Errorf("query traits by category: %w", err)
	}
	defer rows.Close()

	var out []UserTrait
	for rows.Next() {
		t, err := scanTrait(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// HighConfidence returns traits at or above a confidence floor, used by
// SUGGEST's "≥ 3 traits with confidence ≥ 0.7" gate.
func (s *TraitStore) HighConfidence(ctx context.Context, minConfidence float64) ([]UserTrait, error) {
	rows, err := s.pool.Query(ctx, `
SELECT id, key, value, category, confidence, source, is_literal, reinforcement_count, embedding, created_at, last_reinforced_at, last_conflict_at, floor_since
FROM user_traits WHERE confidence >= $1 ORDER BY confidence DESC`, minConfidence)
	if err != nil {
		return nil, fmt.Errorf("query high confidence traits: %w", err)
	}
	defer rows.Close()

	var out []UserTrait
	for rows.Next() {
		t, err := scanTrait(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// categoryDecayRate returns the per-category linear decay step from §4.10.
// Core/identity-adjacent traits decay slowest; micro-preferences fastest.
func categoryDecayRate(category string) float64 {
	switch category {
	case "core":
		return 0.002
	case "relationship", "communication_style":
		return 0.005
	case "preference", "physical":
		return 0.01
	case "micro_preference":
		return 0.03
	default:
		return 0.015
	}
}

// ApplyDecay applies per-category linear decay with a reinforcement-
// resistance factor of 1/log2(count+1) (1 for a count of 0); inferred
// sources decay 1.5x faster.
// Traits at the confidence floor (0) for 7 consecutive days are deleted.
func (s *TraitStore) ApplyDecay(ctx context.Context) (decayed int64, deleted int64, err error) {
	rows, err := s.pool.Query(ctx, `
SELECT id, key, value, category, confidence, source, is_literal, reinforcement_count, embedding, created_at, last_reinforced_at, last_conflict_at, floor_since
FROM user_traits`)
	if err != nil {
		return 0, 0, fmt.Errorf("query traits for decay: %w", err)
	}
	var all []UserTrait
	for rows.Next() {
		t, serr := scanTrait(rows)
		if serr != nil {
			rows.Close()
			return 0, 0, serr
		}
		all = append(all, t)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, 0, err
	}

	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return 0, 0, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	now := time.Now().UTC()
	var toDelete []uuid.UUID
	for _, t := range all {
		rate := categoryDecayRate(t.Category)
		resistance := 1.0
		if t.ReinforcementCount > 0 {
			resistance = 1.0 / math.Log2(float64(t.ReinforcementCount)+1)
		}
		if t.Source == "inferred" {
			rate *= 1.5
		}
		next := t.Confidence - rate*resistance
		if next < 0 {
			next = 0
		}

		if next <= 0 {
			floorSince := t.FloorSince
			if floorSince == nil {
				floorSince = &now
			}
			if now.Sub(*floorSince) >= 7*24*time.Hour {
				toDelete = append(toDelete, t.ID)
				continue
			}
			if _, err := tx.Exec(ctx, `UPDATE user_traits SET confidence = 0, floor_since = $1 WHERE id = $2`, floorSince, t.ID); err != nil {
				return 0, 0, err
			}
			decayed++
			continue
		}

		if _, err := tx.Exec(ctx, `UPDATE user_traits SET confidence = $1, floor_since = NULL WHERE id = $2`, next, t.ID); err != nil {
			return 0, 0, err
		}
		decayed++
	}

	if len(toDelete) > 0 {
		if _, err := tx.Exec(ctx, `DELETE FROM user_traits WHERE id = ANY($1)`, toDelete); err != nil {
			return 0, 0, err
		}
		deleted = int64(len(toDelete))
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, 0, err
	}
	return decayed, deleted, nil
}

func scanTrait(rows pgx.Rows) (UserTrait, error) {
	var t UserTrait
	var embBytes []byte
	if err := rows.Scan(&t.ID, &t.Key, &t.Value, &t.Category, &t.Confidence, &t.Source, &t.IsLiteral, &t.ReinforcementCount, &embBytes, &t.CreatedAt, &t.LastReinforcedAt, &t.LastConflictAt, &t.FloorSince); err != nil {
		return UserTrait{}, fmt.Errorf("scan trait: %w", err)
	}
	_ = json.Unmarshal(embBytes, &t.Embedding)
	return t, nil
}

func scanTraitRow(row pgx.Row) (UserTrait, error) {
	var t UserTrait
	var embBytes []byte
	if err := row.Scan(&t.ID, &t.Key, &t.Value, &t.Category, &t.Confidence, &t.Source, &t.IsLiteral, &t.ReinforcementCount, &embBytes, &t.CreatedAt, &t.LastReinforcedAt, &t.LastConflictAt, &t.FloorSince); err != nil {
		return UserTrait{}, fmt.Errorf("scan trait: %w", err)
	}
	_ = json.Unmarshal(embBytes, &t.Embedding)
	return t, nil
}
