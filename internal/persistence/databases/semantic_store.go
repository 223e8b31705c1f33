package databases

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// SemanticConcept is extracted/merged during batch consolidation of episodes
// (spec C7). Strength has a 0.2 floor.
type SemanticConcept struct {
	ID             uuid.UUID
	Name           string
	Definition     string
	Strength       float64 // [0.2,1]
	DecayResistance float64
	AccessCount    int
	Embedding      []float32
	CreatedAt      time.Time
	LastAccessedAt time.Time
}

// SemanticRelationship links two concepts, also produced by consolidation.
type SemanticRelationship struct {
	ID        uuid.UUID
	FromID    uuid.UUID
	ToID      uuid.UUID
	Relation  string
	Weight    float64
	CreatedAt time.Time
}

// SemanticStore is the durable concepts+relationships store (C7).
type SemanticStore struct {
	pool *pgxpool.Pool
}

// NewSemanticStore builds a Postgres-backed semantic store.
func NewSemanticStore(pool *pgxpool.Pool) *SemanticStore {
	return &SemanticStore{pool: pool}
}

// UpsertConcept creates a concept or merges into an existing one by name,
// as produced by the semantic-consolidation worker's batch extraction.
func (s *SemanticStore) UpsertConcept(ctx context.Context, c SemanticConcept) (SemanticConcept, error) {
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	if c.Strength == 0 {
		c.Strength = 0.5
	}
	embBytes, err := json.Marshal(c.Embedding)
	if err != nil {
		return SemanticConcept{}, fmt.Errorf("marshal embedding: %w", err)
	}

	row := s.pool.QueryRow(ctx, `
INSERT INTO semantic_concepts (id, name, definition, strength, decay_resistance, embedding)
VALUES ($1,$2,$3,$4,$5,$6)
ON CONFLICT (name) DO UPDATE SET
    definition = EXCLUDED.definition,
    strength = LEAST(1.0, GREATEST(0.2, (semantic_concepts.strength + EXCLUDED.strength) / 2)),
    last_accessed_at = NOW()
RETURNING id, name, definition, strength, decay_resistance, access_count, embedding, created_at, last_accessed_at`,
		c.ID, c.Name, c.Definition, c.Strength, c.DecayResistance, embBytes)

	return scanSemanticConceptRow(row)
}

// LinkConcepts records a relationship between two concepts, idempotent on
// (from, to, relation).
func (s *SemanticStore) LinkConcepts(ctx context.Context, rel SemanticRelationship) error {
	if rel.ID == uuid.Nil {
		rel.ID = uuid.New()
	}
	if rel.Weight == 0 {
		rel.Weight = 1
	}
	_, err := s.pool.Exec(ctx, `
INSERT INTO semantic_relationships (id, from_id, to_id, relation, weight)
VALUES ($1,$2,$3,$4,$5)
ON CONFLICT (from_id, to_id, relation) DO UPDATE SET weight = EXCLUDED.weight`,
		rel.ID, rel.FromID, rel.ToID, rel.Relation, rel.Weight)
	if err != nil {
		return fmt.Errorf("link concepts: %w", err)
	}
	return nil
}

// Neighbors returns the concepts related to id, used by the drift engine to
// spread activation over recent semantic concepts (§4.11).
func (s *SemanticStore) Neighbors(ctx context.Context, id uuid.UUID, limit int) ([]SemanticConcept, error) {
	rows, err := s.pool.Query(ctx, `
SELECT c.id, c.name, c.definition, c.strength, c.decay_resistance, c.access_count, c.embedding, c.created_at, c.last_accessed_at
FROM semantic_relationships r
JOIN semantic_concepts c ON c.id = r.to_id
WHERE r.from_id = $1
ORDER BY r.weight DESC
LIMIT $2`, id, limit)
	if err != nil {
		return nil, fmt.Errorf("query neighbors: %w", err)
	}
	defer rows.Close()

	var out []SemanticConcept
	for rows.Next() {
		c, err := scanSemanticConcept(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// Strongest returns the highest-strength concepts, used to seed drift
// thoughts and to gate SUGGEST/SEED_THREAD's semantic-salience check.
func (s *SemanticStore) Strongest(ctx context.Context, limit int) ([]SemanticConcept, error) {
	rows, err := s.pool.Query(ctx, `
SELECT id, name, definition, strength, decay_resistance, access_count, embedding, created_at, last_accessed_at
FROM semantic_concepts
ORDER BY strength DESC, last_accessed_at DESC
LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("query strongest concepts: %w", err)
	}
	defer rows.Close()

	var out []SemanticConcept
	for rows.Next() {
		c, err := scanSemanticConcept(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// TouchAccess increments access_count for a batch of concepts, used by
// REFLECT to boost associated concepts on fire.
func (s *SemanticStore) TouchAccess(ctx context.Context, ids []uuid.UUID) error {
	if len(ids) == 0 {
		return nil
	}
	_, err := s.pool.Exec(ctx, `
UPDATE semantic_concepts SET access_count = access_count + 1, last_accessed_at = NOW() WHERE id = ANY($1)`, ids)
	return err
}

// ApplyStrengthDecay applies the linear decay formula from §4.10:
// strength <- max(0.2, strength - lambda*(1-decay_resistance)) for concepts
// not accessed within the last staleAfter window.
func (s *SemanticStore) ApplyStrengthDecay(ctx context.Context, lambda float64, staleAfter time.Duration) (int64, error) {
	tag, err := s.pool.Exec(ctx, `
UPDATE semantic_concepts
SET strength = GREATEST(0.2, strength - $1 * (1 - decay_resistance))
WHERE last_accessed_at < NOW() - $2::interval`, lambda, staleAfter)
	if err != nil {
		return 0, fmt.Errorf("decay semantic strength: %w", err)
	}
	return tag.RowsAffected(), nil
}

func scanSemanticConcept(rows pgx.Rows) (SemanticConcept, error) {
	var c SemanticConcept
	var embBytes []byte
	if err := rows.Scan(&c.ID, &c.Name, &c.Definition, &c.Strength, &c.DecayResistance, &c.AccessCount, &embBytes, &c.CreatedAt, &c.LastAccessedAt); err != nil {
		return SemanticConcept{}, fmt.Errorf("scan semantic concept: %w", err)
	}
	_ = json.Unmarshal(embBytes, &c.Embedding)
	return c, nil
}

func scanSemanticConceptRow(row pgx.Row) (SemanticConcept, error) {
	var c SemanticConcept
	var embBytes []byte
	if err := row.Scan(&c.ID, &c.Name, &c.Definition, &c.Strength, &c.DecayResistance, &c.AccessCount, &embBytes, &c.CreatedAt, &c.LastAccessedAt); err != nil {
		return SemanticConcept{}, fmt.Errorf("scan semantic concept: %w", err)
	}
	_ = json.Unmarshal(embBytes, &c.Embedding)
	return c, nil
}
