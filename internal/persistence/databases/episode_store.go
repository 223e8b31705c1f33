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

// Episode is a durable record consolidated from a thread's recent chunked
// exchanges (spec C6). activation_score is touched on every read and decayed
// by the decay engine; effective freshness is computed at read time and never
// stored.
type Episode struct {
	ID                          uuid.UUID
	Topic                       string
	ExchangeID                  string
	Intent                      string
	Context                     string
	Action                      string
	Emotion                     string
	Outcome                     string
	Gist                        string
	Salience                    float64 // [1,10]
	FreshnessBase               float64
	Embedding                   []float32
	ActivationScore             float64
	AccessCount                 int
	SalienceFactors             map[string]any
	OpenLoops                   []string
	SemanticConsolidationStatus string // "" | empty | completed | failed
	Durability                  string // transient | evolving | cron_tool | ""
	CreatedAt                   time.Time
	LastAccessedAt              time.Time
	DeletedAt                   *time.Time
}

// EpisodeStore is the durable episodic memory store (C6).
type EpisodeStore struct {
	pool *pgxpool.Pool
}

// NewEpisodeStore builds a Postgres-backed episodic store.
func NewEpisodeStore(pool *pgxpool.Pool) *EpisodeStore {
	return &EpisodeStore{pool: pool}
}

// Create inserts a new episode, consolidated by the episodic worker (C18).
func (s *EpisodeStore) Create(ctx context.Context, e Episode) (Episode, error) {
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}
	e.LastAccessedAt = e.CreatedAt
	if e.ActivationScore == 0 {
		e.ActivationScore = 1
	}
	if e.FreshnessBase == 0 {
		e.FreshnessBase = 1
	}
	if e.Durability == "" {
		e.Durability = "evolving"
	}

	embBytes, err := json.Marshal(e.Embedding)
	if err != nil {
		return Episode{}, fmt.Errorf("marshal embedding: %w", err)
	}
	factorBytes, err := json.Marshal(e.SalienceFactors)
	if err != nil {
		return Episode{}, fmt.Errorf("marshal salience factors: %w", err)
	}
	loopBytes, err := json.Marshal(e.OpenLoops)
	if err != nil {
		return Episode{}, fmt.Errorf("marshal open loops: %w", err)
	}

	_, err = s.pool.Exec(ctx, `
INSERT INTO episodes (
    id, topic, exchange_id, intent, context, action, emotion, outcome, gist,
    salience, freshness_base, embedding, activation_score, access_count,
    salience_factors, open_loops, semantic_consolidation_status, durability,
    created_at, last_accessed_at
) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20)`,
		e.ID, e.Topic, e.ExchangeID, e.Intent, e.Context, e.Action, e.Emotion, e.Outcome, e.Gist,
		e.Salience, e.FreshnessBase, embBytes, e.ActivationScore, e.AccessCount,
		factorBytes, loopBytes, e.SemanticConsolidationStatus, e.Durability,
		e.CreatedAt, e.LastAccessedAt)
	if err != nil {
		return Episode{}, fmt.Errorf("insert episode: %w", err)
	}
	return e, nil
}

// RecentByTopic returns the most recent non-deleted episodes for a topic,
// touching activation_score (incrementing it) and last_accessed_at as a
// side effect of the read, per the C6 invariant.
func (s *EpisodeStore) RecentByTopic(ctx context.Context, topic string, limit int) ([]Episode, error) {
	rows, err := s.pool.Query(ctx, `
SELECT id, topic, exchange_id, intent, context, action, emotion, outcome, gist,
       salience, freshness_base, embedding, activation_score, access_count,
       salience_factors, open_loops, semantic_consolidation_status, durability,
       created_at, last_accessed_at
FROM episodes
WHERE topic = $1 AND deleted_at IS NULL
ORDER BY created_at DESC
LIMIT $2`, topic, limit)
	if err != nil {
		return nil, fmt.Errorf("query episodes: %w", err)
	}
	defer rows.Close()

	var out []Episode
	var ids []uuid.UUID
	for rows.Next() {
		e, err := scanEpisode(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
		ids = append(ids, e.ID)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(ids) > 0 {
		s.touch(ctx, ids)
	}
	return out, nil
}

// touch bumps activation_score and access_count on read; best-effort, errors
// are not propagated since a touch failure must not fail the retrieval path.
func (s *EpisodeStore) touch(ctx context.Context, ids []uuid.UUID) {
	_, _ = s.pool.Exec(ctx, `
UPDATE episodes
SET activation_score = activation_score + 1, access_count = access_count + 1, last_accessed_at = NOW()
WHERE id = ANY($1)`, ids)
}

// ApplyActivationDecay applies the decay engine's exponential formula (§4.10)
// to every episode whose last access is older than 1 hour:
// activation <- max(0.1, activation * exp(-lambda * durability_mult * deltaHours)).
func (s *EpisodeStore) ApplyActivationDecay(ctx context.Context, lambda float64) (int64, error) {
	tag, err := s.pool.Exec(ctx, `
UPDATE episodes
SET activation_score = GREATEST(
    0.1,
    activation_score * EXP(
        -$1 * (CASE durability WHEN 'transient' THEN 2.0 WHEN 'evolving' THEN 1.5 WHEN 'cron_tool' THEN 3.0 ELSE 1.0 END)
        * EXTRACT(EPOCH FROM (NOW() - last_accessed_at)) / 3600.0
    )
)
WHERE deleted_at IS NULL AND last_accessed_at < NOW() - INTERVAL '1 hour'`, lambda)
	if err != nil {
		return 0, fmt.Errorf("decay episode activation: %w", err)
	}
	return tag.RowsAffected(), nil
}

// PendingConsolidation returns episodes whose semantic_consolidation_status
// is ready for the batch semantic-consolidation worker (C19): unset or a
// retryable terminal state ("empty"/"failed").
func (s *EpisodeStore) PendingConsolidation(ctx context.Context, limit int) ([]Episode, error) {
	rows, err := s.pool.Query(ctx, `
SELECT id, topic, exchange_id, intent, context, action, emotion, outcome, gist,
       salience, freshness_base, embedding, activation_score, access_count,
       salience_factors, open_loops, semantic_consolidation_status, durability,
       created_at, last_accessed_at
FROM episodes
WHERE deleted_at IS NULL
  AND semantic_consolidation_status IN ('', 'empty', 'failed')
ORDER BY created_at ASC
LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("query pending consolidation: %w", err)
	}
	defer rows.Close()

	var out []Episode
	for rows.Next() {
		e, err := scanEpisode(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// CountPendingConsolidation reports how many episodes are awaiting
// semantic consolidation, used by the idle-consolidation scheduler (C22)
// to decide whether enough have accumulated to trigger a batch without
// fetching the rows themselves.
func (s *EpisodeStore) CountPendingConsolidation(ctx context.Context) (int64, error) {
	var count int64
	err := s.pool.QueryRow(ctx, `
SELECT COUNT(*) FROM episodes
WHERE deleted_at IS NULL AND semantic_consolidation_status IN ('', 'empty', 'failed')`).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count pending consolidation: %w", err)
	}
	return count, nil
}

// MarkConsolidationStatus transitions semantic_consolidation_status for a
// batch of episodes inside one transaction (null -> empty|completed|failed).
func (s *EpisodeStore) MarkConsolidationStatus(ctx context.Context, ids []uuid.UUID, status string) error {
	if len(ids) == 0 {
		return nil
	}
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, `UPDATE episodes SET semantic_consolidation_status = $1 WHERE id = ANY($2)`, status, ids); err != nil {
		return fmt.Errorf("mark consolidation status: %w", err)
	}
	return tx.Commit(ctx)
}

func scanEpisode(rows pgx.Rows) (Episode, error) {
	var (
		e         Episode
		embBytes  []byte
		factBytes []byte
		loopBytes []byte
	)
	if err := rows.Scan(
		&e.ID, &e.Topic, &e.ExchangeID, &e.Intent, &e.Context, &e.Action, &e.Emotion, &e.Outcome, &e.Gist,
		&e.Salience, &e.FreshnessBase, &embBytes, &e.ActivationScore, &e.AccessCount,
		&factBytes, &loopBytes, &e.SemanticConsolidationStatus, &e.Durability,
		&e.CreatedAt, &e.LastAccessedAt,
	); err != nil {
		return Episode{}, fmt.Errorf("scan episode: %w", err)
	}
	_ = json.Unmarshal(embBytes, &e.Embedding)
	_ = json.Unmarshal(factBytes, &e.SalienceFactors)
	_ = json.Unmarshal(loopBytes, &e.OpenLoops)
	return e, nil
}

// EffectiveFreshness computes the read-time freshness score per §4.10/§3:
// exp(-lambda * (1 - salience/10) * deltaHours). salience is normalized to
// [0,1] from its [1,10] storage range before use.
func EffectiveFreshness(e Episode, lambda float64, now time.Time) float64 {
	deltaHours := now.Sub(e.LastAccessedAt).Hours()
	if deltaHours < 0 {
		deltaHours = 0
	}
	normalizedSalience := e.Salience / 10.0
	return math.Exp(-lambda * (1 - normalizedSalience) * deltaHours)
}
