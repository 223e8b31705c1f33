package databases

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Thread holds conversational continuity for one (user, channel, platform)
// triple (spec §3). Only one thread per channel may be active at a time.
type Thread struct {
	ID            string // deterministic: hash of (user, channel, platform)
	Channel       string
	Platform      string
	CurrentTopic  string
	TopicHistory  []string
	ExchangeCount int
	State         string // active|expired
	LastActivity  time.Time
	CreatedAt     time.Time
}

// ThreadStore is the durable thread store.
type ThreadStore struct {
	pool *pgxpool.Pool
}

// NewThreadStore builds a Postgres-backed thread store.
func NewThreadStore(pool *pgxpool.Pool) *ThreadStore {
	return &ThreadStore{pool: pool}
}

// GetOrCreate returns the active thread for (channel, platform) keyed by id,
// creating one if none exists.
func (s *ThreadStore) GetOrCreate(ctx context.Context, id, channel, platform string) (Thread, error) {
	row := s.pool.QueryRow(ctx, `
INSERT INTO threads (id, channel, platform)
VALUES ($1,$2,$3)
ON CONFLICT (id) DO UPDATE SET last_activity = threads.last_activity
RETURNING id, channel, platform, current_topic, topic_history, exchange_count, state, last_activity, created_at`,
		id, channel, platform)
	return scanThreadRow(row)
}

// AppendExchange updates the thread's topic (appending to history on
// change), bumps exchange_count, and refreshes last_activity.
func (s *ThreadStore) AppendExchange(ctx context.Context, id, topic string) (Thread, error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return Thread{}, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var current string
	var historyBytes []byte
	if err := tx.QueryRow(ctx, `SELECT current_topic, topic_history FROM threads WHERE id = $1 FOR UPDATE`, id).Scan(&current, &historyBytes); err != nil {
		return Thread{}, fmt.Errorf("lock thread: %w", err)
	}

	var history []string
	_ = json.Unmarshal(historyBytes, &history)
	if topic != "" && topic != current {
		history = append(history, topic)
	}
	newHistory, err := json.Marshal(history)
	if err != nil {
		return Thread{}, fmt.Errorf("marshal topic history: %w", err)
	}

	row := tx.QueryRow(ctx, `
UPDATE threads SET current_topic = $2, topic_history = $3, exchange_count = exchange_count + 1,
    last_activity = NOW(), state = 'active'
WHERE id = $1
RETURNING id, channel, platform, current_topic, topic_history, exchange_count, state, last_activity, created_at`,
		id, topic, newHistory)
	th, err := scanThreadRow(row)
	if err != nil {
		return Thread{}, err
	}
	if err := tx.Commit(ctx); err != nil {
		return Thread{}, err
	}
	return th, nil
}

// IdleSince returns threads that have been active but untouched since
// before the cutoff, used by the thread-expiry scheduler (C23).
func (s *ThreadStore) IdleSince(ctx context.Context, cutoff time.Time) ([]Thread, error) {
	rows, err := s.pool.Query(ctx, `
SELECT id, channel, platform, current_topic, topic_history, exchange_count, state, last_activity, created_at
FROM threads WHERE state = 'active' AND last_activity < $1`, cutoff)
	if err != nil {
		return nil, fmt.Errorf("query idle threads: %w", err)
	}
	defer rows.Close()

	var out []Thread
	for rows.Next() {
		th, err := scanThread(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, th)
	}
	return out, rows.Err()
}

// Expire marks a thread expired, forcing the episodic worker to consolidate
// its remaining exchanges (C23).
func (s *ThreadStore) Expire(ctx context.Context, id string) error {
	_, err := s.pool.Exec(ctx, `UPDATE threads SET state = 'expired' WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("expire thread: %w", err)
	}
	return nil
}

// MostRecentActivity returns the latest last_activity timestamp across all
// active threads, used by the drift engine (C24) as its idle-duration
// baseline when no proactive message is outstanding. ok is false if no
// thread is active.
func (s *ThreadStore) MostRecentActivity(ctx context.Context) (time.Time, bool, error) {
	var lastActivity *time.Time
	err := s.pool.QueryRow(ctx, `
SELECT MAX(last_activity) FROM threads WHERE state = 'active'`).Scan(&lastActivity)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("query most recent thread activity: %w", err)
	}
	if lastActivity == nil {
		return time.Time{}, false, nil
	}
	return *lastActivity, true, nil
}

// ActiveTopics returns the distinct current topics of active threads, used
// by the decay engine (C21) to sweep per-topic Redis state that has no bulk
// SQL decay path of its own (external-knowledge fact TTLs).
func (s *ThreadStore) ActiveTopics(ctx context.Context) ([]string, error) {
	rows, err := s.pool.Query(ctx, `
SELECT DISTINCT current_topic FROM threads WHERE state = 'active' AND current_topic <> ''`)
	if err != nil {
		return nil, fmt.Errorf("query active topics: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var topic string
		if err := rows.Scan(&topic); err != nil {
			return nil, fmt.Errorf("scan active topic: %w", err)
		}
		out = append(out, topic)
	}
	return out, rows.Err()
}

func scanThreadRow(row pgx.Row) (Thread, error) {
	var t Thread
	var historyBytes []byte
	if err := row.Scan(&t.ID, &t.Channel, &t.Platform, &t.CurrentTopic, &historyBytes, &t.ExchangeCount, &t.State, &t.LastActivity, &t.CreatedAt); err != nil {
		return Thread{}, fmt.Errorf("scan thread: %w", err)
	}
	_ = json.Unmarshal(historyBytes, &t.TopicHistory)
	return t, nil
}

func scanThread(rows pgx.Rows) (Thread, error) {
	var t Thread
	var historyBytes []byte
	if err := rows.Scan(&t.ID, &t.Channel, &t.Platform, &t.CurrentTopic, &historyBytes, &t.ExchangeCount, &t.State, &t.LastActivity, &t.CreatedAt); err != nil {
		return Thread{}, fmt.Errorf("scan thread: %w", err)
	}
	_ = json.Unmarshal(historyBytes, &t.TopicHistory)
	return t, nil
}
