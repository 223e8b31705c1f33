// Package workingmemory implements C3: a bounded ring buffer of recent
// turns per thread. Grounded on internal/skills's RedisSkillsCache —
// redis.UniversalClient, JSON-marshaled values, a ping at construction —
// generalized from a single cached value per key to a capped list.
package workingmemory

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)


// Role distinguishes the two turn kinds spec.md §3 names.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Turn is one entry in a thread's working memory.
type Turn struct {
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// Store is the working-memory ring buffer, keyed by thread ID.
type Store struct {
	client   redis.UniversalClient
	maxTurns int
}

// New builds a Redis-backed working-memory store. maxTurns bounds the FIFO
// depth (spec.md §3, config.MemoryConfig.WorkingMemoryMaxTurns).
func New(c redis.UniversalClient, maxTurns int) *Store {
	if maxTurns <= 0 {
		maxTurns = 20
	}
	return &Store{client: c, maxTurns: maxTurns}
}

func key(threadID string) string {
	return "working_memory:" + threadID
}

// Append pushes a new turn onto the thread's buffer, trimming the oldest
// entries once maxTurns is exceeded. Uses RPUSH so Recent returns turns
// oldest-first without reversing.
func (s *Store) Append(ctx context.Context, threadID string, t Turn) error {
	buf, err := json.Marshal(t)
	if err != nil {
		return fmt.Errorf("workingmemory: marshal turn: %w", err)
	}
	pipe := s.client.TxPipeline()
	pipe.RPush(ctx, key(threadID), buf)
	pipe.LTrim(ctx, key(threadID), int64(-s.maxTurns), -1)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("workingmemory: append: %w", err)
	}
	return nil
}

// Recent returns all turns for threadID, oldest-first, per spec.md §3.
func (s *Store) Recent(ctx context.Context, threadID string) ([]Turn, error) {
	raws, err := s.client.LRange(ctx, key(threadID), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("workingmemory: recent: %w", err)
	}
	out := make([]Turn, 0, len(raws))
	for _, raw := range raws {
		var t Turn
		if err := json.Unmarshal([]byte(raw), &t); err != nil {
			return nil, fmt.Errorf("workingmemory: unmarshal turn: %w", err)
		}
		out = append(out, t)
	}
	return out, nil
}

// Depth returns the current number of turns held for threadID, used by
// context_warmth's working-memory fill sub-score (§4.4 Phase B).
func (s *Store) Depth(ctx context.Context, threadID string) (int, error) {
	n, err := s.client.LLen(ctx, key(threadID)).Result()
	if err != nil {
		return 0, fmt.Errorf("workingmemory: depth: %w", err)
	}
	return int(n), nil
}

// Clear removes all turns for threadID, used when an episode is
// consolidated and the thread's conversation list is emptied (§3
// lifecycle).
func (s *Store) Clear(ctx context.Context, threadID string) error {
	if err := s.client.Del(ctx, key(threadID)).Err(); err != nil {
		return fmt.Errorf("workingmemory: clear: %w", err)
	}
	return nil
}

// FillRatio returns Depth/maxTurns clamped to [0,1], the first of
// context_warmth's three sub-scores.
func (s *Store) FillRatio(ctx context.Context, threadID string) (float64, error) {
	depth, err := s.Depth(ctx, threadID)
	if err != nil {
		return 0, err
	}
	return fillRatio(depth, s.maxTurns), nil
}

// fillRatio is FillRatio's pure arithmetic, split out so it is testable
// without a live Redis instance.
func fillRatio(depth, maxTurns int) float64 {
	if maxTurns <= 0 {
		return 0
	}
	ratio := float64(depth) / float64(maxTurns)
	if ratio > 1 {
		ratio = 1
	}
	return ratio
}
