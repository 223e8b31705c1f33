// Package proactive implements the storage spec.md §3's "proactive
// candidate" and engagement-tracking state need: a per-user, age-decayed
// sorted set of drift-engine candidates awaiting delivery (capped at 3),
// a deferred set for quiet-hours rejections, and the pending-response
// record the engagement tracker reads back against the user's next
// message. Grounded on internal/gist's Redis-blob-per-key style, applied
// here to sorted sets since candidates rank by score instead of recency.
package proactive

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"time"

	"github.com/redis/go-redis/v9"
)

// maxCandidates is spec.md §4.11's "per-user sorted set capped at 3".
const maxCandidates = 3

// candidateTTL bounds how long an undelivered candidate is worth keeping.
const candidateTTL = 24 * time.Hour

// scoreHalfLifeHours controls age-decay of a stored candidate's score on
// read; not pinned by spec.md beyond "age-decayed score", chosen so a
// same-day candidate has not meaningfully decayed but a multi-day-old one
// has.
const scoreHalfLifeHours = 12.0

// Candidate is a drift thought awaiting delivery (spec.md §3).
type Candidate struct {
	ID               string    `json:"id"`
	Type             string    `json:"type"`
	Content          string    `json:"content"`
	Topic            string    `json:"topic"`
	SeedConcept      string    `json:"seed_concept"`
	ActivationEnergy float64   `json:"activation_energy"`
	Score            float64   `json:"score"`
	CreatedAt        time.Time `json:"created_at"`
	OriginalTTL      int       `json:"original_ttl"`
	Embedding        []float32 `json:"embedding,omitempty"`
}

// AgeDecayedScore applies exponential age decay to c's stored score, the
// read-time ranking spec.md §4.11 calls for. Pure, tested directly.
func AgeDecayedScore(c Candidate, now time.Time) float64 {
	if c.Score <= 0 {
		return 0
	}
	ageHours := now.Sub(c.CreatedAt).Hours()
	if ageHours <= 0 {
		return c.Score
	}
	decay := math.Exp(-math.Ln2 * ageHours / scoreHalfLifeHours)
	return c.Score * decay
}

// PendingResponse is the stored content/embedding of a delivered
// COMMUNICATE/NURTURE message, read back by the engagement tracker once
// the user's next message arrives.
type PendingResponse struct {
	CandidateID string    `json:"candidate_id"`
	Content     string    `json:"content"`
	Embedding   []float32 `json:"embedding,omitempty"`
	SentAt      time.Time `json:"sent_at"`
}

// Store is the Redis-backed proactive-candidate and pending-response store.
type Store struct {
	client redis.UniversalClient
}

// New builds a Redis-backed proactive store.
func New(client redis.UniversalClient) *Store {
	return &Store{client: client}
}

func candidatesKey(user string) string      { return "proactive:" + user + ":candidates" }
func deferredKey(user string) string        { return "proactive:" + user + ":deferred" }
func pendingResponseKey(user string) string { return "proactive:" + user + ":pending_response" }

// Add stores a new candidate, trimming the set back down to maxCandidates
// by lowest raw score once the cap is exceeded.
func (s *Store) Add(ctx context.Context, user string, c Candidate) error {
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now().UTC()
	}
	buf, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("proactive: marshal candidate: %w", err)
	}
	key := candidatesKey(user)
	pipe := s.client.TxPipeline()
	pipe.ZAdd(ctx, key, redis.Z{Score: c.Score, Member: buf})
	pipe.Expire(ctx, key, candidateTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("proactive: add candidate: %w", err)
	}
	if err := s.client.ZRemRangeByRank(ctx, key, 0, -int64(maxCandidates)-1).Err(); err != nil {
		return fmt.Errorf("proactive: trim candidates: %w", err)
	}
	return nil
}

// Top returns the highest age-decayed-scoring candidate for user, if any.
func (s *Store) Top(ctx context.Context, user string, now time.Time) (Candidate, bool, error) {
	members, err := s.client.ZRevRangeWithScores(ctx, candidatesKey(user), 0, -1).Result()
	if err != nil {
		return Candidate{}, false, fmt.Errorf("proactive: load candidates: %w", err)
	}
	var best Candidate
	var bestScore = math.Inf(-1)
	found := false
	for _, m := range members {
		raw, ok := m.Member.(string)
		if !ok {
			continue
		}
		var c Candidate
		if err := json.Unmarshal([]byte(raw), &c); err != nil {
			continue
		}
		decayed := AgeDecayedScore(c, now)
		if decayed > bestScore {
			bestScore = decayed
			best = c
			found = true
		}
	}
	return best, found, nil
}

// Remove deletes one candidate by its JSON member, called once it fires or
// is superseded.
func (s *Store) Remove(ctx context.Context, user string, c Candidate) error {
	buf, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("proactive: marshal candidate: %w", err)
	}
	if err := s.client.ZRem(ctx, candidatesKey(user), buf).Err(); err != nil {
		return fmt.Errorf("proactive: remove candidate: %w", err)
	}
	return nil
}

// Defer moves a quiet-hours-rejected candidate into the deferred set,
// delivered once quiet hours end (§4.11).
func (s *Store) Defer(ctx context.Context, user string, c Candidate) error {
	buf, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("proactive: marshal deferred candidate: %w", err)
	}
	key := deferredKey(user)
	pipe := s.client.TxPipeline()
	pipe.ZAdd(ctx, key, redis.Z{Score: c.Score, Member: buf})
	pipe.Expire(ctx, key, candidateTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("proactive: defer candidate: %w", err)
	}
	return nil
}

// PopDeferred pops the highest-scored deferred candidate, if any.
func (s *Store) PopDeferred(ctx context.Context, user string) (Candidate, bool, error) {
	result, err := s.client.ZPopMax(ctx, deferredKey(user)).Result()
	if err != nil {
		return Candidate{}, false, fmt.Errorf("proactive: pop deferred: %w", err)
	}
	if len(result) == 0 {
		return Candidate{}, false, nil
	}
	raw, ok := result[0].Member.(string)
	if !ok {
		return Candidate{}, false, nil
	}
	var c Candidate
	if err := json.Unmarshal([]byte(raw), &c); err != nil {
		return Candidate{}, false, fmt.Errorf("proactive: unmarshal deferred candidate: %w", err)
	}
	return c, true, nil
}

// SetPendingResponse records a delivered message's content for the
// engagement tracker to classify the user's next reply against.
func (s *Store) SetPendingResponse(ctx context.Context, user string, p PendingResponse) error {
	if p.SentAt.IsZero() {
		p.SentAt = time.Now().UTC()
	}
	buf, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("proactive: marshal pending response: %w", err)
	}
	if err := s.client.Set(ctx, pendingResponseKey(user), buf, 48*time.Hour).Err(); err != nil {
		return fmt.Errorf("proactive: set pending response: %w", err)
	}
	return nil
}

// PendingResponseFor returns user's outstanding pending response, if any.
func (s *Store) PendingResponseFor(ctx context.Context, user string) (PendingResponse, bool, error) {
	raw, err := s.client.Get(ctx, pendingResponseKey(user)).Result()
	if err == redis.Nil {
		return PendingResponse{}, false, nil
	}
	if err != nil {
		return PendingResponse{}, false, fmt.Errorf("proactive: get pending response: %w", err)
	}
	var p PendingResponse
	if err := json.Unmarshal([]byte(raw), &p); err != nil {
		return PendingResponse{}, false, fmt.Errorf("proactive: unmarshal pending response: %w", err)
	}
	return p, true, nil
}

// ClearPendingResponse removes the outstanding pending-response record
// once the engagement tracker has classified a reply against it.
func (s *Store) ClearPendingResponse(ctx context.Context, user string) error {
	if err := s.client.Del(ctx, pendingResponseKey(user)).Err(); err != nil {
		return fmt.Errorf("proactive: clear pending response: %w", err)
	}
	return nil
}
