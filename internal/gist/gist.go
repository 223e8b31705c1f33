// Package gist implements C4: a TTL'd per-topic collection of short
// conversational "gist" records, with confidence-gated dedup and per-type
// retention caps (spec.md §3, §4.3). The batch-merge policy is pure and
// tested directly; Store is a thin Redis-backed wrapper around it, grounded
// on internal/skills's RedisSkillsCache JSON-blob-per-key style.
package gist

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Type enumerates the gist kinds spec.md §3 names; cold_start is injected
// by the store itself, never by the memory chunker.
type Type string

const (
	TypeFact       Type = "fact"
	TypeIntent     Type = "intent"
	TypePreference Type = "preference"
	TypeColdStart  Type = "cold_start"
	// TypeBackground marks a tool-worker follow-up whose topic had already
	// gone stale by completion time (§4.12's stale-suppression rule):
	// rather than deliver it, it is kept as low-priority retrieval context.
	TypeBackground Type = "background"
)

// Gist is one short, typed, confidence-scored conversation summary.
type Gist struct {
	ID         string    `json:"id"`
	Content    string    `json:"content"`
	Type       Type      `json:"type"`
	Confidence int       `json:"confidence"` // [0,10]
	CreatedAt  time.Time `json:"created_at"`
}

// Policy bundles the tunables §4.3's store_gists algorithm depends on.
type Policy struct {
	MaxGists          int     // per topic, default 8
	MaxPerType        int     // per (topic, type), default 2
	MinConfidence     int     // dropped below this unless the topic has zero gists
	SimilarityThresh  float64 // Jaccard threshold for dedup, default 0.7
}

// DefaultPolicy matches spec.md §3's stated defaults.
func DefaultPolicy() Policy {
	return Policy{MaxGists: 8, MaxPerType: 2, MinConfidence: 7, SimilarityThresh: 0.7}
}

// Merge applies §4.3's ordered batch-write policy to incoming against
// existing, returning the new full set to persist and the count actually
// added (SPEC_FULL.md §3's supplemented stored_count, mirrored from
// gist_storage_service.py):
//
//  1. Drop incoming gists below MinConfidence, unless the topic currently
//     has zero gists (a first write must not be filtered to nothing).
//  2. For each surviving incoming gist, find the existing gist (including
//     ones already accepted earlier in this same batch) with the highest
//     Jaccard similarity at or above SimilarityThresh: replace it if the
//     incoming gist has higher confidence, otherwise skip the incoming one.
//  3. After the batch, keep no more than MaxPerType per type (highest
//     confidence first), then only the newest MaxGists of what remains.
func Merge(existing []Gist, incoming []Gist, p Policy) (merged []Gist, storedCount int) {
	merged = append([]Gist(nil), existing...)

	allowBelowMin := len(existing) == 0
	for _, g := range incoming {
		if g.Confidence < p.MinConfidence && !allowBelowMin {
			continue
		}
		if g.ID == "" {
			g.ID = uuid.NewString()
		}
		if g.CreatedAt.IsZero() {
			g.CreatedAt = time.Now().UTC()
		}

		replaceIdx := -1
		bestSim := 0.0
		for i, m := range merged {
			sim := jaccard(g.Content, m.Content)
			if sim >= p.SimilarityThresh && sim > bestSim {
				bestSim = sim
				replaceIdx = i
			}
		}
		switch {
		case replaceIdx == -1:
			merged = append(merged, g)
			storedCount++
		case g.Confidence > merged[replaceIdx].Confidence:
			merged[replaceIdx] = g
			storedCount++
		default:
			// lower- or equal-confidence duplicate: skip
		}
	}

	return capRetention(merged, p), storedCount
}

// capRetention enforces the per-type cap (highest confidence first,
// newest first on ties), then the overall cap (newest first).
func capRetention(gists []Gist, p Policy) []Gist {
	byType := make(map[Type][]Gist)
	for _, g := range gists {
		byType[g.Type] = append(byType[g.Type], g)
	}

	var kept []Gist
	for _, bucket := range byType {
		sort.SliceStable(bucket, func(i, j int) bool {
			if bucket[i].Confidence != bucket[j].Confidence {
				return bucket[i].Confidence > bucket[j].Confidence
			}
			return bucket[i].CreatedAt.After(bucket[j].CreatedAt)
		})
		if p.MaxPerType > 0 && len(bucket) > p.MaxPerType {
			bucket = bucket[:p.MaxPerType]
		}
		kept = append(kept, bucket...)
	}

	sort.SliceStable(kept, func(i, j int) bool {
		return kept[i].CreatedAt.After(kept[j].CreatedAt)
	})
	if p.MaxGists > 0 && len(kept) > p.MaxGists {
		kept = kept[:p.MaxGists]
	}
	return kept
}

// jaccard computes word-level Jaccard similarity between two strings, case
// folded and whitespace-tokenized, per §4.3's dedup rule.
func jaccard(a, b string) float64 {
	setA := tokenSet(a)
	setB := tokenSet(b)
	if len(setA) == 0 && len(setB) == 0 {
		return 1
	}
	inter := 0
	for tok := range setA {
		if setB[tok] {
			inter++
		}
	}
	union := len(setA) + len(setB) - inter
	if union == 0 {
		return 0
	}
	return float64(inter) / float64(union)
}

func tokenSet(s string) map[string]bool {
	fields := strings.Fields(strings.ToLower(s))
	set := make(map[string]bool, len(fields))
	for _, f := range fields {
		set[f] = true
	}
	return set
}

// ColdStartGists returns the two fixed identity/capability gists injected
// exactly once when a topic has zero gists (§4.3). Both are excluded from
// context_warmth by virtue of their type.
func ColdStartGists(now time.Time) []Gist {
	return []Gist{
		{ID: uuid.NewString(), Type: TypeColdStart, Confidence: 10, CreatedAt: now,
			Content: "This is the start of a new topic; no prior context exists yet."},
		{ID: uuid.NewString(), Type: TypeColdStart, Confidence: 10, CreatedAt: now,
			Content: "I can recall past conversations, track facts, and take actions through tools."},
	}
}

// Store is the Redis-backed per-topic gist collection. Gists for a topic
// are stored as one JSON blob under a single key, refreshed on every read
// per §3's "per-topic TTL is refreshed on every read" invariant.
type Store struct {
	client redis.UniversalClient
	policy Policy
	ttl    time.Duration
}

// New builds a Redis-backed gist store.
func New(client redis.UniversalClient, policy Policy, ttl time.Duration) *Store {
	if ttl <= 0 {
		ttl = 30 * time.Minute
	}
	return &Store{client: client, policy: policy, ttl: ttl}
}

func key(topic string) string { return "gist:" + topic }

// Load returns the current gists for topic, refreshing the TTL.
func (s *Store) Load(ctx context.Context, topic string) ([]Gist, error) {
	raw, err := s.client.Get(ctx, key(topic)).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("gist: load %s: %w", topic, err)
	}
	var gists []Gist
	if err := json.Unmarshal([]byte(raw), &gists); err != nil {
		return nil, fmt.Errorf("gist: unmarshal %s: %w", topic, err)
	}
	s.client.Expire(ctx, key(topic), s.ttl)
	return gists, nil
}

// StoreBatch merges incoming into topic's existing gists per Merge and
// persists the result, adding cold-start gists if the topic was empty
// (the incoming batch is still merged as into an empty topic). Returns
// the SPEC_FULL.md §3 stored_count.
func (s *Store) StoreBatch(ctx context.Context, topic string, incoming []Gist) (int, error) {
	existing, err := s.Load(ctx, topic)
	if err != nil {
		return 0, err
	}

	var merged []Gist
	var stored int
	if len(existing) == 0 {
		// Merge the first write against the empty topic so Merge's
		// below-MinConfidence exemption applies, then add the cold-start
		// gists and re-apply the retention caps.
		coldStart := ColdStartGists(time.Now().UTC())
		merged, stored = Merge(nil, incoming, s.policy)
		merged = capRetention(append(coldStart, merged...), s.policy)
		stored += len(coldStart)
	} else {
		merged, stored = Merge(existing, incoming, s.policy)
	}

	buf, err := json.Marshal(merged)
	if err != nil {
		return 0, fmt.Errorf("gist: marshal %s: %w", topic, err)
	}
	if err := s.client.Set(ctx, key(topic), buf, s.ttl).Err(); err != nil {
		return 0, fmt.Errorf("gist: persist %s: %w", topic, err)
	}
	return stored, nil
}

// NonColdStartCount returns how many of gists are not cold-start boosters,
// the input to context_warmth's gist-count sub-score (capped at 5 by the
// caller per §4.4 Phase B).
func NonColdStartCount(gists []Gist) int {
	n := 0
	for _, g := range gists {
		if g.Type != TypeColdStart {
			n++
		}
	}
	return n
}
