// Package fact implements C5: a flat, TTL'd key/value fact table per topic.
// Grounded on internal/skills's RedisSkillsCache JSON-blob-per-key pattern,
// the same style internal/workingmemory and internal/gist build on, applied
// here to a simple map instead of a list.
package fact

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/redis/go-redis/v9"
)

// Source distinguishes a fact the user stated directly from one pulled in
// from an external tool or lookup. Only external facts carry a TTLSeconds
// countdown (§4.10's "external-knowledge TTL" decay rule); explicit and
// inferred facts live and die with the topic's own TTL like any other
// per-topic Redis state.
const (
	SourceExplicit = "explicit"
	SourceInferred = "inferred"
	SourceExternal = "external"
)

// externalTTLFloorSeconds is §4.10's 60s floor below which an external
// fact's countdown no longer shrinks.
const externalTTLFloorSeconds = 60

// Fact is one key/value assertion with a confidence score, per spec.md §3.
type Fact struct {
	Key        string    `json:"key"`
	Value      string    `json:"value"`
	Confidence int       `json:"confidence"` // [0,10]
	Source     string    `json:"source,omitempty"`      // explicit|inferred|external
	TTLSeconds int       `json:"ttl_seconds,omitempty"` // external only; 0 means not tracked
	UpdatedAt  time.Time `json:"updated_at"`
}

// Store is the Redis-backed per-topic fact table.
type Store struct {
	client redis.UniversalClient
	ttl    time.Duration
}

// New builds a Redis-backed fact store.
func New(client redis.UniversalClient, ttl time.Duration) *Store {
	if ttl <= 0 {
		ttl = 30 * time.Minute
	}
	return &Store{client: client, ttl: ttl}
}

func key(topic string) string { return "fact:" + topic }

// Load returns every fact recorded for topic, refreshing the TTL.
func (s *Store) Load(ctx context.Context, topic string) (map[string]Fact, error) {
	raw, err := s.client.HGetAll(ctx, key(topic)).Result()
	if err != nil {
		return nil, fmt.Errorf("fact: load %s: %w", topic, err)
	}
	facts := make(map[string]Fact, len(raw))
	for k, v := range raw {
		var f Fact
		if err := json.Unmarshal([]byte(v), &f); err != nil {
			return nil, fmt.Errorf("fact: unmarshal %s/%s: %w", topic, k, err)
		}
		facts[k] = f
	}
	if len(facts) > 0 {
		s.client.Expire(ctx, key(topic), s.ttl)
	}
	return facts, nil
}

// Set writes or overwrites a single fact for topic. Per spec.md §3, a
// repeated key always replaces the prior value and confidence outright —
// there is no merge or max-confidence rule as there is for gists.
func (s *Store) Set(ctx context.Context, topic string, f Fact) error {
	if f.UpdatedAt.IsZero() {
		f.UpdatedAt = time.Now().UTC()
	}
	buf, err := json.Marshal(f)
	if err != nil {
		return fmt.Errorf("fact: marshal %s/%s: %w", topic, f.Key, err)
	}
	pipe := s.client.TxPipeline()
	pipe.HSet(ctx, key(topic), f.Key, buf)
	pipe.Expire(ctx, key(topic), s.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("fact: set %s/%s: %w", topic, f.Key, err)
	}
	return nil
}

// SetBatch writes multiple facts for topic in one round trip.
func (s *Store) SetBatch(ctx context.Context, topic string, facts []Fact) error {
	if len(facts) == 0 {
		return nil
	}
	fields := make(map[string]any, len(facts))
	now := time.Now().UTC()
	for _, f := range facts {
		if f.UpdatedAt.IsZero() {
			f.UpdatedAt = now
		}
		buf, err := json.Marshal(f)
		if err != nil {
			return fmt.Errorf("fact: marshal %s/%s: %w", topic, f.Key, err)
		}
		fields[f.Key] = buf
	}
	pipe := s.client.TxPipeline()
	pipe.HSet(ctx, key(topic), fields)
	pipe.Expire(ctx, key(topic), s.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("fact: set batch %s: %w", topic, err)
	}
	return nil
}

// shrinkExternalTTL applies §4.10's external-knowledge decay to a single
// fact: TTLSeconds shrinks by a factor of 1.5 each cycle, floored at
// externalTTLFloorSeconds. Pure, tested directly. ok is false when f is not
// an external fact under TTL tracking, or is already at the floor.
func shrinkExternalTTL(f Fact) (Fact, bool) {
	if f.Source != SourceExternal || f.TTLSeconds <= externalTTLFloorSeconds {
		return f, false
	}
	next := int(math.Floor(float64(f.TTLSeconds) / 1.5))
	if next < externalTTLFloorSeconds {
		next = externalTTLFloorSeconds
	}
	f.TTLSeconds = next
	return f, true
}

// isExpiredExternal reports whether f's external TTL countdown, measured
// from its last update, has elapsed. Pure, tested directly.
func isExpiredExternal(f Fact, now time.Time) bool {
	if f.Source != SourceExternal || f.TTLSeconds <= 0 {
		return false
	}
	return now.Sub(f.UpdatedAt) >= time.Duration(f.TTLSeconds)*time.Second
}

// ApplyExternalTTLDecay implements the decay engine's (C21) per-topic sweep
// of external-sourced facts (§4.10): facts whose TTL countdown has elapsed
// are dropped outright, and every surviving external fact's countdown is
// shrunk for the next cycle. Returns how many facts were expired and how
// many were shrunk.
func (s *Store) ApplyExternalTTLDecay(ctx context.Context, topic string) (expired, shrunk int, err error) {
	facts, err := s.Load(ctx, topic)
	if err != nil {
		return 0, 0, err
	}
	if len(facts) == 0 {
		return 0, 0, nil
	}

	now := time.Now().UTC()
	var toDelete []string
	var toUpdate []Fact
	for k, f := range facts {
		if isExpiredExternal(f, now) {
			toDelete = append(toDelete, k)
			continue
		}
		if next, ok := shrinkExternalTTL(f); ok {
			toUpdate = append(toUpdate, next)
		}
	}

	if len(toDelete) > 0 {
		if err := s.client.HDel(ctx, key(topic), toDelete...).Err(); err != nil {
			return 0, 0, fmt.Errorf("fact: expire %s: %w", topic, err)
		}
	}
	if len(toUpdate) > 0 {
		if err := s.SetBatch(ctx, topic, toUpdate); err != nil {
			return 0, 0, err
		}
	}
	return len(toDelete), len(toUpdate), nil
}

// FormatForPrompt renders facts as "K: V (confidence)" lines, sorted by key
// for deterministic prompt assembly, per §4.4 Phase B's context projection.
func FormatForPrompt(facts map[string]Fact) string {
	keys := make([]string, 0, len(facts))
	for k := range facts {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := ""
	for i, k := range keys {
		f := facts[k]
		if i > 0 {
			out += "\n"
		}
		out += fmt.Sprintf("%s: %s (%d)", f.Key, f.Value, f.Confidence)
	}
	return out
}
