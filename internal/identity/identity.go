// Package identity implements C9, the six named personality dimensions
// (spec.md §3, §4.9): dual-channel reinforcement from emotion/reward
// signals, inertia pull toward baseline, stability-gated baseline drift,
// and a two-level coherence check. The per-vector math is pure and
// directly unit-tested; Service is a thin databases.IdentityStore wrapper
// satisfying memorychunker.IdentityReinforcer, grounded on
// databases.TraitStore's own reinforcement-then-persist shape.
package identity

import (
	"context"
	"fmt"
	"math"
	"time"

	"cortex/internal/memorychunker"
	"cortex/internal/persistence/databases"
)

// Tunables for the parts of §4.9's algorithm not pinned to a specific
// vector's own PlasticityRate/InertiaRate/caps (those live on
// databases.IdentityVector and are seeded per-dimension by migration).
const (
	historySize = 20

	stabilityMinSamples     = 10
	directionConsistencyMin = 0.7
	varianceMax             = 0.15
	maxDriftPerDay          = 0.02
	driftWindow             = 24 * time.Hour

	// driftRate is the per-cycle baseline nudge once all four stability
	// gates pass. spec.md §4.9 names the gates but not this magnitude;
	// 0.01 keeps a single drift cycle well under maxDriftPerDay so the
	// daily cap (not this rate) is the binding constraint in practice.
	driftRate = 0.01
)

// emotionDimensionWeights maps a named emotion (as extracted by the memory
// chunker's user/assistant emotion maps) onto its identity-dimension
// contributions. Not specified by spec.md beyond "emotion signals feed
// identity vector reinforcement"; this table is this package's own
// grounding of that mapping, documented here rather than left implicit.
var emotionDimensionWeights = map[string]map[string]float64{
	"joy":      {"warmth": 0.6, "playfulness": 0.4},
	"surprise": {"curiosity": 1.0},
	"anger":    {"assertiveness": 0.7, "warmth": -0.3},
	"disgust":  {"skepticism": 1.0},
}

// extractDimensionSignals reduces one EmotionSignal's user+assistant
// emotion maps to a per-identity-dimension signal in roughly [-1, 1].
// Pure, tested directly.
func extractDimensionSignals(signal memorychunker.EmotionSignal) map[string]float64 {
	out := make(map[string]float64, len(databases.IdentityDimensionNames))
	var magnitudeSum float64
	var magnitudeCount int

	accumulate := func(emotions map[string]float64) {
		for name, value := range emotions {
			magnitudeSum += math.Abs(value)
			magnitudeCount++
			for dim, weight := range emotionDimensionWeights[name] {
				out[dim] += value * weight
			}
		}
	}
	accumulate(signal.User)
	accumulate(signal.Assistant)

	for dim, v := range out {
		out[dim] = clamp(v, -1, 1)
	}
	if magnitudeCount > 0 {
		out["emotional_intensity"] = clamp(magnitudeSum/float64(magnitudeCount), -1, 1)
	}
	return out
}

// clamp restricts v to [min, max]. Pure, tested directly.
func clamp(v, min, max float64) float64 {
	if v < min {
		return min
	}
	if v > max {
		return max
	}
	return v
}

// appendBounded appends v to history, keeping only the newest max entries.
// Pure, tested directly.
func appendBounded(history []float64, v float64, max int) []float64 {
	history = append(history, v)
	if len(history) > max {
		history = history[len(history)-max:]
	}
	return history
}

// variance returns the population variance of vals, 0 for fewer than two
// samples. Pure, tested directly.
func variance(vals []float64) float64 {
	if len(vals) < 2 {
		return 0
	}
	var mean float64
	for _, v := range vals {
		mean += v
	}
	mean /= float64(len(vals))

	var sumSq float64
	for _, v := range vals {
		d := v - mean
		sumSq += d * d
	}
	return sumSq / float64(len(vals))
}

// reinforceVector applies §4.9's dual-channel reinforcement to v, updating
// its activation, signal history, and reinforcement count. Pure, tested
// directly. Returns the updated vector and the applied activation delta.
func reinforceVector(v databases.IdentityVector, emotionSignal, rewardSignal float64, now time.Time) (databases.IdentityVector, float64) {
	total := 0.6*emotionSignal + 0.4*rewardSignal
	delta := total * v.PlasticityRate

	before := v.Activation
	v.Activation = clamp(v.Activation+delta, v.MinCap, v.MaxCap)
	v.SignalHistory = appendBounded(v.SignalHistory, total, historySize)
	v.ReinforcementCount++
	v.UpdatedAt = now
	return v, v.Activation - before
}

// applyInertia pulls v's activation toward its baseline by InertiaRate.
// Pure, tested directly.
func applyInertia(v databases.IdentityVector) databases.IdentityVector {
	delta := (v.Baseline - v.Activation) * v.InertiaRate
	v.Activation = clamp(v.Activation+delta, v.MinCap, v.MaxCap)
	return v
}

// resetDriftWindowIfExpired zeroes DriftToday once 24h have elapsed since
// DriftWindowStart (starting the window on first use). Pure, tested
// directly.
func resetDriftWindowIfExpired(v databases.IdentityVector, now time.Time) databases.IdentityVector {
	if v.DriftWindowStart.IsZero() {
		v.DriftWindowStart = now
		return v
	}
	if now.Sub(v.DriftWindowStart) >= driftWindow {
		v.DriftToday = 0
		v.DriftWindowStart = now
	}
	return v
}

// evaluateDrift applies §4.9's stability-gated baseline drift: the
// baseline only moves once all four gates pass (sample count, direction
// consistency, variance, cumulative daily drift). On success the signal
// history and reinforcement count reset so drift cannot immediately
// re-trigger off the same samples. Pure, tested directly.
func evaluateDrift(v databases.IdentityVector, now time.Time) (databases.IdentityVector, bool) {
	v = resetDriftWindowIfExpired(v, now)

	if v.ReinforcementCount < stabilityMinSamples || len(v.SignalHistory) < stabilityMinSamples {
		return v, false
	}

	var pos, neg int
	for _, s := range v.SignalHistory {
		switch {
		case s > 0:
			pos++
		case s < 0:
			neg++
		}
	}
	total := pos + neg
	if total == 0 {
		return v, false
	}
	dominant, direction := pos, 1.0
	if neg > pos {
		dominant, direction = neg, -1.0
	}
	consistency := float64(dominant) / float64(total)

	if consistency <= directionConsistencyMin {
		return v, false
	}
	if variance(v.SignalHistory) >= varianceMax {
		return v, false
	}
	if v.DriftToday >= maxDriftPerDay {
		return v, false
	}

	v.Baseline = clamp(v.Baseline+direction*driftRate, v.MinCap, v.MaxCap)
	v.DriftToday += driftRate
	v.SignalHistory = nil
	v.ReinforcementCount = 0
	v.UpdatedAt = now
	return v, true
}

// coherenceCheck applies §4.9's two-level coherence pass across all six
// dimensions: level 1 reclamps every activation to its own caps; level 2
// nudges named relational pairs (assertiveness/warmth,
// assertiveness/skepticism) back toward a coherent combination. Never
// touches SignalHistory, ReinforcementCount, or DriftToday. Pure, tested
// directly. Returns the (possibly adjusted) vectors and the dimension
// names actually changed, in a stable order.
func coherenceCheck(vectors map[string]databases.IdentityVector) (map[string]databases.IdentityVector, []string) {
	out := make(map[string]databases.IdentityVector, len(vectors))
	for dim, v := range vectors {
		v.Activation = clamp(v.Activation, v.MinCap, v.MaxCap)
		out[dim] = v
	}

	var changed []string
	markChanged := func(dim string) {
		for _, d := range changed {
			if d == dim {
				return
			}
		}
		changed = append(changed, dim)
	}

	assertive, hasAssertive := out["assertiveness"]
	warmth, hasWarmth := out["warmth"]
	skepticism, hasSkepticism := out["skepticism"]
	if !hasAssertive || !hasWarmth || !hasSkepticism {
		return out, changed
	}

	if assertive.Activation > 0.75 && warmth.Activation < 0.35 {
		warmth.Activation = clamp(warmth.Activation+0.05, warmth.MinCap, warmth.MaxCap)
		out["warmth"] = warmth
		markChanged("warmth")
	}

	if assertive.Activation > 0.75 && skepticism.Activation > 0.75 {
		assertive.Activation += (0.7 - assertive.Activation) * 0.5
		skepticism.Activation += (0.7 - skepticism.Activation) * 0.5
		out["assertiveness"] = assertive
		out["skepticism"] = skepticism
		markChanged("assertiveness")
		markChanged("skepticism")
	}

	return out, changed
}

// Service is the databases.IdentityStore-backed seam satisfying
// memorychunker.IdentityReinforcer. Not directly unit-tested, per this
// repo's policy of testing the pure math and leaving thin store-wrapping
// methods to integration coverage.
type Service struct {
	Store *databases.IdentityStore
}

// NewService builds a Postgres-backed identity service.
func NewService(store *databases.IdentityStore) *Service {
	return &Service{Store: store}
}

// Reinforce satisfies memorychunker.IdentityReinforcer: it maps the
// chunker's extracted emotion signal onto identity dimensions and
// reinforces each one that received a nonzero signal.
//
// rewardSignal is always 0 on this path: the memory chunker has no
// outcome-based reward channel to offer, only an extracted emotion. A
// nonzero reward_signal would come from act.OutcomeRecorder on the tool
// work path, which does not yet call into this service; see DESIGN.md.
func (s *Service) Reinforce(ctx context.Context, signal memorychunker.EmotionSignal) error {
	for dim, emotionSignal := range extractDimensionSignals(signal) {
		if emotionSignal == 0 {
			continue
		}
		if err := s.reinforceDimension(ctx, dim, emotionSignal, 0); err != nil {
			return err
		}
	}
	return nil
}

func (s *Service) reinforceDimension(ctx context.Context, dimension string, emotionSignal, rewardSignal float64) error {
	v, err := s.Store.Get(ctx, dimension)
	if err != nil {
		return fmt.Errorf("identity: load %s: %w", dimension, err)
	}
	updated, delta := reinforceVector(v, emotionSignal, rewardSignal, time.Now().UTC())
	evt := &databases.IdentityEvent{
		Dimension: dimension,
		EventType: "reinforce",
		Delta:     delta,
		Detail:    map[string]any{"emotion_signal": emotionSignal, "reward_signal": rewardSignal},
	}
	if err := s.Store.Save(ctx, updated, evt); err != nil {
		return fmt.Errorf("identity: save %s: %w", dimension, err)
	}
	return nil
}

// RunDecayCycle applies inertia and evaluates baseline drift for every
// dimension, then a coherence pass across the results. Called by the
// decay engine (C21) on its periodic pass (§4.9, §4.10).
func (s *Service) RunDecayCycle(ctx context.Context) error {
	vectors, err := s.Store.All(ctx)
	if err != nil {
		return fmt.Errorf("identity: load vectors: %w", err)
	}

	now := time.Now().UTC()
	byDim := make(map[string]databases.IdentityVector, len(vectors))
	for _, v := range vectors {
		v = applyInertia(v)
		drifted := false
		v, drifted = evaluateDrift(v, now)

		eventType := "inertia"
		if drifted {
			eventType = "drift"
		}
		if err := s.Store.Save(ctx, v, &databases.IdentityEvent{Dimension: v.Dimension, EventType: eventType, Delta: v.Activation}); err != nil {
			return fmt.Errorf("identity: save %s: %w", v.Dimension, err)
		}
		byDim[v.Dimension] = v
	}

	adjusted, changed := coherenceCheck(byDim)
	for _, dim := range changed {
		v := adjusted[dim]
		if err := s.Store.Save(ctx, v, &databases.IdentityEvent{Dimension: dim, EventType: "coherence", Delta: v.Activation}); err != nil {
			return fmt.Errorf("identity: save coherence %s: %w", dim, err)
		}
	}
	return nil
}
