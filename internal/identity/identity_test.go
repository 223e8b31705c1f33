package identity

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"cortex/internal/memorychunker"
	"cortex/internal/persistence/databases"
)

func TestExtractDimensionSignals_JoyMapsToWarmthAndPlayfulness(t *testing.T) {
	signal := memorychunker.EmotionSignal{User: map[string]float64{"joy": 1.0}}
	out := extractDimensionSignals(signal)
	assert.InDelta(t, 0.6, out["warmth"], 1e-9)
	assert.InDelta(t, 0.4, out["playfulness"], 1e-9)
}

func TestExtractDimensionSignals_AngerReducesWarmth(t *testing.T) {
	signal := memorychunker.EmotionSignal{Assistant: map[string]float64{"anger": 1.0}}
	out := extractDimensionSignals(signal)
	assert.InDelta(t, 0.7, out["assertiveness"], 1e-9)
	assert.InDelta(t, -0.3, out["warmth"], 1e-9)
}

func TestExtractDimensionSignals_EmptyReturnsNoIntensity(t *testing.T) {
	out := extractDimensionSignals(memorychunker.EmotionSignal{})
	_, ok := out["emotional_intensity"]
	assert.False(t, ok)
}

func TestExtractDimensionSignals_IntensityAveragesMagnitude(t *testing.T) {
	signal := memorychunker.EmotionSignal{User: map[string]float64{"joy": 1.0, "disgust": 0.5}}
	out := extractDimensionSignals(signal)
	assert.InDelta(t, 0.75, out["emotional_intensity"], 1e-9)
}

func TestClamp(t *testing.T) {
	assert.Equal(t, 0.0, clamp(-1, 0, 1))
	assert.Equal(t, 1.0, clamp(2, 0, 1))
	assert.Equal(t, 0.5, clamp(0.5, 0, 1))
}

func TestAppendBounded_DropsOldestPastLimit(t *testing.T) {
	history := []float64{1, 2, 3}
	out := appendBounded(history, 4, 3)
	assert.Equal(t, []float64{2, 3, 4}, out)
}

func TestAppendBounded_GrowsUnderLimit(t *testing.T) {
	out := appendBounded([]float64{1}, 2, 5)
	assert.Equal(t, []float64{1, 2}, out)
}

func TestVariance_FewerThanTwoSamplesIsZero(t *testing.T) {
	assert.Equal(t, 0.0, variance(nil))
	assert.Equal(t, 0.0, variance([]float64{1}))
}

func TestVariance_ConstantSeriesIsZero(t *testing.T) {
	assert.Equal(t, 0.0, variance([]float64{0.5, 0.5, 0.5}))
}

func TestVariance_KnownSeries(t *testing.T) {
	assert.InDelta(t, 2.0, variance([]float64{1, 2, 3, 4, 5}), 1e-9)
}

func baseVector() databases.IdentityVector {
	return databases.IdentityVector{
		Dimension:      "curiosity",
		Baseline:       0.5,
		Activation:     0.5,
		PlasticityRate: 0.1,
		InertiaRate:    0.2,
		MinCap:         0,
		MaxCap:         1,
	}
}

func TestReinforceVector_PositiveSignalIncreasesActivation(t *testing.T) {
	v := baseVector()
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	updated, delta := reinforceVector(v, 1.0, 0, now)
	assert.Greater(t, delta, 0.0)
	assert.Greater(t, updated.Activation, v.Activation)
	assert.Equal(t, 1, updated.ReinforcementCount)
	assert.Equal(t, []float64{0.6}, updated.SignalHistory)
}

func TestReinforceVector_ClampsToMaxCap(t *testing.T) {
	v := baseVector()
	v.Activation = 0.99
	v.PlasticityRate = 1.0
	updated, _ := reinforceVector(v, 1.0, 1.0, time.Now())
	assert.Equal(t, 1.0, updated.Activation)
}

func TestReinforceVector_HistoryBounded(t *testing.T) {
	v := baseVector()
	for i := 0; i < historySize+5; i++ {
		v.SignalHistory = append(v.SignalHistory, 0.1)
	}
	updated, _ := reinforceVector(v, 0.5, 0, time.Now())
	assert.Len(t, updated.SignalHistory, historySize)
}

func TestApplyInertia_PullsTowardBaseline(t *testing.T) {
	v := baseVector()
	v.Baseline = 0.5
	v.Activation = 0.9
	v.InertiaRate = 0.5
	updated := applyInertia(v)
	assert.InDelta(t, 0.7, updated.Activation, 1e-9)
}

func TestApplyInertia_NoOpWhenAtBaseline(t *testing.T) {
	v := baseVector()
	v.Activation = v.Baseline
	updated := applyInertia(v)
	assert.Equal(t, v.Baseline, updated.Activation)
}

func TestResetDriftWindowIfExpired_StartsWindowOnFirstUse(t *testing.T) {
	v := baseVector()
	now := time.Now()
	updated := resetDriftWindowIfExpired(v, now)
	assert.Equal(t, now, updated.DriftWindowStart)
}

func TestResetDriftWindowIfExpired_ResetsAfter24h(t *testing.T) {
	v := baseVector()
	v.DriftToday = 0.015
	v.DriftWindowStart = time.Now().Add(-25 * time.Hour)
	updated := resetDriftWindowIfExpired(v, time.Now())
	assert.Equal(t, 0.0, updated.DriftToday)
}

func TestResetDriftWindowIfExpired_KeepsWithin24h(t *testing.T) {
	v := baseVector()
	v.DriftToday = 0.015
	v.DriftWindowStart = time.Now().Add(-1 * time.Hour)
	updated := resetDriftWindowIfExpired(v, time.Now())
	assert.Equal(t, 0.015, updated.DriftToday)
}

func stableHistory(n int, value float64) []float64 {
	h := make([]float64, n)
	for i := range h {
		h[i] = value
	}
	return h
}

func TestEvaluateDrift_AppliesWhenAllGatesPass(t *testing.T) {
	v := baseVector()
	v.ReinforcementCount = stabilityMinSamples
	v.SignalHistory = stableHistory(stabilityMinSamples, 0.5)
	v.DriftWindowStart = time.Now()

	updated, applied := evaluateDrift(v, time.Now())
	assert.True(t, applied)
	assert.Greater(t, updated.Baseline, v.Baseline)
	assert.Equal(t, 0, updated.ReinforcementCount)
	assert.Empty(t, updated.SignalHistory)
	assert.InDelta(t, driftRate, updated.DriftToday, 1e-9)
}

func TestEvaluateDrift_BlockedByInsufficientSamples(t *testing.T) {
	v := baseVector()
	v.ReinforcementCount = stabilityMinSamples - 1
	v.SignalHistory = stableHistory(stabilityMinSamples-1, 0.5)

	_, applied := evaluateDrift(v, time.Now())
	assert.False(t, applied)
}

func TestEvaluateDrift_BlockedByLowDirectionConsistency(t *testing.T) {
	v := baseVector()
	v.ReinforcementCount = stabilityMinSamples
	history := stableHistory(stabilityMinSamples, 0.5)
	history[0], history[1], history[2] = -0.5, -0.5, -0.5
	v.SignalHistory = history

	_, applied := evaluateDrift(v, time.Now())
	assert.False(t, applied)
}

func TestEvaluateDrift_BlockedByHighVariance(t *testing.T) {
	v := baseVector()
	v.ReinforcementCount = stabilityMinSamples
	history := make([]float64, stabilityMinSamples)
	for i := range history {
		if i%2 == 0 {
			history[i] = 0.9
		} else {
			history[i] = 0.1
		}
	}
	v.SignalHistory = history

	_, applied := evaluateDrift(v, time.Now())
	assert.False(t, applied)
}

func TestEvaluateDrift_BlockedByDailyCapAlreadyReached(t *testing.T) {
	v := baseVector()
	v.ReinforcementCount = stabilityMinSamples
	v.SignalHistory = stableHistory(stabilityMinSamples, 0.5)
	v.DriftToday = maxDriftPerDay
	v.DriftWindowStart = time.Now()

	_, applied := evaluateDrift(v, time.Now())
	assert.False(t, applied)
}

func TestEvaluateDrift_NegativeDirectionMovesBaselineDown(t *testing.T) {
	v := baseVector()
	v.ReinforcementCount = stabilityMinSamples
	v.SignalHistory = stableHistory(stabilityMinSamples, -0.5)
	v.DriftWindowStart = time.Now()

	updated, applied := evaluateDrift(v, time.Now())
	assert.True(t, applied)
	assert.Less(t, updated.Baseline, v.Baseline)
}

func vectorWithActivation(dim string, activation float64) databases.IdentityVector {
	return databases.IdentityVector{Dimension: dim, Activation: activation, MinCap: 0, MaxCap: 1}
}

func TestCoherenceCheck_NudgesWarmthWhenAssertiveAndCold(t *testing.T) {
	vectors := map[string]databases.IdentityVector{
		"assertiveness": vectorWithActivation("assertiveness", 0.8),
		"warmth":        vectorWithActivation("warmth", 0.2),
		"skepticism":    vectorWithActivation("skepticism", 0.3),
	}
	out, changed := coherenceCheck(vectors)
	assert.Contains(t, changed, "warmth")
	assert.InDelta(t, 0.25, out["warmth"].Activation, 1e-9)
}

func TestCoherenceCheck_MovesAssertivenessAndSkepticismTowardPointSeven(t *testing.T) {
	vectors := map[string]databases.IdentityVector{
		"assertiveness": vectorWithActivation("assertiveness", 0.9),
		"warmth":        vectorWithActivation("warmth", 0.5),
		"skepticism":    vectorWithActivation("skepticism", 0.9),
	}
	out, changed := coherenceCheck(vectors)
	assert.Contains(t, changed, "assertiveness")
	assert.Contains(t, changed, "skepticism")
	assert.InDelta(t, 0.8, out["assertiveness"].Activation, 1e-9)
	assert.InDelta(t, 0.8, out["skepticism"].Activation, 1e-9)
}

func TestCoherenceCheck_NoChangeWhenCoherent(t *testing.T) {
	vectors := map[string]databases.IdentityVector{
		"assertiveness": vectorWithActivation("assertiveness", 0.5),
		"warmth":        vectorWithActivation("warmth", 0.5),
		"skepticism":    vectorWithActivation("skepticism", 0.5),
	}
	_, changed := coherenceCheck(vectors)
	assert.Empty(t, changed)
}

func TestCoherenceCheck_ClampsOutOfRangeActivation(t *testing.T) {
	vectors := map[string]databases.IdentityVector{
		"curiosity": {Dimension: "curiosity", Activation: 1.5, MinCap: 0, MaxCap: 1},
	}
	out, _ := coherenceCheck(vectors)
	assert.Equal(t, 1.0, out["curiosity"].Activation)
}
