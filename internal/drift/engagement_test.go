package drift

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestClassifyEngagement_EngagedRequiresBothSignals(t *testing.T) {
	assert.Equal(t, EngagementEngaged, ClassifyEngagement(0.5, 5))
}

func TestClassifyEngagement_DismissedOnLowCosine(t *testing.T) {
	assert.Equal(t, EngagementDismissed, ClassifyEngagement(0.1, 0))
}

func TestClassifyEngagement_AcknowledgedInBetween(t *testing.T) {
	assert.Equal(t, EngagementAcknowledged, ClassifyEngagement(0.5, 1))
	assert.Equal(t, EngagementAcknowledged, ClassifyEngagement(0.25, 5))
}

func TestClassifyEngagement_AcknowledgedOnLowCosineWithEnoughWords(t *testing.T) {
	assert.Equal(t, EngagementAcknowledged, ClassifyEngagement(0.1, 3))
}

func TestEngagementOutcomeScore(t *testing.T) {
	assert.Equal(t, 1.0, EngagementOutcomeScore(EngagementEngaged))
	assert.Equal(t, 0.5, EngagementOutcomeScore(EngagementAcknowledged))
	assert.Equal(t, 0.0, EngagementOutcomeScore(EngagementDismissed))
}

func TestAppendEngagementHistory_BoundsToWindow(t *testing.T) {
	var history []float64
	for i := 0; i < 15; i++ {
		history = AppendEngagementHistory(history, 1.0)
	}
	assert.Len(t, history, engagementHistorySize)
}

func TestRollingEngagementScore_DefaultsToOneWhenEmpty(t *testing.T) {
	assert.Equal(t, 1.0, RollingEngagementScore(nil))
}

func TestRollingEngagementScore_AveragesHistory(t *testing.T) {
	assert.InDelta(t, 0.5, RollingEngagementScore([]float64{1.0, 0.0}), 1e-9)
}

func TestNextBackoff_ResetsOnPositiveOutcome(t *testing.T) {
	assert.Equal(t, 1.0, NextBackoff(8, 1.0))
	assert.Equal(t, 1.0, NextBackoff(8, 0.5))
}

func TestNextBackoff_DoublesOnNegativeOutcome(t *testing.T) {
	assert.Equal(t, 4.0, NextBackoff(2, 0.0))
}

func TestNextBackoff_CapsAtSixteen(t *testing.T) {
	assert.Equal(t, 16.0, NextBackoff(16, 0.0))
}

func TestShouldTripCircuitBreaker_TripsOnThreeConsecutiveNegatives(t *testing.T) {
	now := time.Now()
	history := []Outcome{
		{Score: 0, At: now.Add(-3 * time.Hour)},
		{Score: 0, At: now.Add(-2 * time.Hour)},
		{Score: 0, At: now.Add(-1 * time.Hour)},
	}
	assert.True(t, ShouldTripCircuitBreaker(history, now))
}

func TestShouldTripCircuitBreaker_NotEnoughSamples(t *testing.T) {
	now := time.Now()
	history := []Outcome{{Score: 0, At: now}, {Score: 0, At: now}}
	assert.False(t, ShouldTripCircuitBreaker(history, now))
}

func TestShouldTripCircuitBreaker_PositiveBreaksTheStreak(t *testing.T) {
	now := time.Now()
	history := []Outcome{
		{Score: 0, At: now.Add(-3 * time.Hour)},
		{Score: 1, At: now.Add(-2 * time.Hour)},
		{Score: 0, At: now.Add(-1 * time.Hour)},
	}
	assert.False(t, ShouldTripCircuitBreaker(history, now))
}

func TestShouldTripCircuitBreaker_OutsideWindowDoesNotCount(t *testing.T) {
	now := time.Now()
	history := []Outcome{
		{Score: 0, At: now.Add(-5 * time.Hour)},
		{Score: 0, At: now.Add(-2 * time.Hour)},
		{Score: 0, At: now.Add(-1 * time.Hour)},
	}
	assert.False(t, ShouldTripCircuitBreaker(history, now))
}

func TestShouldRecoverFromSuppression_RecoversAfterSevenDaysIfActive(t *testing.T) {
	now := time.Now()
	pausedSince := now.Add(-8 * 24 * time.Hour)
	assert.True(t, ShouldRecoverFromSuppression(pausedSince, true, now))
}

func TestShouldRecoverFromSuppression_NotYetSevenDays(t *testing.T) {
	now := time.Now()
	pausedSince := now.Add(-3 * 24 * time.Hour)
	assert.False(t, ShouldRecoverFromSuppression(pausedSince, true, now))
}

func TestShouldRecoverFromSuppression_NoRecoveryWithoutActivity(t *testing.T) {
	now := time.Now()
	pausedSince := now.Add(-8 * 24 * time.Hour)
	assert.False(t, ShouldRecoverFromSuppression(pausedSince, false, now))
}
