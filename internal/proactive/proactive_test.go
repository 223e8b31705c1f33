package proactive

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestAgeDecayedScore_NoAgeReturnsFullScore(t *testing.T) {
	now := time.Now()
	c := Candidate{Score: 0.8, CreatedAt: now}
	assert.InDelta(t, 0.8, AgeDecayedScore(c, now), 1e-9)
}

func TestAgeDecayedScore_HalvesAtHalfLife(t *testing.T) {
	now := time.Now()
	c := Candidate{Score: 1.0, CreatedAt: now.Add(-scoreHalfLifeHours * time.Hour)}
	assert.InDelta(t, 0.5, AgeDecayedScore(c, now), 1e-6)
}

func TestAgeDecayedScore_ZeroScoreStaysZero(t *testing.T) {
	c := Candidate{Score: 0, CreatedAt: time.Now().Add(-time.Hour)}
	assert.Equal(t, 0.0, AgeDecayedScore(c, time.Now()))
}
