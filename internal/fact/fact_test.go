package fact

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestFormatForPrompt_SortsByKeyDeterministically(t *testing.T) {
	facts := map[string]Fact{
		"favorite_color": {Key: "favorite_color", Value: "blue", Confidence: 8},
		"hometown":       {Key: "hometown", Value: "Austin", Confidence: 9},
	}

	out := FormatForPrompt(facts)

	assert.Equal(t, "favorite_color: blue (8)\nhometown: Austin (9)", out)
}

func TestFormatForPrompt_Empty(t *testing.T) {
	assert.Equal(t, "", FormatForPrompt(nil))
}

func TestKey(t *testing.T) {
	assert.Equal(t, "fact:cooking", key("cooking"))
}

func TestFact_UpdatedAtZeroUntilSet(t *testing.T) {
	f := Fact{Key: "k", Value: "v", Confidence: 5}
	assert.True(t, f.UpdatedAt.IsZero())
	// New is only meaningfully exercised against a live client; this test
	// documents the zero-value contract Set/SetBatch fill in.
	assert.True(t, time.Now().After(f.UpdatedAt))
}

func TestShrinkExternalTTL_DividesByOneAndAHalf(t *testing.T) {
	f := Fact{Source: SourceExternal, TTLSeconds: 900}
	next, ok := shrinkExternalTTL(f)
	assert.True(t, ok)
	assert.Equal(t, 600, next.TTLSeconds)
}

func TestShrinkExternalTTL_FloorsAtSixty(t *testing.T) {
	f := Fact{Source: SourceExternal, TTLSeconds: 80}
	next, ok := shrinkExternalTTL(f)
	assert.True(t, ok)
	assert.Equal(t, 60, next.TTLSeconds)
}

func TestShrinkExternalTTL_NoOpAtFloor(t *testing.T) {
	f := Fact{Source: SourceExternal, TTLSeconds: 60}
	_, ok := shrinkExternalTTL(f)
	assert.False(t, ok)
}

func TestShrinkExternalTTL_NoOpForNonExternal(t *testing.T) {
	f := Fact{Source: SourceExplicit, TTLSeconds: 900}
	_, ok := shrinkExternalTTL(f)
	assert.False(t, ok)
}

func TestIsExpiredExternal_TrueAfterElapsed(t *testing.T) {
	f := Fact{Source: SourceExternal, TTLSeconds: 60, UpdatedAt: time.Now().Add(-2 * time.Minute)}
	assert.True(t, isExpiredExternal(f, time.Now()))
}

func TestIsExpiredExternal_FalseBeforeElapsed(t *testing.T) {
	f := Fact{Source: SourceExternal, TTLSeconds: 600, UpdatedAt: time.Now()}
	assert.False(t, isExpiredExternal(f, time.Now()))
}

func TestIsExpiredExternal_FalseForNonExternal(t *testing.T) {
	f := Fact{Source: SourceExplicit, TTLSeconds: 1, UpdatedAt: time.Now().Add(-time.Hour)}
	assert.False(t, isExpiredExternal(f, time.Now()))
}
