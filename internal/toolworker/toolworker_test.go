package toolworker

import (
	"encoding/json"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"

	"cortex/internal/act"
	"cortex/internal/persistence/databases"
)

func TestHasVisualCard_DetectsCardField(t *testing.T) {
	history := []act.IterationRecord{
		{Results: []act.ActionResult{{Output: json.RawMessage(`{"card":{"kind":"weather"}}`)}}},
	}
	assert.True(t, hasVisualCard(history))
}

func TestHasVisualCard_DetectsTypeDiscriminator(t *testing.T) {
	history := []act.IterationRecord{
		{Results: []act.ActionResult{{Output: json.RawMessage(`{"type":"card","title":"x"}`)}}},
	}
	assert.True(t, hasVisualCard(history))
}

func TestHasVisualCard_NoCardReturnsFalse(t *testing.T) {
	history := []act.IterationRecord{
		{Results: []act.ActionResult{{Output: json.RawMessage(`{"ok":true}`)}}},
	}
	assert.False(t, hasVisualCard(history))
}

func TestHasVisualCard_SkipsErroredAndEmptyResults(t *testing.T) {
	history := []act.IterationRecord{
		{Results: []act.ActionResult{
			{Err: "boom", Output: json.RawMessage(`{"card":{}}`)},
			{Output: nil},
		}},
	}
	assert.False(t, hasVisualCard(history))
}

func TestAnyOtherActiveCycle_TrueWhenDifferentIDPresent(t *testing.T) {
	self := uuid.New()
	other := uuid.New()
	cycles := []databases.Cycle{{ID: self}, {ID: other}}
	assert.True(t, anyOtherActiveCycle(cycles, self))
}

func TestAnyOtherActiveCycle_FalseWhenOnlySelf(t *testing.T) {
	self := uuid.New()
	cycles := []databases.Cycle{{ID: self}}
	assert.False(t, anyOtherActiveCycle(cycles, self))
}

func TestAnyOtherActiveCycle_FalseWhenEmpty(t *testing.T) {
	assert.False(t, anyOtherActiveCycle(nil, uuid.New()))
}

func TestCosineSimilarity_IdenticalVectorsIsOne(t *testing.T) {
	v := []float32{1, 2, 3}
	assert.InDelta(t, 1.0, cosineSimilarity(v, v), 1e-9)
}

func TestCosineSimilarity_OrthogonalVectorsIsZero(t *testing.T) {
	assert.Equal(t, 0.0, cosineSimilarity([]float32{1, 0}, []float32{0, 1}))
}

func TestCosineSimilarity_MismatchedLengthIsZero(t *testing.T) {
	assert.Equal(t, 0.0, cosineSimilarity([]float32{1, 2}, []float32{1}))
}
