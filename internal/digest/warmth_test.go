package digest

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestContextWarmth_AveragesThreeSubScores(t *testing.T) {
	w := ContextWarmth(WarmthInputs{WorkingMemoryFill: 1, GistCount: 5, WorldStateNonEmpty: true})
	assert.InDelta(t, 1.0, w, 0.0001)
}

func TestContextWarmth_ZeroInputs(t *testing.T) {
	w := ContextWarmth(WarmthInputs{})
	assert.Equal(t, 0.0, w)
}

func TestContextWarmth_GistCountCappedAtFive(t *testing.T) {
	w := ContextWarmth(WarmthInputs{GistCount: 50})
	assert.InDelta(t, 1.0/3.0, w, 0.0001)
}

func TestContextWarmth_Partial(t *testing.T) {
	w := ContextWarmth(WarmthInputs{WorkingMemoryFill: 0.5, GistCount: 0, WorldStateNonEmpty: false})
	assert.InDelta(t, 0.5/3.0, w, 0.0001)
}

func TestProgressPhrase_VariesByElapsed(t *testing.T) {
	assert.Equal(t, "Still working on that.", progressPhrase(2*time.Second))
	assert.NotEqual(t, progressPhrase(2*time.Second), progressPhrase(60*time.Second))
}

func TestCosineSimilarity_Basic(t *testing.T) {
	assert.InDelta(t, 1.0, cosineSimilarity([]float32{1, 1}, []float32{2, 2}), 0.0001)
	assert.Equal(t, 0.0, cosineSimilarity([]float32{1}, []float32{1, 2}))
}
