package drift

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"cortex/internal/persistence/databases"
)

func TestContainsActionVerb_DetectsKnownVerb(t *testing.T) {
	assert.True(t, containsActionVerb("We should set up a budget tracker"))
	assert.True(t, containsActionVerb("Maybe I should research flight prices"))
}

func TestContainsActionVerb_FalseForPureReflection(t *testing.T) {
	assert.False(t, containsActionVerb("I wonder about budgets sometimes"))
}

func TestCosineSimilarity_IdenticalVectorsIsOne(t *testing.T) {
	v := []float32{1, 2, 3}
	assert.InDelta(t, 1.0, cosineSimilarity(v, v), 1e-9)
}

func TestCosineSimilarity_MismatchedLengthIsZero(t *testing.T) {
	assert.Equal(t, 0.0, cosineSimilarity([]float32{1, 2}, []float32{1, 2, 3}))
}

func TestCosineSimilarity_ZeroVectorIsZero(t *testing.T) {
	assert.Equal(t, 0.0, cosineSimilarity([]float32{0, 0}, []float32{1, 1}))
}

func TestJaccard_IdenticalTextIsOne(t *testing.T) {
	assert.Equal(t, 1.0, jaccard("build a budget tracker", "build a budget tracker"))
}

func TestJaccard_DisjointTextIsZero(t *testing.T) {
	assert.Equal(t, 0.0, jaccard("budget tracker", "hiking boots"))
}

func TestJaccard_BothEmptyIsOne(t *testing.T) {
	assert.Equal(t, 1.0, jaccard("", ""))
}

func TestCommunicateTypeBonus_InsightAndHypothesisGetBonus(t *testing.T) {
	assert.Equal(t, 0.05, communicateTypeBonus(ThoughtInsight))
	assert.Equal(t, 0.05, communicateTypeBonus(ThoughtHypothesis))
}

func TestCommunicateTypeBonus_OtherTypesGetNone(t *testing.T) {
	assert.Equal(t, 0.0, communicateTypeBonus(ThoughtReflection))
}

func TestHasStrongConcept_TrueWhenAnyNeighborAboveThreshold(t *testing.T) {
	neighbors := []databases.SemanticConcept{{Strength: 0.3}, {Strength: 0.9}}
	assert.True(t, hasStrongConcept(neighbors))
}

func TestHasStrongConcept_FalseWhenNoneQualify(t *testing.T) {
	neighbors := []databases.SemanticConcept{{Strength: 0.3}, {Strength: 0.5}}
	assert.False(t, hasStrongConcept(neighbors))
}

func TestBestTaskJaccard_PicksHighestMatch(t *testing.T) {
	tasks := []databases.Task{{Plan: "hiking boots research"}, {Plan: "build a budget tracker app"}}
	sim := bestTaskJaccard(tasks, "build a budget tracker")
	assert.Greater(t, sim, 0.5)
}
