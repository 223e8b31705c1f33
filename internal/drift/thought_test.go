package drift

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"

	"cortex/internal/persistence/databases"
)

func concept(name string, strength float64) databases.SemanticConcept {
	return databases.SemanticConcept{ID: uuid.New(), Name: name, Strength: strength}
}

func TestPickSeed_EmptyCandidatesReturnsFalse(t *testing.T) {
	_, ok := pickSeed(nil, 0.5)
	assert.False(t, ok)
}

func TestPickSeed_SingleCandidateAlwaysPicked(t *testing.T) {
	c := concept("only", 0.5)
	picked, ok := pickSeed([]databases.SemanticConcept{c}, 0.9)
	assert.True(t, ok)
	assert.Equal(t, c.ID, picked.ID)
}

func TestPickSeed_WeightedByStrength(t *testing.T) {
	candidates := []databases.SemanticConcept{concept("a", 0.2), concept("b", 0.8)}
	// total=1.0, r=0.1 falls within the first candidate's [0,0.2) band.
	picked, ok := pickSeed(candidates, 0.1)
	assert.True(t, ok)
	assert.Equal(t, "a", picked.Name)

	// r=0.5 falls past the first band into the second.
	picked, ok = pickSeed(candidates, 0.5)
	assert.True(t, ok)
	assert.Equal(t, "b", picked.Name)
}

func TestPickSeed_ZeroTotalStrengthPicksFirst(t *testing.T) {
	candidates := []databases.SemanticConcept{concept("a", 0), concept("b", 0)}
	picked, ok := pickSeed(candidates, 0.9)
	assert.True(t, ok)
	assert.Equal(t, "a", picked.Name)
}

func TestSpreadActivation_SeedAloneUsesOwnStrength(t *testing.T) {
	seed := concept("seed", 0.5)
	assert.InDelta(t, 0.5, spreadActivation(seed, nil), 1e-9)
}

func TestSpreadActivation_NeighborsAddDiscountedContribution(t *testing.T) {
	seed := concept("seed", 0.4)
	neighbors := []databases.SemanticConcept{concept("n1", 1.0), concept("n2", 1.0)}
	// 0.4 + 1.0*0.15 + 1.0*0.15 = 0.7
	assert.InDelta(t, 0.7, spreadActivation(seed, neighbors), 1e-9)
}

func TestSpreadActivation_ClampsToOne(t *testing.T) {
	seed := concept("seed", 1.0)
	neighbors := []databases.SemanticConcept{concept("n1", 1.0), concept("n2", 1.0), concept("n3", 1.0)}
	assert.Equal(t, 1.0, spreadActivation(seed, neighbors))
}

func TestNormalizeThoughtType_UnknownFallsBackToReflection(t *testing.T) {
	assert.Equal(t, ThoughtReflection, normalizeThoughtType("nonsense"))
	assert.Equal(t, ThoughtInsight, normalizeThoughtType(ThoughtInsight))
}
