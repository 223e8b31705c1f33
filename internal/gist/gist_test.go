package gist

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestJaccard(t *testing.T) {
	assert.Equal(t, 1.0, jaccard("the cat sat", "the cat sat"))
	assert.Equal(t, 0.0, jaccard("apples", "oranges"))
	assert.InDelta(t, 0.5, jaccard("a b c", "a b d"), 0.01)
	assert.Equal(t, 1.0, jaccard("", ""))
}

func TestMerge_DropsBelowMinConfidenceWhenExistingNonEmpty(t *testing.T) {
	p := Policy{MaxGists: 8, MaxPerType: 2, MinConfidence: 7, SimilarityThresh: 0.7}
	existing := []Gist{{ID: "1", Type: TypeFact, Content: "likes coffee", Confidence: 9, CreatedAt: time.Now()}}
	incoming := []Gist{{Type: TypeFact, Content: "likes tea", Confidence: 3}}

	merged, stored := Merge(existing, incoming, p)

	assert.Len(t, merged, 1)
	assert.Equal(t, 0, stored)
}

func TestMerge_AllowsBelowMinConfidenceWhenTopicEmpty(t *testing.T) {
	p := Policy{MaxGists: 8, MaxPerType: 2, MinConfidence: 7, SimilarityThresh: 0.7}
	incoming := []Gist{{Type: TypeFact, Content: "likes tea", Confidence: 3}}

	merged, stored := Merge(nil, incoming, p)

	assert.Len(t, merged, 1)
	assert.Equal(t, 1, stored)
}

func TestMerge_ReplacesSimilarGistWithHigherConfidence(t *testing.T) {
	p := Policy{MaxGists: 8, MaxPerType: 2, MinConfidence: 0, SimilarityThresh: 0.5}
	existing := []Gist{{ID: "1", Type: TypeFact, Content: "user likes coffee in the morning", Confidence: 5, CreatedAt: time.Now()}}
	incoming := []Gist{{Type: TypeFact, Content: "user likes coffee in the morning always", Confidence: 8}}

	merged, stored := Merge(existing, incoming, p)

	assert.Len(t, merged, 1)
	assert.Equal(t, 8, merged[0].Confidence)
	assert.Equal(t, 1, stored)
}

func TestMerge_SkipsSimilarGistWithLowerConfidence(t *testing.T) {
	p := Policy{MaxGists: 8, MaxPerType: 2, MinConfidence: 0, SimilarityThresh: 0.5}
	existing := []Gist{{ID: "1", Type: TypeFact, Content: "user likes coffee in the morning", Confidence: 9, CreatedAt: time.Now()}}
	incoming := []Gist{{Type: TypeFact, Content: "user likes coffee in the morning always", Confidence: 4}}

	merged, stored := Merge(existing, incoming, p)

	assert.Len(t, merged, 1)
	assert.Equal(t, 9, merged[0].Confidence)
	assert.Equal(t, 0, stored)
}

func TestCapRetention_EnforcesPerTypeAndOverallCaps(t *testing.T) {
	p := Policy{MaxGists: 3, MaxPerType: 1, MinConfidence: 0, SimilarityThresh: 2} // thresh >1 disables dedup
	now := time.Now()
	gists := []Gist{
		{ID: "a", Type: TypeFact, Confidence: 5, CreatedAt: now},
		{ID: "b", Type: TypeFact, Confidence: 9, CreatedAt: now.Add(time.Second)},
		{ID: "c", Type: TypeIntent, Confidence: 6, CreatedAt: now},
		{ID: "d", Type: TypePreference, Confidence: 7, CreatedAt: now},
	}

	kept := capRetention(gists, p)

	assert.Len(t, kept, 3)
	ids := map[string]bool{}
	for _, g := range kept {
		ids[g.ID] = true
	}
	assert.True(t, ids["b"], "highest-confidence fact should survive its type cap")
	assert.False(t, ids["a"])
}

func TestColdStartGists_ExcludedFromNonColdStartCount(t *testing.T) {
	cs := ColdStartGists(time.Now())
	assert.Len(t, cs, 2)
	assert.Equal(t, 0, NonColdStartCount(cs))
}

func TestNonColdStartCount_CountsOnlyRegularGists(t *testing.T) {
	gists := append(ColdStartGists(time.Now()), Gist{Type: TypeFact}, Gist{Type: TypeIntent})
	assert.Equal(t, 2, NonColdStartCount(gists))
}
