package classify

import (
	"context"
	"fmt"
	"sort"
)

// ToolCandidate is one entry in a tool/skill's relevance registry: its
// name and a description embedding computed once at registration time.
type ToolCandidate struct {
	Name        string
	IsInnate    bool // true for skills the assistant can run without a tool call
	Description []float32
}

// ToolScore is one ranked result from the relevance scorer.
type ToolScore struct {
	Name     string
	IsInnate bool
	Score    float64
}

// ToolRelevanceResult is spec.md §4.4's tool relevance scorer output.
type ToolRelevanceResult struct {
	Top              []ToolScore
	MaxToolRelevance float64
}

// ToolRelevanceScorer ranks registered tools/skills against a prompt by
// embedding cosine similarity, grounded on the same nearest-neighbour
// pattern as TopicClassifier.
type ToolRelevanceScorer struct {
	embedder   Embedder
	candidates []ToolCandidate
}

// NewToolRelevanceScorer builds a scorer over a fixed candidate set,
// populated at startup from the skill/tool dispatcher's registry (C15).
func NewToolRelevanceScorer(embedder Embedder, candidates []ToolCandidate) *ToolRelevanceScorer {
	return &ToolRelevanceScorer{embedder: embedder, candidates: candidates}
}

// TopK returns the k highest-scoring tools/skills for prompt, plus the
// single highest score as max_tool_relevance (spec.md §4.4's fast-path
// gate input).
func (s *ToolRelevanceScorer) TopK(ctx context.Context, prompt string, k int) (ToolRelevanceResult, error) {
	vec, err := s.embedder.Embed(prompt)
	if err != nil {
		return ToolRelevanceResult{}, fmt.Errorf("tool relevance: embed prompt: %w", err)
	}
	return rankCandidates(vec, s.candidates, k), nil
}

// rankCandidates is TopK's pure scoring/sort logic, split out for direct
// unit testing against fixed vectors.
func rankCandidates(promptVec []float32, candidates []ToolCandidate, k int) ToolRelevanceResult {
	scores := make([]ToolScore, 0, len(candidates))
	for _, c := range candidates {
		scores = append(scores, ToolScore{Name: c.Name, IsInnate: c.IsInnate, Score: cosine(promptVec, c.Description)})
	}
	sort.SliceStable(scores, func(i, j int) bool { return scores[i].Score > scores[j].Score })

	if k > 0 && k < len(scores) {
		scores = scores[:k]
	}

	max := 0.0
	if len(scores) > 0 {
		max = scores[0].Score
	}
	return ToolRelevanceResult{Top: scores, MaxToolRelevance: max}
}
