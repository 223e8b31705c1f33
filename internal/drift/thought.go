// Package drift implements C24, the autonomous drift/action engine:
// synthesizing an idle "thought" from spreading activation over the
// semantic lattice, routing it through a gated action registry (NOTHING,
// REFLECT, SEED_THREAD, NURTURE, PLAN, SUGGEST, COMMUNICATE per
// spec.md §4.11), and tracking user engagement with whatever the chosen
// action delivers. Every gate is a pure function over a precomputed
// GateContext, mirroring internal/identity's split between pure
// reinforcement math and a thin store-backed Service. Thought synthesis
// itself is grounded on internal/episodic's structured-JSON LLM contract
// with a deterministic fallback.
package drift

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"cortex/internal/classify"
	"cortex/internal/llm"
	"cortex/internal/persistence/databases"
)

// Thought types a synthesized idle thought can take (spec.md §4.11).
const (
	ThoughtReflection = "reflection"
	ThoughtQuestion   = "question"
	ThoughtHypothesis = "hypothesis"
	ThoughtInsight    = "insight"
	ThoughtEvent      = "event"
)

// spreadFactor discounts a neighbor concept's contribution to the seed's
// activation energy; not pinned by spec.md beyond "spreading activation",
// chosen so a handful of strong neighbors can lift a middling seed above
// a threshold without a single neighbor dominating it.
const spreadFactor = 0.15

// Thought is one cycle's synthesized idle thought, the unit every action
// gate and Fire function operates on.
type Thought struct {
	Content          string
	Type             string
	ActivationEnergy float64
	SeedConcept      string
	SeedConceptID    uuid.UUID
	SeedTopic        string
	Embedding        []float32
}

// pickSeed weighted-samples one concept from candidates, proportional to
// Strength, using the caller-supplied uniform draw r in [0,1). Pure,
// tested directly; the draw is injected so the choice is reproducible.
func pickSeed(candidates []databases.SemanticConcept, r float64) (databases.SemanticConcept, bool) {
	if len(candidates) == 0 {
		return databases.SemanticConcept{}, false
	}
	var total float64
	for _, c := range candidates {
		total += c.Strength
	}
	if total <= 0 {
		return candidates[0], true
	}
	target := r * total
	var cum float64
	for _, c := range candidates {
		cum += c.Strength
		if target <= cum {
			return c, true
		}
	}
	return candidates[len(candidates)-1], true
}

// spreadActivation computes a seed concept's activation energy as its own
// strength plus a discounted contribution from each linked neighbor's
// strength, clamped to [0,1]. Pure, tested directly.
func spreadActivation(seed databases.SemanticConcept, neighbors []databases.SemanticConcept) float64 {
	energy := seed.Strength
	for _, n := range neighbors {
		energy += n.Strength * spreadFactor
	}
	return clampUnit(energy)
}

func clampUnit(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// thoughtExtraction is the LLM's structured-JSON contract for turning a
// seed concept and its neighbors into a thought.
type thoughtExtraction struct {
	Content string `json:"content"`
	Type    string `json:"type"`
}

// SynthesizeThought picks a seed concept and renders a thought from it
// and its neighbors, using an LLM when available and a deterministic
// fallback otherwise (episodic.Consolidator.synthesize's pattern).
func SynthesizeThought(ctx context.Context, llmProvider llm.Provider, model string, embedder classify.Embedder, candidates, neighbors []databases.SemanticConcept, r float64) (Thought, error) {
	seed, ok := pickSeed(candidates, r)
	if !ok {
		return Thought{}, fmt.Errorf("drift: no concepts to seed a thought from")
	}
	energy := spreadActivation(seed, neighbors)

	extraction := fallbackExtraction(seed, neighbors)
	if llmProvider != nil {
		msgs := []llm.Message{
			{Role: "system", Content: thoughtSystemPrompt()},
			{Role: "user", Content: buildThoughtPrompt(seed, neighbors)},
		}
		if resp, err := llmProvider.Chat(ctx, msgs, nil, model); err == nil {
			var parsed thoughtExtraction
			if json.Unmarshal([]byte(resp.Content), &parsed) == nil && parsed.Content != "" {
				extraction = parsed
			}
		}
	}

	embedding := seed.Embedding
	if embedder != nil {
		if vec, err := embedder.Embed(extraction.Content); err == nil {
			embedding = vec
		}
	}

	return Thought{
		Content:          extraction.Content,
		Type:             normalizeThoughtType(extraction.Type),
		ActivationEnergy: energy,
		SeedConcept:      seed.Name,
		SeedConceptID:    seed.ID,
		SeedTopic:        seed.Name,
		Embedding:        embedding,
	}, nil
}

func normalizeThoughtType(t string) string {
	switch t {
	case ThoughtQuestion, ThoughtHypothesis, ThoughtInsight, ThoughtEvent:
		return t
	default:
		return ThoughtReflection
	}
}

func fallbackExtraction(seed databases.SemanticConcept, neighbors []databases.SemanticConcept) thoughtExtraction {
	if len(neighbors) == 0 {
		return thoughtExtraction{Content: fmt.Sprintf("Thinking about %s.", seed.Name), Type: ThoughtReflection}
	}
	return thoughtExtraction{
		Content: fmt.Sprintf("Thinking about %s in relation to %s.", seed.Name, neighbors[0].Name),
		Type:    ThoughtReflection,
	}
}

func buildThoughtPrompt(seed databases.SemanticConcept, neighbors []databases.SemanticConcept) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Seed concept: %s - %s\n", seed.Name, seed.Definition)
	if len(neighbors) > 0 {
		b.WriteString("Related concepts:\n")
		for _, n := range neighbors {
			fmt.Fprintf(&b, "- %s: %s\n", n.Name, n.Definition)
		}
	}
	b.WriteString("\nSynthesize one idle thought drifting from the seed concept. Respond with JSON following the schema in the system prompt.")
	return b.String()
}

func thoughtSystemPrompt() string {
	return `You are an idle background thought process wandering a personal knowledge graph. Given a seed concept and related concepts, synthesize one short thought. Respond with JSON:

{
  "content": "the thought itself, one or two sentences",
  "type": "reflection|question|hypothesis|insight|event"
}`
}
