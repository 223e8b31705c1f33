// Package semanticconsolidation implements C19: a batch worker that reads
// episodes pending semantic consolidation, asks the LLM to extract
// concepts and relationships from the batch, and upserts them into the
// semantic store, per spec.md §3/§4. Grounded on the same structured-JSON
// LLM contract style as internal/episodic and internal/memorychunker
// (itself grounded on the teacher's internal/agent/memory.ReMemController,
// remem.go), applied here to a batch instead of a single exchange.
package semanticconsolidation

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"cortex/internal/classify"
	"cortex/internal/llm"
	"cortex/internal/observability"
	"cortex/internal/persistence/databases"
)

const (
	// StatusEmpty marks an episode batch-consumed with nothing extracted;
	// StatusCompleted and StatusFailed are the other two terminal states
	// named in spec.md §3. Empty and failed are retried by a later pass
	// since PendingConsolidation selects both alongside the unset state.
	StatusEmpty     = "empty"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
)

// defaultBatchSize bounds one consolidation pass; spec.md leaves the
// number unspecified, so this follows the teacher's general preference
// for small, boundable batches over unbounded scans.
const defaultBatchSize = 20

// conceptExtraction is one concept the LLM proposes from the batch.
type conceptExtraction struct {
	Name            string  `json:"name"`
	Definition      string  `json:"definition"`
	DecayResistance float64 `json:"decay_resistance"`
}

// relationshipExtraction links two proposed concepts by name.
type relationshipExtraction struct {
	From     string  `json:"from"`
	To       string  `json:"to"`
	Relation string  `json:"relation"`
	Weight   float64 `json:"weight"`
}

// batchExtraction is the worker's structured-JSON LLM contract.
type batchExtraction struct {
	Concepts      []conceptExtraction      `json:"concepts"`
	Relationships []relationshipExtraction `json:"relationships"`
}

// Worker drains EpisodeStore.PendingConsolidation in batches and upserts
// extracted concepts/relationships into SemanticStore.
type Worker struct {
	Episodes *databases.EpisodeStore
	Semantic *databases.SemanticStore
	LLM      llm.Provider
	Model    string
	Embedder classify.Embedder
	BatchSize int
}

// RunOnce performs one consolidation pass: fetch a batch, extract, upsert,
// mark every consumed episode's status. Intended to be invoked by C22 (the
// idle-consolidation scheduler) once enough episodes have accumulated and
// every other queue has drained.
func (w *Worker) RunOnce(ctx context.Context) (processed int, err error) {
	batchSize := w.BatchSize
	if batchSize <= 0 {
		batchSize = defaultBatchSize
	}

	episodes, err := w.Episodes.PendingConsolidation(ctx, batchSize)
	if err != nil {
		return 0, fmt.Errorf("semanticconsolidation: fetch pending: %w", err)
	}
	if len(episodes) == 0 {
		return 0, nil
	}

	ids := make([]uuid.UUID, 0, len(episodes))
	for _, e := range episodes {
		ids = append(ids, e.ID)
	}

	extraction, err := w.extract(ctx, episodes)
	status := StatusCompleted
	if err != nil {
		observability.LoggerWithTrace(ctx).Warn().Err(err).Msg("semanticconsolidation: extraction failed")
		status = StatusFailed
	} else if len(extraction.Concepts) == 0 {
		status = StatusEmpty
	} else if uerr := w.upsert(ctx, extraction); uerr != nil {
		observability.LoggerWithTrace(ctx).Warn().Err(uerr).Msg("semanticconsolidation: upsert failed")
		status = StatusFailed
	}

	if markErr := w.Episodes.MarkConsolidationStatus(ctx, ids, status); markErr != nil {
		return 0, fmt.Errorf("semanticconsolidation: mark status: %w", markErr)
	}

	return len(episodes), nil
}

func (w *Worker) extract(ctx context.Context, episodes []databases.Episode) (batchExtraction, error) {
	if w.LLM == nil {
		return batchExtraction{}, nil
	}
	msgs := []llm.Message{
		{Role: "system", Content: extractionSystemPrompt()},
		{Role: "user", Content: buildBatchPrompt(episodes)},
	}
	resp, err := w.LLM.Chat(ctx, msgs, nil, w.Model)
	if err != nil {
		return batchExtraction{}, err
	}
	var out batchExtraction
	if err := json.Unmarshal([]byte(resp.Content), &out); err != nil {
		return batchExtraction{}, fmt.Errorf("parse extraction: %w", err)
	}
	return out, nil
}

func (w *Worker) upsert(ctx context.Context, extraction batchExtraction) error {
	byName := make(map[string]databases.SemanticConcept, len(extraction.Concepts))
	for _, c := range extraction.Concepts {
		resistance := c.DecayResistance
		if resistance <= 0 {
			resistance = 0.5
		}
		var embedding []float32
		if w.Embedder != nil {
			if vec, err := w.Embedder.Embed(c.Definition); err == nil {
				embedding = vec
			}
		}
		saved, err := w.Semantic.UpsertConcept(ctx, databases.SemanticConcept{
			Name: c.Name, Definition: c.Definition, Strength: 1,
			DecayResistance: resistance, Embedding: embedding,
		})
		if err != nil {
			return fmt.Errorf("upsert concept %q: %w", c.Name, err)
		}
		byName[c.Name] = saved
	}

	for _, r := range extraction.Relationships {
		from, ok1 := byName[r.From]
		to, ok2 := byName[r.To]
		if !ok1 || !ok2 {
			continue
		}
		weight := r.Weight
		if weight <= 0 {
			weight = 1
		}
		if err := w.Semantic.LinkConcepts(ctx, databases.SemanticRelationship{
			FromID: from.ID, ToID: to.ID, Relation: r.Relation, Weight: weight,
		}); err != nil {
			observability.LoggerWithTrace(ctx).Warn().Err(err).
				Str("from", r.From).Str("to", r.To).Msg("semanticconsolidation: link failed")
		}
	}
	return nil
}

func buildBatchPrompt(episodes []databases.Episode) string {
	var b strings.Builder
	b.WriteString("Episodes:\n\n")
	for i, e := range episodes {
		fmt.Fprintf(&b, "%d. topic=%s gist=%s context=%s outcome=%s\n", i+1, e.Topic, e.Gist, e.Context, e.Outcome)
	}
	b.WriteString("\nExtract concepts and relationships. Respond with JSON following the schema described in the system prompt.")
	return b.String()
}

func extractionSystemPrompt() string {
	return `You extract reusable semantic knowledge from a batch of episodic memories. Respond with JSON:

{
  "concepts": [{"name": "...", "definition": "...", "decay_resistance": 0-1}],
  "relationships": [{"from": "concept name", "to": "concept name", "relation": "...", "weight": 0-1}]
}

Only extract concepts that generalize beyond one episode. If nothing generalizes, return empty arrays.`
}
