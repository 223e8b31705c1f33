package drift

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"cortex/internal/gist"
	"cortex/internal/observability"
	"cortex/internal/persistence/databases"
	"cortex/internal/proactive"
)

// fire dispatches to the concrete effect for action, a no-op for
// NOTHING. Every branch is intentionally tolerant of a nil collaborator:
// a drift cycle that cannot deliver its chosen action still shouldn't
// crash the engine, it should log and move on.
func (e *Engine) fire(ctx context.Context, action ActionDef, thought Thought) error {
	switch action.Name {
	case ActionNothing:
		return nil
	case ActionReflect:
		return e.fireReflect(ctx, thought)
	case ActionSeedThread:
		return e.fireSeedThread(ctx, thought)
	case ActionNurture:
		return e.fireNurture(ctx, thought)
	case ActionPlan:
		return e.firePlan(ctx, thought)
	case ActionSuggest:
		return e.fireSuggest(ctx, thought)
	case ActionCommunicate:
		return e.fireCommunicate(ctx, thought)
	default:
		return fmt.Errorf("drift: unknown action %q", action.Name)
	}
}

// fireReflect stores an enriched reflection gist and boosts the seed
// concept's access_count, spec.md §4.11's REFLECT effect. Simplification:
// only the seed concept is boosted, not "up to N concepts", since Thought
// does not carry its neighbors' IDs past synthesis.
func (e *Engine) fireReflect(ctx context.Context, thought Thought) error {
	if e.Gists != nil {
		g := gist.Gist{
			ID:         thought.SeedConceptID.String(),
			Content:    thought.Content,
			Type:       gist.TypeBackground,
			Confidence: 7,
		}
		if _, err := e.Gists.StoreBatch(ctx, thought.SeedTopic, []gist.Gist{g}); err != nil {
			return fmt.Errorf("store reflection gist: %w", err)
		}
	}
	if e.Semantic != nil {
		if err := e.Semantic.TouchAccess(ctx, []uuid.UUID{thought.SeedConceptID}); err != nil {
			return fmt.Errorf("boost reflected concept: %w", err)
		}
	}
	return nil
}

func (e *Engine) fireSeedThread(ctx context.Context, thought Thought) error {
	if e.Curiosity == nil {
		observability.LoggerWithTrace(ctx).Warn().Msg("drift: SEED_THREAD fired without a curiosity thread store")
		return nil
	}
	_, err := e.Curiosity.Create(ctx, databases.CuriosityThread{
		SeedTopic:   thought.SeedTopic,
		SeedConcept: thought.SeedConcept,
		Opening:     thought.Content,
	})
	if err != nil {
		return fmt.Errorf("create curiosity thread: %w", err)
	}
	return nil
}

func (e *Engine) fireNurture(ctx context.Context, thought Thought) error {
	return e.deliver(ctx, thought)
}

func (e *Engine) firePlan(ctx context.Context, thought Thought) error {
	if e.Tasks == nil {
		observability.LoggerWithTrace(ctx).Warn().Msg("drift: PLAN fired without a task store")
		return nil
	}
	expensive := thought.ActivationEnergy >= planMinActivation+0.15
	_, err := e.Tasks.Create(ctx, databases.Task{
		Topic:     thought.SeedTopic,
		Title:     thought.Content,
		Plan:      thought.Content,
		Expensive: expensive,
	})
	if err != nil {
		return fmt.Errorf("create task: %w", err)
	}
	return nil
}

func (e *Engine) fireSuggest(ctx context.Context, thought Thought) error {
	return e.deliver(ctx, thought)
}

func (e *Engine) fireCommunicate(ctx context.Context, thought Thought) error {
	if err := e.deliver(ctx, thought); err != nil {
		return err
	}
	if e.Proactive != nil {
		err := e.Proactive.SetPendingResponse(ctx, e.UserID, proactive.PendingResponse{
			CandidateID: thought.SeedConceptID.String(),
			Content:     thought.Content,
			Embedding:   thought.Embedding,
		})
		if err != nil {
			return fmt.Errorf("set pending response: %w", err)
		}
	}
	return nil
}

func (e *Engine) deliver(ctx context.Context, thought Thought) error {
	if e.Delivery == nil {
		observability.LoggerWithTrace(ctx).Warn().Str("action", "deliver").Msg("drift: no delivery configured, dropping message")
		return nil
	}
	if err := e.Delivery.Deliver(ctx, e.UserID, thought.Content); err != nil {
		return fmt.Errorf("deliver: %w", err)
	}
	return nil
}
