// Package decay implements C21: a single periodic pass applying every
// decay rule spec.md §4.10 names across the memory lattice (C4-C9).
// Grounded on internal/semanticconsolidation's Worker.RunOnce shape
// (injected collaborators, a summary return value, warn-and-continue on
// a sub-step failure rather than aborting the whole pass) applied here to
// five independent decay sub-steps instead of one extraction call.
package decay

import (
	"context"
	"fmt"
	"time"

	"cortex/internal/fact"
	"cortex/internal/identity"
	"cortex/internal/observability"
	"cortex/internal/persistence/databases"
)

// DefaultInterval is spec.md §4.10's "periodic, default every 30 min".
const DefaultInterval = 30 * time.Minute

// episodicLambda is §4.10's lambda_ep baseline for episodic activation decay.
const episodicLambda = 0.05

// semanticLambda is this package's own choice: spec.md §4.10 names the
// semantic strength formula but not lambda_sem's value. 0.05 matches the
// episodic baseline since both are "slow background forgetting" rates and
// the spec gives no reason to diverge between them.
const semanticLambda = 0.05

// semanticStaleAfter is how long a concept must go unaccessed before its
// strength decays; not pinned by spec.md, set to the same 1h freshness
// window episodic activation decay uses.
const semanticStaleAfter = 1 * time.Hour

// Summary reports how many rows/keys each sub-step touched, for logging
// and tests.
type Summary struct {
	EpisodesDecayed      int64
	ConceptsDecayed      int64
	TraitsDecayed        int64
	TraitsDeleted        int64
	IdentityRan          bool
	ExternalFactsExpired int
	ExternalFactsShrunk  int
	Errors               []error
}

// Worker runs one decay pass across every store spec.md §4.10 names.
// Collaborators are independently optional: a nil field silently skips its
// sub-step (nothing is added to the returned Summary's Errors). A sub-step
// that runs and fails is recorded in Errors without failing the whole
// pass, since a transient outage in one store should never block decay
// for the others.
type Worker struct {
	Episodes *databases.EpisodeStore
	Semantic *databases.SemanticStore
	Traits   *databases.TraitStore
	Identity *identity.Service
	Facts    *fact.Store
	Threads  *databases.ThreadStore

	// EpisodicLambda and SemanticLambda override this package's baseline
	// decay rates when non-zero (config.DecayConfig, so a deployment can
	// tune forgetting speed without a code change). SemanticStaleAfter
	// overrides the concept-freshness window the same way.
	EpisodicLambda     float64
	SemanticLambda     float64
	SemanticStaleAfter time.Duration
}

func (w *Worker) episodicLambda() float64 {
	if w.EpisodicLambda > 0 {
		return w.EpisodicLambda
	}
	return episodicLambda
}

func (w *Worker) semanticLambda() float64 {
	if w.SemanticLambda > 0 {
		return w.SemanticLambda
	}
	return semanticLambda
}

func (w *Worker) semanticStaleAfter() time.Duration {
	if w.SemanticStaleAfter > 0 {
		return w.SemanticStaleAfter
	}
	return semanticStaleAfter
}

// RunOnce applies one decay pass: episodic activation, semantic strength,
// identity inertia/drift, external-knowledge fact TTL, and user trait
// decay, in that order. A failure in one sub-step is logged and recorded
// in the Summary; the remaining sub-steps still run.
func (w *Worker) RunOnce(ctx context.Context) Summary {
	var s Summary
	log := observability.LoggerWithTrace(ctx)

	if w.Episodes != nil {
		n, err := w.Episodes.ApplyActivationDecay(ctx, w.episodicLambda())
		if err != nil {
			log.Warn().Err(err).Msg("decay: episodic activation decay failed")
			s.Errors = append(s.Errors, fmt.Errorf("episodic: %w", err))
		} else {
			s.EpisodesDecayed = n
		}
	}

	if w.Semantic != nil {
		n, err := w.Semantic.ApplyStrengthDecay(ctx, w.semanticLambda(), w.semanticStaleAfter())
		if err != nil {
			log.Warn().Err(err).Msg("decay: semantic strength decay failed")
			s.Errors = append(s.Errors, fmt.Errorf("semantic: %w", err))
		} else {
			s.ConceptsDecayed = n
		}
	}

	if w.Identity != nil {
		if err := w.Identity.RunDecayCycle(ctx); err != nil {
			log.Warn().Err(err).Msg("decay: identity decay cycle failed")
			s.Errors = append(s.Errors, fmt.Errorf("identity: %w", err))
		} else {
			s.IdentityRan = true
		}
	}

	if w.Facts != nil && w.Threads != nil {
		expired, shrunk, err := w.decayExternalFacts(ctx)
		if err != nil {
			log.Warn().Err(err).Msg("decay: external fact TTL decay failed")
			s.Errors = append(s.Errors, fmt.Errorf("external facts: %w", err))
		} else {
			s.ExternalFactsExpired = expired
			s.ExternalFactsShrunk = shrunk
		}
	}

	if w.Traits != nil {
		decayed, deleted, err := w.Traits.ApplyDecay(ctx)
		if err != nil {
			log.Warn().Err(err).Msg("decay: trait decay failed")
			s.Errors = append(s.Errors, fmt.Errorf("traits: %w", err))
		} else {
			s.TraitsDecayed = decayed
			s.TraitsDeleted = deleted
		}
	}

	return s
}

// decayExternalFacts sweeps every active thread's topic, since external
// facts live in per-topic Redis state with no bulk SQL decay path.
func (w *Worker) decayExternalFacts(ctx context.Context) (expired, shrunk int, err error) {
	topics, err := w.Threads.ActiveTopics(ctx)
	if err != nil {
		return 0, 0, fmt.Errorf("list active topics: %w", err)
	}
	for _, topic := range topics {
		e, sh, err := w.Facts.ApplyExternalTTLDecay(ctx, topic)
		if err != nil {
			observability.LoggerWithTrace(ctx).Warn().Err(err).Str("topic", topic).
				Msg("decay: external fact TTL decay failed for topic")
			continue
		}
		expired += e
		shrunk += sh
	}
	return expired, shrunk, nil
}

// Run blocks, invoking RunOnce every interval until ctx is cancelled.
// interval <= 0 falls back to DefaultInterval. Grounded on
// internal/act.Orchestrator's heartbeat ticker loop.
func (w *Worker) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = DefaultInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			summary := w.RunOnce(ctx)
			observability.LoggerWithTrace(ctx).Info().
				Int64("episodes_decayed", summary.EpisodesDecayed).
				Int64("concepts_decayed", summary.ConceptsDecayed).
				Int64("traits_decayed", summary.TraitsDecayed).
				Int64("traits_deleted", summary.TraitsDeleted).
				Bool("identity_ran", summary.IdentityRan).
				Int("external_facts_expired", summary.ExternalFactsExpired).
				Int("external_facts_shrunk", summary.ExternalFactsShrunk).
				Int("errors", len(summary.Errors)).
				Msg("decay: pass complete")
		}
	}
}
