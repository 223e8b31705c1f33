package drift

import (
	"context"
	"math"
	"strings"
	"time"

	"cortex/internal/observability"
	"cortex/internal/persistence/databases"
)

// strongConceptMin is the "strong concept" bar SEED_THREAD's semantic-
// salience gate names without pinning a number; spec.md's concept
// strength floor is 0.2, so 0.7 is chosen as a meaningfully-above-floor
// bar.
const strongConceptMin = 0.7

// episodicSalienceWindow, episodicSalienceCosineMin and
// episodicSalienceMinCount are spec.md §4.11's exact SEED_THREAD numbers.
const (
	episodicSalienceWindow    = 72 * time.Hour
	episodicSalienceCosineMin = 0.55
	episodicSalienceMinCount  = 2
)

// seedThreadGlobalCooldown is spec.md §4.11's exact number.
const seedThreadGlobalCooldown = 24 * time.Hour

// actionVerbs is a small lexicon for PLAN's "contains action verb" gate.
// Not backed by an NLP dependency; a short curated list is enough to
// distinguish "we should set up a budget tracker" from "I wonder about
// budgets".
var actionVerbs = []string{
	"build", "create", "set up", "setup", "write", "draft", "plan",
	"schedule", "organize", "track", "automate", "implement", "design",
	"research", "compare", "find", "book", "buy", "fix", "migrate",
}

// containsActionVerb is pure, tested directly.
func containsActionVerb(content string) bool {
	lower := strings.ToLower(content)
	for _, v := range actionVerbs {
		if strings.Contains(lower, v) {
			return true
		}
	}
	return false
}

// cosineSimilarity is this package's own unexported cosine helper,
// matching internal/toolworker and internal/digest's per-package
// convention rather than reaching into classify's unexported one.
func cosineSimilarity(a, b []float32) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

// jaccard is this package's own copy of internal/gist's token-set
// similarity, used for PLAN's "similar active task" gate.
func jaccard(a, b string) float64 {
	setA := tokenSet(a)
	setB := tokenSet(b)
	if len(setA) == 0 && len(setB) == 0 {
		return 1
	}
	inter := 0
	for tok := range setA {
		if setB[tok] {
			inter++
		}
	}
	union := len(setA) + len(setB) - inter
	if union == 0 {
		return 0
	}
	return float64(inter) / float64(union)
}

func tokenSet(s string) map[string]bool {
	fields := strings.Fields(strings.ToLower(s))
	set := make(map[string]bool, len(fields))
	for _, f := range fields {
		set[f] = true
	}
	return set
}

// collectGateContext assembles a real GateContext from the engine's
// stores for the given thought and its spreading-activation neighbors.
// This is the impure counterpart to the pure gates in gates.go: every
// signal it cannot source from dedicated infrastructure degrades to a
// documented, conservative default instead of failing the tick (see
// Engine.QuietHours and the DESIGN.md entry for internal/drift for the
// full list of simplifications).
func (e *Engine) collectGateContext(ctx context.Context, thought Thought, neighbors []databases.SemanticConcept, now time.Time) GateContext {
	log := observability.LoggerWithTrace(ctx)

	gc := GateContext{
		Thought: thought,
		Now:     now,

		ActivationThreshold:   e.reflectThreshold(ctx),
		TopicRelevance:        0.5,
		NoveltyOK:             true,
		DriftFatigueRemaining: 1,

		SparkPhase:      "exploratory",
		MinIdleForPhase: time.Hour,
		MaxUnanswered:   3,

		MaxActiveTasks: 10,

		SuggestCooldownActive: false,
		EngagementScore:       1,

		SelfCalibratedThreshold: 0.6,
		TypeBonus:               communicateTypeBonus(thought.Type),
		UserTopicRelevance:      0.5,
		WorkingMemoryNovelty:    0.3,
		MinIdle:                 time.Hour,
		Backoff:                 1,
		MaxIdle:                 48 * time.Hour,
	}

	gc.QuietHours = e.quietHoursAt(now)
	gc.ContainsActionVerb = containsActionVerb(thought.Content)
	gc.SemanticSalienceOK = hasStrongConcept(neighbors)

	if e.Episodes != nil {
		episodes, err := e.Episodes.RecentByTopic(ctx, thought.SeedTopic, 20)
		if err != nil {
			log.Warn().Err(err).Msg("drift: load recent episodes failed")
		} else {
			gc.ExistingEpisodeCount = len(episodes)
			gc.EpisodicSalienceOK = countSalientEpisodes(episodes, thought.Embedding, now) >= episodicSalienceMinCount
			gc.HasPriorInteraction = len(episodes) > 0
		}
	}

	if e.Curiosity != nil {
		if active, err := e.Curiosity.ActiveForTopic(ctx, thought.SeedTopic); err == nil {
			gc.ActiveThreadForSeedTopic = active
		}
		if count, err := e.Curiosity.CountActive(ctx); err == nil {
			gc.ActiveThreadCount = count
		}
		if lastCreated, ok, err := e.Curiosity.MostRecentCreatedAt(ctx); err == nil && ok {
			gc.GlobalSeedCooldownActive = now.Sub(lastCreated) < seedThreadGlobalCooldown
		}
	}

	if e.Traits != nil {
		traits, err := e.Traits.HighConfidence(ctx, 0.7)
		if err == nil {
			gc.HighConfidenceTraitCount = len(traits)
			gc.BestTraitCosine = bestTraitCosine(traits, thought.Embedding)
			gc.SkillMatches = gc.BestTraitCosine >= suggestMinBestTraitCosine
		}
	}

	if e.Tasks != nil {
		if tasks, err := e.Tasks.ActiveByTopic(ctx, thought.SeedTopic); err == nil {
			gc.SimilarActiveTaskJaccard = bestTaskJaccard(tasks, thought.Content)
		}
		if count, err := e.Tasks.CountActive(ctx); err == nil {
			gc.ActiveTaskCount = int(count)
		}
	}

	if e.Proactive != nil {
		if pending, found, err := e.Proactive.PendingResponseFor(ctx, e.UserID); err == nil {
			gc.PendingProactive = found
			if found {
				gc.IdleDuration = now.Sub(pending.SentAt)
			}
		}
	}

	if gc.IdleDuration == 0 && e.Threads != nil {
		if lastActivity, ok, err := e.Threads.MostRecentActivity(ctx); err == nil && ok {
			gc.IdleDuration = now.Sub(lastActivity)
			gc.HasPriorInteraction = true
		}
	}

	return gc
}

// reflectThreshold uses curiosity's current activation as REFLECT's
// quality floor: a more curious identity reflects more readily. Falls
// back to a fixed 0.4 baseline if the identity store is unavailable.
func (e *Engine) reflectThreshold(ctx context.Context) float64 {
	if e.Identity == nil {
		return 0.4
	}
	v, err := e.Identity.Get(ctx, "curiosity")
	if err != nil {
		return 0.4
	}
	return v.Activation * 0.6
}

func hasStrongConcept(neighbors []databases.SemanticConcept) bool {
	for _, c := range neighbors {
		if c.Strength >= strongConceptMin {
			return true
		}
	}
	return false
}

func countSalientEpisodes(episodes []databases.Episode, thoughtEmbedding []float32, now time.Time) int {
	count := 0
	for _, ep := range episodes {
		if now.Sub(ep.CreatedAt) > episodicSalienceWindow {
			continue
		}
		if cosineSimilarity(ep.Embedding, thoughtEmbedding) >= episodicSalienceCosineMin {
			count++
		}
	}
	return count
}

func bestTraitCosine(traits []databases.UserTrait, thoughtEmbedding []float32) float64 {
	best := 0.0
	for _, t := range traits {
		if sim := cosineSimilarity(t.Embedding, thoughtEmbedding); sim > best {
			best = sim
		}
	}
	return best
}

func bestTaskJaccard(tasks []databases.Task, content string) float64 {
	best := 0.0
	for _, t := range tasks {
		if sim := jaccard(content, t.Plan); sim > best {
			best = sim
		}
	}
	return best
}

func communicateTypeBonus(thoughtType string) float64 {
	switch thoughtType {
	case ThoughtInsight, ThoughtHypothesis:
		return 0.05
	default:
		return 0
	}
}
