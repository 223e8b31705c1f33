package drift

import (
	"math"
	"time"
)

// Action names, spec.md §4.11's registry.
const (
	ActionNothing     = "NOTHING"
	ActionReflect     = "REFLECT"
	ActionSeedThread  = "SEED_THREAD"
	ActionNurture     = "NURTURE"
	ActionPlan        = "PLAN"
	ActionSuggest     = "SUGGEST"
	ActionCommunicate = "COMMUNICATE"
)

// Open Question decision: spec.md names REFLECT's "topic relevance" gate
// without a numeric threshold. 0.3 is chosen to be a loose relevance bar,
// consistent with REFLECT being the lowest-priority non-NOTHING action.
const reflectTopicRelevanceMin = 0.3

// seedThreadMinActivation is spec.md §4.11's explicit SEED_THREAD floor.
const seedThreadMinActivation = 0.6

// seedThreadMaxActiveThreads is spec.md §4.11's explicit "<=5 active threads".
const seedThreadMaxActiveThreads = 5

// planMinActivation is spec.md §4.11's explicit PLAN floor.
const planMinActivation = 0.7

// planSimilarTaskJaccardMax is spec.md §4.11's explicit Jaccard ceiling
// for "no similar active task".
const planSimilarTaskJaccardMax = 0.6

// suggestMinHighConfidenceTraits and suggestMinBestTraitCosine are
// spec.md §4.11's explicit SUGGEST floors.
const (
	suggestMinHighConfidenceTraits = 3
	suggestMinBestTraitCosine      = 0.4
	suggestMinEngagement           = 0.5
)

// communicateMinTopicRelevance and communicateMaxWorkingMemoryNovelty are
// spec.md §4.11's explicit COMMUNICATE quality-gate numbers.
const (
	communicateMinTopicRelevance       = 0.4
	communicateMaxWorkingMemoryNovelty = 0.7
	communicateMinEngagement           = 0.3
)

// GateContext carries every precomputed signal the action gates need,
// grouped by the action that consumes each field. Collecting these
// values from the real stores is the Engine's job (drift.go); the gates
// themselves only ever read this struct, which is what makes them pure
// and directly unit-testable.
type GateContext struct {
	Thought Thought
	Now     time.Time

	// REFLECT
	ActivationThreshold   float64
	TopicRelevance        float64
	NoveltyOK             bool
	DriftFatigueRemaining float64

	// SEED_THREAD
	ActiveThreadForSeedTopic bool
	GlobalSeedCooldownActive bool
	ActiveThreadCount        int
	EpisodicSalienceOK       bool
	SemanticSalienceOK       bool

	// NURTURE
	SparkPhase           string
	IdleDuration         time.Duration
	MinIdleForPhase      time.Duration
	QuietHours           bool
	DailyCooldownActive  bool
	UnansweredCount      int
	MaxUnanswered        int
	ExistingEpisodeCount int

	// PLAN
	TopicDriftCycles         int
	TopicConversations7d     int
	ContainsActionVerb       bool
	SimilarActiveTaskJaccard float64
	ActiveTaskCount          int
	MaxActiveTasks           int
	PlanCooldownActive       bool

	// SUGGEST
	HighConfidenceTraitCount int
	BestTraitCosine          float64
	SkillMatches             bool
	SuggestCooldownActive    bool
	EngagementScore          float64

	// COMMUNICATE
	SelfCalibratedThreshold      float64
	TypeBonus                    float64
	UserTopicRelevance           float64
	WorkingMemoryNovelty         float64
	HasPriorInteraction          bool
	MinIdle                      time.Duration
	Backoff                      float64
	MaxIdle                      time.Duration
	AutoPaused                   bool
	PendingProactive             bool
	CircuitBreakerTripped        bool
	LastTwoReplyLengthsDeclining bool
}

// Gate scores and admits an action given a GateContext. Score is only
// meaningful when eligible is true; Route compares scores only among
// eligible actions.
type Gate func(GateContext) (score float64, eligible bool)

// ActionDef pairs a named action with its priority (tie-breaker in
// Route) and gate.
type ActionDef struct {
	Name     string
	Priority int
	Gate     Gate
}

func gateNothing(GateContext) (float64, bool) { return 0, true }

func gateReflect(g GateContext) (float64, bool) {
	eligible := g.Thought.ActivationEnergy >= g.ActivationThreshold &&
		g.TopicRelevance >= reflectTopicRelevanceMin &&
		g.NoveltyOK &&
		g.DriftFatigueRemaining > 0
	if !eligible {
		return 0, false
	}
	return g.Thought.ActivationEnergy, true
}

func gateSeedThread(g GateContext) (float64, bool) {
	eligible := g.Thought.Type == ThoughtInsight &&
		g.Thought.ActivationEnergy >= seedThreadMinActivation &&
		!g.ActiveThreadForSeedTopic &&
		!g.GlobalSeedCooldownActive &&
		g.ActiveThreadCount <= seedThreadMaxActiveThreads &&
		g.EpisodicSalienceOK &&
		g.SemanticSalienceOK
	if !eligible {
		return 0, false
	}
	return g.Thought.ActivationEnergy, true
}

func gateNurture(g GateContext) (float64, bool) {
	phaseOK := g.SparkPhase == "surface" || g.SparkPhase == "exploratory"
	eligible := phaseOK &&
		g.IdleDuration >= g.MinIdleForPhase &&
		!g.QuietHours &&
		!g.DailyCooldownActive &&
		g.UnansweredCount <= g.MaxUnanswered &&
		g.ExistingEpisodeCount >= 1
	if !eligible {
		return 0, false
	}
	return g.Thought.ActivationEnergy, true
}

func gatePlan(g GateContext) (float64, bool) {
	typeOK := g.Thought.Type == ThoughtHypothesis || g.Thought.Type == ThoughtQuestion
	recurring := g.TopicDriftCycles >= 2 || g.TopicConversations7d >= 2
	eligible := typeOK &&
		g.Thought.ActivationEnergy >= planMinActivation &&
		recurring &&
		g.ContainsActionVerb &&
		g.SimilarActiveTaskJaccard <= planSimilarTaskJaccardMax &&
		g.ActiveTaskCount < g.MaxActiveTasks &&
		!g.PlanCooldownActive
	if !eligible {
		return 0, false
	}
	return g.Thought.ActivationEnergy, true
}

func gateSuggest(g GateContext) (float64, bool) {
	phaseOK := g.SparkPhase == "connected" || g.SparkPhase == "graduated"
	eligible := phaseOK &&
		g.HighConfidenceTraitCount >= suggestMinHighConfidenceTraits &&
		g.BestTraitCosine >= suggestMinBestTraitCosine &&
		g.SkillMatches &&
		!g.SuggestCooldownActive &&
		g.EngagementScore > suggestMinEngagement
	if !eligible {
		return 0, false
	}
	return g.EngagementScore, true
}

func gateCommunicate(g GateContext) (float64, bool) {
	effectiveActivation := g.Thought.ActivationEnergy + g.TypeBonus
	qualityOK := effectiveActivation >= g.SelfCalibratedThreshold &&
		g.UserTopicRelevance >= communicateMinTopicRelevance &&
		g.WorkingMemoryNovelty < communicateMaxWorkingMemoryNovelty

	minIdleWithBackoff := time.Duration(float64(g.MinIdle) * math.Max(g.Backoff, 1))
	timingOK := g.HasPriorInteraction &&
		g.IdleDuration >= minIdleWithBackoff &&
		g.IdleDuration <= g.MaxIdle &&
		!g.QuietHours

	engagementOK := !g.AutoPaused &&
		!g.PendingProactive &&
		!g.CircuitBreakerTripped &&
		g.EngagementScore >= communicateMinEngagement

	cognitiveOK := !g.LastTwoReplyLengthsDeclining

	eligible := qualityOK && timingOK && engagementOK && cognitiveOK
	if !eligible {
		return 0, false
	}
	return effectiveActivation, true
}

// Registry returns the full C24 action set in spec.md §4.11's order.
// Every Gate here is pure.
func Registry() []ActionDef {
	return []ActionDef{
		{Name: ActionNothing, Priority: -1, Gate: gateNothing},
		{Name: ActionReflect, Priority: 5, Gate: gateReflect},
		{Name: ActionSeedThread, Priority: 6, Gate: gateSeedThread},
		{Name: ActionNurture, Priority: 7, Gate: gateNurture},
		{Name: ActionPlan, Priority: 7, Gate: gatePlan},
		{Name: ActionSuggest, Priority: 8, Gate: gateSuggest},
		{Name: ActionCommunicate, Priority: 10, Gate: gateCommunicate},
	}
}

// Route picks the highest-scoring eligible action, breaking ties by
// priority (higher wins). NOTHING is always eligible with score 0, so
// Route never returns a zero ActionDef. Pure, tested directly.
func Route(g GateContext, registry []ActionDef) (ActionDef, float64) {
	var best ActionDef
	bestScore := math.Inf(-1)
	for _, a := range registry {
		score, eligible := a.Gate(g)
		if !eligible {
			continue
		}
		if score > bestScore || (score == bestScore && a.Priority > best.Priority) {
			bestScore = score
			best = a
		}
	}
	return best, bestScore
}
