package drift

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func baseReflectContext() GateContext {
	return GateContext{
		Thought:               Thought{ActivationEnergy: 0.5, Type: ThoughtReflection},
		ActivationThreshold:   0.4,
		TopicRelevance:        0.5,
		NoveltyOK:             true,
		DriftFatigueRemaining: 0.2,
	}
}

func TestGateReflect_EligibleWhenAllConditionsMet(t *testing.T) {
	score, eligible := gateReflect(baseReflectContext())
	assert.True(t, eligible)
	assert.Equal(t, 0.5, score)
}

func TestGateReflect_IneligibleBelowActivationThreshold(t *testing.T) {
	g := baseReflectContext()
	g.Thought.ActivationEnergy = 0.1
	_, eligible := gateReflect(g)
	assert.False(t, eligible)
}

func TestGateReflect_IneligibleWhenNotNovel(t *testing.T) {
	g := baseReflectContext()
	g.NoveltyOK = false
	_, eligible := gateReflect(g)
	assert.False(t, eligible)
}

func TestGateReflect_IneligibleWhenFatigueBudgetExhausted(t *testing.T) {
	g := baseReflectContext()
	g.DriftFatigueRemaining = 0
	_, eligible := gateReflect(g)
	assert.False(t, eligible)
}

func baseSeedThreadContext() GateContext {
	return GateContext{
		Thought:                  Thought{ActivationEnergy: 0.7, Type: ThoughtInsight},
		ActiveThreadForSeedTopic: false,
		GlobalSeedCooldownActive: false,
		ActiveThreadCount:        2,
		EpisodicSalienceOK:       true,
		SemanticSalienceOK:       true,
	}
}

func TestGateSeedThread_EligibleWhenAllConditionsMet(t *testing.T) {
	_, eligible := gateSeedThread(baseSeedThreadContext())
	assert.True(t, eligible)
}

func TestGateSeedThread_IneligibleWhenNotInsightType(t *testing.T) {
	g := baseSeedThreadContext()
	g.Thought.Type = ThoughtReflection
	_, eligible := gateSeedThread(g)
	assert.False(t, eligible)
}

func TestGateSeedThread_IneligibleWhenActiveThreadAlreadyExists(t *testing.T) {
	g := baseSeedThreadContext()
	g.ActiveThreadForSeedTopic = true
	_, eligible := gateSeedThread(g)
	assert.False(t, eligible)
}

func TestGateSeedThread_IneligibleWhenTooManyActiveThreads(t *testing.T) {
	g := baseSeedThreadContext()
	g.ActiveThreadCount = 6
	_, eligible := gateSeedThread(g)
	assert.False(t, eligible)
}

func TestGateSeedThread_IneligibleWithoutSemanticSalience(t *testing.T) {
	g := baseSeedThreadContext()
	g.SemanticSalienceOK = false
	_, eligible := gateSeedThread(g)
	assert.False(t, eligible)
}

func baseNurtureContext() GateContext {
	return GateContext{
		Thought:              Thought{ActivationEnergy: 0.4},
		SparkPhase:           "surface",
		IdleDuration:         2 * time.Hour,
		MinIdleForPhase:      time.Hour,
		QuietHours:           false,
		DailyCooldownActive:  false,
		UnansweredCount:      1,
		MaxUnanswered:        3,
		ExistingEpisodeCount: 1,
	}
}

func TestGateNurture_EligibleWhenAllConditionsMet(t *testing.T) {
	_, eligible := gateNurture(baseNurtureContext())
	assert.True(t, eligible)
}

func TestGateNurture_IneligibleDuringQuietHours(t *testing.T) {
	g := baseNurtureContext()
	g.QuietHours = true
	_, eligible := gateNurture(g)
	assert.False(t, eligible)
}

func TestGateNurture_IneligibleWhenIdleBelowMinimum(t *testing.T) {
	g := baseNurtureContext()
	g.IdleDuration = 30 * time.Minute
	_, eligible := gateNurture(g)
	assert.False(t, eligible)
}

func TestGateNurture_IneligibleWhenTooManyUnanswered(t *testing.T) {
	g := baseNurtureContext()
	g.UnansweredCount = 4
	_, eligible := gateNurture(g)
	assert.False(t, eligible)
}

func TestGateNurture_IneligibleWithWrongSparkPhase(t *testing.T) {
	g := baseNurtureContext()
	g.SparkPhase = "graduated"
	_, eligible := gateNurture(g)
	assert.False(t, eligible)
}

func basePlanContext() GateContext {
	return GateContext{
		Thought:                  Thought{ActivationEnergy: 0.8, Type: ThoughtHypothesis},
		TopicDriftCycles:         2,
		TopicConversations7d:     0,
		ContainsActionVerb:       true,
		SimilarActiveTaskJaccard: 0.2,
		ActiveTaskCount:          1,
		MaxActiveTasks:           5,
		PlanCooldownActive:       false,
	}
}

func TestGatePlan_EligibleWhenAllConditionsMet(t *testing.T) {
	_, eligible := gatePlan(basePlanContext())
	assert.True(t, eligible)
}

func TestGatePlan_IneligibleWithoutActionVerb(t *testing.T) {
	g := basePlanContext()
	g.ContainsActionVerb = false
	_, eligible := gatePlan(g)
	assert.False(t, eligible)
}

func TestGatePlan_IneligibleWhenTopicNotRecurring(t *testing.T) {
	g := basePlanContext()
	g.TopicDriftCycles = 0
	g.TopicConversations7d = 1
	_, eligible := gatePlan(g)
	assert.False(t, eligible)
}

func TestGatePlan_IneligibleWhenSimilarTaskAlreadyActive(t *testing.T) {
	g := basePlanContext()
	g.SimilarActiveTaskJaccard = 0.9
	_, eligible := gatePlan(g)
	assert.False(t, eligible)
}

func TestGatePlan_IneligibleAtMaxActiveTasks(t *testing.T) {
	g := basePlanContext()
	g.ActiveTaskCount = 5
	_, eligible := gatePlan(g)
	assert.False(t, eligible)
}

func baseSuggestContext() GateContext {
	return GateContext{
		SparkPhase:               "connected",
		HighConfidenceTraitCount: 3,
		BestTraitCosine:          0.5,
		SkillMatches:             true,
		SuggestCooldownActive:    false,
		EngagementScore:          0.6,
	}
}

func TestGateSuggest_EligibleWhenAllConditionsMet(t *testing.T) {
	score, eligible := gateSuggest(baseSuggestContext())
	assert.True(t, eligible)
	assert.Equal(t, 0.6, score)
}

func TestGateSuggest_IneligibleWithTooFewHighConfidenceTraits(t *testing.T) {
	g := baseSuggestContext()
	g.HighConfidenceTraitCount = 2
	_, eligible := gateSuggest(g)
	assert.False(t, eligible)
}

func TestGateSuggest_IneligibleWithoutSkillMatch(t *testing.T) {
	g := baseSuggestContext()
	g.SkillMatches = false
	_, eligible := gateSuggest(g)
	assert.False(t, eligible)
}

func TestGateSuggest_IneligibleWhenEngagementTooLow(t *testing.T) {
	g := baseSuggestContext()
	g.EngagementScore = 0.5
	_, eligible := gateSuggest(g)
	assert.False(t, eligible)
}

func baseCommunicateContext() GateContext {
	return GateContext{
		Thought:                 Thought{ActivationEnergy: 0.7},
		SelfCalibratedThreshold: 0.6,
		TypeBonus:               0,
		UserTopicRelevance:      0.5,
		WorkingMemoryNovelty:    0.3,
		HasPriorInteraction:     true,
		IdleDuration:            2 * time.Hour,
		MinIdle:                 time.Hour,
		Backoff:                 1,
		MaxIdle:                 24 * time.Hour,
		QuietHours:              false,
		AutoPaused:              false,
		PendingProactive:        false,
		CircuitBreakerTripped:   false,
		EngagementScore:         0.5,
	}
}

func TestGateCommunicate_EligibleWhenAllConditionsMet(t *testing.T) {
	score, eligible := gateCommunicate(baseCommunicateContext())
	assert.True(t, eligible)
	assert.Equal(t, 0.7, score)
}

func TestGateCommunicate_IneligibleBelowQualityThreshold(t *testing.T) {
	g := baseCommunicateContext()
	g.Thought.ActivationEnergy = 0.2
	_, eligible := gateCommunicate(g)
	assert.False(t, eligible)
}

func TestGateCommunicate_TypeBonusCanLiftBelowThresholdActivation(t *testing.T) {
	g := baseCommunicateContext()
	g.Thought.ActivationEnergy = 0.5
	g.TypeBonus = 0.2
	_, eligible := gateCommunicate(g)
	assert.True(t, eligible)
}

func TestGateCommunicate_IneligibleWhenBackoffExtendsRequiredIdle(t *testing.T) {
	g := baseCommunicateContext()
	g.Backoff = 4
	_, eligible := gateCommunicate(g)
	assert.False(t, eligible)
}

func TestGateCommunicate_IneligibleWhenCircuitBreakerTripped(t *testing.T) {
	g := baseCommunicateContext()
	g.CircuitBreakerTripped = true
	_, eligible := gateCommunicate(g)
	assert.False(t, eligible)
}

func TestGateCommunicate_IneligibleWhenPendingProactiveAwaitingReply(t *testing.T) {
	g := baseCommunicateContext()
	g.PendingProactive = true
	_, eligible := gateCommunicate(g)
	assert.False(t, eligible)
}

func TestGateCommunicate_IneligibleWhenReplyLengthsDeclining(t *testing.T) {
	g := baseCommunicateContext()
	g.LastTwoReplyLengthsDeclining = true
	_, eligible := gateCommunicate(g)
	assert.False(t, eligible)
}

func TestRoute_PicksNothingWhenNoOtherActionEligible(t *testing.T) {
	g := GateContext{}
	action, score := Route(g, Registry())
	assert.Equal(t, ActionNothing, action.Name)
	assert.Equal(t, 0.0, score)
}

func TestRoute_PicksHighestScoringEligibleAction(t *testing.T) {
	g := baseCommunicateContext()
	action, _ := Route(g, Registry())
	assert.Equal(t, ActionCommunicate, action.Name)
}

func TestRoute_BreaksTiesByPriority(t *testing.T) {
	registry := []ActionDef{
		{Name: "low", Priority: 1, Gate: func(GateContext) (float64, bool) { return 0.5, true }},
		{Name: "high", Priority: 9, Gate: func(GateContext) (float64, bool) { return 0.5, true }},
	}
	action, _ := Route(GateContext{}, registry)
	assert.Equal(t, "high", action.Name)
}
