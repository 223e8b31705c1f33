package router

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRoute_IntentOverrideForcesAcknowledge(t *testing.T) {
	d := Route(SignalVector{IsCancel: true, MaxToolRelevance: 0.9})
	assert.Equal(t, ModeAcknowledge, d.Mode)
	assert.Equal(t, 1.0, d.RouterConfidence)

	d2 := Route(SignalVector{IsSelfResolved: true})
	assert.Equal(t, ModeAcknowledge, d2.Mode)
}

func TestRoute_HighToolRelevanceAndWarmthPicksAct(t *testing.T) {
	d := Route(SignalVector{MaxToolRelevance: 0.8, ContextWarmth: 0.6, IntentConfidence: 0.7})
	assert.Equal(t, ModeAct, d.Mode)
}

func TestRoute_AntiOscillation_PreventsRepeatActWithoutNewToolNeed(t *testing.T) {
	sv := SignalVector{
		MaxToolRelevance: 0.8, ContextWarmth: 0.6, IntentConfidence: 0.7,
		PreviousMode: ModeAct, NewToolNeed: false,
	}
	d := Route(sv)
	assert.NotEqual(t, ModeAct, d.Mode)
}

func TestRoute_AntiOscillation_AllowsActWithNewToolNeed(t *testing.T) {
	sv := SignalVector{
		MaxToolRelevance: 0.8, ContextWarmth: 0.6, IntentConfidence: 0.7,
		PreviousMode: ModeAct, NewToolNeed: true,
	}
	d := Route(sv)
	assert.Equal(t, ModeAct, d.Mode)
}

func TestRoute_DecliningReplyLengthPrefersAcknowledge(t *testing.T) {
	sv := SignalVector{
		IntentConfidence: 0.3, ContextWarmth: 0.2, DecliningReplyLength: true,
	}
	d := Route(sv)
	assert.Equal(t, ModeAcknowledge, d.Mode)
}

func TestRoute_LowIntentConfidencePrefersClarify(t *testing.T) {
	sv := SignalVector{IntentConfidence: 0.05, ContextWarmth: 0.5, MaxToolRelevance: 0.1}
	d := Route(sv)
	assert.Equal(t, ModeClarify, d.Mode)
}

func TestTiebreak_PrefersHigherPriorityMode(t *testing.T) {
	scores := map[Mode]float64{
		ModeRespond:     0.5,
		ModeClarify:     0.49,
		ModeAcknowledge: 0.1,
	}
	assert.Equal(t, ModeRespond, tiebreak(scores))
}

func TestTiebreak_PriorityOrderWhenNearTie(t *testing.T) {
	// Every mode in the closed Mode set has its own priority, so the
	// alphabetical fallback cannot be reached here; this checks that a
	// near tie among the real five resolves to the priority order.
	scores := map[Mode]float64{
		ModeAct:     0.5,
		ModeRespond: 0.48,
	}
	assert.Equal(t, ModeAct, tiebreak(scores))
}

func TestRoute_RationaleNotesAntiOscillation(t *testing.T) {
	sv := SignalVector{PreviousMode: ModeAct, NewToolNeed: false, IntentConfidence: 0.9, ContextWarmth: 0.9}
	d := Route(sv)
	assert.Contains(t, d.Rationale, "anti-oscillation")
}
