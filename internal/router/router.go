// Package router implements C13, the mode router: a pure function from a
// signal vector to a terminal mode (RESPOND, CLARIFY, ACKNOWLEDGE or
// IGNORE) or ACT. Grounded on the
// teacher's internal/orchestrator routing-decision logging style (a
// decision struct carrying its own rationale for replay), generalized from
// tool-call routing to cortex's terminal-mode-plus-ACT scheme.
package router

import (
	"math"
	"sort"
)

// Mode is one of cortex's response modes (spec.md §4.6, §4.7).
type Mode string

const (
	ModeAct         Mode = "ACT"
	ModeRespond     Mode = "RESPOND"
	ModeClarify     Mode = "CLARIFY"
	ModeAcknowledge Mode = "ACKNOWLEDGE"
	ModeIgnore      Mode = "IGNORE"
)

// modePriority orders modes for deterministic tie-breaking: ACT > RESPOND
// > CLARIFY > ACKNOWLEDGE > IGNORE, per spec.md §4.6.
var modePriority = map[Mode]int{
	ModeAct:         0,
	ModeRespond:     1,
	ModeClarify:     2,
	ModeAcknowledge: 3,
	ModeIgnore:      4,
}

// tieDelta is the score gap within which two modes are considered tied
// and the deterministic secondary rule applies.
const tieDelta = 0.05

// SignalVector bundles everything the router needs, collected by the
// digest pipeline from working memory, gist/fact stores, the intent
// classifier, and the tool relevance scorer (spec.md §4.6).
type SignalVector struct {
	WorkingMemoryFill float64 // [0,1]
	GistCount         int
	FactCount         int
	IntentConfidence  float64 // [0,1]
	MaxToolRelevance  float64 // [0,1]
	ContextWarmth     float64 // [0,1]

	IsCancel       bool
	IsSelfResolved bool

	// DecliningReplyLength signals the last two user replies shrank
	// sharply, a cue to prefer ACKNOWLEDGE (cognitive-load awareness).
	DecliningReplyLength bool

	// NewToolNeed must be true for the router to return ACT again
	// immediately after a previous ACT cycle (anti-oscillation).
	NewToolNeed bool

	PreviousMode Mode
}

// Decision is the router's output, carrying enough to replay the choice
// from logs (spec.md §4.6's observability requirement).
type Decision struct {
	Mode             Mode
	RouterConfidence float64
	TiebreakerUsed   bool
	Rationale        string
}

// Route applies spec.md §4.6's behavioural requirements in order: intent
// override, then scored candidate modes with anti-oscillation applied to
// ACT's score, then deterministic tie-breaking.
func Route(sv SignalVector) Decision {
	if sv.IsCancel || sv.IsSelfResolved {
		return Decision{
			Mode:             ModeAcknowledge,
			RouterConfidence: 1,
			Rationale:        "intent override: cancel or self-resolved forces a terminal mode",
		}
	}

	scores := scoreModes(sv)

	best, secondBest := topTwo(scores)
	tiebreakUsed := secondBest.name != "" && best.score-secondBest.score < tieDelta
	chosen := best.name
	if tiebreakUsed {
		chosen = tiebreak(scores)
	}

	return Decision{
		Mode:             chosen,
		RouterConfidence: clamp01(scores[chosen]),
		TiebreakerUsed:   tiebreakUsed,
		Rationale:        rationale(sv, chosen, tiebreakUsed),
	}
}

// scoreModes computes a raw (not necessarily normalized) score per mode
// from the signal vector. Split out from Route so the weighting logic is
// directly unit-testable.
func scoreModes(sv SignalVector) map[Mode]float64 {
	actScore := sv.MaxToolRelevance*0.7 + sv.ContextWarmth*0.2 + sv.IntentConfidence*0.1
	if sv.PreviousMode == ModeAct && !sv.NewToolNeed {
		// Anti-oscillation: ACT cannot win again without fresh tool need.
		actScore = 0
	}

	respondScore := sv.IntentConfidence*0.5 + sv.ContextWarmth*0.3 + float64(min(sv.GistCount, 5))*0.04 + float64(min(sv.FactCount, 5))*0.02

	clarifyScore := (1 - sv.IntentConfidence) * 0.6
	if sv.MaxToolRelevance > 0 && sv.MaxToolRelevance < 0.35 {
		clarifyScore += 0.15
	}

	acknowledgeScore := 0.1
	if sv.DecliningReplyLength {
		acknowledgeScore += 0.5
	}
	if sv.ContextWarmth < 0.1 {
		acknowledgeScore += 0.2
	}

	ignoreScore := 0.0
	if sv.ContextWarmth == 0 && sv.IntentConfidence < 0.2 && sv.MaxToolRelevance == 0 {
		ignoreScore = 0.3
	}

	return map[Mode]float64{
		ModeAct:         actScore,
		ModeRespond:     respondScore,
		ModeClarify:     clarifyScore,
		ModeAcknowledge: acknowledgeScore,
		ModeIgnore:      ignoreScore,
	}
}

type scored struct {
	name  Mode
	score float64
}

// topTwo returns the highest and second-highest scoring modes, ordered by
// score then by modePriority on exact ties, so the "second best" used for
// the delta check is deterministic.
func topTwo(scores map[Mode]float64) (best, second scored) {
	all := make([]scored, 0, len(scores))
	for m, s := range scores {
		all = append(all, scored{m, s})
	}
	sort.SliceStable(all, func(i, j int) bool {
		if all[i].score != all[j].score {
			return all[i].score > all[j].score
		}
		return modePriority[all[i].name] < modePriority[all[j].name]
	})
	if len(all) > 0 {
		best = all[0]
	}
	if len(all) > 1 {
		second = all[1]
	}
	return best, second
}

// tiebreak picks among modes within tieDelta of the top score using the
// priority order, then alphabetically.
func tiebreak(scores map[Mode]float64) Mode {
	best, _ := topTwo(scores)
	var candidates []Mode
	for m, s := range scores {
		if best.score-s < tieDelta {
			candidates = append(candidates, m)
		}
	}
	sort.SliceStable(candidates, func(i, j int) bool {
		pi, pj := modePriority[candidates[i]], modePriority[candidates[j]]
		if pi != pj {
			return pi < pj
		}
		return candidates[i] < candidates[j]
	})
	return candidates[0]
}

func rationale(sv SignalVector, chosen Mode, tiebreakUsed bool) string {
	r := "selected " + string(chosen) + " from signal vector"
	if tiebreakUsed {
		r += " via deterministic tiebreak"
	}
	if sv.PreviousMode == ModeAct && chosen != ModeAct {
		r += " (anti-oscillation: previous mode was ACT)"
	}
	return r
}

func clamp01(v float64) float64 {
	return math.Max(0, math.Min(1, v))
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}
