package classify

import "strings"

// IntentType enumerates the coarse intent categories the rule-based
// classifier distinguishes.
type IntentType string

const (
	IntentCancel       IntentType = "cancel"
	IntentSelfResolved IntentType = "self_resolved"
	IntentQuestion     IntentType = "question"
	IntentCommand      IntentType = "command"
	IntentStatement    IntentType = "statement"
)

// Register is a coarse tone classification used to pick prompt register
// in mode-specific prompt assembly.
type Register string

const (
	RegisterCasual Register = "casual"
	RegisterFormal Register = "formal"
	RegisterUrgent Register = "urgent"
)

// IntentResult is spec.md §4.4's intent classifier output shape.
type IntentResult struct {
	IntentType     IntentType
	NeedsTools     bool
	Complexity     int // 1 (trivial) .. 5 (multi-step)
	Confidence     float64
	Register       Register
	IsCancel       bool
	IsSelfResolved bool
	ToolHints      []string
}

var cancelPhrases = []string{
	"never mind", "nevermind", "forget it", "cancel that", "stop that", "cancel it",
}

var selfResolvedPhrases = []string{
	"i figured it out", "i got it", "found it myself", "already solved", "no longer need",
}

var urgentMarkers = []string{"asap", "urgent", "immediately", "right now", "emergency"}

var questionMarkers = []string{"what", "why", "how", "when", "where", "who", "which", "can you", "could you"}

// toolHintKeywords maps a keyword to the tool/skill name it hints at; this
// stands in for the richer skill registry the dispatcher (C15) owns, since
// the classifier only needs candidate names, not full schemas.
var toolHintKeywords = map[string]string{
	"email":     "send_email",
	"calendar":  "calendar",
	"schedule":  "calendar",
	"search":    "web_search",
	"weather":   "weather",
	"remind":    "reminder",
	"timer":     "reminder",
	"calculate": "calculator",
}

// ClassifyIntent applies spec.md §4.4's rule-based intent classification: no
// model call, pure string inspection. This is the whole classifier — it
// is exported directly rather than wrapped in a struct because it holds
// no state.
func ClassifyIntent(message string) IntentResult {
	lower := strings.ToLower(strings.TrimSpace(message))

	res := IntentResult{
		IntentType: IntentStatement,
		Complexity: 1,
		Confidence: 0.6,
		Register:   RegisterCasual,
	}

	if containsAny(lower, cancelPhrases) {
		res.IntentType = IntentCancel
		res.IsCancel = true
		res.Confidence = 0.9
		return res
	}
	if containsAny(lower, selfResolvedPhrases) {
		res.IntentType = IntentSelfResolved
		res.IsSelfResolved = true
		res.Confidence = 0.85
		return res
	}

	if strings.HasSuffix(lower, "?") || containsAny(lower, questionMarkers) {
		res.IntentType = IntentQuestion
		res.Confidence = 0.7
	} else if isImperative(lower) {
		res.IntentType = IntentCommand
		res.Confidence = 0.75
	}

	if containsAny(lower, urgentMarkers) {
		res.Register = RegisterUrgent
	} else if looksFormal(lower) {
		res.Register = RegisterFormal
	}

	res.ToolHints = toolHints(lower)
	res.NeedsTools = len(res.ToolHints) > 0
	res.Complexity = complexityScore(lower, res.NeedsTools)

	return res
}

func containsAny(s string, phrases []string) bool {
	for _, p := range phrases {
		if strings.Contains(s, p) {
			return true
		}
	}
	return false
}

var imperativeVerbs = []string{
	"send", "schedule", "book", "remind", "set", "create", "delete", "search",
	"find", "calculate", "check", "look up", "add", "remove", "update",
}

func isImperative(lower string) bool {
	for _, v := range imperativeVerbs {
		if strings.HasPrefix(lower, v+" ") {
			return true
		}
	}
	return false
}

func looksFormal(lower string) bool {
	return strings.Contains(lower, "would you") || strings.Contains(lower, "please") ||
		strings.Contains(lower, "kindly")
}

func toolHints(lower string) []string {
	seen := make(map[string]bool)
	var hints []string
	for kw, tool := range toolHintKeywords {
		if strings.Contains(lower, kw) && !seen[tool] {
			seen[tool] = true
			hints = append(hints, tool)
		}
	}
	return hints
}

// complexityScore is a crude length/structure heuristic: longer messages
// with multiple clauses or a tool requirement score higher, capped at 5.
func complexityScore(lower string, needsTools bool) int {
	score := 1
	words := len(strings.Fields(lower))
	if words > 15 {
		score++
	}
	if words > 30 {
		score++
	}
	if strings.Count(lower, " and ") > 0 || strings.Count(lower, " then ") > 0 {
		score++
	}
	if needsTools {
		score++
	}
	if score > 5 {
		score = 5
	}
	return score
}
