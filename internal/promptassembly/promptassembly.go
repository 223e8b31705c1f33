// Package promptassembly builds the prompts the digest pipeline's
// Generator seam and the ACT loop's PromptBuilder seam both leave
// injected (internal/digest.Generator, internal/act.PromptBuilder's doc
// comments). Grounded on the teacher's handlers_chat.go system-prompt
// composition style: a base persona string with sections appended by
// plain concatenation (eng.System = eng.System + "\n\n" + section)
// rather than a template engine, generalized here from one "skills"
// section to identity-vector and mode-contract sections.
package promptassembly

import (
	"context"
	"fmt"
	"strings"

	"cortex/internal/act"
	"cortex/internal/digest"
	"cortex/internal/llm"
	"cortex/internal/persistence/databases"
	"cortex/internal/router"
)

// modeContracts is spec.md §4.7's per-mode behavioural contract (the
// terminal modes plus ACT), folded into the system prompt so the model's
// free text stays within the routed mode's bounds instead of re-deciding
// tone itself.
var modeContracts = map[router.Mode]string{
	router.ModeAct:         "Decide the next action to take toward answering the user's message.",
	router.ModeRespond:     "Answer the user's message directly and completely.",
	router.ModeClarify:     "Ask one focused question to resolve what's missing before answering.",
	router.ModeAcknowledge: "Give a brief acknowledgement only; do not attempt a full answer.",
	router.ModeIgnore:      "Produce no user-facing reply.",
}

// Soul assembles system prompts from a fixed persona plus the identity
// lattice's current state (C9), the way the teacher folds project skills
// into its base system string. Not itself an LLM client: Generate calls
// out to Provider, and BuildActPrompt returns messages for
// act.Orchestrator.Run to send instead.
type Soul struct {
	Persona  string
	Identity *databases.IdentityStore

	Provider llm.Provider
	Model    string
}

// systemPrompt composes the persona, current identity readout, and the
// routed mode's contract into one system message.
func (s *Soul) systemPrompt(ctx context.Context, mode router.Mode) string {
	var b strings.Builder
	b.WriteString(s.Persona)

	if section := s.identitySection(ctx); section != "" {
		b.WriteString("\n\n")
		b.WriteString(section)
	}

	if contract, ok := modeContracts[mode]; ok {
		b.WriteString("\n\nCurrent mode: ")
		b.WriteString(strings.ToLower(string(mode)))
		b.WriteString(". ")
		b.WriteString(contract)
	}

	return b.String()
}

// identitySection renders every identity dimension's current activation,
// giving the model a live readout of cortex's personality state rather
// than a static description. Returns "" (dropped by systemPrompt) if no
// identity store is wired or the read fails, matching this repo's
// degrade-don't-fail posture for optional collaborators.
func (s *Soul) identitySection(ctx context.Context) string {
	if s.Identity == nil {
		return ""
	}
	vectors, err := s.Identity.All(ctx)
	if err != nil || len(vectors) == 0 {
		return ""
	}
	var b strings.Builder
	b.WriteString("Your current personality state (dimension: activation, baseline):")
	for _, v := range vectors {
		fmt.Fprintf(&b, "\n- %s: %.2f (baseline %.2f)", v.Dimension, v.Activation, v.Baseline)
	}
	return b.String()
}

// Generate satisfies digest.Generator: it composes the system prompt,
// replays the ACT history (if any) as transcript, appends the live user
// message, and calls the LLM once.
func (s *Soul) Generate(ctx context.Context, mode router.Mode, sv router.SignalVector, req digest.Request, history []act.IterationRecord) (string, error) {
	msgs := []llm.Message{{Role: "system", Content: s.systemPrompt(ctx, mode)}}
	msgs = append(msgs, historyMessages(history)...)
	msgs = append(msgs, llm.Message{Role: "user", Content: req.Message})

	resp, err := s.Provider.Chat(ctx, msgs, nil, s.Model)
	if err != nil {
		return "", fmt.Errorf("promptassembly: generate: %w", err)
	}
	return resp.Content, nil
}

// BuildActPrompt satisfies the toolworker.Worker.BuildPrompt and
// act.PromptBuilder seams: a system prompt routed to ACT plus the
// original message and every iteration's dispatched actions/results so
// far, so the model can decide its next action with full context.
func (s *Soul) BuildActPrompt(req digest.Request, history []act.IterationRecord) []llm.Message {
	msgs := []llm.Message{
		{Role: "system", Content: s.systemPrompt(context.Background(), router.ModeAct)},
		{Role: "user", Content: req.Message},
	}
	return append(msgs, historyMessages(history)...)
}

// historyMessages renders each ACT iteration's dispatched actions and
// their results as an assistant/tool exchange, so a multi-iteration loop
// reads as a transcript rather than a single blob.
func historyMessages(history []act.IterationRecord) []llm.Message {
	var msgs []llm.Message
	for _, iter := range history {
		for i, action := range iter.Actions {
			msgs = append(msgs, llm.Message{
				Role:    "assistant",
				Content: fmt.Sprintf("[iteration %d] dispatched %s: %s", iter.IterationNumber, action.Type, string(action.Args)),
			})
			if i < len(iter.Results) {
				r := iter.Results[i]
				content := string(r.Output)
				if r.Err != "" {
					content = "error: " + r.Err
				}
				msgs = append(msgs, llm.Message{Role: "tool", Content: content})
			}
		}
	}
	return msgs
}
