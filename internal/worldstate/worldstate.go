// Package worldstate defines SPEC_FULL.md §3's world-state summary seam:
// a short, externally-sourced situational summary (time of day, calendar
// density, recent system events) the digest pipeline's Phase B folds into
// context_warmth and, when non-empty, into terminal-mode prompt context.
// Grounded on the teacher's internal/a2a transport-boundary-interface
// style: a single-method interface kept deliberately thin so any concrete
// source (a calendar skill, a cron-collected snapshot, a static string)
// can satisfy it without this package knowing which.
package worldstate

import "context"

// Summary is world-state text plus whether it carried anything worth
// injecting (the "world-state non-empty" context_warmth sub-score).
type Summary struct {
	Text     string
	NonEmpty bool
}

// Provider supplies the current world-state summary for a topic.
type Provider interface {
	Summary(ctx context.Context, topic string) (Summary, error)
}

// Static is a fixed-text Provider, useful for single-user deployments with
// no external situational feed wired up yet, and for tests.
type Static struct {
	Text string
}

// Summary returns the fixed text, treating an empty string as no summary.
func (s Static) Summary(ctx context.Context, topic string) (Summary, error) {
	return Summary{Text: s.Text, NonEmpty: s.Text != ""}, nil
}
