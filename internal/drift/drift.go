package drift

import (
	"context"
	"fmt"
	"time"

	"cortex/internal/classify"
	"cortex/internal/gist"
	"cortex/internal/llm"
	"cortex/internal/observability"
	"cortex/internal/persistence/databases"
	"cortex/internal/proactive"
)

// DefaultInterval is the drift cycle's tick period. Not pinned by
// spec.md beyond "runs on a timer"; 15 minutes keeps the cycle frequent
// enough to feel alive without spamming every store it touches.
const DefaultInterval = 15 * time.Minute

// seedConceptPoolSize and neighborPoolSize bound the spreading-activation
// fan-out per cycle.
const (
	seedConceptPoolSize = 10
	neighborPoolSize    = 5
)

// Delivery sends a drift-engine-originated message to the user, parallel
// to toolworker.Delivery's narrow seam for tool results.
type Delivery interface {
	Deliver(ctx context.Context, userID, content string) error
}

// Clock supplies the uniform random draw SynthesizeThought's seed
// selection needs and the current time, so tests can swap both. With a
// nil Clock, Engine uses time.Now and a fixed 0.5 draw.
type Clock interface {
	Now() time.Time
	Float64() float64
}

// Engine wires the real stores needed to run one drift cycle: thought
// synthesis, gate-context collection, routing, and firing the chosen
// action. Each collaborator is independently optional except Semantic,
// which thought synthesis needs to produce anything at all; a nil
// optional collaborator degrades that concern's signals to a safe
// default rather than failing the whole tick, matching
// internal/decay.Worker's nil-skips-a-substep shape.
type Engine struct {
	UserID string

	Semantic  *databases.SemanticStore
	Episodes  *databases.EpisodeStore
	Traits    *databases.TraitStore
	Threads   *databases.ThreadStore
	Curiosity *databases.CuriosityThreadStore
	Tasks     *databases.TaskStore
	Gists     *gist.Store
	Proactive *proactive.Store
	Identity  identityReader

	LLM      llm.Provider
	Model    string
	Embedder classify.Embedder
	Delivery Delivery

	Clock Clock

	// QuietHours reports whether t falls within the user's configured
	// quiet hours. Not backed by dedicated infrastructure yet (no
	// per-user schedule store exists); a nil func means quiet hours are
	// never in effect, documented in DESIGN.md as a simplification.
	QuietHours func(t time.Time) bool
}

// identityReader is the narrow slice of the identity store this package
// needs: a dimension's current activation, to use curiosity's activation
// as REFLECT's threshold baseline. identity.Service itself exposes no Get
// method (only its Store field does), so cmd/cortexd wires this directly
// to *databases.IdentityStore rather than through the Service wrapper.
type identityReader interface {
	Get(ctx context.Context, dimension string) (databases.IdentityVector, error)
}

// Tick runs one drift cycle: synthesize a thought, collect a
// GateContext, route it, and fire whatever action wins. Every
// gate-context collection error is logged and degrades that signal to its
// safe default rather than aborting the cycle, since a missed drift
// tick is never worse than a wrongly-gated one. A failure to load seed
// candidates, synthesize the thought, or fire the action is returned.
func (e *Engine) Tick(ctx context.Context) (ActionDef, error) {
	log := observability.LoggerWithTrace(ctx)

	if e.Semantic == nil {
		return ActionDef{}, fmt.Errorf("drift: semantic store is required")
	}
	now := e.now()

	candidates, err := e.Semantic.Strongest(ctx, seedConceptPoolSize)
	if err != nil {
		return ActionDef{}, fmt.Errorf("drift: load seed candidates: %w", err)
	}
	if len(candidates) == 0 {
		return ActionDef{Name: ActionNothing}, nil
	}

	r := e.randomDraw()
	seed, ok := pickSeed(candidates, r)
	if !ok {
		return ActionDef{Name: ActionNothing}, nil
	}
	neighbors, err := e.Semantic.Neighbors(ctx, seed.ID, neighborPoolSize)
	if err != nil {
		log.Warn().Err(err).Msg("drift: load neighbors failed, proceeding without spreading")
	}

	thought, err := SynthesizeThought(ctx, e.LLM, e.Model, e.Embedder, candidates, neighbors, r)
	if err != nil {
		return ActionDef{}, fmt.Errorf("drift: synthesize thought: %w", err)
	}

	gc := e.collectGateContext(ctx, thought, neighbors, now)
	action, score := Route(gc, Registry())
	log.Debug().Str("action", action.Name).Float64("score", score).Str("thought_type", thought.Type).Msg("drift: routed")

	if err := e.fire(ctx, action, thought); err != nil {
		return action, fmt.Errorf("drift: fire %s: %w", action.Name, err)
	}
	return action, nil
}

// Run starts Tick on a ticker loop until ctx is cancelled, the repo's
// established scheduler shape (internal/scheduler, internal/decay).
func (e *Engine) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = DefaultInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	log := observability.LoggerWithTrace(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := e.Tick(ctx); err != nil {
				log.Warn().Err(err).Msg("drift: tick failed")
			}
		}
	}
}

func (e *Engine) now() time.Time {
	if e.Clock != nil {
		return e.Clock.Now()
	}
	return time.Now().UTC()
}

func (e *Engine) randomDraw() float64 {
	if e.Clock != nil {
		return e.Clock.Float64()
	}
	return 0.5
}

func (e *Engine) quietHoursAt(t time.Time) bool {
	if e.QuietHours == nil {
		return false
	}
	return e.QuietHours(t)
}
