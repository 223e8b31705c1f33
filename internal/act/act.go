// Package act implements C14 (the ACT orchestrator) and leans on
// internal/tools.Registry for C15 (the skill/tool dispatcher) rather than
// reimplementing dispatch. Grounded on the teacher's internal/orchestrator
// iteration-loop shape (build prompt, call LLM, dispatch tool calls,
// accumulate history, decide whether to continue), generalized to
// spec.md §4.7's fatigue/repetition/timeout state machine.
package act

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"cortex/internal/llm"
)

// TerminationReason names why an ACT loop stopped iterating.
type TerminationReason string

const (
	ReasonNoActions          TerminationReason = "no_actions"
	ReasonRepetitionDetected TerminationReason = "repetition_detected"
	ReasonMaxIterations      TerminationReason = "max_iterations"
	ReasonFatigueBudget      TerminationReason = "fatigue_budget"
	ReasonCumulativeTimeout  TerminationReason = "cumulative_timeout"
	ReasonCancelled          TerminationReason = "cancelled"
)

// repetitionGuardThreshold is how many consecutive iterations of the same
// single-action type force termination (spec.md §4.7 step 2c).
const repetitionGuardThreshold = 3

// Action is one dispatchable step the LLM requested, expressed as
// llm.ToolCall's {Name, Args} pair renamed to the spec's {type, args}
// vocabulary at this package's boundary.
type Action struct {
	Type string
	Args json.RawMessage
}

// ActionResult pairs an action with its dispatch outcome.
type ActionResult struct {
	Action   Action
	Output   []byte
	Err      string
	Duration time.Duration
}

// IterationRecord is one full trip around the ACT loop, logged for replay
// per spec.md §4.7 step 2g.
type IterationRecord struct {
	IterationNumber int
	Actions         []Action
	Results         []ActionResult
	Fatigue         float64
	Elapsed         time.Duration
	Terminated      bool
	Reason          TerminationReason
}

// Config bundles the loop's tunables; mirrors config.ActConfig.
type Config struct {
	MaxIterations     int
	FatigueBudget     float64
	PerActionTimeout  time.Duration
	CumulativeTimeout time.Duration
	HeartbeatInterval time.Duration
}

// Dispatcher executes a single action by name, matching
// tools.Registry.Dispatch's signature so the orchestrator does not need
// to import internal/tools directly.
type Dispatcher interface {
	Dispatch(ctx context.Context, name string, raw json.RawMessage) ([]byte, error)
}

// CostFunc prices one action's fatigue contribution. DefaultCostFunc
// charges a flat 1.0 per action; callers may supply a richer function
// (e.g. weighting external-tool calls higher than innate skills).
type CostFunc func(Action) float64

// DefaultCostFunc charges a flat cost per dispatched action.
func DefaultCostFunc(Action) float64 { return 1.0 }

// OutcomeRecorder records a dispatched action's outcome to procedural
// memory. Optional: Orchestrator works with a nil recorder.
type OutcomeRecorder interface {
	RecordOutcome(ctx context.Context, actionType string, success bool, duration time.Duration)
}

// CancelChecker reports whether a Redis cancel flag has been set for this
// cycle, honoured at the next iteration boundary per spec.md §4.7.
type CancelChecker func(ctx context.Context) (bool, error)

// HeartbeatFunc is called on Config.HeartbeatInterval for the duration of
// Run. The inline ACT path (called from the digest worker) leaves this
// nil; the tool worker (C20) uses it to refresh a Redis heartbeat key so
// an upstream SSE handler can detect a stalled job (spec.md §4.12).
type HeartbeatFunc func(ctx context.Context)

// PromptBuilder renders the ACT system+user messages for the next
// iteration given the history so far. Prompt template assembly (soul +
// ACT contract, skill/tool listings) is the digest pipeline's concern,
// not this package's, so it is injected.
type PromptBuilder func(history []IterationRecord) []llm.Message

// Result is what Run returns once the loop terminates.
type Result struct {
	History []IterationRecord
	Reason  TerminationReason
}

// Orchestrator drives the ACT loop. One instance is safe to reuse across
// cycles; it holds no per-run state.
type Orchestrator struct {
	Provider llm.Provider
	Tools    Dispatcher
	// ToolSchemas is set from tools.Registry.Schemas() by the caller,
	// again to avoid an internal/tools import here; every Provider.Chat
	// call gets it so the model can native-function-call instead of
	// guessing tool syntax from prompt text.
	ToolSchemas []llm.ToolSchema
	Config      Config
	Cost        CostFunc
	Recorder    OutcomeRecorder
	Cancel      CancelChecker
	Heartbeat   HeartbeatFunc
}

// Run executes spec.md §4.7's algorithm: build prompt, call the LLM,
// parse actions from tool calls, apply the repetition guard, check
// can_continue, dispatch every action, accumulate fatigue, and log an
// iteration record, until termination.
func (o *Orchestrator) Run(ctx context.Context, model string, build PromptBuilder) (*Result, error) {
	if o.Cost == nil {
		o.Cost = DefaultCostFunc
	}

	if o.Heartbeat != nil && o.Config.HeartbeatInterval > 0 {
		hbCtx, stop := context.WithCancel(ctx)
		defer stop()
		go o.runHeartbeat(hbCtx)
	}

	start := time.Now()
	var history []IterationRecord
	var fatigue float64
	var prevSingleAction string
	repetitionRunLen := 0

	for iteration := 0; ; iteration++ {
		if o.Cancel != nil {
			cancelled, err := o.Cancel(ctx)
			if err != nil {
				log.Warn().Err(err).Msg("act: cancel check failed, continuing")
			} else if cancelled {
				return &Result{History: history, Reason: ReasonCancelled}, nil
			}
		}

		messages := build(history)
		msg, err := o.Provider.Chat(ctx, messages, o.ToolSchemas, model)
		if err != nil {
			return nil, fmt.Errorf("act: iteration %d: chat: %w", iteration, err)
		}

		actions := actionsFromToolCalls(msg)
		if len(actions) == 0 {
			rec := IterationRecord{IterationNumber: iteration, Terminated: true, Reason: ReasonNoActions, Elapsed: time.Since(start)}
			history = append(history, rec)
			return &Result{History: history, Reason: ReasonNoActions}, nil
		}

		repetitionRunLen = nextRepetitionRun(actions, prevSingleAction, repetitionRunLen)
		if len(actions) == 1 {
			prevSingleAction = actions[0].Type
		} else {
			prevSingleAction = ""
		}
		if repetitionRunLen >= repetitionGuardThreshold {
			rec := IterationRecord{IterationNumber: iteration, Actions: actions, Terminated: true, Reason: ReasonRepetitionDetected, Elapsed: time.Since(start)}
			history = append(history, rec)
			return &Result{History: history, Reason: ReasonRepetitionDetected}, nil
		}

		if ok, reason := canContinue(iteration, o.Config.MaxIterations, fatigue, o.Config.FatigueBudget, time.Since(start), o.Config.CumulativeTimeout); !ok {
			rec := IterationRecord{IterationNumber: iteration, Actions: actions, Terminated: true, Reason: reason, Elapsed: time.Since(start)}
			history = append(history, rec)
			return &Result{History: history, Reason: reason}, nil
		}

		results := o.dispatchAll(ctx, actions)
		for _, r := range results {
			fatigue += o.Cost(r.Action)
			if o.Recorder != nil {
				o.Recorder.RecordOutcome(ctx, r.Action.Type, r.Err == "", r.Duration)
			}
		}

		rec := IterationRecord{
			IterationNumber: iteration,
			Actions:         actions,
			Results:         results,
			Fatigue:         fatigue,
			Elapsed:         time.Since(start),
		}
		history = append(history, rec)
		log.Debug().Int("iteration", iteration).Int("actions", len(actions)).Float64("fatigue", fatigue).
			Msg("act: iteration complete")
	}
}

// runHeartbeat calls o.Heartbeat every Config.HeartbeatInterval until ctx
// is cancelled by Run's deferred stop.
func (o *Orchestrator) runHeartbeat(ctx context.Context) {
	ticker := time.NewTicker(o.Config.HeartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			o.Heartbeat(ctx)
		}
	}
}

func (o *Orchestrator) dispatchAll(ctx context.Context, actions []Action) []ActionResult {
	results := make([]ActionResult, 0, len(actions))
	for _, a := range actions {
		results = append(results, o.dispatchOne(ctx, a))
	}
	return results
}

func (o *Orchestrator) dispatchOne(ctx context.Context, a Action) ActionResult {
	actionCtx := ctx
	var cancel context.CancelFunc
	if o.Config.PerActionTimeout > 0 {
		actionCtx, cancel = context.WithTimeout(ctx, o.Config.PerActionTimeout)
		defer cancel()
	}

	start := time.Now()
	out, err := o.Tools.Dispatch(actionCtx, a.Type, a.Args)
	res := ActionResult{Action: a, Output: out, Duration: time.Since(start)}
	if err != nil {
		res.Err = err.Error()
	}
	return res
}

func actionsFromToolCalls(msg llm.Message) []Action {
	actions := make([]Action, 0, len(msg.ToolCalls))
	for _, tc := range msg.ToolCalls {
		actions = append(actions, Action{Type: tc.Name, Args: tc.Args})
	}
	return actions
}

// nextRepetitionRun implements spec.md §4.7 step 2c: increments the run
// length only when this iteration has exactly one action whose type
// matches the previous iteration's single action type, resetting to zero
// (then counting this iteration as the first of a new run, i.e. 1)
// whenever the shape or type differs.
func nextRepetitionRun(actions []Action, prevSingleAction string, prevRun int) int {
	if len(actions) != 1 || actions[0].Type != prevSingleAction || prevSingleAction == "" {
		return 1
	}
	return prevRun + 1
}

// canContinue is spec.md §4.7 step 2d's pure termination check.
func canContinue(iterationNumber, maxIterations int, fatigue, fatigueBudget float64, elapsed, cumulativeTimeout time.Duration) (bool, TerminationReason) {
	if maxIterations > 0 && iterationNumber >= maxIterations {
		return false, ReasonMaxIterations
	}
	if fatigueBudget > 0 && fatigue >= fatigueBudget {
		return false, ReasonFatigueBudget
	}
	if cumulativeTimeout > 0 && elapsed >= cumulativeTimeout {
		return false, ReasonCumulativeTimeout
	}
	return true, ""
}
