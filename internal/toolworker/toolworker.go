// Package toolworker implements C20, the fast-path's "run-host" for the
// ACT loop: it dequeues a tool-work job from dispatchFastPath's
// "tool-queue", runs the same act.Orchestrator.Run the inline path would
// have run on the request path, and re-enters the digest pipeline with
// the result. Grounded on spec.md §4.12 and on internal/act's existing
// Orchestrator (this package supplies the per-job Heartbeat/Cancel/
// ToolSchemas wiring act.Orchestrator leaves to its caller) plus
// internal/digest.Pipeline.HandleToolResult as the re-entry point.
package toolworker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"cortex/internal/act"
	"cortex/internal/digest"
	"cortex/internal/gist"
	"cortex/internal/llm"
	"cortex/internal/observability"
	"cortex/internal/persistence/databases"
	"cortex/internal/queue"
	"cortex/internal/tools"
)

// hardTimeout is spec.md §5's "tool-worker hard timeout 300 s".
const hardTimeout = 300 * time.Second

// heartbeatInterval is spec.md §4.12's "heartbeat key set with 30 s TTL
// every 10 s".
const heartbeatInterval = 10 * time.Second
const heartbeatTTL = 30 * time.Second

// staleTopicCosineMax is spec.md §4.12's stale-suppression threshold.
const staleTopicCosineMax = 0.45

func heartbeatKey(jobID string) string { return "heartbeat:" + jobID }
func cancelKey(cycleID string) string  { return "cancel:" + cycleID }

// jobPayload mirrors digest.dispatchFastPath's enqueued map exactly.
type jobPayload struct {
	ThreadID string `json:"thread_id"`
	Topic    string `json:"topic"`
	Message  string `json:"message"`
	CycleID  string `json:"cycle_id"`
}

// Delivery pushes a finished follow-up response to whatever transport the
// user is connected through (SSE, websocket, ...). cmd/cortexd wires
// transport.ToolResultDelivery (SSE); a nil Delivery simply drops
// the response after generating it, matching this package's degrade-don't-
// fail posture for every other optional collaborator.
type Delivery interface {
	Deliver(ctx context.Context, req digest.Request, resp digest.Response) error
}

// ToolPerformanceRecorder adapts databases.ToolPerformanceStore to
// act.OutcomeRecorder, fulfilling spec.md §4.12's "per-tool performance
// (success rate, latency) is recorded for external tools on every
// invocation" by wiring straight into the existing OutcomeRecorder seam
// rather than adding a second recording path.
type ToolPerformanceRecorder struct {
	Store *databases.ToolPerformanceStore
}

// RecordOutcome satisfies act.OutcomeRecorder.
func (r *ToolPerformanceRecorder) RecordOutcome(ctx context.Context, actionType string, success bool, duration time.Duration) {
	if r == nil || r.Store == nil {
		return
	}
	if err := r.Store.Record(ctx, actionType, success, duration); err != nil {
		observability.LoggerWithTrace(ctx).Warn().Err(err).Str("tool", actionType).
			Msg("toolworker: record tool performance failed")
	}
}

// errDeferred signals Handle's caller (queue.Worker) to requeue the
// follow-up with backoff rather than ack or hard-fail it: the user is
// still mid-conversation, so delivering right now would interleave with
// their next message. queue.Worker's existing maxRetries/backoff already
// implements spec.md §4.12's "mark the tool result as suppressed after N
// deferrals" once retries are exhausted, so this package adds no separate
// deferral-count bookkeeping.
var errDeferred = errors.New("toolworker: follow-up deferred, thread still active")

// Worker is the "tool-queue" queue's Handler. One Worker instance is
// reused across jobs; since queue.Worker processes one job at a time per
// queue, mutating Orchestrator.Heartbeat/Cancel/ToolSchemas per job here
// is safe.
type Worker struct {
	Pipeline     *digest.Pipeline
	Orchestrator *act.Orchestrator
	Model        string
	// BuildPrompt renders the ACT loop's next messages given the original
	// request and the iteration history so far. Prompt assembly is the
	// digest pipeline's concern (see digest.Generator's doc comment), so
	// it is injected exactly like digest.Generator is.
	BuildPrompt  func(req digest.Request, history []act.IterationRecord) []llm.Message
	ToolRegistry tools.Registry
	Redis        redis.UniversalClient
	Delivery     Delivery
}

// Handle is a queue.Handler for the "tool-queue" queue.
func (w *Worker) Handle(ctx context.Context, job *queue.Job) error {
	if w.Pipeline == nil || w.Orchestrator == nil || w.BuildPrompt == nil {
		return fmt.Errorf("toolworker: worker missing required collaborator")
	}

	var j jobPayload
	if err := json.Unmarshal(job.Payload, &j); err != nil {
		return fmt.Errorf("toolworker: unmarshal job: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, hardTimeout)
	defer cancel()

	toolCycleID := uuid.Nil
	if parentID, err := uuid.Parse(j.CycleID); err == nil {
		toolCycleID = parentID
	}
	var toolWorkCycle databases.Cycle
	if w.Pipeline.Cycles != nil {
		var parent *uuid.UUID
		if toolCycleID != uuid.Nil {
			parent = &toolCycleID
		}
		c, err := w.Pipeline.Cycles.Create(ctx, databases.Cycle{ParentID: parent, RootID: toolCycleID, Type: "tool_work", Topic: j.Topic})
		if err != nil {
			observability.LoggerWithTrace(ctx).Warn().Err(err).Msg("toolworker: tool_work cycle create failed")
		} else {
			toolWorkCycle = c
		}
	}

	if w.ToolRegistry != nil {
		w.Orchestrator.Tools = w.ToolRegistry
		w.Orchestrator.ToolSchemas = w.ToolRegistry.Schemas()
	}
	w.Orchestrator.Heartbeat = w.heartbeat(job.ID)
	w.Orchestrator.Cancel = w.cancelChecker(j.CycleID)
	if w.Orchestrator.Config.HeartbeatInterval <= 0 {
		w.Orchestrator.Config.HeartbeatInterval = heartbeatInterval
	}

	req := digest.Request{ThreadID: j.ThreadID, Message: j.Message}
	result, err := w.Orchestrator.Run(ctx, w.Model, func(history []act.IterationRecord) []llm.Message {
		return w.BuildPrompt(req, history)
	})
	if err != nil {
		w.setCycleStatus(ctx, toolWorkCycle.ID, "failed")
		return fmt.Errorf("toolworker: act run: %w", err)
	}

	if result.Reason == act.ReasonCancelled {
		w.setCycleStatus(ctx, toolWorkCycle.ID, "cancelled")
		return nil
	}
	w.setCycleStatus(ctx, toolWorkCycle.ID, "completed")

	if hasVisualCard(result.History) {
		// A card result is self-explanatory in the UI; no follow-up text
		// is generated or delivered for it.
		return nil
	}

	resp, err := w.Pipeline.HandleToolResult(ctx, req, result.History)
	if err != nil {
		return fmt.Errorf("toolworker: follow-up generate: %w", err)
	}

	if w.isStaleTopic(ctx, j.Topic, resp.Topic) {
		w.storeBackgroundGist(ctx, resp.Topic, resp.Text)
		return nil
	}

	if w.isThreadBusy(ctx, j.Topic, toolCycleID) {
		return errDeferred
	}

	if w.Delivery != nil {
		if err := w.Delivery.Deliver(ctx, req, resp); err != nil {
			return fmt.Errorf("toolworker: deliver: %w", err)
		}
	}
	return nil
}

func (w *Worker) setCycleStatus(ctx context.Context, id uuid.UUID, status string) {
	if w.Pipeline.Cycles == nil || id == uuid.Nil {
		return
	}
	if err := w.Pipeline.Cycles.SetStatus(ctx, id, status); err != nil {
		observability.LoggerWithTrace(ctx).Warn().Err(err).Str("cycle_id", id.String()).
			Msg("toolworker: set cycle status failed")
	}
}

func (w *Worker) heartbeat(jobID string) act.HeartbeatFunc {
	return func(ctx context.Context) {
		if w.Redis == nil {
			return
		}
		if err := w.Redis.Set(ctx, heartbeatKey(jobID), "1", heartbeatTTL).Err(); err != nil {
			observability.LoggerWithTrace(ctx).Warn().Err(err).Msg("toolworker: heartbeat set failed")
		}
	}
}

func (w *Worker) cancelChecker(cycleID string) act.CancelChecker {
	return func(ctx context.Context) (bool, error) {
		if w.Redis == nil || cycleID == "" {
			return false, nil
		}
		n, err := w.Redis.Exists(ctx, cancelKey(cycleID)).Result()
		if err != nil {
			return false, fmt.Errorf("toolworker: cancel check: %w", err)
		}
		return n > 0, nil
	}
}

// isStaleTopic implements spec.md §4.12's stale-suppression rule: the
// follow-up is discarded (as a delivery) once the thread has drifted to a
// different topic than the one the tool work was launched for.
func (w *Worker) isStaleTopic(ctx context.Context, originalTopic, currentTopic string) bool {
	if currentTopic == "" || currentTopic == originalTopic || w.Pipeline.Embedder == nil {
		return false
	}
	origVec, err := w.Pipeline.Embedder.Embed(originalTopic)
	if err != nil {
		return false
	}
	curVec, err := w.Pipeline.Embedder.Embed(currentTopic)
	if err != nil {
		return false
	}
	return cosineSimilarity(origVec, curVec) < staleTopicCosineMax
}

func (w *Worker) storeBackgroundGist(ctx context.Context, topic, content string) {
	if content == "" || w.Pipeline.Gists == nil {
		return
	}
	if _, err := w.Pipeline.Gists.StoreBatch(ctx, topic, []gist.Gist{{Type: gist.TypeBackground, Confidence: 7, Content: content}}); err != nil {
		observability.LoggerWithTrace(ctx).Warn().Err(err).Str("topic", topic).
			Msg("toolworker: store background gist failed")
	}
}

// isThreadBusy implements spec.md §4.12's delivery-deferral check: the
// follow-up holds rather than delivers while a newer user message (a
// later user_input cycle on the same topic) is still being worked.
func (w *Worker) isThreadBusy(ctx context.Context, topic string, thisCycleID uuid.UUID) bool {
	if w.Pipeline.Cycles == nil {
		return false
	}
	cycles, err := w.Pipeline.Cycles.ActiveByTopic(ctx, topic, "user_input")
	if err != nil {
		observability.LoggerWithTrace(ctx).Warn().Err(err).Msg("toolworker: active-cycle lookup failed")
		return false
	}
	return anyOtherActiveCycle(cycles, thisCycleID)
}

// anyOtherActiveCycle is pure, split out for direct unit testing.
func anyOtherActiveCycle(cycles []databases.Cycle, excludeID uuid.UUID) bool {
	for _, c := range cycles {
		if c.ID != excludeID {
			return true
		}
	}
	return false
}

// hasVisualCard is pure, split out for direct unit testing. A tool's
// dispatched output is treated as a visual card when its JSON payload
// carries a non-null "card" field or a "type":"card" discriminator; no
// tool in this repo emits either shape yet, but the convention gives
// future card-producing tools (e.g. a chart/calendar renderer) a single
// agreed wire shape to target.
func hasVisualCard(history []act.IterationRecord) bool {
	for _, rec := range history {
		for _, r := range rec.Results {
			if r.Err != "" || len(r.Output) == 0 {
				continue
			}
			var out map[string]any
			if err := json.Unmarshal(r.Output, &out); err != nil {
				continue
			}
			if v, ok := out["card"]; ok && v != nil {
				return true
			}
			if t, _ := out["type"].(string); t == "card" {
				return true
			}
		}
	}
	return false
}

// cosineSimilarity mirrors internal/digest's copy; duplicated rather than
// exported from internal/classify, matching that package's own house
// style of a small unexported cosine helper per consuming package.
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
