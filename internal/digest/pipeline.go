// Package digest implements C16, the five-phase message pipeline that is
// cortex's single entry point for a turn: immediate commit, retrieval,
// classification/routing/generation, post-response commit, and async
// follow-up (spec.md §4.4). Grounded on the teacher's
// internal/orchestrator request-handling shape (load context, classify,
// route, generate, persist), generalized from the teacher's single-pass
// chat handler into the spec's explicit phase boundaries and fast/slow
// path split.
package digest

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"cortex/internal/act"
	"cortex/internal/classify"
	"cortex/internal/eventbus"
	"cortex/internal/fact"
	"cortex/internal/gist"
	"cortex/internal/persistence/databases"
	"cortex/internal/queue"
	"cortex/internal/router"
	"cortex/internal/worldstate"
	"cortex/internal/workingmemory"
)

// Request is one inbound message to run through the pipeline.
type Request struct {
	ThreadID string
	Channel  string
	Platform string
	Message  string
}

// Response is what the pipeline produces for the caller (an SSE handler,
// a CLI, a test).
type Response struct {
	Text        string
	Mode        router.Mode
	FastPath    bool
	CycleID     string
	Topic       string
	InFlightAck bool
}

// Generator renders a terminal mode's response. Prompt assembly (soul +
// identity + mode contract per spec.md §4.7) is intentionally abstracted
// behind this seam: it depends on configuration (persona text, identity
// vectors) this package does not own.
type Generator interface {
	Generate(ctx context.Context, mode router.Mode, sv router.SignalVector, req Request, history []act.IterationRecord) (string, error)
}

// fallbackText is spec.md §4.7's guarantee: non-empty output always, even
// if the LLM call behind Generator returns empty text.
var fallbackText = map[router.Mode]string{
	router.ModeRespond:     "I'm here, but I don't have a complete answer yet.",
	router.ModeClarify:     "Could you say a bit more about what you need?",
	router.ModeAcknowledge: "Got it.",
	router.ModeIgnore:      "",
}

// ackTemplates are the fast-path acknowledgements delivered before a
// tool-worker job is enqueued, per spec.md §4.4's fast-path decision.
// "reflective" phrasing is chosen when the top scorer is an innate skill.
var ackTemplates = map[string]string{
	"default":    "Let me take care of that.",
	"reflective": "Let me think that through.",
}

const inFlightSimilarityThreshold = 0.65
const fastPathToolRelevanceMin = 0.35
const fastPathWarmthMin = 0.1

// inFlightWork tracks a tool-work cycle's prompt embedding so a
// semantically similar follow-up message can be recognized and short
// circuited instead of spawning a duplicate tool job (§4.4 Phase C).
type inFlightWork struct {
	embedding []float32
	startedAt time.Time
}

// Pipeline wires every component the digest phases depend on.
type Pipeline struct {
	WorkingMemory *workingmemory.Store
	Gists         *gist.Store
	Facts         *fact.Store
	WorldState    worldstate.Provider

	Threads *databases.ThreadStore
	Cycles  *databases.CycleStore

	Topics *classify.TopicClassifier
	Tools  *classify.ToolRelevanceScorer

	Bus        *eventbus.Bus
	ToolQueue  queue.Queue
	Generator  Generator
	Embedder   classify.Embedder

	mu           sync.Mutex
	inFlight     map[string]inFlightWork // keyed by topic
	previousMode map[string]router.Mode  // keyed by thread ID
}

// NewPipeline constructs a Pipeline with empty per-run bookkeeping.
func NewPipeline() *Pipeline {
	return &Pipeline{
		inFlight:     make(map[string]inFlightWork),
		previousMode: make(map[string]router.Mode),
	}
}

// Handle runs Phases A through D synchronously for one inbound message,
// per spec.md §4.4. Phase E (async follow-up) is driven by the tool
// worker re-entering through HandleToolResult, not by this method.
func (p *Pipeline) Handle(ctx context.Context, req Request) (Response, error) {
	if err := p.phaseA(ctx, req); err != nil {
		return Response{}, fmt.Errorf("digest: phase A: %w", err)
	}

	warmth, err := p.phaseB(ctx, req)
	if err != nil {
		return Response{}, fmt.Errorf("digest: phase B: %w", err)
	}

	exchangeID := uuid.NewString()

	resp, sv, err := p.phaseC(ctx, req, warmth, exchangeID)
	if err != nil {
		return Response{}, fmt.Errorf("digest: phase C: %w", err)
	}

	if err := p.phaseD(ctx, req, resp, exchangeID); err != nil {
		return Response{}, fmt.Errorf("digest: phase D: %w", err)
	}

	p.mu.Lock()
	p.previousMode[req.ThreadID] = resp.Mode
	p.mu.Unlock()
	_ = sv

	return resp, nil
}

// phaseA appends the user turn to working memory. The reward-signal and
// proactive-delivery correlation spec.md §4.4 also assigns to Phase A are
// the drift engine's concern (internal/drift) and are invoked from there
// once a thread's prior exchange is available; this method owns only the
// commit that must never be lost even if later phases fail.
func (p *Pipeline) phaseA(ctx context.Context, req Request) error {
	if p.WorkingMemory == nil {
		return nil
	}
	return p.WorkingMemory.Append(ctx, req.ThreadID, workingmemory.Turn{
		Role:      workingmemory.RoleUser,
		Content:   req.Message,
		Timestamp: time.Now().UTC(),
	})
}

// phaseB loads gists/facts/world-state and computes context_warmth.
func (p *Pipeline) phaseB(ctx context.Context, req Request) (float64, error) {
	topic := p.currentTopic(ctx, req)

	fill := 0.0
	if p.WorkingMemory != nil {
		var err error
		fill, err = p.WorkingMemory.FillRatio(ctx, req.ThreadID)
		if err != nil {
			return 0, fmt.Errorf("working memory fill: %w", err)
		}
	}

	gistCount := 0
	if p.Gists != nil {
		gists, err := p.Gists.Load(ctx, topic)
		if err != nil {
			return 0, fmt.Errorf("load gists: %w", err)
		}
		gistCount = gist.NonColdStartCount(gists)
	}

	worldNonEmpty := false
	if p.WorldState != nil {
		summary, err := p.WorldState.Summary(ctx, topic)
		if err != nil {
			log.Warn().Err(err).Msg("digest: world state summary failed, treating as empty")
		} else {
			worldNonEmpty = summary.NonEmpty
		}
	}

	return ContextWarmth(WarmthInputs{
		WorkingMemoryFill:  fill,
		GistCount:          gistCount,
		WorldStateNonEmpty: worldNonEmpty,
	}), nil
}

// phaseC runs classification, routing, and generation, including the
// fast-path short circuit.
func (p *Pipeline) phaseC(ctx context.Context, req Request, warmth float64, exchangeID string) (Response, router.SignalVector, error) {
	recentTopic := p.currentTopic(ctx, req)

	var topicResult classify.TopicResult
	var err error
	if p.Topics != nil {
		topicResult, err = p.Topics.Classify(ctx, req.Message, recentTopic)
		if err != nil {
			return Response{}, router.SignalVector{}, fmt.Errorf("classify topic: %w", err)
		}
	} else {
		topicResult = classify.TopicResult{Topic: recentTopic}
	}
	topic := topicResult.Topic

	if p.Threads != nil {
		if _, err := p.Threads.AppendExchange(ctx, req.ThreadID, topic); err != nil {
			return Response{}, router.SignalVector{}, fmt.Errorf("append thread exchange: %w", err)
		}
	}
	if p.Bus != nil {
		p.Bus.Publish(eventbus.EncodeEvent{Topic: topic, ExchangeID: exchangeID, ThreadID: req.ThreadID, PromptMessage: req.Message})
	}

	intent := classify.ClassifyIntent(req.Message)

	var toolResult classify.ToolRelevanceResult
	if p.Tools != nil {
		toolResult, err = p.Tools.TopK(ctx, req.Message, 5)
		if err != nil {
			return Response{}, router.SignalVector{}, fmt.Errorf("tool relevance: %w", err)
		}
	}

	if intent.IsCancel || intent.IsSelfResolved {
		p.cancelActiveToolWork(ctx, topic)
	} else if ack, ok := p.inFlightProgressAck(topic, req.Message); ok {
		return Response{Text: ack, Mode: router.ModeAcknowledge, Topic: topic, InFlightAck: true}, router.SignalVector{}, nil
	}

	sv := router.SignalVector{
		WorkingMemoryFill: warmth,
		GistCount:         gistCountFromResult(ctx, p.Gists, topic),
		FactCount:         factCountFor(ctx, p.Facts, topic),
		IntentConfidence:  intent.Confidence,
		MaxToolRelevance:  toolResult.MaxToolRelevance,
		ContextWarmth:     warmth,
		IsCancel:          intent.IsCancel,
		IsSelfResolved:    intent.IsSelfResolved,
		PreviousMode:      p.previousModeFor(req.ThreadID),
	}

	fastPath := toolResult.MaxToolRelevance > fastPathToolRelevanceMin && warmth >= fastPathWarmthMin &&
		!intent.IsCancel && !intent.IsSelfResolved
	if fastPath {
		decision := router.Route(sv)
		if decision.Mode == router.ModeAct {
			return p.dispatchFastPath(ctx, req, topic, toolResult), sv, nil
		}
	}

	decision := router.Route(sv)
	text, err := p.generateTerminal(ctx, decision.Mode, sv, req)
	if err != nil {
		return Response{}, sv, fmt.Errorf("generate terminal response: %w", err)
	}

	return Response{Text: text, Mode: decision.Mode, Topic: topic}, sv, nil
}

// phaseD appends the assistant turn to working memory and emits the
// assistant half of encode_event, skipped for fast-path template acks
// since they carry no semantic content (spec.md §4.4).
func (p *Pipeline) phaseD(ctx context.Context, req Request, resp Response, exchangeID string) error {
	if resp.FastPath || resp.InFlightAck {
		return nil
	}
	if p.WorkingMemory != nil {
		if err := p.WorkingMemory.Append(ctx, req.ThreadID, workingmemory.Turn{
			Role:      workingmemory.RoleAssistant,
			Content:   resp.Text,
			Timestamp: time.Now().UTC(),
		}); err != nil {
			return err
		}
	}
	if p.Bus != nil {
		p.Bus.Publish(eventbus.EncodeEvent{Topic: resp.Topic, ExchangeID: exchangeID, ThreadID: req.ThreadID, ResponseMessage: resp.Text})
	}
	return nil
}

func (p *Pipeline) dispatchFastPath(ctx context.Context, req Request, topic string, toolResult classify.ToolRelevanceResult) Response {
	ackKey := "default"
	if len(toolResult.Top) > 0 && toolResult.Top[0].IsInnate {
		ackKey = "reflective"
	}

	cycleID := ""
	if p.Cycles != nil {
		c, err := p.Cycles.Create(ctx, databases.Cycle{Type: "user_input", Topic: topic})
		if err == nil {
			cycleID = c.ID.String()
			if _, err := p.Cycles.Create(ctx, databases.Cycle{ParentID: &c.ID, RootID: c.ID, Type: "fast_response", Topic: topic}); err != nil {
				log.Warn().Err(err).Msg("digest: fast_response cycle create failed")
			}
		} else {
			log.Warn().Err(err).Msg("digest: user_input cycle create failed")
		}
	}

	if p.ToolQueue != nil {
		payload, err := json.Marshal(map[string]any{
			"thread_id": req.ThreadID,
			"topic":     topic,
			"message":   req.Message,
			"cycle_id":  cycleID,
		})
		if err != nil {
			log.Warn().Err(err).Msg("digest: tool-worker payload marshal failed")
		} else if _, err := p.ToolQueue.Push(ctx, "tool-queue", payload); err != nil {
			log.Warn().Err(err).Msg("digest: tool-worker enqueue failed")
		}
	}

	if p.Embedder != nil {
		if vec, err := p.Embedder.Embed(req.Message); err == nil {
			p.mu.Lock()
			p.inFlight[topic] = inFlightWork{embedding: vec, startedAt: time.Now()}
			p.mu.Unlock()
		}
	}

	return Response{Text: ackTemplates[ackKey], Mode: router.ModeAct, FastPath: true, CycleID: cycleID, Topic: topic}
}

// HandleToolResult re-enters Phase C for a tool worker's terminal
// `type=tool_result` message, skipping classification and using a
// "followup" prompt template, per spec.md §4.4 Phase E.
func (p *Pipeline) HandleToolResult(ctx context.Context, req Request, toolHistory []act.IterationRecord) (Response, error) {
	p.mu.Lock()
	delete(p.inFlight, p.currentTopic(ctx, req))
	p.mu.Unlock()

	sv := router.SignalVector{ContextWarmth: 1, IntentConfidence: 1}
	text, err := p.Generator.Generate(ctx, router.ModeRespond, sv, req, toolHistory)
	if err != nil {
		return Response{}, fmt.Errorf("digest: followup generate: %w", err)
	}
	if text == "" {
		text = fallbackText[router.ModeRespond]
	}
	return Response{Text: text, Mode: router.ModeRespond, Topic: p.currentTopic(ctx, req)}, nil
}

func (p *Pipeline) generateTerminal(ctx context.Context, mode router.Mode, sv router.SignalVector, req Request) (string, error) {
	if p.Generator == nil {
		return fallbackText[mode], nil
	}
	text, err := p.Generator.Generate(ctx, mode, sv, req, nil)
	if err != nil {
		return "", err
	}
	if text == "" {
		return fallbackText[mode], nil
	}
	return text, nil
}

// inFlightProgressAck returns one of three progress phrases by elapsed
// time when another tool-work cycle on a semantically similar prompt is
// already in flight for topic (cosine >= inFlightSimilarityThreshold).
func (p *Pipeline) inFlightProgressAck(topic, message string) (string, bool) {
	if p.Embedder == nil {
		return "", false
	}
	p.mu.Lock()
	work, ok := p.inFlight[topic]
	p.mu.Unlock()
	if !ok {
		return "", false
	}

	vec, err := p.Embedder.Embed(message)
	if err != nil {
		return "", false
	}
	if cosineSimilarity(vec, work.embedding) < inFlightSimilarityThreshold {
		return "", false
	}

	return progressPhrase(time.Since(work.startedAt)), true
}

// progressPhrase is pure, split out for direct unit testing.
func progressPhrase(elapsed time.Duration) string {
	switch {
	case elapsed < 10*time.Second:
		return "Still working on that."
	case elapsed < 30*time.Second:
		return "This is taking a little longer than usual, still on it."
	default:
		return "Still going, thanks for your patience."
	}
}

func (p *Pipeline) cancelActiveToolWork(ctx context.Context, topic string) {
	p.mu.Lock()
	delete(p.inFlight, topic)
	p.mu.Unlock()

	if p.Cycles == nil {
		return
	}
	cycles, err := p.Cycles.ActiveByTopic(ctx, topic, "tool_work")
	if err != nil {
		log.Warn().Err(err).Msg("digest: lookup active tool_work cycles failed")
		return
	}
	for _, c := range cycles {
		if err := p.Cycles.SetStatus(ctx, c.ID, "cancelled"); err != nil {
			log.Warn().Err(err).Str("cycle_id", c.ID.String()).Msg("digest: cancel cycle failed")
		}
	}
}

// currentTopic returns the thread's last-known topic from the durable
// thread store, falling back to the thread ID itself when no thread
// store is wired (unit tests) or the thread has no topic yet.
func (p *Pipeline) currentTopic(ctx context.Context, req Request) string {
	if p.Threads == nil {
		return req.ThreadID
	}
	th, err := p.Threads.GetOrCreate(ctx, req.ThreadID, req.Channel, req.Platform)
	if err != nil {
		log.Warn().Err(err).Msg("digest: thread lookup failed, falling back to thread id as topic")
		return req.ThreadID
	}
	if th.CurrentTopic == "" {
		return req.ThreadID
	}
	return th.CurrentTopic
}

func (p *Pipeline) previousModeFor(threadID string) router.Mode {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.previousMode[threadID]
}

func gistCountFromResult(ctx context.Context, store *gist.Store, topic string) int {
	if store == nil {
		return 0
	}
	gists, err := store.Load(ctx, topic)
	if err != nil {
		return 0
	}
	return gist.NonColdStartCount(gists)
}

func factCountFor(ctx context.Context, store *fact.Store, topic string) int {
	if store == nil {
		return 0
	}
	facts, err := store.Load(ctx, topic)
	if err != nil {
		return 0
	}
	return len(facts)
}

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
