// Package episodic implements C18: consolidating a thread's recently
// chunked exchanges into one durable Episode once three have accumulated
// for a topic, or (when internal/scheduler's ThreadExpiryScheduler calls
// Consolidator.Consolidate for an idle thread) on a timeout, per
// spec.md §3's Exchange-to-Episode lifecycle. Grounded on
// the teacher's internal/agent/memory.ReMemController structured-JSON LLM
// contract (remem.go) for the synthesis call, and on
// internal/workingmemory's Redis-list buffering style for the pending-
// exchange queue.
package episodic

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"cortex/internal/classify"
	"cortex/internal/llm"
	"cortex/internal/memorychunker"
	"cortex/internal/observability"
	"cortex/internal/persistence/databases"
	"cortex/internal/queue"
)

// consolidationThreshold is "three enriched exchanges" from spec.md §3.
const consolidationThreshold = 3

// bufferTTL bounds how long a partially filled buffer survives without
// being drained; the timeout path is internal/scheduler's
// ThreadExpiryScheduler, which calls Consolidator.Consolidate.
const bufferTTL = 30 * time.Minute

func bufferKey(threadID, topic string) string { return "episodic:buffer:" + threadID + ":" + topic }

// Buffer accumulates EnrichedExchanges per (thread, topic) in a Redis
// list until consolidation drains it.
type Buffer struct {
	client redis.UniversalClient
}

// NewBuffer builds a Redis-backed exchange buffer.
func NewBuffer(client redis.UniversalClient) *Buffer {
	return &Buffer{client: client}
}

// Append adds ex to the buffer for (threadID, topic), returning the
// buffer's new length.
func (b *Buffer) Append(ctx context.Context, threadID, topic string, ex memorychunker.EnrichedExchange) (int, error) {
	buf, err := json.Marshal(ex)
	if err != nil {
		return 0, fmt.Errorf("episodic: marshal exchange: %w", err)
	}
	key := bufferKey(threadID, topic)
	pipe := b.client.TxPipeline()
	lenCmd := pipe.RPush(ctx, key, buf)
	pipe.Expire(ctx, key, bufferTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, fmt.Errorf("episodic: buffer append: %w", err)
	}
	return int(lenCmd.Val()), nil
}

// Drain returns and clears every buffered exchange for (threadID, topic).
func (b *Buffer) Drain(ctx context.Context, threadID, topic string) ([]memorychunker.EnrichedExchange, error) {
	key := bufferKey(threadID, topic)
	raws, err := b.client.LRange(ctx, key, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("episodic: drain: %w", err)
	}
	if len(raws) == 0 {
		return nil, nil
	}
	if err := b.client.Del(ctx, key).Err(); err != nil {
		return nil, fmt.Errorf("episodic: clear buffer: %w", err)
	}
	out := make([]memorychunker.EnrichedExchange, 0, len(raws))
	for _, raw := range raws {
		var ex memorychunker.EnrichedExchange
		if err := json.Unmarshal([]byte(raw), &ex); err != nil {
			return nil, fmt.Errorf("episodic: unmarshal exchange: %w", err)
		}
		out = append(out, ex)
	}
	return out, nil
}

// Len reports the current buffer length for (threadID, topic).
func (b *Buffer) Len(ctx context.Context, threadID, topic string) (int, error) {
	n, err := b.client.LLen(ctx, bufferKey(threadID, topic)).Result()
	if err != nil {
		return 0, fmt.Errorf("episodic: len: %w", err)
	}
	return int(n), nil
}

// consolidationJob is the payload enqueued on the "episodic" queue.
type consolidationJob struct {
	ThreadID string `json:"thread_id"`
	Topic    string `json:"topic"`
}

// Trigger implements memorychunker.EpisodicTrigger: it buffers the
// enriched exchange and, once three have accumulated for the topic,
// enqueues a consolidation job rather than consolidating inline (§5's
// one-worker-per-queue scheduling model keeps an LLM-bound consolidation
// call off the memory-chunker worker).
type Trigger struct {
	Buffer *Buffer
	Queue  queue.Queue
}

// NotifyEnriched satisfies memorychunker.EpisodicTrigger.
func (t *Trigger) NotifyEnriched(ctx context.Context, ex memorychunker.EnrichedExchange) error {
	n, err := t.Buffer.Append(ctx, ex.ThreadID, ex.Topic, ex)
	if err != nil {
		return err
	}
	if n < consolidationThreshold {
		return nil
	}
	payload, err := json.Marshal(consolidationJob{ThreadID: ex.ThreadID, Topic: ex.Topic})
	if err != nil {
		return fmt.Errorf("episodic: marshal consolidation job: %w", err)
	}
	_, err = t.Queue.Push(ctx, "episodic", payload)
	return err
}

// synthesis is the episodic worker's structured-JSON LLM contract.
type synthesis struct {
	Intent     string   `json:"intent"`
	Context    string   `json:"context"`
	Action     string   `json:"action"`
	Emotion    string   `json:"emotion"`
	Outcome    string   `json:"outcome"`
	Gist       string   `json:"gist"`
	Salience   float64  `json:"salience"`
	OpenLoops  []string `json:"open_loops"`
}

// Consolidator is the episodic queue's Handler: it drains a topic's
// buffer and writes one Episode.
type Consolidator struct {
	Buffer       *Buffer
	EpisodeStore *databases.EpisodeStore
	LLM          llm.Provider
	Model        string
	Embedder     classify.Embedder
}

// Handle is a queue.Handler for the "episodic" queue.
func (c *Consolidator) Handle(ctx context.Context, job *queue.Job) error {
	var j consolidationJob
	if err := json.Unmarshal(job.Payload, &j); err != nil {
		return fmt.Errorf("episodic: unmarshal job: %w", err)
	}
	return c.Consolidate(ctx, j.ThreadID, j.Topic)
}

// Consolidate drains the buffer for (threadID, topic) and, if non-empty,
// synthesizes and stores exactly one Episode.
func (c *Consolidator) Consolidate(ctx context.Context, threadID, topic string) error {
	exchanges, err := c.Buffer.Drain(ctx, threadID, topic)
	if err != nil {
		return err
	}
	if len(exchanges) == 0 {
		return nil
	}

	syn, err := c.synthesize(ctx, topic, exchanges)
	if err != nil {
		observability.LoggerWithTrace(ctx).Warn().Err(err).Str("topic", topic).
			Msg("episodic: synthesis failed, falling back to last exchange")
		syn = fallbackSynthesis(exchanges)
	}

	var embedding []float32
	if c.Embedder != nil {
		if vec, err := c.Embedder.Embed(syn.Gist); err == nil {
			embedding = vec
		}
	}

	_, err = c.EpisodeStore.Create(ctx, databases.Episode{
		Topic:      topic,
		ExchangeID: exchanges[len(exchanges)-1].ExchangeID,
		Intent:     syn.Intent,
		Context:    syn.Context,
		Action:     syn.Action,
		Emotion:    syn.Emotion,
		Outcome:    syn.Outcome,
		Gist:       syn.Gist,
		Salience:   clampSalience(syn.Salience),
		Embedding:  embedding,
		OpenLoops:  syn.OpenLoops,
	})
	if err != nil {
		return fmt.Errorf("episodic: create episode: %w", err)
	}
	return nil
}

func (c *Consolidator) synthesize(ctx context.Context, topic string, exchanges []memorychunker.EnrichedExchange) (synthesis, error) {
	if c.LLM == nil {
		return fallbackSynthesis(exchanges), nil
	}
	msgs := []llm.Message{
		{Role: "system", Content: consolidationSystemPrompt()},
		{Role: "user", Content: buildConsolidationPrompt(topic, exchanges)},
	}
	resp, err := c.LLM.Chat(ctx, msgs, nil, c.Model)
	if err != nil {
		return synthesis{}, err
	}
	var syn synthesis
	if err := json.Unmarshal([]byte(resp.Content), &syn); err != nil {
		return synthesis{}, fmt.Errorf("episodic: parse synthesis: %w", err)
	}
	return syn, nil
}

func buildConsolidationPrompt(topic string, exchanges []memorychunker.EnrichedExchange) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Topic: %s\n\n", topic)
	for i, ex := range exchanges {
		fmt.Fprintf(&b, "Exchange %d\nUser: %s\nAssistant: %s\nGist: %s\n\n", i+1, ex.Prompt, ex.Response, ex.Gist)
	}
	b.WriteString("Consolidate these exchanges into one episode. Respond with JSON following the schema described in the system prompt.")
	return b.String()
}

func consolidationSystemPrompt() string {
	return `You consolidate several conversational exchanges about one topic into a single durable episodic memory. Respond with JSON:

{
  "intent": "what the user was trying to accomplish",
  "context": "situational summary",
  "action": "what was done in response",
  "emotion": "dominant emotional tone",
  "outcome": "how it resolved",
  "gist": "one-sentence summary for retrieval",
  "salience": 1-10,
  "open_loops": ["unresolved thread 1", "..."]
}`
}

// fallbackSynthesis builds a degraded-but-non-empty episode from the last
// buffered exchange when the LLM call fails or returns unparsable JSON,
// matching spec.md §4's "storage writes are fire-and-forget, a failing
// step never blocks" policy applied to consolidation.
func fallbackSynthesis(exchanges []memorychunker.EnrichedExchange) synthesis {
	last := exchanges[len(exchanges)-1]
	gist := last.Gist
	if gist == "" {
		gist = last.Prompt
	}
	return synthesis{
		Intent:   last.Intent,
		Context:  last.Prompt,
		Action:   last.Response,
		Emotion:  last.Emotion,
		Gist:     gist,
		Salience: 5,
	}
}

func clampSalience(s float64) float64 {
	if s < 1 {
		return 1
	}
	if s > 10 {
		return 10
	}
	return s
}
