// Package memorychunker implements C17: one LLM call per exchange that
// extracts gists, facts, user traits, communication style, and emotion
// signals, plus two pure-regex side effects run on the user message alone.
// Grounded on the teacher's internal/agent/memory.ReMemController
// (remem.go): a structured-JSON contract sent to llm.Provider.Chat, parsed
// with json.Unmarshal and a logged fallback on parse failure rather than a
// hard error, per spec.md §4.8.
package memorychunker

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"cortex/internal/eventbus"
	"cortex/internal/fact"
	"cortex/internal/gist"
	"cortex/internal/llm"
	"cortex/internal/observability"
	"cortex/internal/persistence/databases"
	"cortex/internal/queue"
	"cortex/internal/workingmemory"
)

// Job is the payload shape enqueued by the encode_event subscriber
// (Subscribe) for both the user and assistant halves of an exchange.
type Job struct {
	ThreadID        string `json:"thread_id"`
	Topic           string `json:"topic"`
	ExchangeID      string `json:"exchange_id"`
	PromptMessage   string `json:"prompt_message"`
	ResponseMessage string `json:"response_message"`
}

// TraitWrite is one trait observation the chunker wants reinforced.
type TraitWrite struct {
	Key        string  `json:"key"`
	Value      string  `json:"value"`
	Category   string  `json:"category"`
	Confidence float64 `json:"confidence"`
	Source     string  `json:"source"` // explicit|inferred
}

// EmotionSignal is the per-vector emotion mapping handed to the identity
// reinforcer (§4.9); this package does not itself implement the dual-
// channel reinforcement math, only extraction.
type EmotionSignal struct {
	User       map[string]float64 `json:"user"` // joy, surprise, anger, disgust
	Assistant  map[string]float64 `json:"assistant"`
	Intent     string             `json:"intent"`
	Confidence float64            `json:"confidence"`
}

// ChunkOutput is the memory chunker's structured-JSON LLM contract. Every
// field is optional: a field the model omits is simply not written.
type ChunkOutput struct {
	Gists              []gist.Gist        `json:"gists,omitempty"`
	Facts              []fact.Fact        `json:"facts,omitempty"`
	UserTraits         []TraitWrite       `json:"user_traits,omitempty"`
	CommunicationStyle map[string]float64 `json:"communication_style,omitempty"`
	Emotion            *EmotionSignal     `json:"emotion,omitempty"`
}

// IdentityReinforcer is the C9 seam: emotion signals feed identity vector
// reinforcement, but that math lives outside this package.
type IdentityReinforcer interface {
	Reinforce(ctx context.Context, signal EmotionSignal) error
}

// EnrichedExchange is what the chunker hands to the episodic worker once
// an exchange has been extracted, carrying enough to consolidate without
// the episodic worker needing to re-read working memory.
type EnrichedExchange struct {
	ThreadID   string
	Topic      string
	ExchangeID string
	Prompt     string
	Response   string
	Gist       string
	Intent     string
	Emotion    string
	CreatedAt  time.Time
}

// EpisodicTrigger is the seam to C18: after extraction, the chunker
// notifies the episodic worker that an exchange has been enriched.
type EpisodicTrigger interface {
	NotifyEnriched(ctx context.Context, ex EnrichedExchange) error
}

const (
	minFactConfidence                   = 7
	microPreferenceConfidence           = 0.7
	communicationStyleWeightEarly       = 0.5
	communicationStyleWeightLater       = 0.3
	communicationStyleEarlyObservations = 5
	challengeReactionEMAWeight          = 0.2
	idempotencyTTL                      = 24 * time.Hour
)

// Chunker wires the LLM call and every store the extraction writes to.
type Chunker struct {
	LLM      llm.Provider
	Model    string
	Gists    *gist.Store
	Facts    *fact.Store
	Traits   *databases.TraitStore
	Identity      IdentityReinforcer
	Episodic      EpisodicTrigger
	WorkingMemory *workingmemory.Store // read-only: locates the prior assistant turn for challenge-reaction

	Idempotency redis.UniversalClient // SETNX guard: one memory_chunk per exchange
}

// Subscribe returns the sole encode_event subscriber named in §4.2: it
// enqueues a chunker Job carrying whichever half (user or assistant) of
// the exchange the event represents.
func Subscribe(q queue.Queue) eventbus.Handler {
	return func(evt eventbus.EncodeEvent) {
		payload, err := json.Marshal(Job{
			ThreadID:        evt.ThreadID,
			Topic:           evt.Topic,
			ExchangeID:      evt.ExchangeID,
			PromptMessage:   evt.PromptMessage,
			ResponseMessage: evt.ResponseMessage,
		})
		if err != nil {
			return
		}
		if _, err := q.Push(context.Background(), "memory-chunker", payload); err != nil {
			observability.LoggerWithTrace(context.Background()).Warn().Err(err).
				Msg("memorychunker: enqueue failed")
		}
	}
}

// Handle is a queue.Handler: it dequeues one Job, guards against double
// processing of the same exchange, runs the LLM extraction, and persists
// every optional field present in the output.
func (c *Chunker) Handle(ctx context.Context, job *queue.Job) error {
	var j Job
	if err := json.Unmarshal(job.Payload, &j); err != nil {
		return fmt.Errorf("memorychunker: unmarshal job: %w", err)
	}

	if j.ExchangeID != "" && c.Idempotency != nil {
		ok, err := c.Idempotency.SetNX(ctx, "chunked:"+j.ExchangeID, "1", idempotencyTTL).Result()
		if err != nil {
			return fmt.Errorf("memorychunker: idempotency check: %w", err)
		}
		if !ok {
			// A memory_chunk already exists for this exchange; the second
			// half (assistant or user) is dropped per §4.8/Invariants.
			return nil
		}
	}

	log := observability.LoggerWithTrace(ctx)

	c.runMicroPreferences(ctx, j)
	c.runChallengeReaction(ctx, j)

	out, err := c.extract(ctx, j)
	if err != nil {
		log.Warn().Err(err).Str("exchange_id", j.ExchangeID).Msg("memorychunker: llm extraction failed, skipping")
		return nil
	}
	if out == nil {
		// JSON parse failure: log, skip extraction, emit no episode trigger.
		log.Warn().Str("exchange_id", j.ExchangeID).Msg("memorychunker: llm output is not valid JSON, skipping extraction")
		return nil
	}

	if len(out.Gists) > 0 && c.Gists != nil {
		for i := range out.Gists {
			if out.Gists[i].ID == "" {
				out.Gists[i].ID = uuid.NewString()
			}
			if out.Gists[i].CreatedAt.IsZero() {
				out.Gists[i].CreatedAt = time.Now().UTC()
			}
		}
		if _, err := c.Gists.StoreBatch(ctx, j.Topic, out.Gists); err != nil {
			log.Warn().Err(err).Msg("memorychunker: store gists failed")
		}
	}

	if len(out.Facts) > 0 && c.Facts != nil {
		var kept []fact.Fact
		for _, f := range out.Facts {
			if f.Confidence >= minFactConfidence {
				kept = append(kept, f)
			}
		}
		if len(kept) > 0 {
			if err := c.Facts.SetBatch(ctx, j.Topic, kept); err != nil {
				log.Warn().Err(err).Msg("memorychunker: store facts failed")
			}
		}
	}

	if c.Traits != nil {
		for _, t := range out.UserTraits {
			c.reinforceTrait(ctx, t)
		}
		if len(out.CommunicationStyle) > 0 {
			c.mergeCommunicationStyle(ctx, out.CommunicationStyle)
		}
	}

	if out.Emotion != nil && c.Identity != nil {
		if err := c.Identity.Reinforce(ctx, *out.Emotion); err != nil {
			log.Warn().Err(err).Msg("memorychunker: identity reinforcement failed")
		}
	}

	if c.Episodic != nil {
		if err := c.Episodic.NotifyEnriched(ctx, buildEnrichedExchange(j, out)); err != nil {
			log.Warn().Err(err).Msg("memorychunker: episodic trigger failed")
		}
	}

	return nil
}

// buildEnrichedExchange projects a chunked exchange down to what the
// episodic worker needs: the best single gist (highest confidence) and
// the intent/emotion the LLM extracted, if any.
func buildEnrichedExchange(j Job, out *ChunkOutput) EnrichedExchange {
	ex := EnrichedExchange{
		ThreadID:   j.ThreadID,
		Topic:      j.Topic,
		ExchangeID: j.ExchangeID,
		Prompt:     j.PromptMessage,
		Response:   j.ResponseMessage,
		CreatedAt:  time.Now().UTC(),
	}
	best := -1
	for _, g := range out.Gists {
		if g.Confidence > best {
			best = g.Confidence
			ex.Gist = g.Content
		}
	}
	if out.Emotion != nil {
		ex.Intent = out.Emotion.Intent
		buf, err := json.Marshal(out.Emotion)
		if err == nil {
			ex.Emotion = string(buf)
		}
	}
	return ex
}

// extract calls the LLM with the structured-JSON contract and parses the
// response. A nil, nil return means "parse failure" (Handle logs it) so
// Handle can distinguish it from a transport error.
func (c *Chunker) extract(ctx context.Context, j Job) (*ChunkOutput, error) {
	if c.LLM == nil {
		return &ChunkOutput{}, nil
	}

	var existing []gist.Gist
	if c.Gists != nil {
		existing, _ = c.Gists.Load(ctx, j.Topic)
	}

	msgs := []llm.Message{
		{Role: "system", Content: chunkerSystemPrompt()},
		{Role: "user", Content: c.buildPrompt(j, existing)},
	}
	resp, err := c.LLM.Chat(ctx, msgs, nil, c.Model)
	if err != nil {
		return nil, err
	}

	var out ChunkOutput
	if err := json.Unmarshal([]byte(resp.Content), &out); err != nil {
		return nil, nil
	}
	return &out, nil
}

func (c *Chunker) buildPrompt(j Job, existing []gist.Gist) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Topic: %s\n\n", j.Topic)
	fmt.Fprintf(&b, "User: %s\n", j.PromptMessage)
	fmt.Fprintf(&b, "Assistant: %s\n\n", j.ResponseMessage)
	if len(existing) > 0 {
		b.WriteString("Existing gists:\n")
		for _, g := range existing {
			fmt.Fprintf(&b, "- [%s, conf %d] %s\n", g.Type, g.Confidence, g.Content)
		}
	}
	b.WriteString("\nRespond with JSON following the schema described in the system prompt.")
	return b.String()
}

func chunkerSystemPrompt() string {
	return `You extract durable memory from one conversational exchange. Respond with JSON:

{
  "gists": [{"content": "...", "type": "fact|intent|preference", "confidence": 0-10}],
  "facts": [{"key": "...", "value": "...", "confidence": 0-10}],
  "user_traits": [{"key": "...", "value": "...", "category": "...", "confidence": 0-1, "source": "explicit|inferred"}],
  "communication_style": {"formality": 0-1, "verbosity": 0-1, "directness": 0-1, "warmth": 0-1, "humor": 0-1, "technicality": 0-1, "patience": 0-1, "curiosity": 0-1, "assertiveness": 0-1},
  "emotion": {"user": {"joy": 0-1, "surprise": 0-1, "anger": 0-1, "disgust": 0-1}, "assistant": {...}, "intent": "...", "confidence": 0-1}
}

Every field is optional; omit anything you have no signal for.`
}

// reinforceTrait applies §4.8's inferred-source/low-confidence penalty
// before upserting.
func (c *Chunker) reinforceTrait(ctx context.Context, t TraitWrite) {
	confidence := t.Confidence
	if t.Source == "inferred" {
		confidence *= 0.7
	}
	_, err := c.Traits.Reinforce(ctx, databases.UserTrait{
		Key:        t.Key,
		Value:      t.Value,
		Category:   t.Category,
		Confidence: confidence,
		Source:     t.Source,
	})
	if err != nil {
		observability.LoggerWithTrace(ctx).Warn().Err(err).Str("trait_key", t.Key).
			Msg("memorychunker: trait reinforce failed")
	}
}

func (c *Chunker) mergeCommunicationStyle(ctx context.Context, incoming map[string]float64) {
	const styleKey = "communication_style"
	existing := map[string]float64{}
	observations := 0
	if rows, err := c.Traits.ByCategory(ctx, styleKey); err == nil {
		for _, r := range rows {
			if r.Key == styleKey {
				_ = json.Unmarshal([]byte(r.Value), &existing)
				observations = r.ReinforcementCount
				break
			}
		}
	}

	merged := MergeCommunicationStyle(existing, incoming, observations)
	buf, err := json.Marshal(merged)
	if err != nil {
		return
	}
	if _, err := c.Traits.Reinforce(ctx, databases.UserTrait{
		Key:        styleKey,
		Value:      string(buf),
		Category:   styleKey,
		Confidence: 1,
		Source:     "inferred",
	}); err != nil {
		observability.LoggerWithTrace(ctx).Warn().Err(err).Msg("memorychunker: communication style reinforce failed")
	}
}

// MergeCommunicationStyle blends incoming into existing via EMA, weight
// 0.5 for the first five observations then 0.3, per spec.md §4.8. Pure,
// unit tested directly.
func MergeCommunicationStyle(existing, incoming map[string]float64, observationCount int) map[string]float64 {
	weight := communicationStyleWeightLater
	if observationCount < communicationStyleEarlyObservations {
		weight = communicationStyleWeightEarly
	}
	merged := make(map[string]float64, len(incoming))
	for k, v := range existing {
		merged[k] = v
	}
	for k, v := range incoming {
		if prev, ok := merged[k]; ok {
			merged[k] = prev*(1-weight) + v*weight
		} else {
			merged[k] = v
		}
	}
	return merged
}

var microPreferencePatterns = []struct {
	pattern *regexp.Regexp
	key     string
	value   string
}{
	{regexp.MustCompile(`(?i)\b(bullet|bullet point|list form|as a list)\b`), "prefers_format", "bulleted"},
	{regexp.MustCompile(`(?i)\b(keep it short|be brief|briefly|short answer)\b`), "prefers_length", "short"},
	{regexp.MustCompile(`(?i)\b(go deep|elaborate|more depth|in depth|in detail)\b`), "prefers_length", "elaborate"},
	{regexp.MustCompile(`(?i)\b(push back|challenge me|play devil's advocate|don't just agree)\b`), "prefers_challenge", "true"},
}

// ExtractMicroPreferences scans the user message alone against a fixed
// pattern list, returning fixed-confidence trait writes. Pure, unit tested.
func ExtractMicroPreferences(userMessage string) []TraitWrite {
	var out []TraitWrite
	for _, p := range microPreferencePatterns {
		if p.pattern.MatchString(userMessage) {
			out = append(out, TraitWrite{
				Key: p.key, Value: p.value, Category: "micro_preference",
				Confidence: microPreferenceConfidence, Source: "explicit",
			})
		}
	}
	return out
}

// previousAssistantTurn returns the most recent assistant turn strictly
// before the one the current exchange just appended, or "" if none.
func (c *Chunker) previousAssistantTurn(ctx context.Context, threadID string) string {
	turns, err := c.WorkingMemory.Recent(ctx, threadID)
	if err != nil || len(turns) < 2 {
		return ""
	}
	for i := len(turns) - 2; i >= 0; i-- {
		if turns[i].Role == workingmemory.RoleAssistant {
			return turns[i].Content
		}
	}
	return ""
}

func (c *Chunker) runMicroPreferences(ctx context.Context, j Job) {
	if c.Traits == nil {
		return
	}
	for _, t := range ExtractMicroPreferences(j.PromptMessage) {
		c.reinforceTrait(ctx, t)
	}
}

var challengeIndicators = regexp.MustCompile(`(?i)\b(challenge|push back|devil's advocate|disagree with you|play devil's advocate)\b`)
var negativeReactionWords = regexp.MustCompile(`(?i)\b(stop|don't|no thanks|too much|annoying|enough)\b`)
var positiveReactionWords = regexp.MustCompile(`(?i)\b(good point|fair|you're right|appreciate|yes please|keep doing that)\b`)

// ClassifyChallengeReaction implements §4.8's second pure-regex side
// effect: if previousAssistant contained a challenge indicator, classify
// the user's reply as a positive or negative reaction. ok is false when
// the previous response carried no challenge indicator, meaning no signal
// applies this turn.
func ClassifyChallengeReaction(previousAssistant, userReply string) (signal float64, ok bool) {
	if !challengeIndicators.MatchString(previousAssistant) {
		return 0, false
	}
	switch {
	case negativeReactionWords.MatchString(userReply):
		return -1, true
	case positiveReactionWords.MatchString(userReply):
		return 1, true
	default:
		return 0, true
	}
}

// runChallengeReaction classifies the CURRENT user message (j.PromptMessage)
// as a reaction to the PRIOR exchange's assistant response, per spec.md
// §4.8 ("if the previous assistant response contained challenge
// indicators, classify the user's reply"). The prior assistant turn is
// looked up from working memory since a Job only carries one exchange.
func (c *Chunker) runChallengeReaction(ctx context.Context, j Job) {
	if c.Traits == nil || c.WorkingMemory == nil || j.PromptMessage == "" {
		return
	}
	previousAssistant := c.previousAssistantTurn(ctx, j.ThreadID)
	if previousAssistant == "" {
		return
	}
	signal, ok := ClassifyChallengeReaction(previousAssistant, j.PromptMessage)
	if !ok {
		return
	}

	current := 0.5
	if rows, err := c.Traits.ByCategory(ctx, "core"); err == nil {
		for _, r := range rows {
			if r.Key == "challenge_tolerance" {
				current = r.Confidence
				break
			}
		}
	}
	next := current + (signal-current)*challengeReactionEMAWeight
	if _, err := c.Traits.Reinforce(ctx, databases.UserTrait{
		Key: "challenge_tolerance", Value: fmt.Sprintf("%.3f", next),
		Category: "core", Confidence: next, Source: "inferred",
	}); err != nil {
		observability.LoggerWithTrace(ctx).Warn().Err(err).Msg("memorychunker: challenge tolerance reinforce failed")
	}
}
