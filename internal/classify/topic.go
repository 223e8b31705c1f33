package classify

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// TopicResult is the output spec.md §4.5 names for the topic classifier.
type TopicResult struct {
	Topic              string
	Confidence         float64
	ClassificationTime time.Duration
	IsNew              bool
}

// recentTopicBias is the small positive bump applied to the previous
// topic's similarity score, so a conversation does not thrash between two
// near-equally-similar topics turn to turn (spec.md §4.5).
const recentTopicBias = 0.05

// newTopicThreshold is the similarity floor below which no known topic is
// considered a match and a new label is minted instead.
const newTopicThreshold = 0.55

// TopicClassifier holds the registry of known topic embeddings and
// classifies new messages against it. It is intentionally in-process and
// in-memory (not Redis-backed): topic embeddings are small and read on
// every message. The registry starts empty at process start and is filled
// only by Register (including Classify's own new-topic registrations); it
// is not reloaded from any store.
type TopicClassifier struct {
	embedder Embedder

	mu     sync.RWMutex
	topics map[string][]float32
}

// NewTopicClassifier builds an empty classifier; Register populates it as
// topics are created.
func NewTopicClassifier(embedder Embedder) *TopicClassifier {
	return &TopicClassifier{embedder: embedder, topics: make(map[string][]float32)}
}

// Register records or updates the embedding centroid for an existing
// topic label, called whenever the classifier mints a new topic or a
// caller wants to re-anchor one from fresh data.
func (c *TopicClassifier) Register(topic string, embedding []float32) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.topics[topic] = embedding
}

// Classify embeds message and returns the nearest known topic, biasing
// toward recentTopic to prevent thrash, or mints "topic_<n>" if nothing is
// close enough.
func (c *TopicClassifier) Classify(ctx context.Context, message string, recentTopic string) (TopicResult, error) {
	start := time.Now()
	vec, err := c.embedder.Embed(message)
	if err != nil {
		return TopicResult{}, fmt.Errorf("classify: embed message: %w", err)
	}

	c.mu.RLock()
	snapshot := make(map[string][]float32, len(c.topics))
	for k, v := range c.topics {
		snapshot[k] = v
	}
	c.mu.RUnlock()

	topic, confidence, isNew := nearestTopic(vec, snapshot, recentTopic)
	if isNew {
		topic = fmt.Sprintf("topic_%d", len(snapshot)+1)
		c.Register(topic, vec)
	}

	return TopicResult{
		Topic:              topic,
		Confidence:         confidence,
		ClassificationTime: time.Since(start),
		IsNew:              isNew,
	}, nil
}

// nearestTopic is Classify's pure decision logic, split out so it is
// unit-testable without a live embedder: find the best-scoring known
// topic (applying recentTopicBias to recentTopic's score), and report
// whether nothing cleared newTopicThreshold. The biased score is compared
// uncapped so the bias still decides a tie with a perfect match; only the
// returned confidence is capped at 1.
func nearestTopic(vec []float32, topics map[string][]float32, recentTopic string) (topic string, confidence float64, isNew bool) {
	best := ""
	bestScore := -1.0
	for name, emb := range topics {
		score := cosine(vec, emb)
		if name == recentTopic {
			score += recentTopicBias
		}
		if score > bestScore {
			bestScore = score
			best = name
		}
	}

	if best == "" || bestScore < newTopicThreshold {
		return "", 0, true
	}
	if bestScore > 1 {
		bestScore = 1
	}
	return best, bestScore, false
}
