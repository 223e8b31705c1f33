package episodic

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"cortex/internal/memorychunker"
)

func TestClampSalience_ClampsToOneTen(t *testing.T) {
	assert.Equal(t, 1.0, clampSalience(-3))
	assert.Equal(t, 10.0, clampSalience(99))
	assert.Equal(t, 6.0, clampSalience(6))
}

func TestFallbackSynthesis_UsesLastExchange(t *testing.T) {
	exchanges := []memorychunker.EnrichedExchange{
		{Prompt: "first", Response: "ack"},
		{Prompt: "second", Response: "done", Gist: "wrapped up the task", Intent: "finish_task", Emotion: "satisfied"},
	}
	syn := fallbackSynthesis(exchanges)
	assert.Equal(t, "wrapped up the task", syn.Gist)
	assert.Equal(t, "finish_task", syn.Intent)
	assert.Equal(t, "satisfied", syn.Emotion)
	assert.Equal(t, 5.0, syn.Salience)
}

func TestFallbackSynthesis_FallsBackToPromptWhenGistEmpty(t *testing.T) {
	syn := fallbackSynthesis([]memorychunker.EnrichedExchange{{Prompt: "what time is it"}})
	assert.Equal(t, "what time is it", syn.Gist)
}

func TestBuildConsolidationPrompt_IncludesEveryExchange(t *testing.T) {
	exchanges := []memorychunker.EnrichedExchange{
		{Prompt: "p1", Response: "r1"},
		{Prompt: "p2", Response: "r2"},
	}
	prompt := buildConsolidationPrompt("weekend-plans", exchanges)
	assert.Contains(t, prompt, "weekend-plans")
	assert.Contains(t, prompt, "p1")
	assert.Contains(t, prompt, "r2")
}
