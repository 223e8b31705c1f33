package promptassembly

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cortex/internal/act"
	"cortex/internal/digest"
	"cortex/internal/llm"
	"cortex/internal/router"
)

type fixedProvider struct {
	msg llm.Message
	err error
	// lastMsgs records the messages passed to Chat for assertions.
	lastMsgs []llm.Message
}

func (f *fixedProvider) Chat(ctx context.Context, msgs []llm.Message, tools []llm.ToolSchema, model string) (llm.Message, error) {
	f.lastMsgs = msgs
	return f.msg, f.err
}

func (f *fixedProvider) ChatStream(ctx context.Context, msgs []llm.Message, tools []llm.ToolSchema, model string, h llm.StreamHandler) error {
	return nil
}

func TestSoul_SystemPromptIncludesModeContract(t *testing.T) {
	s := &Soul{Persona: "You are cortex."}
	prompt := s.systemPrompt(context.Background(), router.ModeClarify)

	assert.Contains(t, prompt, "You are cortex.")
	assert.Contains(t, prompt, "Current mode: clarify")
	assert.Contains(t, prompt, "Ask one focused question")
}

func TestSoul_SystemPromptDropsIdentitySectionWhenNoStore(t *testing.T) {
	s := &Soul{Persona: "You are cortex."}
	prompt := s.systemPrompt(context.Background(), router.ModeRespond)

	assert.NotContains(t, prompt, "personality state")
}

func TestSoul_GenerateComposesSystemMessageAndUserMessage(t *testing.T) {
	provider := &fixedProvider{msg: llm.Message{Role: "assistant", Content: "hi there"}}
	s := &Soul{Persona: "You are cortex.", Provider: provider, Model: "test-model"}

	out, err := s.Generate(context.Background(), router.ModeRespond, router.SignalVector{}, digest.Request{Message: "hello"}, nil)

	require.NoError(t, err)
	assert.Equal(t, "hi there", out)
	require.Len(t, provider.lastMsgs, 2)
	assert.Equal(t, "system", provider.lastMsgs[0].Role)
	assert.Equal(t, "user", provider.lastMsgs[1].Role)
	assert.Equal(t, "hello", provider.lastMsgs[1].Content)
}

func TestSoul_GenerateReplaysHistoryBetweenSystemAndUserMessages(t *testing.T) {
	provider := &fixedProvider{msg: llm.Message{Content: "ok"}}
	s := &Soul{Persona: "p", Provider: provider, Model: "m"}

	history := []act.IterationRecord{{
		IterationNumber: 1,
		Actions:         []act.Action{{Type: "search", Args: json.RawMessage(`{"q":"x"}`)}},
		Results:         []act.ActionResult{{Output: json.RawMessage(`"result"`)}},
	}}

	_, err := s.Generate(context.Background(), router.ModeRespond, router.SignalVector{}, digest.Request{Message: "hello"}, history)
	require.NoError(t, err)

	require.Len(t, provider.lastMsgs, 4)
	assert.Equal(t, "assistant", provider.lastMsgs[1].Role)
	assert.Contains(t, provider.lastMsgs[1].Content, "search")
	assert.Equal(t, "tool", provider.lastMsgs[2].Role)
	assert.Equal(t, "user", provider.lastMsgs[3].Role)
}

func TestSoul_GenerateWrapsProviderError(t *testing.T) {
	provider := &fixedProvider{err: assert.AnError}
	s := &Soul{Persona: "p", Provider: provider, Model: "m"}

	_, err := s.Generate(context.Background(), router.ModeRespond, router.SignalVector{}, digest.Request{Message: "hi"}, nil)
	require.Error(t, err)
}

func TestSoul_BuildActPromptUsesActModeContract(t *testing.T) {
	s := &Soul{Persona: "p"}
	msgs := s.BuildActPrompt(digest.Request{Message: "do it"}, nil)

	require.Len(t, msgs, 2)
	assert.Contains(t, msgs[0].Content, "Current mode: act")
	assert.Equal(t, "do it", msgs[1].Content)
}

func TestHistoryMessages_RendersErrorResults(t *testing.T) {
	history := []act.IterationRecord{{
		IterationNumber: 2,
		Actions:         []act.Action{{Type: "fetch", Args: json.RawMessage(`{}`)}},
		Results:         []act.ActionResult{{Err: "timeout"}},
	}}

	msgs := historyMessages(history)

	require.Len(t, msgs, 2)
	assert.Equal(t, "error: timeout", msgs[1].Content)
}

func TestHistoryMessages_EmptyForNoIterations(t *testing.T) {
	assert.Empty(t, historyMessages(nil))
}
