package act

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cortex/internal/llm"
)

type scriptedProvider struct {
	responses []llm.Message
	calls     int
}

func (p *scriptedProvider) Chat(ctx context.Context, msgs []llm.Message, tools []llm.ToolSchema, model string) (llm.Message, error) {
	if p.calls >= len(p.responses) {
		return llm.Message{}, nil
	}
	r := p.responses[p.calls]
	p.calls++
	return r, nil
}

func (p *scriptedProvider) ChatStream(ctx context.Context, msgs []llm.Message, tools []llm.ToolSchema, model string, h llm.StreamHandler) error {
	return nil
}

type fakeDispatcher struct {
	calls int
}

func (f *fakeDispatcher) Dispatch(ctx context.Context, name string, raw json.RawMessage) ([]byte, error) {
	f.calls++
	return []byte(`{"ok":true}`), nil
}

func toolCallMsg(name string) llm.Message {
	return llm.Message{
		Role: "assistant",
		ToolCalls: []llm.ToolCall{
			{Name: name, Args: json.RawMessage(`{}`), ID: "1"},
		},
	}
}

func TestRun_TerminatesOnNoActions(t *testing.T) {
	o := &Orchestrator{
		Provider: &scriptedProvider{responses: []llm.Message{{Role: "assistant"}}},
		Tools:    &fakeDispatcher{},
		Config:   Config{MaxIterations: 10, FatigueBudget: 10, CumulativeTimeout: time.Minute},
	}

	result, err := o.Run(context.Background(), "model", func(h []IterationRecord) []llm.Message { return nil })

	require.NoError(t, err)
	assert.Equal(t, ReasonNoActions, result.Reason)
	assert.Len(t, result.History, 1)
}

func TestRun_TerminatesOnRepetitionDetected(t *testing.T) {
	responses := make([]llm.Message, 5)
	for i := range responses {
		responses[i] = toolCallMsg("search")
	}
	dispatcher := &fakeDispatcher{}
	o := &Orchestrator{
		Provider: &scriptedProvider{responses: responses},
		Tools:    dispatcher,
		Config:   Config{MaxIterations: 10, FatigueBudget: 100, CumulativeTimeout: time.Minute},
	}

	result, err := o.Run(context.Background(), "model", func(h []IterationRecord) []llm.Message { return nil })

	require.NoError(t, err)
	assert.Equal(t, ReasonRepetitionDetected, result.Reason)
	assert.Equal(t, 2, dispatcher.calls, "guard should fire before a 3rd identical action is dispatched")
}

func TestRun_TerminatesOnMaxIterations(t *testing.T) {
	responses := make([]llm.Message, 10)
	for i := range responses {
		responses[i] = toolCallMsg("tool_a")
		if i%2 == 1 {
			responses[i] = toolCallMsg("tool_b")
		}
	}
	o := &Orchestrator{
		Provider: &scriptedProvider{responses: responses},
		Tools:    &fakeDispatcher{},
		Config:   Config{MaxIterations: 2, FatigueBudget: 100, CumulativeTimeout: time.Minute},
	}

	result, err := o.Run(context.Background(), "model", func(h []IterationRecord) []llm.Message { return nil })

	require.NoError(t, err)
	assert.Equal(t, ReasonMaxIterations, result.Reason)
	assert.Len(t, result.History, 3, "two dispatched iterations plus the terminal no-dispatch record")
}

func TestRun_TerminatesOnFatigueBudget(t *testing.T) {
	responses := []llm.Message{toolCallMsg("tool_a"), toolCallMsg("tool_b"), toolCallMsg("tool_a")}
	o := &Orchestrator{
		Provider: &scriptedProvider{responses: responses},
		Tools:    &fakeDispatcher{},
		Config:   Config{MaxIterations: 10, FatigueBudget: 1.5, CumulativeTimeout: time.Minute},
		Cost:     func(Action) float64 { return 1.0 },
	}

	result, err := o.Run(context.Background(), "model", func(h []IterationRecord) []llm.Message { return nil })

	require.NoError(t, err)
	assert.Equal(t, ReasonFatigueBudget, result.Reason)
}

func TestRun_HonoursCancelFlag(t *testing.T) {
	o := &Orchestrator{
		Provider: &scriptedProvider{responses: []llm.Message{toolCallMsg("tool_a")}},
		Tools:    &fakeDispatcher{},
		Config:   Config{MaxIterations: 10, FatigueBudget: 100, CumulativeTimeout: time.Minute},
		Cancel:   func(ctx context.Context) (bool, error) { return true, nil },
	}

	result, err := o.Run(context.Background(), "model", func(h []IterationRecord) []llm.Message { return nil })

	require.NoError(t, err)
	assert.Equal(t, ReasonCancelled, result.Reason)
	assert.Empty(t, result.History)
}

func TestNextRepetitionRun(t *testing.T) {
	assert.Equal(t, 1, nextRepetitionRun([]Action{{Type: "a"}}, "", 0))
	assert.Equal(t, 2, nextRepetitionRun([]Action{{Type: "a"}}, "a", 1))
	assert.Equal(t, 1, nextRepetitionRun([]Action{{Type: "b"}}, "a", 2))
	assert.Equal(t, 1, nextRepetitionRun([]Action{{Type: "a"}, {Type: "b"}}, "a", 2))
}

func TestCanContinue(t *testing.T) {
	ok, reason := canContinue(5, 5, 0, 10, 0, time.Minute)
	assert.False(t, ok)
	assert.Equal(t, ReasonMaxIterations, reason)

	ok, reason = canContinue(1, 5, 10, 10, 0, time.Minute)
	assert.False(t, ok)
	assert.Equal(t, ReasonFatigueBudget, reason)

	ok, reason = canContinue(1, 5, 0, 10, 2*time.Minute, time.Minute)
	assert.False(t, ok)
	assert.Equal(t, ReasonCumulativeTimeout, reason)

	ok, _ = canContinue(1, 5, 0, 10, 0, time.Minute)
	assert.True(t, ok)
}
