package digest

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cortex/internal/act"
	"cortex/internal/router"
)

type fixedGenerator struct {
	text string
	err  error
}

func (f *fixedGenerator) Generate(ctx context.Context, mode router.Mode, sv router.SignalVector, req Request, history []act.IterationRecord) (string, error) {
	return f.text, f.err
}

func TestHandle_DegradedPathWithNoStoresUsesGeneratorText(t *testing.T) {
	p := NewPipeline()
	p.Generator = &fixedGenerator{text: "hello there"}

	resp, err := p.Handle(context.Background(), Request{ThreadID: "t1", Message: "hi"})

	require.NoError(t, err)
	assert.Equal(t, "hello there", resp.Text)
	assert.False(t, resp.FastPath)
}

func TestHandle_EmptyGeneratorOutputFallsBackToFixedText(t *testing.T) {
	p := NewPipeline()
	p.Generator = &fixedGenerator{text: ""}

	resp, err := p.Handle(context.Background(), Request{ThreadID: "t1", Message: "hi"})

	require.NoError(t, err)
	assert.NotEmpty(t, resp.Text)
}

func TestHandle_NoGeneratorUsesFallbackTextForRespond(t *testing.T) {
	p := NewPipeline()

	resp, err := p.Handle(context.Background(), Request{ThreadID: "t1", Message: "hi"})

	require.NoError(t, err)
	assert.NotEmpty(t, resp.Text)
}

func TestHandle_TracksPreviousModeAcrossCalls(t *testing.T) {
	p := NewPipeline()
	p.Generator = &fixedGenerator{text: "ok"}

	_, err := p.Handle(context.Background(), Request{ThreadID: "t1", Message: "hi"})
	require.NoError(t, err)

	assert.Contains(t, p.previousMode, "t1")
}
