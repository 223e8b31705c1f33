package classify

import (
	"fmt"

	"cortex/internal/llm"
)

// HTTPEmbedder adapts llm.GenerateEmbeddings to the Embedder seam every
// memory-writing component (memorychunker, episodic, semanticconsolidation,
// drift) depends on, so none of them need to know which embedding host or
// API key is configured.
type HTTPEmbedder struct {
	Host   string
	APIKey string
}

// Embed satisfies Embedder by requesting exactly one embedding.
func (e HTTPEmbedder) Embed(text string) ([]float32, error) {
	vecs, err := llm.GenerateEmbeddings(e.Host, e.APIKey, []string{text})
	if err != nil {
		return nil, fmt.Errorf("classify: embed: %w", err)
	}
	if len(vecs) == 0 {
		return nil, fmt.Errorf("classify: embed: empty response")
	}
	return vecs[0], nil
}
