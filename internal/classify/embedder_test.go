package classify

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cortex/internal/llm"
)

func TestHTTPEmbedder_EmbedReturnsVectorFromServer(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(llm.EmbeddingResponse{
			Data: []llm.Embedding{{Embedding: []float64{0.1, 0.2, 0.3}}},
		})
	}))
	defer srv.Close()

	e := HTTPEmbedder{Host: srv.URL, APIKey: "key"}
	vec, err := e.Embed("a long enough piece of text to embed")

	require.NoError(t, err)
	require.Len(t, vec, 3)
	assert.InDelta(t, 0.1, vec[0], 0.0001)
}

func TestHTTPEmbedder_EmbedShortTextReturnsZeroVectorNotError(t *testing.T) {
	e := HTTPEmbedder{Host: "http://unused.invalid"}

	vec, err := e.Embed("short")

	require.NoError(t, err)
	assert.Len(t, vec, 768)
	for _, v := range vec {
		assert.Zero(t, v)
	}
}
