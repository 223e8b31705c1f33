package semanticconsolidation

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"cortex/internal/persistence/databases"
)

func TestBuildBatchPrompt_IncludesEveryEpisode(t *testing.T) {
	episodes := []databases.Episode{
		{Topic: "cooking", Gist: "wants a pasta recipe", Outcome: "sent recipe"},
		{Topic: "cooking", Gist: "asked about substitutions", Outcome: "suggested alternative"},
	}
	prompt := buildBatchPrompt(episodes)
	assert.Contains(t, prompt, "wants a pasta recipe")
	assert.Contains(t, prompt, "suggested alternative")
}

func TestBuildBatchPrompt_Empty(t *testing.T) {
	prompt := buildBatchPrompt(nil)
	assert.Contains(t, prompt, "Episodes:")
}
