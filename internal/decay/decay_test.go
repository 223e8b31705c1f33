package decay

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestWorker_EpisodicLambda_FallsBackToPackageConstant(t *testing.T) {
	w := &Worker{}
	assert.Equal(t, episodicLambda, w.episodicLambda())
}

func TestWorker_EpisodicLambda_UsesOverrideWhenSet(t *testing.T) {
	w := &Worker{EpisodicLambda: 0.2}
	assert.Equal(t, 0.2, w.episodicLambda())
}

func TestWorker_SemanticLambda_FallsBackToPackageConstant(t *testing.T) {
	w := &Worker{}
	assert.Equal(t, semanticLambda, w.semanticLambda())
}

func TestWorker_SemanticLambda_UsesOverrideWhenSet(t *testing.T) {
	w := &Worker{SemanticLambda: 0.3}
	assert.Equal(t, 0.3, w.semanticLambda())
}

func TestWorker_SemanticStaleAfter_FallsBackToPackageConstant(t *testing.T) {
	w := &Worker{}
	assert.Equal(t, semanticStaleAfter, w.semanticStaleAfter())
}

func TestWorker_SemanticStaleAfter_UsesOverrideWhenSet(t *testing.T) {
	w := &Worker{SemanticStaleAfter: 2 * time.Hour}
	assert.Equal(t, 2*time.Hour, w.semanticStaleAfter())
}

func TestWorker_RunOnce_AllCollaboratorsNilProducesEmptySummary(t *testing.T) {
	w := &Worker{}
	summary := w.RunOnce(t.Context())
	assert.Zero(t, summary.EpisodesDecayed)
	assert.Zero(t, summary.ConceptsDecayed)
	assert.Zero(t, summary.TraitsDecayed)
	assert.Zero(t, summary.TraitsDeleted)
	assert.False(t, summary.IdentityRan)
	assert.Zero(t, summary.ExternalFactsExpired)
	assert.Zero(t, summary.ExternalFactsShrunk)
	assert.Empty(t, summary.Errors)
}
