package memorychunker

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestExtractMicroPreferences_MatchesFixedPatterns(t *testing.T) {
	prefs := ExtractMicroPreferences("Could you keep it short and give me bullet points please")
	assert.Len(t, prefs, 2)
	keys := map[string]string{}
	for _, p := range prefs {
		keys[p.Key] = p.Value
	}
	assert.Equal(t, "short", keys["prefers_length"])
	assert.Equal(t, "bulleted", keys["prefers_format"])
	for _, p := range prefs {
		assert.Equal(t, microPreferenceConfidence, p.Confidence)
		assert.Equal(t, "explicit", p.Source)
	}
}

func TestExtractMicroPreferences_NoMatch(t *testing.T) {
	assert.Empty(t, ExtractMicroPreferences("what's the weather like today"))
}

func TestClassifyChallengeReaction_NoIndicatorMeansNoSignal(t *testing.T) {
	_, ok := ClassifyChallengeReaction("Here is the answer you asked for.", "thanks")
	assert.False(t, ok)
}

func TestClassifyChallengeReaction_NegativeReaction(t *testing.T) {
	signal, ok := ClassifyChallengeReaction("Let me push back and challenge that assumption.", "stop, that's enough")
	assert.True(t, ok)
	assert.Equal(t, -1.0, signal)
}

func TestClassifyChallengeReaction_PositiveReaction(t *testing.T) {
	signal, ok := ClassifyChallengeReaction("I'll play devil's advocate here.", "fair, you're right")
	assert.True(t, ok)
	assert.Equal(t, 1.0, signal)
}

func TestClassifyChallengeReaction_NeutralReaction(t *testing.T) {
	signal, ok := ClassifyChallengeReaction("Let me challenge that.", "okay")
	assert.True(t, ok)
	assert.Equal(t, 0.0, signal)
}

func TestMergeCommunicationStyle_EarlyObservationsUseHigherWeight(t *testing.T) {
	existing := map[string]float64{"formality": 0.2}
	incoming := map[string]float64{"formality": 1.0}
	merged := MergeCommunicationStyle(existing, incoming, 2)
	assert.InDelta(t, 0.6, merged["formality"], 0.0001)
}

func TestMergeCommunicationStyle_LaterObservationsUseLowerWeight(t *testing.T) {
	existing := map[string]float64{"formality": 0.2}
	incoming := map[string]float64{"formality": 1.0}
	merged := MergeCommunicationStyle(existing, incoming, 10)
	assert.InDelta(t, 0.44, merged["formality"], 0.0001)
}

func TestMergeCommunicationStyle_NewDimensionCopiedDirectly(t *testing.T) {
	merged := MergeCommunicationStyle(map[string]float64{}, map[string]float64{"humor": 0.8}, 0)
	assert.Equal(t, 0.8, merged["humor"])
}
