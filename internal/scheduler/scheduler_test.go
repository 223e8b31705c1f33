package scheduler

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"cortex/internal/persistence/databases"
)

func TestTopicsOf_IncludesHistoryAndCurrentDeduped(t *testing.T) {
	th := databases.Thread{CurrentTopic: "cooking", TopicHistory: []string{"weather", "cooking", "weather"}}
	assert.Equal(t, []string{"weather", "cooking"}, topicsOf(th))
}

func TestTopicsOf_EmptyCurrentTopicSkipped(t *testing.T) {
	th := databases.Thread{TopicHistory: []string{"travel"}}
	assert.Equal(t, []string{"travel"}, topicsOf(th))
}

func TestTopicsOf_NoTopicsAtAll(t *testing.T) {
	assert.Empty(t, topicsOf(databases.Thread{}))
}
