package workingmemory

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFillRatio(t *testing.T) {
	assert.Equal(t, 0.5, fillRatio(10, 20))
	assert.Equal(t, 1.0, fillRatio(25, 20))
	assert.Equal(t, 0.0, fillRatio(0, 20))
	assert.Equal(t, 0.0, fillRatio(5, 0))
}

func TestKey(t *testing.T) {
	assert.Equal(t, "working_memory:thread-1", key("thread-1"))
}
