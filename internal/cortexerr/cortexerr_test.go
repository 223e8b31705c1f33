package cortexerr_test

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cortex/internal/cortexerr"
)

func TestNew_WrapsAndUnwraps(t *testing.T) {
	cause := errors.New("connection reset")
	err := cortexerr.New(cortexerr.Transient, "trait.Reinforce", cause)

	require.Error(t, err)
	assert.ErrorIs(t, err, cause)
	assert.Equal(t, cortexerr.Transient, cortexerr.KindOf(err))
	assert.Contains(t, err.Error(), "trait.Reinforce")
}

func TestNew_NilErrReturnsNil(t *testing.T) {
	assert.Nil(t, cortexerr.New(cortexerr.Internal, "op", nil))
}

func TestIs(t *testing.T) {
	err := cortexerr.Validationf("router.Route", "text must not be empty")
	assert.True(t, cortexerr.Is(err, cortexerr.Validation))
	assert.False(t, cortexerr.Is(err, cortexerr.Transient))
}

func TestKindOf_DefaultsToInternal(t *testing.T) {
	plain := errors.New("boom")
	assert.Equal(t, cortexerr.Internal, cortexerr.KindOf(plain))
}

func TestTransientf_MarksRetryable(t *testing.T) {
	err := cortexerr.Transientf("databases.OpenPool", fmt.Errorf("dial tcp: timeout"))
	assert.True(t, err.Retryable)
	assert.Equal(t, cortexerr.Transient, err.Kind)
}

func TestWrappedChainSurvives(t *testing.T) {
	root := errors.New("eof")
	wrapped := fmt.Errorf("scan row: %w", root)
	err := cortexerr.New(cortexerr.ParseFailure, "memorychunker.Extract", wrapped)

	assert.ErrorIs(t, err, root)
	assert.ErrorIs(t, err, wrapped)
}
