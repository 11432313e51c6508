package apperr

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKindOf(t *testing.T) {
	base := errors.New("boom")
	err := E(PersistenceFailure, "ledger.CastVote", base)

	assert.Equal(t, PersistenceFailure, KindOf(err))
	assert.True(t, Is(err, PersistenceFailure))
	assert.False(t, Is(err, DuplicateVote))
	assert.ErrorIs(t, err, base)

	wrapped := fmt.Errorf("handler: %w", err)
	assert.Equal(t, PersistenceFailure, KindOf(wrapped))
}

func TestKindOfPlainError(t *testing.T) {
	assert.Equal(t, Unknown, KindOf(errors.New("x")))
	assert.False(t, Is(nil, Unknown))
}

func TestErrorString(t *testing.T) {
	err := New(RoundClosed, "ledger.CastVote", "投票轮次已关闭")
	assert.Equal(t, "ledger.CastVote: round_closed: 投票轮次已关闭", err.Error())
	assert.Equal(t, "op: not_found", (&Error{Kind: NotFound, Op: "op"}).Error())
}
