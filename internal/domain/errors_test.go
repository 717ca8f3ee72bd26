package domain

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCollaboratorErrorMatching(t *testing.T) {
	base := errors.New("connection refused")
	err := fmt.Errorf("chunking: %w", NewCollaboratorError("chat", "invoke", base))

	var cerr *CollaboratorError
	assert.True(t, errors.As(err, &cerr))
	assert.Equal(t, "chat", cerr.Service)
	assert.ErrorIs(t, err, base)
	assert.True(t, IsCollaboratorError(err))
	assert.False(t, IsCollaboratorError(fmt.Errorf("%w: bad url", ErrInvalidInput)))
	assert.Nil(t, NewCollaboratorError("chat", "invoke", nil))
}

func TestUpdateRequestEmpty(t *testing.T) {
	assert.True(t, UpdateRequest{}.Empty())
	name := "x"
	assert.False(t, UpdateRequest{Name: &name}.Empty())
}

func TestNewID(t *testing.T) {
	id := NewID("chunk")
	assert.Regexp(t, `^chunk_[0-9a-f]{16}$`, id)
	assert.NotEqual(t, id, NewID("chunk"))
}
