package status

import (
	"testing"

	stderrors "errors"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOf_Nil(t *testing.T) {
	assert.Equal(t, OK, Of(nil))
}

func TestOf_Status(t *testing.T) {
	err := New(NotFound, "no such document")
	assert.Equal(t, NotFound, Of(err))
	assert.True(t, Is(err, NotFound))
	assert.False(t, Is(err, Internal))
}

func TestOf_UntypedError(t *testing.T) {
	err := stderrors.New("boom")
	assert.Equal(t, Internal, Of(err))
}

func TestWrap_PreservesCause(t *testing.T) {
	cause := stderrors.New("disk full")
	err := Wrap(OutOfSpace, cause, "writing document log")
	require.Error(t, err)
	assert.Equal(t, OutOfSpace, Of(err))
	assert.Contains(t, err.Error(), "disk full")
}
