package ipcerr

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewFormatsMessage(t *testing.T) {
	err := New(IoError, "read failed on fd %d", 7)
	assert.Equal(t, IoError, err.Kind)
	assert.Equal(t, "read failed on fd 7", err.Message)
	assert.Equal(t, "IoError: read failed on fd 7", err.Error())
}

func TestWrapIncludesCause(t *testing.T) {
	cause := errors.New("EAGAIN")
	err := Wrap(StreamClosing, cause, "write dropped")
	assert.Equal(t, cause, err.Unwrap())
	assert.Contains(t, err.Error(), "EAGAIN")
	assert.Contains(t, err.Error(), "write dropped")
}

func TestIs(t *testing.T) {
	err := New(NotifierIdNotUnique, "channel %q already registered", "foo")
	assert.True(t, Is(err, NotifierIdNotUnique))
	assert.False(t, Is(err, IoError))
	assert.False(t, Is(errors.New("plain"), IoError))
}

func TestKindStringUnknown(t *testing.T) {
	assert.Equal(t, "Unspecified", Unspecified.String())
	assert.Equal(t, "Unknown", Kind(999).String())
}
