package oserr

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKindString(t *testing.T) {
	cases := []struct {
		k    Kind
		want string
	}{
		{Ok, "ok"},
		{Denied, "denied"},
		{Vanished, "vanished"},
		{Unsupported, "unsupported"},
		{Transient, "transient"},
		{Fatal, "fatal"},
		{Timeout, "timeout"},
		{Config, "config"},
	}
	for _, c := range cases {
		assert.Equal(t, c.want, c.k.String())
	}
}

func TestNewAndIs(t *testing.T) {
	cause := errors.New("boom")
	err := New(Denied, "set_priority", cause)
	require.Error(t, err)
	assert.True(t, Is(err, Denied))
	assert.False(t, Is(err, Vanished))
	assert.ErrorIs(t, err, cause)
}

func TestKindOf(t *testing.T) {
	t.Run("nil", func(t *testing.T) {
		assert.Equal(t, Ok, KindOf(nil))
	})
	t.Run("classified", func(t *testing.T) {
		assert.Equal(t, Transient, KindOf(New(Transient, "op", errors.New("x"))))
	})
	t.Run("unclassified_defaults_fatal", func(t *testing.T) {
		assert.Equal(t, Fatal, KindOf(errors.New("plain")))
	})
}

func TestErrorMessageWithoutCause(t *testing.T) {
	err := New(Unsupported, "set_affinity", nil)
	assert.Equal(t, "set_affinity: unsupported", err.Error())
}
