package domainerrors

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestWrap(t *testing.T) {
	t.Run("nil stays nil", func(t *testing.T) {
		assert.NoError(t, Wrap(nil, CodeInternal, "ignored"))
	})

	t.Run("cause is preserved", func(t *testing.T) {
		cause := errors.New("connection refused")
		err := Wrap(cause, CodeInternal, "failed to store challenge")

		assert.ErrorIs(t, err, cause)
		assert.Equal(t, "failed to store challenge: connection refused", err.Error())
	})
}

func TestHasCode(t *testing.T) {
	inner := New(CodeNotFound, "record missing")
	outer := Wrap(fmt.Errorf("lookup: %w", inner), CodeInternal, "claim failed")

	assert.True(t, HasCode(outer, CodeInternal))
	assert.True(t, HasCode(outer, CodeNotFound))
	assert.False(t, HasCode(outer, CodeUnauthorized))
	assert.False(t, HasCode(errors.New("plain"), CodeInternal))
}

func TestIs(t *testing.T) {
	err := Wrap(New(CodeNotFound, "record missing"), CodeInternal, "claim failed")

	assert.True(t, Is(err, CodeInternal))
	assert.False(t, Is(err, CodeNotFound))
	assert.Equal(t, CodeInternal, CodeOf(err))
	assert.Equal(t, CodeInternal, CodeOf(errors.New("plain")))
}
