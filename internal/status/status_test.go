package status

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCodeOf(t *testing.T) {
	t.Run("nil is ok", func(t *testing.T) {
		assert.Equal(t, OK, CodeOf(nil))
	})

	t.Run("wrapped status error", func(t *testing.T) {
		err := fmt.Errorf("load input: %w", New(CodePubkeyMismatch, "derive"))
		assert.Equal(t, CodePubkeyMismatch, CodeOf(err))
		assert.True(t, errors.Is(err, ErrPubkeyMismatch))
		assert.False(t, errors.Is(err, ErrTransactionState))
	})

	t.Run("foreign error is unknown", func(t *testing.T) {
		assert.Equal(t, CodeUnknown, CodeOf(errors.New("boom")))
	})
}

func TestErrorFormatting(t *testing.T) {
	cause := errors.New("disk full")
	err := Wrap(CodeNVRAMWrite, "wallet init", cause)

	assert.Equal(t, "wallet init: 0x9101 durable storage write failed: disk full", err.Error())
	assert.ErrorIs(t, err, cause)
	assert.Equal(t, [2]byte{0x91, 0x01}, err.Code.Bytes())
	assert.Equal(t, "status 0x1234", Code(0x1234).String())
}

func TestLabel(t *testing.T) {
	assert.Equal(t, "ok", OK.Label())
	assert.Equal(t, "0x6985", CodeConditionsNotSatisfied.Label())
}
