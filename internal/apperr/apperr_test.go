package apperr

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIsMatchesByCode(t *testing.T) {
	err := New(CodeInsufficientStock, "insufficient stock for product %s", "p-1")
	assert.ErrorIs(t, err, ErrInsufficientStock)
	assert.NotErrorIs(t, err, ErrNotFound)

	wrapped := fmt.Errorf("create order: %w", err)
	assert.ErrorIs(t, wrapped, ErrInsufficientStock)
	assert.Equal(t, CodeInsufficientStock, CodeOf(wrapped))
}

func TestWrapKeepsCause(t *testing.T) {
	cause := errors.New("reserved=1 < qty=2")
	err := Wrap(CodeInventoryInconsistency, cause, "consume failed")
	require.ErrorIs(t, err, cause)
	assert.Equal(t, "consume failed: reserved=1 < qty=2", err.Error())
}

func TestWithCopiesDetails(t *testing.T) {
	base := New(CodeNotFound, "order not found")
	a := base.With("order_id", "o-1")
	b := a.With("user_id", "u-1")

	assert.Nil(t, base.Details)
	assert.Len(t, a.Details, 1)
	assert.Len(t, b.Details, 2)
}

func TestCodeOfPlainError(t *testing.T) {
	assert.Equal(t, CodeInternal, CodeOf(errors.New("boom")))
	assert.Equal(t, "FORBIDDEN", ErrForbidden.Error())
}
