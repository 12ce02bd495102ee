package inventory

import (
	"testing"

	"github.com/ariefcatur/go-secure-checkout/internal/apperr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestApplyReserve(t *testing.T) {
	s := Stock{ProductID: "p", OnHand: 5, Reserved: 0}

	s, err := Apply(s, OpReserve, 3)
	require.NoError(t, err)
	assert.Equal(t, 3, s.Reserved)
	assert.Equal(t, 2, s.Available())

	_, err = Apply(s, OpReserve, 3)
	require.ErrorIs(t, err, apperr.ErrInsufficientStock)
}

func TestApplyReserveThenRelease(t *testing.T) {
	start := Stock{ProductID: "p", OnHand: 10, Reserved: 1}
	s, err := Apply(start, OpReserve, 4)
	require.NoError(t, err)
	s, err = Apply(s, OpRelease, 4)
	require.NoError(t, err)
	assert.Equal(t, start, s)
}

func TestApplyReserveThenConsume(t *testing.T) {
	start := Stock{ProductID: "p", OnHand: 10, Reserved: 1}
	s, err := Apply(start, OpReserve, 2)
	require.NoError(t, err)
	s, err = Apply(s, OpConsume, 2)
	require.NoError(t, err)
	assert.Equal(t, 8, s.OnHand)
	assert.Equal(t, 1, s.Reserved)
}

func TestApplyPreconditions(t *testing.T) {
	s := Stock{ProductID: "p", OnHand: 3, Reserved: 1}

	_, err := Apply(s, OpConsume, 2)
	assert.ErrorIs(t, err, ErrInvalidReservationState)

	_, err = Apply(s, OpRelease, 2)
	assert.ErrorIs(t, err, apperr.ErrInventoryInconsistency)

	_, err = Apply(s, OpReserve, 0)
	assert.ErrorIs(t, err, apperr.ErrValidation)

	_, err = Apply(s, Op("steal"), 1)
	assert.Error(t, err)
}
