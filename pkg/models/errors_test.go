package models

import (
	"errors"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestErrorKinds(t *testing.T) {
	t.Run("insufficient data", func(t *testing.T) {
		err := NewInsufficientDataError("recognition", 4, 5, "add more photos")
		assert.ErrorIs(t, err, ErrInsufficientData)
		assert.Contains(t, err.Error(), "have 4")
		assert.Contains(t, err.Error(), "add more photos")

		var ide *InsufficientDataError
		assert.True(t, errors.As(err, &ide))
		assert.Equal(t, 5, ide.Need)
	})

	t.Run("persistence wraps cause", func(t *testing.T) {
		err := NewPersistenceError("model.bin", os.ErrPermission)
		assert.ErrorIs(t, err, ErrPersistence)
		assert.ErrorIs(t, err, os.ErrPermission)
	})

	t.Run("database wraps cause", func(t *testing.T) {
		cause := errors.New("connection refused")
		err := NewDatabaseError("insert alert", cause)
		assert.ErrorIs(t, err, ErrDatabase)
		assert.ErrorIs(t, err, cause)
	})

	t.Run("not found", func(t *testing.T) {
		assert.ErrorIs(t, NewNotFoundError("equipment 7"), ErrNotFound)
	})

	t.Run("unavailable", func(t *testing.T) {
		assert.ErrorIs(t, NewUnavailableError("recognition", "no model"), ErrUnavailable)
	})

	t.Run("invalid input", func(t *testing.T) {
		assert.ErrorIs(t, NewInvalidInputError("empty image"), ErrInvalidInput)
	})
}

func TestPhysicalStateCode(t *testing.T) {
	assert.Equal(t, 1, PhysicalStateBad.Code())
	assert.Equal(t, 2, PhysicalStateFair.Code())
	assert.Equal(t, 3, PhysicalStateGood.Code())
	assert.Equal(t, 4, PhysicalStateExcellent.Code())
	assert.Equal(t, 0, PhysicalState("roto").Code())
}
