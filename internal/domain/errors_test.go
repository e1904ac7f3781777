package domain

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestInvalidInputError(t *testing.T) {
	tests := []struct {
		name    string
		reason  string
		cause   error
		wantMsg string
	}{
		{
			name:    "without cause",
			reason:  "at least one judge grade is required",
			wantMsg: "invalid input: operation=aggregate, reason=at least one judge grade is required",
		},
		{
			name:    "with cause",
			reason:  "judge j2 has no score for category \"B\"",
			cause:   ErrMissingCategory,
			wantMsg: "invalid input: operation=aggregate, reason=judge j2 has no score for category \"B\", err=missing category",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := NewInvalidInputError("aggregate", tt.reason, tt.cause)

			assert.Equal(t, tt.wantMsg, err.Error())
			assert.True(t, errors.Is(err, ErrInvalidInput), "Should match ErrInvalidInput")
			if tt.cause != nil {
				assert.True(t, errors.Is(err, tt.cause), "Should unwrap to cause")
			}

			wrapped := fmt.Errorf("grading could not be completed: %w", err)
			assert.True(t, errors.Is(wrapped, ErrInvalidInput), "Should match through wrapping")
		})
	}
}

func TestValidationError(t *testing.T) {
	t.Run("single error", func(t *testing.T) {
		err := NewValidationError("Rubric")
		err.AddError("at least one category is required")

		assert.Equal(t, "validation error for Rubric: at least one category is required", err.Error())
		assert.True(t, err.HasErrors(), "Should have errors")
		assert.ErrorIs(t, err, ErrInvalidInput)
	})

	t.Run("multiple errors", func(t *testing.T) {
		err := NewValidationError("GradingInput")
		err.AddError("transcript is empty")
		err.AddErrorf("message %d has unknown role %q", 2, "system")

		assert.Contains(t, err.Error(), "validation errors for GradingInput")
		assert.Len(t, err.Errors, 2)
		assert.Equal(t, `message 2 has unknown role "system"`, err.Errors[1])
	})

	t.Run("no errors", func(t *testing.T) {
		err := NewValidationError("Config")

		assert.False(t, err.HasErrors(), "Should not have errors")
		assert.NoError(t, err.ErrOrNil())
	})
}

func TestCommonDomainErrors(t *testing.T) {
	tests := []struct {
		err     error
		message string
	}{
		{ErrInvalidInput, "invalid input"},
		{ErrMissingCategory, "missing category"},
		{ErrNotFound, "not found"},
		{ErrForbidden, "forbidden"},
		{ErrNoRubric, "no grading rubric configured for this patient actor"},
	}

	for _, tt := range tests {
		t.Run(tt.message, func(t *testing.T) {
			assert.Equal(t, tt.message, tt.err.Error(), "Error message mismatch")
		})
	}
}
