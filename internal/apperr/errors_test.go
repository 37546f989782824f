package apperr

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestErrorMatchesKind(t *testing.T) {
	err := fmt.Errorf("update: %w", Forbidden("cannot remove the last administrator"))
	assert.True(t, errors.Is(err, ErrForbidden))
	assert.False(t, errors.Is(err, ErrNotFound))
	assert.Equal(t, "update: cannot remove the last administrator", err.Error())
}

func TestValidationErrorCollectsFields(t *testing.T) {
	var v ValidationError
	require.NoError(t, v.Err())

	v.Add("cpf", "must have exactly 11 digits")
	v.Add("addressState", "must have exactly 2 characters")
	err := v.Err()
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrInvalidInput))

	fields := FieldErrors(fmt.Errorf("wrapped: %w", err))
	require.Len(t, fields, 2)
	assert.Equal(t, "cpf", fields[0].Field)
}
