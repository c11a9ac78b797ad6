package swstore

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStatusOf(t *testing.T) {
	assert.Equal(t, StatusOK, StatusOf(nil))
	assert.Equal(t, StatusErrorNotFound, StatusOf(fmt.Errorf("finding registration: %w", ErrNotFound)))
	assert.Equal(t, StatusErrorDisabled, StatusOf(ErrDisabled))
	assert.Equal(t, StatusErrorFailed, StatusOf(ErrFailed))
	assert.Equal(t, StatusErrorFailed, StatusOf(ErrInvalidURL))
	assert.Equal(t, StatusErrorFailed, StatusOf(errors.New("disk on fire")))
}

func TestStatusString(t *testing.T) {
	assert.Equal(t, "ok", StatusOK.String())
	assert.Equal(t, "error_not_found", StatusErrorNotFound.String())

	text, err := StatusErrorDisabled.MarshalText()
	assert.NoError(t, err)
	assert.Equal(t, "error_disabled", string(text))
}
