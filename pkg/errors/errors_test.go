package errors

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCloneKeepsIdentityForIs(t *testing.T) {
	err := Clone(ErrUnsupportedFormat, "export format not supported: docx")
	require.True(t, errors.Is(err, ErrUnsupportedFormat))
	require.False(t, errors.Is(err, ErrMissingDataSource))
	assert.Equal(t, "export format not supported: docx", err.Error())
	assert.Equal(t, "export format not supported", ErrUnsupportedFormat.Message)
}

func TestFromErrorWrapsUnknown(t *testing.T) {
	appErr := FromError(fmt.Errorf("boom"))
	assert.Equal(t, ErrInternal.Code, appErr.Code)
	assert.Equal(t, http.StatusInternalServerError, appErr.Status)

	wrapped := fmt.Errorf("ctx: %w", ErrUnknownGrid)
	assert.Equal(t, ErrUnknownGrid.Code, FromError(wrapped).Code)
	assert.Nil(t, FromError(nil))
}

func TestIsInput(t *testing.T) {
	assert.True(t, IsInput(ErrMissingCurrentRows))
	assert.True(t, IsInput(fmt.Errorf("wrapped: %w", ErrUnsupportedFormat)))
	assert.False(t, IsInput(ErrInternal))
	assert.False(t, IsInput(errors.New("plain")))
}
