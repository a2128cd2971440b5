package cerr

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestErrorFormatting(t *testing.T) {
	bare := NewError(NotFound, "task not found", nil)
	assert.Equal(t, "[not_found] task not found", bare.Error())

	wrapped := NewError(Internal, "server error", errors.New("disk full"))
	assert.Equal(t, "[internal] server error: disk full", wrapped.Error())
	assert.ErrorIs(t, wrapped, wrapped.Err)
}

func TestStackCapturedForErrorLevelCodes(t *testing.T) {
	assert.NotEmpty(t, NewError(Internal, "boom", nil).Stack)
	assert.Empty(t, NewError(InvalidArgument, "bad input", nil).Stack)
	assert.Empty(t, NewError(NotFound, "missing", nil).Stack)
}

func TestIsCode(t *testing.T) {
	err := NewError(FailedPrecondition, "not in progress", nil)
	assert.True(t, IsCode(err, FailedPrecondition))
	assert.False(t, IsCode(err, NotFound))

	// Codes survive wrapping.
	wrapped := fmt.Errorf("handling request: %w", err)
	assert.True(t, IsCode(wrapped, FailedPrecondition))

	assert.False(t, IsCode(errors.New("plain"), Internal))
	assert.False(t, IsCode(nil, OK))
}

func TestCodeOf(t *testing.T) {
	assert.Equal(t, OK, CodeOf(nil))
	assert.Equal(t, NotFound, CodeOf(NewError(NotFound, "x", nil)))
	assert.Equal(t, Unknown, CodeOf(errors.New("plain")))
}

func TestHTTPCode(t *testing.T) {
	tests := []struct {
		code Code
		want int
	}{
		{InvalidArgument, http.StatusBadRequest},
		{NotFound, http.StatusNotFound},
		{AlreadyExists, http.StatusConflict},
		{FailedPrecondition, http.StatusPreconditionFailed},
		{Internal, http.StatusInternalServerError},
		{Unauthenticated, http.StatusUnauthorized},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, tt.code.HTTPCode(), tt.code.String())
	}
}
