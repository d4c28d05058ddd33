package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/stretchr/testify/assert"
)

func TestCodeOfThroughWrapping(t *testing.T) {
	base := New(CodeCorruptRedirect, "cycle").WithRecord("agents", "gnd", "1")
	wrapped := fmt.Errorf("processing: %w", base)

	assert.True(t, IsCorruptRedirect(wrapped))
	assert.False(t, IsStoreError(wrapped))
	assert.Equal(t, "CORRUPT_REDIRECT [agents/gnd/1]: cycle", base.Error())
}

func TestWrapNil(t *testing.T) {
	assert.Nil(t, Wrap(CodeStoreError, nil, "noop"))

	cause := stderrors.New("disk full")
	err := Wrap(CodeStoreError, cause, "put")
	assert.ErrorIs(t, err, cause)
	assert.True(t, IsStoreError(err))
}

func TestToHTTPError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{name: "not found", err: New(CodeNotFound, "x"), want: http.StatusNotFound},
		{name: "conflict", err: New(CodeClusterConflict, "x"), want: http.StatusConflict},
		{name: "plain", err: stderrors.New("x"), want: http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, httperror.GetStatusCode(ToHTTPError(tt.err)))
		})
	}
}
