package errors

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestError_Predicates(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		check  func(error) bool
		status int
	}{
		{name: "config", err: ErrConfig.WithMessage("bad window"), check: IsConfig, status: http.StatusBadRequest},
		{name: "reference", err: ErrReference.WithDetail("edge", 3), check: IsReference, status: http.StatusBadRequest},
		{name: "not found wrapped", err: fmt.Errorf("lookup: %w", ErrNotFound), check: IsNotFound, status: http.StatusNotFound},
		{name: "conflict", err: ErrConflict, check: IsConflict, status: http.StatusConflict},
		{name: "external io", err: Wrap(errors.New("dial"), ErrExternalIO), check: IsExternalIO, status: http.StatusBadGateway},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.True(t, tt.check(tt.err))
			assert.Equal(t, tt.status, ToHTTPStatus(tt.err))
		})
	}
}

func TestError_IsMatchesCode(t *testing.T) {
	err := ErrConfig.WithMessage("x").WithCause(errors.New("y"))
	assert.True(t, errors.Is(err, ErrConfig))
	assert.False(t, errors.Is(err, ErrReference))
}

func TestError_Retryable(t *testing.T) {
	assert.True(t, ErrExternalIO.IsRetryable())
	assert.False(t, ErrConfig.IsRetryable())
	assert.True(t, ErrConfig.IsFatal())
	assert.False(t, ErrExternalIO.AsFatal().IsRetryable())
}

func TestToErrorResponse(t *testing.T) {
	resp := ToErrorResponse(ErrConfig.WithMessage("window count must be positive"))
	assert.Equal(t, "CONFIG_ERROR", resp.ErrorCode)
	assert.Equal(t, "window count must be positive", resp.Error)

	plain := ToErrorResponse(errors.New("boom"))
	assert.Equal(t, "INTERNAL_ERROR", plain.ErrorCode)
}

func TestRecoverPanic(t *testing.T) {
	assert.Nil(t, RecoverPanic(nil))

	err := RecoverPanic("stage exploded")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "stage exploded")
	assert.True(t, errors.Is(err, ErrInternal))
	assert.NotEmpty(t, PanicStack(err))

	resp := ToErrorResponse(err)
	assert.Equal(t, "INTERNAL_ERROR", resp.ErrorCode)
	assert.NotContains(t, resp.Details, "stack_trace")
}

func TestSafely(t *testing.T) {
	assert.NoError(t, Safely(func() error { return nil }))

	sentinel := errors.New("closed")
	err := Safely(func() error { panic(sentinel) })
	assert.True(t, errors.Is(err, sentinel))
	assert.Nil(t, PanicStack(errors.New("plain")))
}

func TestWrap_KeepsCodedErrors(t *testing.T) {
	coded := ErrReference.WithMessage("edge 1 -> 9")
	assert.Same(t, coded, Wrap(coded, ErrConfig))

	wrapped := Wrap(errors.New("boom"), ErrConfig)
	assert.True(t, IsConfig(wrapped))
	assert.Nil(t, Wrap(nil, ErrConfig))
}
