package errors

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pscheid92/authority/internal/domain"
)

func TestError_HTTPStatus(t *testing.T) {
	tests := []struct {
		errType ErrorType
		want    int
	}{
		{TypeValidation, http.StatusBadRequest},
		{TypeUnauthorized, http.StatusUnauthorized},
		{TypeNotFound, http.StatusNotFound},
		{TypeConflict, http.StatusConflict},
		{TypeUnavailable, http.StatusServiceUnavailable},
		{TypeInternal, http.StatusInternalServerError},
		{ErrorType("mystery"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		err := &Error{Type: tt.errType, Message: "msg"}
		assert.Equal(t, tt.want, err.HTTPStatus(), "type %s", tt.errType)
	}
}

func TestError_Unwrap(t *testing.T) {
	cause := errors.New("underlying")
	err := InternalError("wrapped", cause)

	assert.ErrorIs(t, err, cause)
}

func TestAsStructuredError_DomainSentinels(t *testing.T) {
	tests := []struct {
		err      error
		wantType ErrorType
	}{
		{domain.ErrConflict, TypeConflict},
		{domain.ErrAccountNotFound, TypeNotFound},
		{domain.ErrInvalidCredentials, TypeUnauthorized},
		{domain.ErrTokenExpired, TypeUnauthorized},
		{domain.ErrTokenRevoked, TypeUnauthorized},
		{domain.ErrTokenMalformed, TypeUnauthorized},
		{domain.ErrStoreUnavailable, TypeUnavailable},
	}

	for _, tt := range tests {
		structured := AsStructuredError(tt.err)
		require.NotNil(t, structured)
		assert.Equal(t, tt.wantType, structured.Type, "error %v", tt.err)
	}
}

func TestAsStructuredError_WrappedSentinel(t *testing.T) {
	err := fmt.Errorf("login: %w", domain.ErrInvalidCredentials)
	structured := AsStructuredError(err)
	assert.Equal(t, TypeUnauthorized, structured.Type)
}

func TestAsStructuredError_CredentialMessagesAreOpaque(t *testing.T) {
	// Wrong password and unknown account must be indistinguishable.
	wrongPassword := AsStructuredError(domain.ErrInvalidCredentials)
	unknown := AsStructuredError(fmt.Errorf("lookup: %w", domain.ErrInvalidCredentials))
	assert.Equal(t, wrongPassword.Message, unknown.Message)
}

func TestAsStructuredError_PassesThroughStructured(t *testing.T) {
	original := ValidationError("bad input")
	assert.Same(t, original, AsStructuredError(original))
}

func TestAsStructuredError_UnknownBecomesInternal(t *testing.T) {
	structured := AsStructuredError(errors.New("disk on fire"))
	assert.Equal(t, TypeInternal, structured.Type)
	assert.Equal(t, "internal server error", structured.Message)
}

func TestAsStructuredError_Nil(t *testing.T) {
	assert.Nil(t, AsStructuredError(nil))
}

func TestWithContext(t *testing.T) {
	err := NotFoundError("account not found").WithContext("account_id", "abc")
	assert.Equal(t, "abc", err.Context["account_id"])

	resp := err.ToResponse()
	assert.Equal(t, "account not found", resp.Error)
	assert.Equal(t, TypeNotFound, resp.Type)
	assert.Equal(t, "abc", resp.Context["account_id"])
}
