package server

import (
	"context"
	"net/http"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pscheid92/authority/internal/app"
	"github.com/pscheid92/authority/internal/domain"
)

func TestHandleRegister_Success(t *testing.T) {
	account := testAccount()
	svc := &mockAuthService{
		registerFn: func(_ context.Context, username, email, password string) (*app.AuthResult, error) {
			assert.Equal(t, "alice", username)
			assert.Equal(t, "a@x.com", email)
			assert.Equal(t, "pw1secret", password)
			return &app.AuthResult{Account: account, TokenPair: testPair()}, nil
		},
	}
	srv := newTestServer(t, svc)

	rec := do(srv, http.MethodPost, "/auth/register",
		`{"username":"alice","email":"a@x.com","password":"pw1secret"}`, nil)

	assert.Equal(t, http.StatusCreated, rec.Code)
	assert.Contains(t, rec.Body.String(), account.ID.String())
	assert.Contains(t, rec.Body.String(), "access-token")
	// Hashes and passwords never appear in responses.
	assert.NotContains(t, rec.Body.String(), "pw1secret")
	assert.NotContains(t, rec.Body.String(), "password")
}

func TestHandleRegister_NormalizesEmail(t *testing.T) {
	svc := &mockAuthService{
		registerFn: func(_ context.Context, _, email, _ string) (*app.AuthResult, error) {
			assert.Equal(t, "a@x.com", email)
			return &app.AuthResult{Account: testAccount(), TokenPair: testPair()}, nil
		},
	}
	srv := newTestServer(t, svc)

	rec := do(srv, http.MethodPost, "/auth/register",
		`{"username":"alice","email":"  A@X.com ","password":"pw1secret"}`, nil)

	assert.Equal(t, http.StatusCreated, rec.Code)
}

func TestHandleRegister_Conflict(t *testing.T) {
	svc := &mockAuthService{
		registerFn: func(context.Context, string, string, string) (*app.AuthResult, error) {
			return nil, domain.ErrConflict
		},
	}
	srv := newTestServer(t, svc)

	rec := do(srv, http.MethodPost, "/auth/register",
		`{"username":"alice","email":"a@x.com","password":"pw1secret"}`, nil)

	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Contains(t, rec.Body.String(), "conflict")
}

func TestHandleRegister_Validation(t *testing.T) {
	srv := newTestServer(t, &mockAuthService{})

	tests := []struct {
		name string
		body string
	}{
		{"username too short", `{"username":"al","email":"a@x.com","password":"pw1secret"}`},
		{"username bad characters", `{"username":"al ice!","email":"a@x.com","password":"pw1secret"}`},
		{"email missing", `{"username":"alice","password":"pw1secret"}`},
		{"email invalid", `{"username":"alice","email":"not-an-email","password":"pw1secret"}`},
		{"password too short", `{"username":"alice","email":"a@x.com","password":"short"}`},
		{"body not json", `this is not json`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(srv, http.MethodPost, "/auth/register", tt.body, nil)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
		})
	}
}

func TestHandleLogin_Success(t *testing.T) {
	account := testAccount()
	svc := &mockAuthService{
		loginFn: func(_ context.Context, email, password string) (*app.AuthResult, error) {
			assert.Equal(t, "a@x.com", email)
			return &app.AuthResult{Account: account, TokenPair: testPair()}, nil
		},
	}
	srv := newTestServer(t, svc)

	rec := do(srv, http.MethodPost, "/auth/login",
		`{"email":"a@x.com","password":"pw1secret"}`, nil)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "refresh-token")
}

func TestHandleLogin_InvalidCredentials(t *testing.T) {
	svc := &mockAuthService{
		loginFn: func(context.Context, string, string) (*app.AuthResult, error) {
			return nil, domain.ErrInvalidCredentials
		},
	}
	srv := newTestServer(t, svc)

	rec := do(srv, http.MethodPost, "/auth/login",
		`{"email":"a@x.com","password":"wrong"}`, nil)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestHandleLogin_MissingFields(t *testing.T) {
	srv := newTestServer(t, &mockAuthService{})

	rec := do(srv, http.MethodPost, "/auth/login", `{"email":"a@x.com"}`, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleRefresh_Success(t *testing.T) {
	pair := testPair()
	svc := &mockAuthService{
		refreshFn: func(_ context.Context, refreshToken string) (domain.TokenPair, error) {
			assert.Equal(t, "old-refresh", refreshToken)
			return pair, nil
		},
	}
	srv := newTestServer(t, svc)

	rec := do(srv, http.MethodPost, "/auth/refresh", `{"refresh_token":"old-refresh"}`, nil)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "refresh-token")
}

func TestHandleRefresh_RevokedToken(t *testing.T) {
	svc := &mockAuthService{
		refreshFn: func(context.Context, string) (domain.TokenPair, error) {
			return domain.TokenPair{}, domain.ErrTokenRevoked
		},
	}
	srv := newTestServer(t, svc)

	rec := do(srv, http.MethodPost, "/auth/refresh", `{"refresh_token":"consumed"}`, nil)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestHandleLogout_BearerHeader(t *testing.T) {
	var revoked string
	svc := &mockAuthService{
		logoutFn: func(_ context.Context, token string) error {
			revoked = token
			return nil
		},
	}
	srv := newTestServer(t, svc)

	rec := do(srv, http.MethodPost, "/auth/logout", "",
		map[string]string{"Authorization": "Bearer some-access-token"})

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "some-access-token", revoked)
}

func TestHandleLogout_BodyToken(t *testing.T) {
	var revoked string
	svc := &mockAuthService{
		logoutFn: func(_ context.Context, token string) error {
			revoked = token
			return nil
		},
	}
	srv := newTestServer(t, svc)

	rec := do(srv, http.MethodPost, "/auth/logout", `{"token":"some-refresh-token"}`, nil)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "some-refresh-token", revoked)
}

func TestHandleLogout_MissingToken(t *testing.T) {
	srv := newTestServer(t, &mockAuthService{})

	rec := do(srv, http.MethodPost, "/auth/logout", `{}`, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleVerify_Success(t *testing.T) {
	accountID := uuid.New()
	svc := &mockAuthService{
		verifyFn: func(_ context.Context, token string) (uuid.UUID, error) {
			require.Equal(t, "valid-token", token)
			return accountID, nil
		},
	}
	srv := newTestServer(t, svc)

	rec := do(srv, http.MethodGet, "/auth/verify", "",
		map[string]string{"Authorization": "Bearer valid-token"})

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), accountID.String())
}

func TestHandleVerify_TokenStates(t *testing.T) {
	tests := []struct {
		name string
		err  error
	}{
		{"expired", domain.ErrTokenExpired},
		{"revoked", domain.ErrTokenRevoked},
		{"malformed", domain.ErrTokenMalformed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := &mockAuthService{
				verifyFn: func(context.Context, string) (uuid.UUID, error) {
					return uuid.Nil, tt.err
				},
			}
			srv := newTestServer(t, svc)

			rec := do(srv, http.MethodGet, "/auth/verify", "",
				map[string]string{"Authorization": "Bearer whatever"})

			assert.Equal(t, http.StatusUnauthorized, rec.Code)
		})
	}
}

func TestHandleVerify_MissingBearer(t *testing.T) {
	srv := newTestServer(t, &mockAuthService{})

	rec := do(srv, http.MethodGet, "/auth/verify", "", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestHandleVerify_RevocationCacheDown(t *testing.T) {
	svc := &mockAuthService{
		verifyFn: func(context.Context, string) (uuid.UUID, error) {
			return uuid.Nil, domain.ErrStoreUnavailable
		},
	}
	srv := newTestServer(t, svc)

	rec := do(srv, http.MethodGet, "/auth/verify", "",
		map[string]string{"Authorization": "Bearer whatever"})

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}
