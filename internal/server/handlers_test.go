package server

import (
	"context"
	"fmt"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/pscheid92/authority/internal/app"
	"github.com/pscheid92/authority/internal/domain"
	"github.com/pscheid92/authority/internal/platform/config"
)

// --- Mock app service ---

type mockAuthService struct {
	registerFn      func(ctx context.Context, username, email, password string) (*app.AuthResult, error)
	loginFn         func(ctx context.Context, email, password string) (*app.AuthResult, error)
	refreshFn       func(ctx context.Context, refreshToken string) (domain.TokenPair, error)
	logoutFn        func(ctx context.Context, token string) error
	verifyFn        func(ctx context.Context, token string) (uuid.UUID, error)
	getAccountFn    func(ctx context.Context, accountID uuid.UUID) (*domain.Account, error)
	deleteAccountFn func(ctx context.Context, accountID uuid.UUID) error
}

func (m *mockAuthService) Register(ctx context.Context, username, email, password string) (*app.AuthResult, error) {
	if m.registerFn != nil {
		return m.registerFn(ctx, username, email, password)
	}
	return nil, fmt.Errorf("not implemented")
}

func (m *mockAuthService) Login(ctx context.Context, email, password string) (*app.AuthResult, error) {
	if m.loginFn != nil {
		return m.loginFn(ctx, email, password)
	}
	return nil, fmt.Errorf("not implemented")
}

func (m *mockAuthService) Refresh(ctx context.Context, refreshToken string) (domain.TokenPair, error) {
	if m.refreshFn != nil {
		return m.refreshFn(ctx, refreshToken)
	}
	return domain.TokenPair{}, fmt.Errorf("not implemented")
}

func (m *mockAuthService) Logout(ctx context.Context, token string) error {
	if m.logoutFn != nil {
		return m.logoutFn(ctx, token)
	}
	return fmt.Errorf("not implemented")
}

func (m *mockAuthService) Verify(ctx context.Context, token string) (uuid.UUID, error) {
	if m.verifyFn != nil {
		return m.verifyFn(ctx, token)
	}
	return uuid.Nil, fmt.Errorf("not implemented")
}

func (m *mockAuthService) GetAccount(ctx context.Context, accountID uuid.UUID) (*domain.Account, error) {
	if m.getAccountFn != nil {
		return m.getAccountFn(ctx, accountID)
	}
	return nil, fmt.Errorf("not implemented")
}

func (m *mockAuthService) DeleteAccount(ctx context.Context, accountID uuid.UUID) error {
	if m.deleteAccountFn != nil {
		return m.deleteAccountFn(ctx, accountID)
	}
	return fmt.Errorf("not implemented")
}

// --- Test server setup ---

type serverOption func(*Server)

func withPostgresHealthCheck(checker postgresHealthChecker) serverOption {
	return func(s *Server) { s.postgresHealthCheck = checker }
}

func withRedisHealthCheck(checker redisHealthChecker) serverOption {
	return func(s *Server) { s.redisHealthCheck = checker }
}

func newTestServer(t *testing.T, appSvc AuthService, opts ...serverOption) *Server {
	t.Helper()

	cfg := &config.Config{
		AppEnv:    "test",
		Port:      "8080",
		LogLevel:  "error",
		LogFormat: "text",
	}

	srv := NewServer(cfg, appSvc, nil, nil)
	for _, opt := range opts {
		opt(srv)
	}
	return srv
}

// do runs a request through the full echo stack, middleware included.
func do(srv *Server, method, path, body string, headers map[string]string) *httptest.ResponseRecorder {
	request := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		request.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		request.Header.Set(k, v)
	}

	rec := httptest.NewRecorder()
	srv.echo.ServeHTTP(rec, request)
	return rec
}

func testAccount() *domain.Account {
	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	return &domain.Account{
		ID:        uuid.New(),
		Username:  "alice",
		Email:     "a@x.com",
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func testPair() domain.TokenPair {
	return domain.TokenPair{
		AccessToken:      "access-token",
		RefreshToken:     "refresh-token",
		AccessExpiresAt:  time.Date(2026, 8, 1, 13, 0, 0, 0, time.UTC),
		RefreshExpiresAt: time.Date(2026, 8, 8, 12, 0, 0, 0, time.UTC),
		TokenID:          uuid.NewString(),
	}
}
