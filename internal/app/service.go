package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/pscheid92/authority/internal/domain"
	"github.com/pscheid92/authority/internal/metrics"
	"github.com/pscheid92/authority/internal/platform/retry"
)

// AuthResult is returned by Register and Login: the public account record
// plus a freshly minted token pair.
type AuthResult struct {
	Account   *domain.Account  `json:"account"`
	TokenPair domain.TokenPair `json:"tokens"`
}

// Service is the application layer, the only component that references
// multiple domain components. It orchestrates all identity use cases.
//
// Reads prefer the eventually consistent index and fall back to the
// registry; writes go through the registry only. Token verification touches
// nothing but the revocation cache, so it stays fast and keeps working
// through a registry outage.
type Service struct {
	registry   domain.AccountRepository
	index      domain.ReadIndex
	issuer     domain.TokenIssuer
	hasher     domain.PasswordHasher
	revocation domain.RevocationCache
}

func NewService(registry domain.AccountRepository, index domain.ReadIndex, issuer domain.TokenIssuer, hasher domain.PasswordHasher, revocation domain.RevocationCache) *Service {
	return &Service{
		registry:   registry,
		index:      index,
		issuer:     issuer,
		hasher:     hasher,
		revocation: revocation,
	}
}

// registryReadPolicy retries transient registry failures on the read
// fallback path. NotFound is permanent and returned immediately.
var registryReadPolicy = retry.Policy{
	MaxAttempts:    3,
	InitialBackoff: 50 * time.Millisecond,
	OnRetry: func(attempt int, err error, backoff time.Duration) {
		slog.Warn("Registry read failed, retrying", "attempt", attempt, "backoff", backoff, "error", err)
	},
}

func classifyRegistryRead(err error) retry.Action {
	if errors.Is(err, domain.ErrAccountNotFound) {
		return retry.Stop
	}
	return retry.Retry
}

// Register creates the account and its credential atomically and returns a
// fresh token pair. A duplicate username or email surfaces as ErrConflict,
// including when the duplicate arrives concurrently.
func (s *Service) Register(ctx context.Context, username, email, password string) (*AuthResult, error) {
	hash, err := s.hasher.Hash(password)
	if err != nil {
		metrics.AuthOperationsTotal.WithLabelValues("register", "error").Inc()
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}

	account, err := s.registry.Create(ctx, username, email, hash)
	if err != nil {
		if errors.Is(err, domain.ErrConflict) {
			metrics.AuthOperationsTotal.WithLabelValues("register", "conflict").Inc()
		} else {
			metrics.AuthOperationsTotal.WithLabelValues("register", "error").Inc()
		}
		return nil, err
	}

	pair, err := s.issuer.Mint(account.ID)
	if err != nil {
		metrics.AuthOperationsTotal.WithLabelValues("register", "error").Inc()
		return nil, fmt.Errorf("failed to mint tokens: %w", err)
	}

	metrics.AuthOperationsTotal.WithLabelValues("register", "success").Inc()
	slog.Info("Account registered", "account_id", account.ID)
	return &AuthResult{Account: account, TokenPair: pair}, nil
}

// Login verifies the password and mints a fresh token pair. Unknown email
// and wrong password are indistinguishable to the caller: both return
// ErrInvalidCredentials, and the unknown-email path burns a dummy hash
// verification so response timing does not leak account existence.
func (s *Service) Login(ctx context.Context, email, password string) (*AuthResult, error) {
	account, err := s.findByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, domain.ErrAccountNotFound) {
			s.hasher.DummyVerify(password)
			metrics.AuthOperationsTotal.WithLabelValues("login", "denied").Inc()
			return nil, domain.ErrInvalidCredentials
		}
		metrics.AuthOperationsTotal.WithLabelValues("login", "error").Inc()
		return nil, err
	}

	credential, err := s.registry.GetCredential(ctx, account.ID)
	if err != nil {
		if errors.Is(err, domain.ErrAccountNotFound) {
			// Account vanished between lookup and credential read (deleted).
			s.hasher.DummyVerify(password)
			metrics.AuthOperationsTotal.WithLabelValues("login", "denied").Inc()
			return nil, domain.ErrInvalidCredentials
		}
		metrics.AuthOperationsTotal.WithLabelValues("login", "error").Inc()
		return nil, err
	}

	ok, err := s.hasher.Verify(password, credential.PasswordHash)
	if err != nil {
		metrics.AuthOperationsTotal.WithLabelValues("login", "error").Inc()
		return nil, fmt.Errorf("failed to verify password: %w", err)
	}
	if !ok {
		metrics.AuthOperationsTotal.WithLabelValues("login", "denied").Inc()
		return nil, domain.ErrInvalidCredentials
	}

	pair, err := s.issuer.Mint(account.ID)
	if err != nil {
		metrics.AuthOperationsTotal.WithLabelValues("login", "error").Inc()
		return nil, fmt.Errorf("failed to mint tokens: %w", err)
	}

	metrics.AuthOperationsTotal.WithLabelValues("login", "success").Inc()
	slog.Info("Login succeeded", "account_id", account.ID)
	return &AuthResult{Account: account, TokenPair: pair}, nil
}

// Refresh rotates a refresh token: the presented token is revoked and a new
// pair is minted. Rotation is single-use even under concurrent attempts,
// because revoking the old jti is an atomic first-caller-wins claim; the
// loser observes the token as already revoked. Only refresh tokens rotate:
// an access token, however valid, is never exchangeable for a new pair.
func (s *Service) Refresh(ctx context.Context, refreshToken string) (domain.TokenPair, error) {
	claims, err := s.issuer.Parse(refreshToken)
	if err != nil {
		metrics.AuthOperationsTotal.WithLabelValues("refresh", "denied").Inc()
		return domain.TokenPair{}, err
	}
	if claims.Kind != domain.TokenKindRefresh {
		metrics.AuthOperationsTotal.WithLabelValues("refresh", "denied").Inc()
		return domain.TokenPair{}, fmt.Errorf("%w: not a refresh token", domain.ErrTokenMalformed)
	}

	remaining := remainingLifetime(claims, s.issuer)
	if remaining <= 0 {
		// Expiry can land between Parse and the revocation claim; a zero-TTL
		// claim would misread the token as already revoked.
		metrics.AuthOperationsTotal.WithLabelValues("refresh", "denied").Inc()
		return domain.TokenPair{}, domain.ErrTokenExpired
	}

	newly, err := s.revocation.Revoke(ctx, claims.TokenID, remaining)
	if err != nil {
		metrics.AuthOperationsTotal.WithLabelValues("refresh", "error").Inc()
		return domain.TokenPair{}, err
	}
	if !newly {
		metrics.AuthOperationsTotal.WithLabelValues("refresh", "denied").Inc()
		return domain.TokenPair{}, domain.ErrTokenRevoked
	}

	// The account may have been deleted since the token was minted; a
	// rotated pair must not outlive it.
	if _, err := s.getRegistryByID(ctx, claims.AccountID); err != nil {
		if errors.Is(err, domain.ErrAccountNotFound) {
			metrics.AuthOperationsTotal.WithLabelValues("refresh", "denied").Inc()
			return domain.TokenPair{}, domain.ErrTokenRevoked
		}
		metrics.AuthOperationsTotal.WithLabelValues("refresh", "error").Inc()
		return domain.TokenPair{}, err
	}

	pair, err := s.issuer.Mint(claims.AccountID)
	if err != nil {
		metrics.AuthOperationsTotal.WithLabelValues("refresh", "error").Inc()
		return domain.TokenPair{}, fmt.Errorf("failed to mint tokens: %w", err)
	}

	metrics.AuthOperationsTotal.WithLabelValues("refresh", "success").Inc()
	return pair, nil
}

// Logout revokes the presented token's jti for its remaining lifetime. It
// accepts either half of a pair and is idempotent: revoking an already
// revoked or already expired token succeeds.
func (s *Service) Logout(ctx context.Context, token string) error {
	claims, err := s.issuer.Parse(token)
	if err != nil {
		if errors.Is(err, domain.ErrTokenExpired) {
			// Expired tokens fail verification on their own.
			metrics.AuthOperationsTotal.WithLabelValues("logout", "success").Inc()
			return nil
		}
		metrics.AuthOperationsTotal.WithLabelValues("logout", "denied").Inc()
		return err
	}

	remaining := remainingLifetime(claims, s.issuer)
	if _, err := s.revocation.Revoke(ctx, claims.TokenID, remaining); err != nil {
		metrics.AuthOperationsTotal.WithLabelValues("logout", "error").Inc()
		return err
	}

	metrics.AuthOperationsTotal.WithLabelValues("logout", "success").Inc()
	slog.Info("Token revoked", "account_id", claims.AccountID)
	return nil
}

// Verify checks an access token and returns the account it identifies. It
// consults only the signature, the clock, and the revocation cache, never
// the registry, so the hot path has exactly one network dependency.
func (s *Service) Verify(ctx context.Context, token string) (uuid.UUID, error) {
	claims, err := s.issuer.Parse(token)
	if err != nil {
		if errors.Is(err, domain.ErrTokenExpired) {
			metrics.TokenVerificationsTotal.WithLabelValues(domain.StateExpired.String()).Inc()
		} else {
			metrics.TokenVerificationsTotal.WithLabelValues("malformed").Inc()
		}
		return uuid.Nil, err
	}
	if claims.Kind != domain.TokenKindAccess {
		metrics.TokenVerificationsTotal.WithLabelValues("malformed").Inc()
		return uuid.Nil, fmt.Errorf("%w: not an access token", domain.ErrTokenMalformed)
	}

	revoked, err := s.revocation.IsRevoked(ctx, claims.TokenID)
	if err != nil {
		metrics.TokenVerificationsTotal.WithLabelValues("unavailable").Inc()
		return uuid.Nil, err
	}
	if revoked {
		metrics.TokenVerificationsTotal.WithLabelValues(domain.StateRevoked.String()).Inc()
		return uuid.Nil, domain.ErrTokenRevoked
	}

	metrics.TokenVerificationsTotal.WithLabelValues(domain.StateActive.String()).Inc()
	return claims.AccountID, nil
}

// GetAccount serves the public profile from the read index, falling back to
// the registry when the index misses or is unavailable. An index miss is
// expected during propagation lag, not an error.
func (s *Service) GetAccount(ctx context.Context, accountID uuid.UUID) (*domain.Account, error) {
	account, err := s.index.FindByID(ctx, accountID)
	if err == nil {
		return account, nil
	}
	if !errors.Is(err, domain.ErrAccountNotFound) && !errors.Is(err, domain.ErrStoreUnavailable) {
		return nil, err
	}

	metrics.ReadIndexFallbacksTotal.Inc()
	return s.getRegistryByID(ctx, accountID)
}

// DeleteAccount tombstones the account; its projection disappears from the
// read index once the delete record propagates.
func (s *Service) DeleteAccount(ctx context.Context, accountID uuid.UUID) error {
	if err := s.registry.Delete(ctx, accountID); err != nil {
		metrics.AuthOperationsTotal.WithLabelValues("delete", "error").Inc()
		return err
	}
	metrics.AuthOperationsTotal.WithLabelValues("delete", "success").Inc()
	slog.Info("Account deleted", "account_id", accountID)
	return nil
}

// findByEmail prefers the index and falls back to the registry, so login
// right after registration works even before the projection landed.
func (s *Service) findByEmail(ctx context.Context, email string) (*domain.Account, error) {
	account, err := s.index.FindByEmail(ctx, email)
	if err == nil {
		return account, nil
	}
	if !errors.Is(err, domain.ErrAccountNotFound) && !errors.Is(err, domain.ErrStoreUnavailable) {
		return nil, err
	}

	metrics.ReadIndexFallbacksTotal.Inc()
	return retry.Do(ctx, registryReadPolicy, classifyRegistryRead, func() (*domain.Account, error) {
		return s.registry.GetByEmail(ctx, email)
	})
}

func (s *Service) getRegistryByID(ctx context.Context, accountID uuid.UUID) (*domain.Account, error) {
	return retry.Do(ctx, registryReadPolicy, classifyRegistryRead, func() (*domain.Account, error) {
		return s.registry.GetByID(ctx, accountID)
	})
}

// remainingLifetime sizes a revocation entry to the token's remaining
// validity. The issuer owns the clock; fall back to wall time only if the
// issuer is not ours.
func remainingLifetime(claims domain.TokenClaims, issuer domain.TokenIssuer) time.Duration {
	type lifetimer interface {
		RemainingLifetime(domain.TokenClaims) time.Duration
	}
	if l, ok := issuer.(lifetimer); ok {
		return l.RemainingLifetime(claims)
	}
	remaining := time.Until(claims.ExpiresAt)
	if remaining < 0 {
		return 0
	}
	return remaining
}
