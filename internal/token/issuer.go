package token

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"github.com/pscheid92/authority/internal/domain"
)

// Issuer mints and verifies HS256-signed token pairs. Access tokens are
// stateless and short-lived; refresh tokens are longer-lived and revocable
// by their jti. The clock is injected so expiry is testable without sleeps.
type Issuer struct {
	secret     []byte
	accessTTL  time.Duration
	refreshTTL time.Duration
	clock      clockwork.Clock
}

func NewIssuer(secret []byte, accessTTL, refreshTTL time.Duration, clock clockwork.Clock) *Issuer {
	return &Issuer{
		secret:     secret,
		accessTTL:  accessTTL,
		refreshTTL: refreshTTL,
		clock:      clock,
	}
}

// signedClaims is the wire shape of a token. The typ claim distinguishes the
// two halves of a pair so neither can stand in for the other.
type signedClaims struct {
	jwt.RegisteredClaims
	Kind string `json:"typ,omitempty"`
}

// Mint issues a fresh token pair for the account. Both tokens carry
// {sub, iat, exp, jti, typ}; the pair's TokenID is the refresh token's jti.
func (i *Issuer) Mint(accountID uuid.UUID) (domain.TokenPair, error) {
	now := i.clock.Now()
	accessExpiry := now.Add(i.accessTTL)
	refreshExpiry := now.Add(i.refreshTTL)
	refreshID := uuid.NewString()

	accessToken, err := i.sign(accountID, now, accessExpiry, uuid.NewString(), domain.TokenKindAccess)
	if err != nil {
		return domain.TokenPair{}, fmt.Errorf("failed to sign access token: %w", err)
	}

	refreshToken, err := i.sign(accountID, now, refreshExpiry, refreshID, domain.TokenKindRefresh)
	if err != nil {
		return domain.TokenPair{}, fmt.Errorf("failed to sign refresh token: %w", err)
	}

	return domain.TokenPair{
		AccessToken:      accessToken,
		RefreshToken:     refreshToken,
		AccessExpiresAt:  accessExpiry,
		RefreshExpiresAt: refreshExpiry,
		TokenID:          refreshID,
	}, nil
}

func (i *Issuer) sign(accountID uuid.UUID, issuedAt, expiresAt time.Time, tokenID, kind string) (string, error) {
	claims := signedClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   accountID.String(),
			IssuedAt:  jwt.NewNumericDate(issuedAt),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			ID:        tokenID,
		},
		Kind: kind,
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(i.secret)
}

// Parse verifies signature and expiry against the issuer's clock. Expiry
// maps to domain.ErrTokenExpired; every other failure, including a bad
// signature or an unexpected algorithm, maps to domain.ErrTokenMalformed.
func (i *Issuer) Parse(tokenString string) (domain.TokenClaims, error) {
	var claims signedClaims

	_, err := jwt.ParseWithClaims(tokenString, &claims,
		func(t *jwt.Token) (any, error) { return i.secret, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(i.clock.Now),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return domain.TokenClaims{}, domain.ErrTokenExpired
		}
		return domain.TokenClaims{}, fmt.Errorf("%w: %w", domain.ErrTokenMalformed, err)
	}

	accountID, err := uuid.Parse(claims.Subject)
	if err != nil {
		return domain.TokenClaims{}, fmt.Errorf("%w: bad subject claim", domain.ErrTokenMalformed)
	}
	if claims.ID == "" {
		return domain.TokenClaims{}, fmt.Errorf("%w: missing jti claim", domain.ErrTokenMalformed)
	}

	var issuedAt time.Time
	if claims.IssuedAt != nil {
		issuedAt = claims.IssuedAt.Time
	}

	return domain.TokenClaims{
		AccountID: accountID,
		TokenID:   claims.ID,
		Kind:      claims.Kind,
		IssuedAt:  issuedAt,
		ExpiresAt: claims.ExpiresAt.Time,
	}, nil
}

// RemainingLifetime returns how long until the claims expire, clamped at
// zero. Used to size revocation entries so they outlive the token exactly.
func (i *Issuer) RemainingLifetime(claims domain.TokenClaims) time.Duration {
	remaining := claims.ExpiresAt.Sub(i.clock.Now())
	if remaining < 0 {
		return 0
	}
	return remaining
}
