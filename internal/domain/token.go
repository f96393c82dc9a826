package domain

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// TokenPair is minted on register, login, and refresh. The access token is
// short-lived and stateless; the refresh token is longer-lived, single-use,
// and revocable by its TokenID.
type TokenPair struct {
	AccessToken      string    `json:"access_token"`
	RefreshToken     string    `json:"refresh_token"`
	AccessExpiresAt  time.Time `json:"access_expires_at"`
	RefreshExpiresAt time.Time `json:"refresh_expires_at"`

	// TokenID is the refresh token's jti, the key used for revocation.
	TokenID string `json:"-"`
}

// Token kinds, carried in the typ claim. The two halves of a pair are not
// interchangeable: Refresh accepts only refresh tokens and Verify only
// access tokens.
const (
	TokenKindAccess  = "access"
	TokenKindRefresh = "refresh"
)

// TokenClaims is the verified content of a signed token, decoupled from the
// JWT library so storage and transport types stay out of the core.
type TokenClaims struct {
	AccountID uuid.UUID
	TokenID   string
	Kind      string
	IssuedAt  time.Time
	ExpiresAt time.Time
}

// TokenIssuer mints and verifies signed token pairs.
type TokenIssuer interface {
	Mint(accountID uuid.UUID) (TokenPair, error)

	// Parse verifies signature and expiry. Failures map to ErrTokenExpired
	// or ErrTokenMalformed.
	Parse(token string) (TokenClaims, error)
}

// PasswordHasher hashes and verifies passwords with a memory-hard function.
// Cost parameters are embedded in the stored hash so they can be upgraded
// without invalidating existing credentials.
type PasswordHasher interface {
	Hash(plaintext string) (string, error)
	Verify(plaintext, hash string) (bool, error)

	// DummyVerify burns the same work as a real verification. Login calls it
	// for unknown emails so response timing does not leak account existence.
	DummyVerify(plaintext string)
}

// RevocationCache is the ephemeral denylist of invalidated token IDs.
// Entries self-expire once the underlying token would have expired anyway.
type RevocationCache interface {
	// Revoke marks a token ID as revoked for the given TTL. It reports
	// whether the entry was newly created: a false result means the token
	// was already revoked, which refresh uses to enforce single use under
	// concurrent rotation attempts.
	Revoke(ctx context.Context, tokenID string, ttl time.Duration) (bool, error)

	IsRevoked(ctx context.Context, tokenID string) (bool, error)
}
