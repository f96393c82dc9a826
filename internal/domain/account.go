package domain

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Account is the public identity record. Username and email are each
// globally unique; the registry enforces this on the write path via
// database constraints, never the read index.
type Account struct {
	ID        uuid.UUID `json:"id"`
	Username  string    `json:"username"`
	Email     string    `json:"email"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Credential is the secret half of an account, created atomically with it.
// The hash is a PHC-format argon2id string with embedded salt and cost
// parameters. It must never appear in responses or logs.
type Credential struct {
	AccountID    uuid.UUID
	PasswordHash string
	UpdatedAt    time.Time
}

// AccountRepository is the authoritative, strongly consistent account store.
// All writes run in a single transaction together with an outbox record.
type AccountRepository interface {
	// Create inserts an account, its credential, and an outbox record in one
	// transaction. A concurrent duplicate is detected by the uniqueness
	// constraint on commit and surfaces as ErrConflict.
	Create(ctx context.Context, username, email, passwordHash string) (*Account, error)

	GetByID(ctx context.Context, id uuid.UUID) (*Account, error)
	GetByEmail(ctx context.Context, email string) (*Account, error)
	GetByUsername(ctx context.Context, username string) (*Account, error)
	GetCredential(ctx context.Context, accountID uuid.UUID) (*Credential, error)

	// UpdateCredential replaces the password hash, bumps updated_at, and
	// emits an outbox record, all transactionally.
	UpdateCredential(ctx context.Context, accountID uuid.UUID, newHash string) error

	// Delete tombstones the account, removes its credential, and emits an
	// outbox record with a delete payload.
	Delete(ctx context.Context, accountID uuid.UUID) error

	// List pages through live accounts by ID for index rebuilds.
	List(ctx context.Context, afterID uuid.UUID, limit int) ([]Account, error)
}

// ReadIndex is the denormalized, eventually consistent lookup store. It is a
// disposable projection of the registry: a miss may mean replication lag,
// and callers needing strong consistency fall back to the registry.
type ReadIndex interface {
	FindByID(ctx context.Context, id uuid.UUID) (*Account, error)
	FindByEmail(ctx context.Context, email string) (*Account, error)
	FindByUsername(ctx context.Context, username string) (*Account, error)

	// Apply upserts or deletes the projection for a record's account.
	// Applying the same record twice is a no-op beyond the first.
	Apply(ctx context.Context, record OutboxRecord) error
}
