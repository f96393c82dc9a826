package domain

import "errors"

var (
	// ErrConflict signals a username or email uniqueness violation. It is a
	// correctness result, not a transient fault, and is never retried.
	ErrConflict = errors.New("username or email already taken")

	// ErrAccountNotFound signals an account absent in the queried store. When
	// returned by the read index it may be transient replication lag.
	ErrAccountNotFound = errors.New("account not found")

	// ErrInvalidCredentials covers both "wrong password" and "no such
	// account" so callers cannot enumerate registered emails.
	ErrInvalidCredentials = errors.New("invalid credentials")

	ErrTokenExpired   = errors.New("token expired")
	ErrTokenRevoked   = errors.New("token revoked")
	ErrTokenMalformed = errors.New("token malformed")

	// ErrStoreUnavailable signals an infrastructure failure in a backing
	// store. Call sites retry with bounded backoff before escalating.
	ErrStoreUnavailable = errors.New("store unavailable")
)
