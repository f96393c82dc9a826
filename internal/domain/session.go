package domain

import "time"

// SessionState is the lifecycle of a minted token. A token is Active the
// moment it is issued (there is no separate activation step), expires
// passively once now passes exp, and becomes Revoked through logout or
// refresh rotation. Expired and Revoked are both terminal and both fail
// verification; they are distinguished for diagnostics because revocation
// is an explicit trust withdrawal.
type SessionState int

const (
	StateActive SessionState = iota
	StateExpired
	StateRevoked
)

func (s SessionState) String() string {
	switch s {
	case StateActive:
		return "active"
	case StateExpired:
		return "expired"
	case StateRevoked:
		return "revoked"
	default:
		return "unknown"
	}
}

// SessionStateOf computes the state of a token at the given instant. Expiry
// is computed, never stored. Revocation wins over expiry only while the
// token is still within its lifetime; afterwards expiry is reported since
// the revocation entry itself has lapsed by then.
func SessionStateOf(expiresAt time.Time, revoked bool, now time.Time) SessionState {
	if !now.Before(expiresAt) {
		return StateExpired
	}
	if revoked {
		return StateRevoked
	}
	return StateActive
}
