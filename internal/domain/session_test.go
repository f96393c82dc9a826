package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestSessionStateOf(t *testing.T) {
	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name      string
		expiresAt time.Time
		revoked   bool
		want      SessionState
	}{
		{"active within lifetime", now.Add(time.Hour), false, StateActive},
		{"revoked within lifetime", now.Add(time.Hour), true, StateRevoked},
		{"expired", now.Add(-time.Second), false, StateExpired},
		{"expiry exactly now", now, false, StateExpired},
		{"expiry wins over revocation after lifetime", now.Add(-time.Second), true, StateExpired},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, SessionStateOf(tt.expiresAt, tt.revoked, now))
		})
	}
}

func TestSessionState_String(t *testing.T) {
	assert.Equal(t, "active", StateActive.String())
	assert.Equal(t, "expired", StateExpired.String())
	assert.Equal(t, "revoked", StateRevoked.String())
	assert.Equal(t, "unknown", SessionState(42).String())
}
