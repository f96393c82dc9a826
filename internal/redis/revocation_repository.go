package redis

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/pscheid92/authority/internal/domain"
	"github.com/pscheid92/authority/internal/metrics"
)

const defaultRevocationTimeout = 50 * time.Millisecond

// RevocationRepo implements domain.RevocationCache on Redis. Entries are
// keyed revoked:{jti} and self-expire once the underlying token would have
// expired anyway, so no residual storage accumulates.
//
// Every operation runs under a bounded timeout: token verification sits on
// the hot path and must never hang on a slow cache. What happens when the
// cache is unreachable is a configured policy, not an accident:
//
//   - fail-closed (default): IsRevoked returns ErrStoreUnavailable and
//     callers reject the token.
//   - fail-open: IsRevoked reports "not revoked" and logs loudly, trading
//     a brief window of honoring revoked tokens for availability.
//
// Writes (Revoke) always fail loudly regardless of policy. Dropping a
// revocation silently would make logout a no-op.
type RevocationRepo struct {
	rdb       *goredis.Client
	opTimeout time.Duration
	failOpen  bool
}

func NewRevocationRepo(rdb *goredis.Client, opTimeout time.Duration, failOpen bool) *RevocationRepo {
	if opTimeout <= 0 {
		opTimeout = defaultRevocationTimeout
	}
	return &RevocationRepo{rdb: rdb, opTimeout: opTimeout, failOpen: failOpen}
}

// Revoke marks the token ID revoked for ttl. SET NX makes revocation both
// idempotent and race-safe: the first caller wins and gets newly=true,
// which refresh rotation uses to guarantee single use.
func (r *RevocationRepo) Revoke(ctx context.Context, tokenID string, ttl time.Duration) (bool, error) {
	if ttl <= 0 {
		// The token is already past its natural expiry; there is nothing
		// left to deny.
		return false, nil
	}

	ctx, cancel := context.WithTimeout(ctx, r.opTimeout)
	defer cancel()

	newly, err := r.rdb.SetNX(ctx, revocationKey(tokenID), "1", ttl).Result()
	if err != nil {
		return false, fmt.Errorf("%w: failed to write revocation entry: %w", domain.ErrStoreUnavailable, err)
	}
	return newly, nil
}

func (r *RevocationRepo) IsRevoked(ctx context.Context, tokenID string) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, r.opTimeout)
	defer cancel()

	n, err := r.rdb.Exists(ctx, revocationKey(tokenID)).Result()
	if err != nil {
		if r.failOpen {
			slog.Warn("Revocation cache unavailable, failing open", "error", err)
			metrics.RevocationFallbacksTotal.WithLabelValues("fail_open").Inc()
			return false, nil
		}
		metrics.RevocationFallbacksTotal.WithLabelValues("fail_closed").Inc()
		return false, fmt.Errorf("%w: failed to check revocation entry: %w", domain.ErrStoreUnavailable, err)
	}
	return n > 0, nil
}

func revocationKey(tokenID string) string {
	return "revoked:" + tokenID
}
