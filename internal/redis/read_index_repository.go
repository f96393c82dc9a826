package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"

	"github.com/pscheid92/authority/internal/domain"
)

// tombstoneTTL bounds how long a delete marker lingers. It must outlive the
// outbox replay window so a replayed upsert cannot resurrect a deleted
// account; afterwards the marker expires on its own.
const tombstoneTTL = 48 * time.Hour

// maxApplyAttempts caps optimistic-transaction retries in Apply. Contention
// on one projection is at most the owning pipe partition plus a running
// reindex, so retries are exhausted only if the key is hammered externally.
const maxApplyAttempts = 100

// ReadIndexRepo implements domain.ReadIndex on Redis. It keeps three
// denormalized copies of each account projection, keyed by id, email, and
// username. The projection carries the outbox sequence that produced it,
// which makes Apply idempotent: a record at or below the stored sequence is
// a no-op.
//
// The index is disposable. It is never written by request handlers, only by
// the propagation pipe and the reindex tool, and can be rebuilt entirely by
// replaying the registry.
type ReadIndexRepo struct {
	rdb *goredis.Client
}

func NewReadIndexRepo(rdb *goredis.Client) *ReadIndexRepo {
	return &ReadIndexRepo{rdb: rdb}
}

type projection struct {
	Sequence  int64     `json:"seq"`
	Deleted   bool      `json:"deleted,omitempty"`
	ID        uuid.UUID `json:"id"`
	Username  string    `json:"username,omitempty"`
	Email     string    `json:"email,omitempty"`
	CreatedAt time.Time `json:"created_at,omitempty"`
	UpdatedAt time.Time `json:"updated_at,omitempty"`
}

func (p *projection) toAccount() *domain.Account {
	return &domain.Account{
		ID:        p.ID,
		Username:  p.Username,
		Email:     p.Email,
		CreatedAt: p.CreatedAt,
		UpdatedAt: p.UpdatedAt,
	}
}

func (r *ReadIndexRepo) FindByID(ctx context.Context, id uuid.UUID) (*domain.Account, error) {
	return r.find(ctx, idKey(id))
}

func (r *ReadIndexRepo) FindByEmail(ctx context.Context, email string) (*domain.Account, error) {
	return r.find(ctx, emailKey(email))
}

func (r *ReadIndexRepo) FindByUsername(ctx context.Context, username string) (*domain.Account, error) {
	return r.find(ctx, usernameKey(username))
}

func (r *ReadIndexRepo) find(ctx context.Context, key string) (*domain.Account, error) {
	proj, ok, err := getProjection(ctx, r.rdb, key)
	if err != nil {
		return nil, err
	}
	if !ok || proj.Deleted {
		return nil, domain.ErrAccountNotFound
	}
	return proj.toAccount(), nil
}

// Apply upserts or deletes the projection for the record's account across
// all three key families. Stale or duplicate records are detected by the
// stored sequence and skipped. The sequence check and the write run as one
// optimistic WATCH transaction on the id key, so a concurrent writer with a
// newer sequence can never be overwritten by an older record; losing the
// race aborts the EXEC and the check is redone against the fresh projection.
func (r *ReadIndexRepo) Apply(ctx context.Context, record domain.OutboxRecord) error {
	key := idKey(record.AccountID)

	apply := func(tx *goredis.Tx) error {
		current, ok, err := getProjection(ctx, tx, key)
		if err != nil {
			return err
		}
		if ok && current.Sequence >= record.Sequence {
			// Already applied (at-least-once delivery) or superseded by a
			// newer change.
			return nil
		}

		switch record.Payload.Op {
		case domain.ChangeUpsert:
			return applyUpsert(ctx, tx, record, current, ok)
		case domain.ChangeDelete:
			return applyDelete(ctx, tx, record, current, ok)
		default:
			slog.Warn("Skipping outbox record with unknown op", "sequence", record.Sequence, "op", record.Payload.Op)
			return nil
		}
	}

	for attempt := 0; attempt < maxApplyAttempts; attempt++ {
		err := r.rdb.Watch(ctx, apply, key)
		if errors.Is(err, goredis.TxFailedErr) {
			continue
		}
		return err
	}
	return fmt.Errorf("failed to apply record %d: projection contention on %s", record.Sequence, key)
}

func applyUpsert(ctx context.Context, tx *goredis.Tx, record domain.OutboxRecord, current projection, exists bool) error {
	account := record.Payload.Account
	if account == nil {
		slog.Warn("Skipping upsert record without account payload", "sequence", record.Sequence)
		return nil
	}

	encoded, err := json.Marshal(projection{
		Sequence:  record.Sequence,
		ID:        account.ID,
		Username:  account.Username,
		Email:     account.Email,
		CreatedAt: account.CreatedAt,
		UpdatedAt: account.UpdatedAt,
	})
	if err != nil {
		return fmt.Errorf("failed to marshal projection: %w", err)
	}

	_, err = tx.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
		// Drop stale secondary keys when email or username changed.
		if exists && !current.Deleted && current.Email != account.Email {
			pipe.Del(ctx, emailKey(current.Email))
		}
		if exists && !current.Deleted && current.Username != account.Username {
			pipe.Del(ctx, usernameKey(current.Username))
		}
		pipe.Set(ctx, idKey(account.ID), encoded, 0)
		pipe.Set(ctx, emailKey(account.Email), encoded, 0)
		pipe.Set(ctx, usernameKey(account.Username), encoded, 0)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to apply upsert %d: %w", record.Sequence, err)
	}
	return nil
}

func applyDelete(ctx context.Context, tx *goredis.Tx, record domain.OutboxRecord, current projection, exists bool) error {
	encoded, err := json.Marshal(projection{
		Sequence: record.Sequence,
		Deleted:  true,
		ID:       record.AccountID,
	})
	if err != nil {
		return fmt.Errorf("failed to marshal tombstone: %w", err)
	}

	_, err = tx.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
		if exists && !current.Deleted {
			pipe.Del(ctx, emailKey(current.Email))
			pipe.Del(ctx, usernameKey(current.Username))
		}
		// The tombstone keeps the sequence watermark so a replayed upsert
		// does not resurrect the account; it expires once the replay window
		// passed.
		pipe.Set(ctx, idKey(record.AccountID), encoded, tombstoneTTL)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to apply delete %d: %w", record.Sequence, err)
	}
	return nil
}

func getProjection(ctx context.Context, c goredis.Cmdable, key string) (projection, bool, error) {
	data, err := c.Get(ctx, key).Bytes()
	if errors.Is(err, goredis.Nil) {
		return projection{}, false, nil
	}
	if err != nil {
		return projection{}, false, fmt.Errorf("%w: read index lookup failed: %w", domain.ErrStoreUnavailable, err)
	}

	var proj projection
	if err := json.Unmarshal(data, &proj); err != nil {
		return projection{}, false, fmt.Errorf("failed to unmarshal projection %s: %w", key, err)
	}
	return proj, true, nil
}

// --- Key helpers ---

func idKey(id uuid.UUID) string {
	return "accounts_by_id:" + id.String()
}

func emailKey(email string) string {
	return "accounts_by_email:" + email
}

func usernameKey(username string) string {
	return "accounts_by_username:" + username
}
