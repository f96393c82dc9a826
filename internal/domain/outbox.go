package domain

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Change payload operations.
const (
	ChangeUpsert = "upsert"
	ChangeDelete = "delete"
)

// ChangePayload describes one registry change for the read index. Upserts
// carry the full denormalized projection; deletes carry only the op, the
// account ID lives on the record.
type ChangePayload struct {
	Op      string   `json:"op"`
	Account *Account `json:"account,omitempty"`
}

// OutboxRecord is written in the same transaction as every registry write
// and consumed by the propagation pipe with at-least-once delivery. Records
// are kept after apply for a bounded window to support idempotent replay.
type OutboxRecord struct {
	Sequence  int64
	AccountID uuid.UUID
	Payload   ChangePayload
	Applied   bool
	CreatedAt time.Time
}

// OutboxRepository reads and settles outbox records.
type OutboxRepository interface {
	// FetchUnapplied returns unapplied records for one partition, ordered by
	// sequence. Accounts hash to exactly one partition, which preserves
	// per-account ordering across parallel consumers.
	FetchUnapplied(ctx context.Context, partition, partitions, limit int) ([]OutboxRecord, error)

	// MarkApplied settles a record after its read index write succeeded.
	MarkApplied(ctx context.Context, sequence int64) error

	// OldestUnappliedAge reports how long the oldest unapplied record has
	// been waiting; ok is false when the outbox is fully drained.
	OldestUnappliedAge(ctx context.Context) (age time.Duration, ok bool, err error)

	// LatestSequence returns the highest sequence ever written, or zero for
	// an empty outbox.
	LatestSequence(ctx context.Context) (int64, error)

	// PruneApplied removes applied records older than the retention window.
	PruneApplied(ctx context.Context, olderThan time.Duration) (int64, error)
}
