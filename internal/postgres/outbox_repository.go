package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jonboulle/clockwork"

	"github.com/pscheid92/authority/internal/domain"
	"github.com/pscheid92/authority/internal/metrics"
)

// OutboxRepo implements domain.OutboxRepository. Records are partitioned by
// a stable hash of the account ID, so one consumer per partition sees every
// change for an account in sequence order.
type OutboxRepo struct {
	pool  *pgxpool.Pool
	clock clockwork.Clock
}

func NewOutboxRepo(pool *pgxpool.Pool, clock clockwork.Clock) *OutboxRepo {
	return &OutboxRepo{pool: pool, clock: clock}
}

func (r *OutboxRepo) FetchUnapplied(ctx context.Context, partition, partitions, limit int) ([]domain.OutboxRecord, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT sequence, account_id, payload, applied, created_at
		FROM outbox
		WHERE NOT applied AND mod(abs(hashtext(account_id::text)), $1) = $2
		ORDER BY sequence
		LIMIT $3
	`, partitions, partition, limit)
	if err != nil {
		metrics.DBErrorsTotal.WithLabelValues("fetch_unapplied").Inc()
		return nil, fmt.Errorf("failed to fetch unapplied records: %w", err)
	}
	defer rows.Close()

	var records []domain.OutboxRecord
	for rows.Next() {
		var record domain.OutboxRecord
		var encoded []byte
		if err := rows.Scan(&record.Sequence, &record.AccountID, &encoded, &record.Applied, &record.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan outbox record: %w", err)
		}
		if err := json.Unmarshal(encoded, &record.Payload); err != nil {
			return nil, fmt.Errorf("failed to unmarshal outbox payload %d: %w", record.Sequence, err)
		}
		records = append(records, record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate outbox records: %w", err)
	}
	return records, nil
}

func (r *OutboxRepo) MarkApplied(ctx context.Context, sequence int64) error {
	if _, err := r.pool.Exec(ctx, `UPDATE outbox SET applied = TRUE WHERE sequence = $1`, sequence); err != nil {
		metrics.DBErrorsTotal.WithLabelValues("mark_applied").Inc()
		return fmt.Errorf("failed to mark record %d applied: %w", sequence, err)
	}
	return nil
}

func (r *OutboxRepo) OldestUnappliedAge(ctx context.Context) (time.Duration, bool, error) {
	var createdAt time.Time
	err := r.pool.QueryRow(ctx, `
		SELECT created_at FROM outbox WHERE NOT applied ORDER BY sequence LIMIT 1
	`).Scan(&createdAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("failed to read oldest unapplied record: %w", err)
	}
	return r.clock.Since(createdAt), true, nil
}

func (r *OutboxRepo) LatestSequence(ctx context.Context) (int64, error) {
	var sequence int64
	err := r.pool.QueryRow(ctx, `SELECT COALESCE(MAX(sequence), 0) FROM outbox`).Scan(&sequence)
	if err != nil {
		return 0, fmt.Errorf("failed to read latest sequence: %w", err)
	}
	return sequence, nil
}

func (r *OutboxRepo) PruneApplied(ctx context.Context, olderThan time.Duration) (int64, error) {
	tag, err := r.pool.Exec(ctx, `
		DELETE FROM outbox WHERE applied AND created_at < NOW() - make_interval(secs => $1)
	`, olderThan.Seconds())
	if err != nil {
		metrics.DBErrorsTotal.WithLabelValues("prune_applied").Inc()
		return 0, fmt.Errorf("failed to prune applied records: %w", err)
	}
	return tag.RowsAffected(), nil
}
