package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/pscheid92/authority/internal/domain"
	"github.com/pscheid92/authority/internal/metrics"
)

// accountColumns must match the Scan order in scanAccount.
const accountColumns = `id, username, email, created_at, updated_at`

// AccountRepo implements domain.AccountRepository backed by PostgreSQL.
// Every write runs in one transaction together with an outbox record, so a
// cancelled request can never leave an account without its credential or
// its change event.
type AccountRepo struct {
	pool *pgxpool.Pool
}

func NewAccountRepo(pool *pgxpool.Pool) *AccountRepo {
	return &AccountRepo{pool: pool}
}

func scanAccount(row pgx.Row) (*domain.Account, error) {
	var account domain.Account
	err := row.Scan(&account.ID, &account.Username, &account.Email, &account.CreatedAt, &account.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &account, nil
}

// isUniqueViolation reports whether err is a PostgreSQL unique constraint
// violation (SQLSTATE 23505). Duplicates are detected on the actual insert,
// never by a prior read, so concurrent registrations cannot both succeed.
func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

func (r *AccountRepo) Create(ctx context.Context, username, email, passwordHash string) (*domain.Account, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // no-op after commit

	account, err := scanAccount(tx.QueryRow(ctx, `
		INSERT INTO accounts (id, username, email, created_at, updated_at)
		VALUES ($1, $2, $3, NOW(), NOW())
		RETURNING `+accountColumns,
		uuid.New(), username, email))
	if isUniqueViolation(err) {
		return nil, domain.ErrConflict
	}
	if err != nil {
		metrics.DBErrorsTotal.WithLabelValues("create_account").Inc()
		return nil, fmt.Errorf("failed to insert account: %w", err)
	}

	if _, err := tx.Exec(ctx, `
		INSERT INTO credentials (account_id, password_hash, updated_at)
		VALUES ($1, $2, NOW())
	`, account.ID, passwordHash); err != nil {
		metrics.DBErrorsTotal.WithLabelValues("create_credential").Inc()
		return nil, fmt.Errorf("failed to insert credential: %w", err)
	}

	if err := insertOutboxRecord(ctx, tx, account.ID, domain.ChangePayload{Op: domain.ChangeUpsert, Account: account}); err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		if isUniqueViolation(err) {
			return nil, domain.ErrConflict
		}
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}

	return account, nil
}

func (r *AccountRepo) GetByID(ctx context.Context, id uuid.UUID) (*domain.Account, error) {
	return r.getBy(ctx, "id", id)
}

func (r *AccountRepo) GetByEmail(ctx context.Context, email string) (*domain.Account, error) {
	return r.getBy(ctx, "email", email)
}

func (r *AccountRepo) GetByUsername(ctx context.Context, username string) (*domain.Account, error) {
	return r.getBy(ctx, "username", username)
}

func (r *AccountRepo) getBy(ctx context.Context, column string, value any) (*domain.Account, error) {
	account, err := scanAccount(r.pool.QueryRow(ctx,
		`SELECT `+accountColumns+` FROM accounts WHERE `+column+` = $1 AND deleted_at IS NULL`, value))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrAccountNotFound
	}
	if err != nil {
		metrics.DBErrorsTotal.WithLabelValues("get_account_by_" + column).Inc()
		return nil, fmt.Errorf("failed to get account by %s: %w", column, err)
	}
	return account, nil
}

func (r *AccountRepo) GetCredential(ctx context.Context, accountID uuid.UUID) (*domain.Credential, error) {
	var cred domain.Credential
	err := r.pool.QueryRow(ctx, `
		SELECT c.account_id, c.password_hash, c.updated_at
		FROM credentials c
		JOIN accounts a ON a.id = c.account_id
		WHERE c.account_id = $1 AND a.deleted_at IS NULL
	`, accountID).Scan(&cred.AccountID, &cred.PasswordHash, &cred.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrAccountNotFound
	}
	if err != nil {
		metrics.DBErrorsTotal.WithLabelValues("get_credential").Inc()
		return nil, fmt.Errorf("failed to get credential: %w", err)
	}
	return &cred, nil
}

func (r *AccountRepo) UpdateCredential(ctx context.Context, accountID uuid.UUID, newHash string) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // no-op after commit

	tag, err := tx.Exec(ctx, `
		UPDATE credentials SET password_hash = $1, updated_at = NOW()
		WHERE account_id = $2
	`, newHash, accountID)
	if err != nil {
		metrics.DBErrorsTotal.WithLabelValues("update_credential").Inc()
		return fmt.Errorf("failed to update credential: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrAccountNotFound
	}

	account, err := scanAccount(tx.QueryRow(ctx, `
		UPDATE accounts SET updated_at = NOW()
		WHERE id = $1 AND deleted_at IS NULL
		RETURNING `+accountColumns,
		accountID))
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.ErrAccountNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to bump account: %w", err)
	}

	if err := insertOutboxRecord(ctx, tx, accountID, domain.ChangePayload{Op: domain.ChangeUpsert, Account: account}); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

func (r *AccountRepo) Delete(ctx context.Context, accountID uuid.UUID) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // no-op after commit

	tag, err := tx.Exec(ctx, `
		UPDATE accounts SET deleted_at = NOW(), updated_at = NOW()
		WHERE id = $1 AND deleted_at IS NULL
	`, accountID)
	if err != nil {
		metrics.DBErrorsTotal.WithLabelValues("delete_account").Inc()
		return fmt.Errorf("failed to tombstone account: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrAccountNotFound
	}

	// The hash is dropped outright; the tombstoned account row keeps the
	// audit trail.
	if _, err := tx.Exec(ctx, `DELETE FROM credentials WHERE account_id = $1`, accountID); err != nil {
		return fmt.Errorf("failed to delete credential: %w", err)
	}

	if err := insertOutboxRecord(ctx, tx, accountID, domain.ChangePayload{Op: domain.ChangeDelete}); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

func (r *AccountRepo) List(ctx context.Context, afterID uuid.UUID, limit int) ([]domain.Account, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+accountColumns+` FROM accounts
		WHERE id > $1 AND deleted_at IS NULL
		ORDER BY id
		LIMIT $2
	`, afterID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list accounts: %w", err)
	}
	defer rows.Close()

	var accounts []domain.Account
	for rows.Next() {
		var account domain.Account
		if err := rows.Scan(&account.ID, &account.Username, &account.Email, &account.CreatedAt, &account.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan account: %w", err)
		}
		accounts = append(accounts, account)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate accounts: %w", err)
	}
	return accounts, nil
}

func insertOutboxRecord(ctx context.Context, tx pgx.Tx, accountID uuid.UUID, payload domain.ChangePayload) error {
	encoded, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal outbox payload: %w", err)
	}

	if _, err := tx.Exec(ctx, `
		INSERT INTO outbox (account_id, payload) VALUES ($1, $2)
	`, accountID, encoded); err != nil {
		metrics.DBErrorsTotal.WithLabelValues("insert_outbox").Inc()
		return fmt.Errorf("failed to insert outbox record: %w", err)
	}
	return nil
}
