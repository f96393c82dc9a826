package redis

import (
	"context"
	"flag"
	"fmt"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	tcredis "github.com/testcontainers/testcontainers-go/modules/redis"

	"github.com/pscheid92/authority/internal/domain"
)

var testRedisURL string

func TestMain(m *testing.M) {
	flag.Parse()

	if testing.Short() {
		os.Exit(m.Run())
	}

	ctx := context.Background()
	container, err := tcredis.Run(ctx, "redis:7-alpine")
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to start redis container: %v\n", err)
		os.Exit(1)
	}

	endpoint, err := container.Endpoint(ctx, "")
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to get redis endpoint: %v\n", err)
		os.Exit(1)
	}
	testRedisURL = "redis://" + endpoint

	code := m.Run()

	_ = container.Terminate(ctx)
	os.Exit(code)
}

func setupTestClient(t *testing.T) *goredis.Client {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	ctx := context.Background()
	client, err := NewClient(ctx, testRedisURL)
	require.NoError(t, err)

	require.NoError(t, client.FlushAll(ctx).Err())

	t.Cleanup(func() {
		_ = client.Close()
	})

	return client
}

// unreachableClient returns a client pointing at a closed port, for testing
// unavailability behavior without a container.
func unreachableClient(t *testing.T) *goredis.Client {
	t.Helper()
	client := goredis.NewClient(&goredis.Options{
		Addr:            "127.0.0.1:1",
		DialTimeout:     20 * time.Millisecond,
		MaxRetries:      -1,
		PoolTimeout:     50 * time.Millisecond,
		MinRetryBackoff: -1,
		MaxRetryBackoff: -1,
	})
	t.Cleanup(func() { _ = client.Close() })
	return client
}

// --- Revocation cache ---

func TestRevoke_AndIsRevoked(t *testing.T) {
	client := setupTestClient(t)
	repo := NewRevocationRepo(client, time.Second, false)
	ctx := context.Background()

	tokenID := uuid.NewString()

	revoked, err := repo.IsRevoked(ctx, tokenID)
	require.NoError(t, err)
	assert.False(t, revoked)

	newly, err := repo.Revoke(ctx, tokenID, time.Minute)
	require.NoError(t, err)
	assert.True(t, newly)

	revoked, err = repo.IsRevoked(ctx, tokenID)
	require.NoError(t, err)
	assert.True(t, revoked)
}

func TestRevoke_FirstCallerWins(t *testing.T) {
	client := setupTestClient(t)
	repo := NewRevocationRepo(client, time.Second, false)
	ctx := context.Background()

	tokenID := uuid.NewString()

	newly, err := repo.Revoke(ctx, tokenID, time.Minute)
	require.NoError(t, err)
	assert.True(t, newly)

	// The second attempt observes the token as already revoked.
	newly, err = repo.Revoke(ctx, tokenID, time.Minute)
	require.NoError(t, err)
	assert.False(t, newly)
}

func TestRevoke_EntryExpiresWithTTL(t *testing.T) {
	client := setupTestClient(t)
	repo := NewRevocationRepo(client, time.Second, false)
	ctx := context.Background()

	tokenID := uuid.NewString()

	newly, err := repo.Revoke(ctx, tokenID, 100*time.Millisecond)
	require.NoError(t, err)
	assert.True(t, newly)

	time.Sleep(200 * time.Millisecond)

	revoked, err := repo.IsRevoked(ctx, tokenID)
	require.NoError(t, err)
	assert.False(t, revoked)
}

func TestRevoke_NonPositiveTTLIsNoop(t *testing.T) {
	client := setupTestClient(t)
	repo := NewRevocationRepo(client, time.Second, false)
	ctx := context.Background()

	tokenID := uuid.NewString()

	newly, err := repo.Revoke(ctx, tokenID, 0)
	require.NoError(t, err)
	assert.False(t, newly)

	exists, err := client.Exists(ctx, revocationKey(tokenID)).Result()
	require.NoError(t, err)
	assert.Zero(t, exists)
}

func TestIsRevoked_FailClosed(t *testing.T) {
	repo := NewRevocationRepo(unreachableClient(t), 50*time.Millisecond, false)

	_, err := repo.IsRevoked(context.Background(), uuid.NewString())
	assert.ErrorIs(t, err, domain.ErrStoreUnavailable)
}

func TestIsRevoked_FailOpen(t *testing.T) {
	repo := NewRevocationRepo(unreachableClient(t), 50*time.Millisecond, true)

	revoked, err := repo.IsRevoked(context.Background(), uuid.NewString())
	require.NoError(t, err)
	assert.False(t, revoked)
}

func TestRevoke_WriteAlwaysFailsLoudly(t *testing.T) {
	// Even under fail-open policy, a lost revocation write is an error.
	repo := NewRevocationRepo(unreachableClient(t), 50*time.Millisecond, true)

	_, err := repo.Revoke(context.Background(), uuid.NewString(), time.Minute)
	assert.ErrorIs(t, err, domain.ErrStoreUnavailable)
}

// --- Read index ---

func indexAccount(username, email string) *domain.Account {
	now := time.Now().UTC().Truncate(time.Second)
	return &domain.Account{
		ID:        uuid.New(),
		Username:  username,
		Email:     email,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func upsertRecord(seq int64, account *domain.Account) domain.OutboxRecord {
	return domain.OutboxRecord{
		Sequence:  seq,
		AccountID: account.ID,
		Payload:   domain.ChangePayload{Op: domain.ChangeUpsert, Account: account},
	}
}

func deleteRecord(seq int64, accountID uuid.UUID) domain.OutboxRecord {
	return domain.OutboxRecord{
		Sequence:  seq,
		AccountID: accountID,
		Payload:   domain.ChangePayload{Op: domain.ChangeDelete},
	}
}

func TestApply_UpsertAndFindAllKeys(t *testing.T) {
	client := setupTestClient(t)
	index := NewReadIndexRepo(client)
	ctx := context.Background()

	account := indexAccount("alice", "a@x.com")
	require.NoError(t, index.Apply(ctx, upsertRecord(1, account)))

	byID, err := index.FindByID(ctx, account.ID)
	require.NoError(t, err)
	assert.Equal(t, account, byID)

	byEmail, err := index.FindByEmail(ctx, "a@x.com")
	require.NoError(t, err)
	assert.Equal(t, account.ID, byEmail.ID)

	byUsername, err := index.FindByUsername(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, account.ID, byUsername.ID)
}

func TestFind_MissingAccount(t *testing.T) {
	client := setupTestClient(t)
	index := NewReadIndexRepo(client)
	ctx := context.Background()

	_, err := index.FindByID(ctx, uuid.New())
	assert.ErrorIs(t, err, domain.ErrAccountNotFound)
	_, err = index.FindByEmail(ctx, "nobody@x.com")
	assert.ErrorIs(t, err, domain.ErrAccountNotFound)
	_, err = index.FindByUsername(ctx, "nobody")
	assert.ErrorIs(t, err, domain.ErrAccountNotFound)
}

func TestApply_StaleSequenceIsNoop(t *testing.T) {
	client := setupTestClient(t)
	index := NewReadIndexRepo(client)
	ctx := context.Background()

	account := indexAccount("alice", "a@x.com")
	require.NoError(t, index.Apply(ctx, upsertRecord(5, account)))

	older := *account
	older.Username = "old-alice"
	require.NoError(t, index.Apply(ctx, upsertRecord(3, &older)))

	got, err := index.FindByID(ctx, account.ID)
	require.NoError(t, err)
	assert.Equal(t, "alice", got.Username)
}

func TestApply_DuplicateDeliveryIsIdempotent(t *testing.T) {
	client := setupTestClient(t)
	index := NewReadIndexRepo(client)
	ctx := context.Background()

	account := indexAccount("alice", "a@x.com")
	record := upsertRecord(1, account)

	require.NoError(t, index.Apply(ctx, record))
	require.NoError(t, index.Apply(ctx, record))

	got, err := index.FindByID(ctx, account.ID)
	require.NoError(t, err)
	assert.Equal(t, account, got)
}

func TestApply_ChangedEmailDropsStaleKey(t *testing.T) {
	client := setupTestClient(t)
	index := NewReadIndexRepo(client)
	ctx := context.Background()

	account := indexAccount("alice", "a@x.com")
	require.NoError(t, index.Apply(ctx, upsertRecord(1, account)))

	renamed := *account
	renamed.Email = "new@x.com"
	renamed.Username = "alice2"
	require.NoError(t, index.Apply(ctx, upsertRecord(2, &renamed)))

	_, err := index.FindByEmail(ctx, "a@x.com")
	assert.ErrorIs(t, err, domain.ErrAccountNotFound)
	_, err = index.FindByUsername(ctx, "alice")
	assert.ErrorIs(t, err, domain.ErrAccountNotFound)

	got, err := index.FindByEmail(ctx, "new@x.com")
	require.NoError(t, err)
	assert.Equal(t, account.ID, got.ID)
}

func TestApply_DeleteRemovesAllKeys(t *testing.T) {
	client := setupTestClient(t)
	index := NewReadIndexRepo(client)
	ctx := context.Background()

	account := indexAccount("alice", "a@x.com")
	require.NoError(t, index.Apply(ctx, upsertRecord(1, account)))
	require.NoError(t, index.Apply(ctx, deleteRecord(2, account.ID)))

	_, err := index.FindByID(ctx, account.ID)
	assert.ErrorIs(t, err, domain.ErrAccountNotFound)
	_, err = index.FindByEmail(ctx, "a@x.com")
	assert.ErrorIs(t, err, domain.ErrAccountNotFound)
	_, err = index.FindByUsername(ctx, "alice")
	assert.ErrorIs(t, err, domain.ErrAccountNotFound)
}

func TestApply_ConcurrentWritersKeepNewestSequence(t *testing.T) {
	client := setupTestClient(t)
	index := NewReadIndexRepo(client)
	ctx := context.Background()

	// One projection written concurrently from many appliers, as when the
	// reindex tool runs next to a live pipe. Whatever the interleaving, the
	// highest sequence must end up stored; an older write landing after a
	// newer one would stick until the account's next change.
	account := indexAccount("alice", "a@x.com")
	const writers = 12

	var wg sync.WaitGroup
	errs := make([]error, writers)
	for i := 0; i < writers; i++ {
		i := i
		wg.Add(1)
		go func() {
			defer wg.Done()
			seq := int64(i + 1)
			versioned := *account
			versioned.Username = fmt.Sprintf("alice%02d", seq)
			versioned.Email = fmt.Sprintf("a%02d@x.com", seq)
			errs[i] = index.Apply(ctx, upsertRecord(seq, &versioned))
		}()
	}
	wg.Wait()

	for i, err := range errs {
		require.NoError(t, err, "writer %d", i)
	}

	got, err := index.FindByID(ctx, account.ID)
	require.NoError(t, err)
	assert.Equal(t, fmt.Sprintf("alice%02d", writers), got.Username)

	byEmail, err := index.FindByEmail(ctx, fmt.Sprintf("a%02d@x.com", writers))
	require.NoError(t, err)
	assert.Equal(t, account.ID, byEmail.ID)
}

func TestApply_ReplayedUpsertCannotResurrectDeleted(t *testing.T) {
	client := setupTestClient(t)
	index := NewReadIndexRepo(client)
	ctx := context.Background()

	account := indexAccount("alice", "a@x.com")
	record := upsertRecord(1, account)

	require.NoError(t, index.Apply(ctx, record))
	require.NoError(t, index.Apply(ctx, deleteRecord(2, account.ID)))

	// At-least-once delivery may replay the earlier upsert.
	require.NoError(t, index.Apply(ctx, record))

	_, err := index.FindByID(ctx, account.ID)
	assert.ErrorIs(t, err, domain.ErrAccountNotFound)
}
