// Command reindex rebuilds the Redis read index from the account registry.
// The index is a disposable projection; after data loss or corruption this
// tool replays every live account into it. Safe to run while the server is
// up: projections are stamped with the registry's latest outbox sequence at
// snapshot time, so concurrent pipe writes with newer sequences still win.
package main

import (
	"context"
	"flag"
	"log"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	goredis "github.com/redis/go-redis/v9"

	"github.com/pscheid92/authority/internal/domain"
	"github.com/pscheid92/authority/internal/postgres"
	"github.com/pscheid92/authority/internal/redis"
)

const pageSize = 500

func main() {
	var (
		databaseURL = flag.String("database", os.Getenv("DATABASE_URL"), "Postgres URL (or set DATABASE_URL env)")
		redisURL    = flag.String("redis", os.Getenv("REDIS_URL"), "Redis URL (or set REDIS_URL env)")
		dryRun      = flag.Bool("dry-run", false, "Dry run mode (don't write to Redis)")
		verbose     = flag.Bool("verbose", false, "Verbose logging")
	)
	flag.Parse()

	if *databaseURL == "" {
		log.Fatal("Postgres URL required (--database or DATABASE_URL env)")
	}
	if *redisURL == "" {
		log.Fatal("Redis URL required (--redis or REDIS_URL env)")
	}

	logLevel := slog.LevelInfo
	if *verbose {
		logLevel = slog.LevelDebug
	}
	handler := slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel})
	slog.SetDefault(slog.New(handler))

	ctx := context.Background()

	pool, err := postgres.Connect(ctx, *databaseURL)
	if err != nil {
		log.Fatalf("Failed to connect to Postgres: %v", err)
	}
	defer pool.Close()

	opts, err := goredis.ParseURL(*redisURL)
	if err != nil {
		log.Fatalf("Failed to parse Redis URL: %v", err)
	}
	rdb := goredis.NewClient(opts)
	defer rdb.Close()

	if err := rdb.Ping(ctx).Err(); err != nil {
		log.Fatalf("Failed to connect to Redis: %v", err)
	}
	slog.Info("Connected", "redis", sanitizeURL(*redisURL))

	accounts := postgres.NewAccountRepo(pool)
	outbox := postgres.NewOutboxRepo(pool, clockwork.NewRealClock())
	index := redis.NewReadIndexRepo(rdb)

	if err := rebuildIndex(ctx, accounts, outbox, index, *dryRun); err != nil {
		log.Fatalf("Reindex failed: %v", err)
	}

	slog.Info("Reindex complete")
}

func rebuildIndex(ctx context.Context, accounts domain.AccountRepository, outbox domain.OutboxRepository, index domain.ReadIndex, dryRun bool) error {
	start := time.Now()

	// Snapshot the sequence watermark first. Every account listed below was
	// committed at or before this sequence, so stamping projections with it
	// never overwrites a newer write from the running pipe.
	sequence, err := outbox.LatestSequence(ctx)
	if err != nil {
		return err
	}

	slog.Info("Starting reindex", "dry_run", dryRun, "sequence", sequence)

	var afterID uuid.UUID
	var indexed int

	for {
		page, err := accounts.List(ctx, afterID, pageSize)
		if err != nil {
			return err
		}
		if len(page) == 0 {
			break
		}

		for i := range page {
			account := page[i]
			slog.Debug("Indexing account", "account_id", account.ID)

			if !dryRun {
				record := domain.OutboxRecord{
					Sequence:  sequence,
					AccountID: account.ID,
					Payload: domain.ChangePayload{
						Op:      domain.ChangeUpsert,
						Account: &account,
					},
				}
				if err := index.Apply(ctx, record); err != nil {
					return err
				}
			}
			indexed++
		}

		afterID = page[len(page)-1].ID
	}

	slog.Info("Reindex summary",
		"indexed", indexed,
		"sequence", sequence,
		"duration_ms", time.Since(start).Milliseconds())

	return nil
}

func sanitizeURL(url string) string {
	// Hide password in Redis URL for logging
	if strings.Contains(url, "@") {
		parts := strings.Split(url, "@")
		if len(parts) == 2 {
			credParts := strings.Split(parts[0], ":")
			if len(credParts) >= 2 {
				return credParts[0] + ":***@" + parts[1]
			}
		}
	}
	return url
}
