package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jonboulle/clockwork"
	goredis "github.com/redis/go-redis/v9"

	"github.com/pscheid92/authority/internal/app"
	"github.com/pscheid92/authority/internal/outbox"
	"github.com/pscheid92/authority/internal/platform/config"
	"github.com/pscheid92/authority/internal/platform/logging"
	"github.com/pscheid92/authority/internal/postgres"
	"github.com/pscheid92/authority/internal/redis"
	"github.com/pscheid92/authority/internal/server"
	"github.com/pscheid92/authority/internal/token"
)

func setupConfig() *config.Config {
	cfg, err := config.Load()
	if err != nil {
		// Use log before slog is initialized
		log.Fatalf("Failed to load config: %v", err)
	}
	return cfg
}

func setupDB(cfg *config.Config) *pgxpool.Pool {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := postgres.Connect(ctx, cfg.DatabaseURL)
	if err != nil {
		slog.Error("Failed to connect to database", "error", err)
		os.Exit(1)
	}

	if err := postgres.RunMigrationsWithLock(ctx, pool); err != nil {
		slog.Error("Failed to run migrations", "error", err)
		os.Exit(1)
	}

	return pool
}

func setupRedis(ctx context.Context, cfg *config.Config) *goredis.Client {
	client, err := redis.NewClient(ctx, cfg.RedisURL)
	if err != nil {
		slog.Error("Failed to connect to Redis", "error", err)
		os.Exit(1)
	}
	return client
}

func runGracefulShutdown(srv *server.Server, cancelPipe context.CancelFunc) <-chan struct{} {
	done := make(chan struct{})
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		<-sigChan
		slog.Info("Shutdown signal received, cleaning up...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			slog.Error("Server shutdown error", "error", err)
		}

		cancelPipe()

		close(done)
	}()

	return done
}

func main() {
	clock := clockwork.NewRealClock()

	cfg := setupConfig()

	logging.InitLogger(cfg.LogLevel, cfg.LogFormat)
	slog.Info("Application starting", "env", cfg.AppEnv, "port", cfg.Port)

	pool := setupDB(cfg)
	defer pool.Close()

	redisClient := setupRedis(context.Background(), cfg)
	defer func() { _ = redisClient.Close() }()

	accountRepo := postgres.NewAccountRepo(pool)
	outboxRepo := postgres.NewOutboxRepo(pool, clock)
	readIndex := redis.NewReadIndexRepo(redisClient)
	revocation := redis.NewRevocationRepo(redisClient, cfg.RevocationOpTimeout, cfg.FailOpen())

	issuer := token.NewIssuer(cfg.JWTSecretBytes(), cfg.AccessTokenTTL, cfg.RefreshTokenTTL, clock)
	hasher, err := token.NewHasher()
	if err != nil {
		slog.Error("Failed to create password hasher", "error", err)
		os.Exit(1)
	}

	appSvc := app.NewService(accountRepo, readIndex, issuer, hasher, revocation)

	pipe := outbox.NewPipe(outboxRepo, readIndex, clock, cfg.OutboxPartitions, cfg.OutboxPollInterval)
	pipeCtx, cancelPipe := context.WithCancel(context.Background())
	go func() {
		if err := pipe.Run(pipeCtx); err != nil {
			slog.Error("Propagation pipe stopped", "error", err)
		}
	}()

	srv := server.NewServer(cfg, appSvc, pool, redisClient)

	done := runGracefulShutdown(srv, cancelPipe)

	slog.Info("Server starting", "port", cfg.Port)
	if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		slog.Error("Server error", "error", err)
		os.Exit(1)
	}

	<-done
}
