package server

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	goredis "github.com/redis/go-redis/v9"

	"github.com/pscheid92/authority/internal/app"
	"github.com/pscheid92/authority/internal/domain"
	apperrors "github.com/pscheid92/authority/internal/errors"
	"github.com/pscheid92/authority/internal/platform/config"
	"github.com/pscheid92/authority/internal/platform/correlation"
)

// AuthService is the application surface the transport depends on.
type AuthService interface {
	Register(ctx context.Context, username, email, password string) (*app.AuthResult, error)
	Login(ctx context.Context, email, password string) (*app.AuthResult, error)
	Refresh(ctx context.Context, refreshToken string) (domain.TokenPair, error)
	Logout(ctx context.Context, token string) error
	Verify(ctx context.Context, token string) (uuid.UUID, error)
	GetAccount(ctx context.Context, accountID uuid.UUID) (*domain.Account, error)
	DeleteAccount(ctx context.Context, accountID uuid.UUID) error
}

type Server struct {
	echo      *echo.Echo
	config    *config.Config
	app       AuthService
	db        *pgxpool.Pool
	redis     *goredis.Client
	startTime time.Time

	// Health check overrides for tests.
	postgresHealthCheck postgresHealthChecker
	redisHealthCheck    redisHealthChecker
}

func NewServer(cfg *config.Config, authService AuthService, db *pgxpool.Pool, rdb *goredis.Client) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(correlationMiddleware())
	e.Use(middleware.Recover())
	e.Use(middleware.Secure())
	e.Use(requestLogger())
	e.Use(apperrors.Middleware())

	srv := &Server{
		echo:      e,
		config:    cfg,
		app:       authService,
		db:        db,
		redis:     rdb,
		startTime: time.Now(),
	}

	srv.registerRoutes()

	return srv
}

func (s *Server) Start() error {
	slog.Info("Starting server", "port", s.config.Port)
	return s.echo.Start(fmt.Sprintf(":%s", s.config.Port))
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.echo.Shutdown(ctx)
}

// correlationMiddleware assigns each request an ID and threads it through
// the request context so every log line of the request carries it.
func correlationMiddleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			id := c.Request().Header.Get("X-Correlation-ID")
			if id == "" {
				id = correlation.NewID()
			}
			ctx := correlation.WithID(c.Request().Context(), id)
			c.SetRequest(c.Request().WithContext(ctx))
			c.Response().Header().Set("X-Correlation-ID", id)
			return next(c)
		}
	}
}

func requestLogger() echo.MiddlewareFunc {
	return middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogStatus:  true,
		LogURI:     true,
		LogMethod:  true,
		LogLatency: true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			slog.InfoContext(c.Request().Context(), "Request",
				"method", v.Method,
				"uri", v.URI,
				"status", v.Status,
				"latency_ms", v.Latency.Milliseconds(),
			)
			return nil
		},
	})
}
