package server

import (
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"golang.org/x/time/rate"
)

const (
	credentialRatePerSecond = 5
	credentialBurst         = 10
)

// newCredentialRateLimiter throttles register and login per client IP. The
// limits are generous for humans and tight for brute-force scripts; state
// lives in memory and expires after a few minutes of inactivity.
func newCredentialRateLimiter() echo.MiddlewareFunc {
	store := middleware.NewRateLimiterMemoryStoreWithConfig(middleware.RateLimiterMemoryStoreConfig{
		Rate:      rate.Limit(credentialRatePerSecond),
		Burst:     credentialBurst,
		ExpiresIn: 3 * time.Minute,
	})

	return middleware.RateLimiterWithConfig(middleware.RateLimiterConfig{
		Store: store,
		IdentifierExtractor: func(c echo.Context) (string, error) {
			return c.RealIP(), nil
		},
	})
}
