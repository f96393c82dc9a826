package server

import (
	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func (s *Server) registerRoutes() {
	// Observability endpoints (no auth required)
	s.echo.GET("/healthz", s.handleLiveness)
	s.echo.GET("/readyz", s.handleReadiness)
	s.echo.GET("/version", s.handleVersion)
	s.echo.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	// Credential-bearing endpoints get per-IP rate limiting so password
	// guessing is throttled at the edge.
	credentialLimiter := newCredentialRateLimiter()
	s.echo.POST("/auth/register", s.handleRegister, credentialLimiter)
	s.echo.POST("/auth/login", s.handleLogin, credentialLimiter)

	s.echo.POST("/auth/refresh", s.handleRefresh)
	s.echo.POST("/auth/logout", s.handleLogout)
	s.echo.GET("/auth/verify", s.handleVerify)

	s.echo.GET("/accounts/:id", s.handleGetAccount)
	s.echo.DELETE("/accounts/:id", s.handleDeleteAccount, s.requireAuth)
}
