package server

import (
	"fmt"
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	apperrors "github.com/pscheid92/authority/internal/errors"
)

func (s *Server) handleGetAccount(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return apperrors.ValidationError("invalid account ID").WithContext("id", c.Param("id"))
	}

	account, err := s.app.GetAccount(c.Request().Context(), id)
	if err != nil {
		return err
	}

	if err := c.JSON(http.StatusOK, account); err != nil {
		return fmt.Errorf("failed to send JSON response: %w", err)
	}
	return nil
}

func (s *Server) handleDeleteAccount(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return apperrors.ValidationError("invalid account ID").WithContext("id", c.Param("id"))
	}

	callerID, ok := c.Get("accountID").(uuid.UUID)
	if !ok {
		return apperrors.InternalError("invalid account ID in context", nil)
	}
	if callerID != id {
		// Only the account owner may delete it; respond as if the target
		// does not exist to avoid confirming other accounts.
		return apperrors.NotFoundError("account not found")
	}

	if err := s.app.DeleteAccount(c.Request().Context(), id); err != nil {
		return err
	}

	if err := c.JSON(http.StatusOK, map[string]string{"status": "ok"}); err != nil {
		return fmt.Errorf("failed to send JSON response: %w", err)
	}
	return nil
}

// requireAuth verifies the bearer token and stores the caller's account ID
// in the echo context.
func (s *Server) requireAuth(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		token := bearerToken(c)
		if token == "" {
			return apperrors.UnauthorizedError("missing bearer token")
		}

		accountID, err := s.app.Verify(c.Request().Context(), token)
		if err != nil {
			return err
		}

		c.Set("accountID", accountID)
		return next(c)
	}
}
