package server

import (
	"fmt"
	"net/http"
	"net/mail"
	"strings"

	"github.com/labstack/echo/v4"

	apperrors "github.com/pscheid92/authority/internal/errors"
)

const (
	minUsernameLength = 3
	maxUsernameLength = 32
	minPasswordLength = 8
	maxPasswordLength = 512
)

type registerRequest struct {
	Username string `json:"username"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

type logoutRequest struct {
	Token string `json:"token"`
}

func (s *Server) handleRegister(c echo.Context) error {
	var req registerRequest
	if err := c.Bind(&req); err != nil {
		return apperrors.ValidationError("invalid request body")
	}

	req.Username = strings.TrimSpace(req.Username)
	req.Email = normalizeEmail(req.Email)

	if err := validateUsername(req.Username); err != nil {
		return err
	}
	if err := validateEmail(req.Email); err != nil {
		return err
	}
	if err := validatePassword(req.Password); err != nil {
		return err
	}

	result, err := s.app.Register(c.Request().Context(), req.Username, req.Email, req.Password)
	if err != nil {
		return err
	}

	if err := c.JSON(http.StatusCreated, result); err != nil {
		return fmt.Errorf("failed to send JSON response: %w", err)
	}
	return nil
}

func (s *Server) handleLogin(c echo.Context) error {
	var req loginRequest
	if err := c.Bind(&req); err != nil {
		return apperrors.ValidationError("invalid request body")
	}

	req.Email = normalizeEmail(req.Email)
	if req.Email == "" || req.Password == "" {
		return apperrors.ValidationError("email and password are required")
	}

	result, err := s.app.Login(c.Request().Context(), req.Email, req.Password)
	if err != nil {
		return err
	}

	if err := c.JSON(http.StatusOK, result); err != nil {
		return fmt.Errorf("failed to send JSON response: %w", err)
	}
	return nil
}

func (s *Server) handleRefresh(c echo.Context) error {
	var req refreshRequest
	if err := c.Bind(&req); err != nil {
		return apperrors.ValidationError("invalid request body")
	}
	if req.RefreshToken == "" {
		return apperrors.ValidationError("refresh_token is required")
	}

	pair, err := s.app.Refresh(c.Request().Context(), req.RefreshToken)
	if err != nil {
		return err
	}

	if err := c.JSON(http.StatusOK, pair); err != nil {
		return fmt.Errorf("failed to send JSON response: %w", err)
	}
	return nil
}

// handleLogout accepts the token either as a bearer header or in the body,
// so both halves of a pair can be revoked with the same endpoint.
func (s *Server) handleLogout(c echo.Context) error {
	token := bearerToken(c)
	if token == "" {
		var req logoutRequest
		if err := c.Bind(&req); err != nil {
			return apperrors.ValidationError("invalid request body")
		}
		token = req.Token
	}
	if token == "" {
		return apperrors.ValidationError("token is required")
	}

	if err := s.app.Logout(c.Request().Context(), token); err != nil {
		return err
	}

	if err := c.JSON(http.StatusOK, map[string]string{"status": "ok"}); err != nil {
		return fmt.Errorf("failed to send JSON response: %w", err)
	}
	return nil
}

func (s *Server) handleVerify(c echo.Context) error {
	token := bearerToken(c)
	if token == "" {
		return apperrors.UnauthorizedError("missing bearer token")
	}

	accountID, err := s.app.Verify(c.Request().Context(), token)
	if err != nil {
		return err
	}

	if err := c.JSON(http.StatusOK, map[string]string{"account_id": accountID.String()}); err != nil {
		return fmt.Errorf("failed to send JSON response: %w", err)
	}
	return nil
}

func bearerToken(c echo.Context) string {
	header := c.Request().Header.Get(echo.HeaderAuthorization)
	const prefix = "Bearer "
	if len(header) > len(prefix) && strings.EqualFold(header[:len(prefix)], prefix) {
		return header[len(prefix):]
	}
	return ""
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func validateUsername(username string) error {
	if len(username) < minUsernameLength || len(username) > maxUsernameLength {
		return apperrors.ValidationError(fmt.Sprintf("username must be between %d and %d characters", minUsernameLength, maxUsernameLength))
	}
	for _, r := range username {
		if !isUsernameRune(r) {
			return apperrors.ValidationError("username may only contain letters, digits, underscores, and hyphens")
		}
	}
	return nil
}

func isUsernameRune(r rune) bool {
	switch {
	case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
		return true
	case r == '_' || r == '-':
		return true
	}
	return false
}

func validateEmail(email string) error {
	if email == "" {
		return apperrors.ValidationError("email is required")
	}
	if _, err := mail.ParseAddress(email); err != nil {
		return apperrors.ValidationError("email is not a valid address")
	}
	return nil
}

func validatePassword(password string) error {
	if len(password) < minPasswordLength {
		return apperrors.ValidationError(fmt.Sprintf("password must be at least %d characters", minPasswordLength))
	}
	if len(password) > maxPasswordLength {
		return apperrors.ValidationError(fmt.Sprintf("password must be at most %d characters", maxPasswordLength))
	}
	return nil
}
