package httpserver

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/Skotchmaster/bookshelf/internal/logging"
	"github.com/Skotchmaster/bookshelf/internal/service/auth"
)

type AuthHTTP struct {
	Svc *auth.AuthService
}

func (h *AuthHTTP) Register(c echo.Context) error {
	var req credentialsRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if err := c.Validate(&req); err != nil {
		return err
	}

	if _, err := h.Svc.Register(c.Request().Context(), req.Username, req.Password); err != nil {
		switch {
		case errors.Is(err, auth.ErrDuplicateUsername):
			return echo.NewHTTPError(http.StatusBadRequest, "Username already registered")
		case errors.Is(err, auth.ErrValidation):
			return echo.NewHTTPError(http.StatusBadRequest, "username and password are required")
		default:
			return echo.NewHTTPError(http.StatusInternalServerError, "could not create user")
		}
	}
	return c.JSON(http.StatusOK, messageResponse{Message: "User created successfully"})
}

// Login accepts both form and JSON bodies.
func (h *AuthHTTP) Login(c echo.Context) error {
	var req credentialsRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if err := c.Validate(&req); err != nil {
		return err
	}

	pair, err := h.Svc.Login(c.Request().Context(), req.Username, req.Password)
	if err != nil {
		if errors.Is(err, auth.ErrInvalidCredentials) {
			return echo.NewHTTPError(http.StatusBadRequest, "Invalid username or password.")
		}
		return echo.NewHTTPError(http.StatusInternalServerError, "could not log in")
	}
	return c.JSON(http.StatusOK, tokenResponse{
		AccessToken:  pair.AccessToken,
		RefreshToken: pair.RefreshToken,
		TokenType:    "bearer",
	})
}

func (h *AuthHTTP) Refresh(c echo.Context) error {
	var req refreshRequest
	if err := c.Bind(&req); err != nil || req.RefreshToken == "" {
		return echo.NewHTTPError(http.StatusUnauthorized, "Invalid refresh token.")
	}

	pair, err := h.Svc.Refresh(c.Request().Context(), req.RefreshToken)
	if err != nil {
		if errors.Is(err, auth.ErrInvalidCredentials) {
			return echo.NewHTTPError(http.StatusUnauthorized, "Invalid refresh token.")
		}
		logging.FromContext(c.Request().Context()).Error("refresh_failed", "status", 500, "error", err)
		return echo.NewHTTPError(http.StatusInternalServerError, "could not refresh tokens")
	}
	return c.JSON(http.StatusOK, tokenResponse{
		AccessToken:  pair.AccessToken,
		RefreshToken: pair.RefreshToken,
		TokenType:    "bearer",
	})
}

// Logout always reports success.
func (h *AuthHTTP) Logout(c echo.Context) error {
	var req refreshRequest
	if err := c.Bind(&req); err == nil {
		h.Svc.Logout(c.Request().Context(), req.RefreshToken)
	}
	return c.JSON(http.StatusOK, messageResponse{Message: "Logged out"})
}
