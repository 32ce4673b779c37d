package auth

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/Skotchmaster/bookshelf/internal/logging"
	"github.com/Skotchmaster/bookshelf/internal/tokens"
)

const (
	ctxUserID   = "user_id"
	ctxUsername = "username"
)

type AccessParser interface {
	ParseAccessToken(raw string) (*tokens.AccessClaims, error)
}

type BearerMiddleware struct {
	Tokens AccessParser
}

func NewBearerMiddleware(p AccessParser) *BearerMiddleware {
	return &BearerMiddleware{Tokens: p}
}

// RequireAuth admits requests carrying a valid access token in the
// Authorization header and stores the caller's identity on the context.
func (m *BearerMiddleware) RequireAuth(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		l := logging.FromContext(c.Request().Context()).With("svc", "auth.middleware")

		raw, ok := bearerToken(c.Request().Header.Get(echo.HeaderAuthorization))
		if !ok {
			l.Warn("auth_rejected", "status", 401, "reason", "missing bearer token")
			return unauthorized()
		}

		claims, err := m.Tokens.ParseAccessToken(raw)
		if err != nil {
			l.Warn("auth_rejected", "status", 401, "reason", "invalid access token", "error", err)
			return unauthorized()
		}

		userID, err := strconv.ParseUint(claims.Subject, 10, 64)
		if err != nil {
			l.Warn("auth_rejected", "status", 401, "reason", "bad subject", "error", err)
			return unauthorized()
		}

		c.Set(ctxUserID, uint(userID))
		c.Set(ctxUsername, claims.Username)
		return next(c)
	}
}

func unauthorized() error {
	return echo.NewHTTPError(http.StatusUnauthorized, "could not validate credentials")
}

func bearerToken(header string) (string, bool) {
	scheme, token, found := strings.Cut(strings.TrimSpace(header), " ")
	if !found || !strings.EqualFold(scheme, "bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}

// UserID returns the authenticated caller set by RequireAuth.
func UserID(c echo.Context) (uint, bool) {
	id, ok := c.Get(ctxUserID).(uint)
	return id, ok
}

func Username(c echo.Context) string {
	name, _ := c.Get(ctxUsername).(string)
	return name
}
