package httpserver

import (
	"context"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"golang.org/x/time/rate"
	"gorm.io/gorm"

	"github.com/Skotchmaster/bookshelf/internal/db"
	authmw "github.com/Skotchmaster/bookshelf/internal/middleware/auth"
)

type Deps struct {
	DB      *gorm.DB
	Auth    *AuthHTTP
	Library *LibraryHTTP
	Bearer  *authmw.BearerMiddleware

	BooksDir      string
	ThumbnailsDir string
	// AuthRateLimit is requests per second per client on the credential
	// endpoints; zero disables the limiter.
	AuthRateLimit float64
}

func Register(e *echo.Echo, d *Deps) {
	e.GET("/health/live", func(c echo.Context) error { return c.NoContent(http.StatusOK) })
	e.GET("/health/ready", func(c echo.Context) error {
		ctx, cancel := context.WithTimeout(c.Request().Context(), 2*time.Second)
		defer cancel()
		if err := db.Ping(ctx, d.DB); err != nil {
			return c.NoContent(http.StatusServiceUnavailable)
		}
		return c.NoContent(http.StatusOK)
	})

	e.Static("/books", d.BooksDir)
	e.Static("/thumbnails", d.ThumbnailsDir)

	var credMW []echo.MiddlewareFunc
	if d.AuthRateLimit > 0 {
		credMW = append(credMW, middleware.RateLimiter(
			middleware.NewRateLimiterMemoryStore(rate.Limit(d.AuthRateLimit)),
		))
	}

	for _, g := range []*echo.Group{e.Group(""), e.Group("/api/v1")} {
		g.POST("/register", d.Auth.Register, credMW...)
		g.POST("/login", d.Auth.Login, credMW...)
		g.POST("/refresh", d.Auth.Refresh, credMW...)
		g.POST("/logout", d.Auth.Logout)

		g.POST("/upload", d.Library.Upload, d.Bearer.RequireAuth)
		g.GET("/library/:user_id", d.Library.Library, d.Bearer.RequireAuth)
		g.GET("/library/:user_id/search", d.Library.Search, d.Bearer.RequireAuth)
		g.PUT("/edit/:book_id", d.Library.Edit, d.Bearer.RequireAuth)
		g.DELETE("/delete/:book_id", d.Library.Delete, d.Bearer.RequireAuth)
	}
}
