package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/Skotchmaster/bookshelf/internal/config"
	"github.com/Skotchmaster/bookshelf/internal/db"
	"github.com/Skotchmaster/bookshelf/internal/events"
	"github.com/Skotchmaster/bookshelf/internal/logging"
	authmw "github.com/Skotchmaster/bookshelf/internal/middleware/auth"
	loggingmw "github.com/Skotchmaster/bookshelf/internal/middleware/logging"
	"github.com/Skotchmaster/bookshelf/internal/models"
	"github.com/Skotchmaster/bookshelf/internal/repo"
	"github.com/Skotchmaster/bookshelf/internal/search"
	"github.com/Skotchmaster/bookshelf/internal/service/auth"
	"github.com/Skotchmaster/bookshelf/internal/service/library"
	"github.com/Skotchmaster/bookshelf/internal/service/token"
	"github.com/Skotchmaster/bookshelf/internal/storage"
	"github.com/Skotchmaster/bookshelf/internal/thumbnail"
	httpserver "github.com/Skotchmaster/bookshelf/internal/transport/http"
)

func main() {
	cfg, err := config.Load(".env")
	if err != nil {
		slog.Error("config error", "error", err)
		os.Exit(1)
	}

	logger := logging.New(cfg.LogLevel).With("service", cfg.ServiceName)
	slog.SetDefault(logger)

	initCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	gdb, err := db.Open(initCtx, cfg.DatabaseURL)
	cancel()
	if err != nil {
		logger.Error("db init error", "error", err)
		os.Exit(1)
	}
	if err := db.Migrate(gdb); err != nil {
		logger.Error("db migrate error", "error", err)
		os.Exit(1)
	}

	disk, err := storage.NewDisk(cfg.BooksDir, cfg.ThumbnailsDir)
	if err != nil {
		logger.Error("storage init error", "error", err)
		os.Exit(1)
	}

	var publisher events.Publisher = events.Nop{}
	var kafka *events.KafkaPublisher
	if len(cfg.KafkaBrokers) > 0 {
		kafka = events.NewKafkaPublisher(cfg.KafkaBrokers, cfg.KafkaTopic)
		publisher = kafka
	} else {
		logger.Info("kafka disabled", "reason", "KAFKA_BROKERS is empty")
	}

	var index search.Index
	if cfg.ESURL != "" {
		client, err := search.NewClient(search.Config{URL: cfg.ESURL, User: cfg.ESUser, Password: cfg.ESPassword}, logger)
		if err != nil {
			logger.Warn("elasticsearch unavailable, searching the database", "error", err)
		} else {
			index = &search.ESIndex{Client: client, Index: cfg.ESIndex}
		}
	}

	gormRepo := &repo.GormRepo{DB: gdb}

	tokens := &token.TokenService{
		Store:      gormRepo,
		Secret:     []byte(cfg.JWTSecret),
		AccessTTL:  cfg.AccessTokenTTL,
		RefreshTTL: cfg.RefreshTokenTTL,
	}

	lib := &library.LibraryService{
		Books: gormRepo,
		Files: disk,
		Renderers: map[models.FileType]thumbnail.Renderer{
			models.FileTypePDF:  &thumbnail.PDF{Bin: cfg.PdftoppmPath, Width: cfg.ThumbnailWidth},
			models.FileTypeEPUB: &thumbnail.EPUB{Width: cfg.ThumbnailWidth},
		},
		Index:          index,
		Events:         publisher,
		MaxUploadBytes: cfg.MaxUploadBytes,
	}

	e := echo.New()
	e.HideBanner = true
	e.Server.ReadHeaderTimeout = 3 * time.Second
	e.Server.ReadTimeout = 5 * time.Minute
	e.Server.WriteTimeout = 5 * time.Minute
	e.Server.IdleTimeout = 60 * time.Second
	e.Validator = httpserver.NewValidator()

	e.Pre(middleware.RemoveTrailingSlash())
	e.Use(
		middleware.Recover(),
		middleware.RequestID(),
		loggingmw.RequestLogger(logger),
		middleware.CORSWithConfig(middleware.CORSConfig{
			AllowOrigins: cfg.CORSOrigins,
			AllowHeaders: []string{echo.HeaderOrigin, echo.HeaderContentType, echo.HeaderAccept, echo.HeaderAuthorization},
		}),
	)

	httpserver.Register(e, &httpserver.Deps{
		DB:            gdb,
		Auth:          &httpserver.AuthHTTP{Svc: &auth.AuthService{Users: gormRepo, Tokens: tokens, Events: publisher}},
		Library:       &httpserver.LibraryHTTP{Svc: lib, MaxUploadBytes: cfg.MaxUploadBytes},
		Bearer:        authmw.NewBearerMiddleware(tokens),
		BooksDir:      cfg.BooksDir,
		ThumbnailsDir: cfg.ThumbnailsDir,
		AuthRateLimit: cfg.AuthRateLimit,
	})

	go func() {
		logger.Info("http server starting", "addr", cfg.Addr())
		if err := e.Start(cfg.Addr()); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := e.Shutdown(ctx); err != nil {
		logger.Error("server shutdown error", "error", err)
	}
	if err := db.Close(gdb); err != nil {
		logger.Error("db close error", "error", err)
	}
	if kafka != nil {
		if err := kafka.Close(); err != nil {
			logger.Error("kafka close error", "error", err)
		}
	}

	logger.Info("shutdown complete")
}
