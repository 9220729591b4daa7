package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/joho/godotenv"

	"github.com/example/darbak/internal/catalog"
	"github.com/example/darbak/internal/config"
	"github.com/example/darbak/internal/directory"
	httpapi "github.com/example/darbak/internal/http"
	"github.com/example/darbak/internal/ingest"
	"github.com/example/darbak/internal/lifecycle"
	"github.com/example/darbak/internal/logging"
	"github.com/example/darbak/internal/notify"
	"github.com/example/darbak/internal/session"
	"github.com/example/darbak/internal/storage"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.LoadServerConfig()
	if err != nil {
		slog.Error("invalid configuration", "error", err)
		os.Exit(1)
	}
	logger := logging.NewLogger(cfg.LogLevel)

	cat := catalog.Default()
	if cfg.NeighborhoodsFile != "" {
		if loaded, err := catalog.Load(cfg.NeighborhoodsFile); err == nil {
			cat = loaded
		} else if !errors.Is(err, os.ErrNotExist) {
			logger.Error("neighborhoods file unreadable", "path", cfg.NeighborhoodsFile, "error", err)
			os.Exit(1)
		}
	}

	var (
		dir   directory.Directory
		store storage.MatchStore
	)
	if cfg.PGDSN != "" {
		db, err := storage.OpenPostgres(cfg.PGDSN)
		if err != nil {
			logger.Error("postgres open failed", "error", err)
			os.Exit(1)
		}
		defer db.Close()
		if cfg.RunMigrations {
			if err := runMigrations(cfg.PGDSN, cfg.MigrationsDir); err != nil {
				logger.Error("migrations failed", "error", err)
				os.Exit(1)
			}
			logger.Info("migrations applied", "dir", cfg.MigrationsDir)
		}
		dir = directory.NewPostgresDirectory(db)
		store = storage.NewPostgresStore(db)
	} else {
		logger.Warn("PG_DSN unset, using in-memory stores")
		mem := directory.NewMemory()
		dir = mem
		store = storage.NewMemoryStore(mem)
	}

	var sessions session.Store
	if cfg.RedisAddr != "" {
		rs := session.NewRedisStore(cfg.RedisAddr, cfg.RedisPassword, cfg.SessionTTL)
		if err := rs.Ping(context.Background()); err != nil {
			logger.Error("redis unreachable", "addr", cfg.RedisAddr, "error", err)
			os.Exit(1)
		}
		defer rs.Close()
		sessions = rs
	} else {
		logger.Warn("REDIS_ADDR unset, using in-memory sessions")
		sessions = session.NewMemoryStore()
	}

	wsreg := notify.NewWSRegistry()
	notifier := notify.Multi{wsreg, &notify.LogNotifier{Logger: logger}}

	engine := &lifecycle.Engine{
		Store:    store,
		Dir:      dir,
		Notifier: notifier,
		Logger:   logger,
	}
	if len(cfg.KafkaBrokers) > 0 {
		producer := ingest.NewProducer(cfg.KafkaBrokers, cfg.KafkaUpdates)
		defer producer.Close()
		engine.Events = producer
	}

	srv := httpapi.NewServer(httpapi.Deps{
		Engine:   engine,
		Dir:      dir,
		Store:    store,
		Sessions: sessions,
		Catalog:  cat,
		WSReg:    wsreg,
		Logger:   logger,
	})

	httpServer := &http.Server{
		Addr:         cfg.HTTPAddr,
		Handler:      srv,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		logger.Info("listening", "addr", cfg.HTTPAddr)
		errCh <- httpServer.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("shutdown error", "error", err)
		}
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server stopped", "error", err)
			os.Exit(1)
		}
	}
}

func runMigrations(dsn, dir string) error {
	migrator, err := migrate.New("file://"+dir, dsn)
	if err != nil {
		return fmt.Errorf("init migrator: %w", err)
	}
	defer func() {
		_, _ = migrator.Close()
	}()
	if err := migrator.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migrate up: %w", err)
	}
	return nil
}
