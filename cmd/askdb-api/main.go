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

	"github.com/askdb/askdb/internal/api"
	"github.com/askdb/askdb/internal/auth"
	"github.com/askdb/askdb/internal/backend"
	_ "github.com/askdb/askdb/internal/backend/duckdb"
	_ "github.com/askdb/askdb/internal/backend/mysql"
	_ "github.com/askdb/askdb/internal/backend/postgres"
	_ "github.com/askdb/askdb/internal/backend/sqlite"
	_ "github.com/askdb/askdb/internal/backend/sqlserver"
	"github.com/askdb/askdb/internal/catalog"
	"github.com/askdb/askdb/internal/config"
	"github.com/askdb/askdb/internal/dictionary"
	"github.com/askdb/askdb/internal/history"
	historypostgres "github.com/askdb/askdb/internal/history/postgres"
	"github.com/askdb/askdb/internal/migrations"
	"github.com/askdb/askdb/internal/nl2sql"
	"github.com/askdb/askdb/internal/observability"
	"github.com/askdb/askdb/internal/session"
	s3store "github.com/askdb/askdb/internal/storage/s3"
)

const memoryHistoryEntries = 10000

func main() {
	cfg, err := config.LoadFromEnv("askdb-api")
	if err != nil {
		slog.Error("failed to load config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := observability.NewLogger(cfg, os.Stdout)
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var readiness []api.ReadinessCheck

	var objectStore *s3store.Store
	if cfg.ObjectStore.Enabled() {
		objectStore, err = s3store.New(ctx, s3store.ConfigFrom(cfg.ObjectStore))
		if err != nil {
			logger.Error("failed to initialize object store", slog.Any("error", err))
			os.Exit(1)
		}
		readiness = append(readiness, api.CheckObjectStore(objectStore.Ready))
	}

	var store history.Store = history.NewMemoryStore(memoryHistoryEntries)
	if cfg.History.DSN != "" {
		db, err := historypostgres.Open(ctx, historypostgres.DBConfigFrom(cfg.History))
		if err != nil {
			logger.Error("failed to open history db", slog.Any("error", err))
			os.Exit(1)
		}
		defer func() { _ = db.Close() }()
		if cfg.History.AutoMigrate {
			applied, err := migrations.NewRunner().Up(ctx, db, 0)
			if err != nil {
				logger.Error("failed to migrate history db", slog.Any("error", err))
				os.Exit(1)
			}
			logger.Info("history schema ready", slog.Int("applied", applied))
		}
		pgStore := historypostgres.NewStore(db)
		readiness = append(readiness, api.CheckHistoryStore(pgStore.HealthCheck))
		store = pgStore
	}

	var archiver session.Archiver
	if cfg.History.ArchiveEnabled {
		if objectStore == nil {
			logger.Error("history archiving requires an object store")
			os.Exit(1)
		}
		archiver = history.NewArchiver(objectStore)
	}

	sources := []dictionary.Source{}
	if objectStore != nil {
		sources = append(sources, dictionary.ObjectStore(objectStore, cfg.Suggest.DictionaryPrefix))
	}
	if cfg.Suggest.DictionaryDir != "" {
		sources = append(sources, dictionary.Dir(cfg.Suggest.DictionaryDir))
	}
	sources = append(sources, dictionary.Embedded())

	translator, err := nl2sql.New(cfg.AI, logger)
	if err != nil {
		logger.Error("failed to initialize query translator", slog.Any("error", err))
		os.Exit(1)
	}
	if translator == nil {
		logger.Warn("ai translation disabled; only SQL input will resolve")
	}

	backendOpts := backend.Options{
		ConnectTimeout: cfg.Backend.ConnectTimeout,
		ExecuteTimeout: cfg.Backend.ExecuteTimeout,
		MaxRows:        cfg.Backend.MaxRows,
		MaxOpenConns:   cfg.Backend.MaxOpenConns,
	}
	manager := session.NewManager(session.Options{
		Opener: func(databaseType catalog.DatabaseType) (backend.Backend, error) {
			return backend.Open(databaseType, backendOpts)
		},
		Translator: translator,
		Dictionary: dictionary.Layered(sources...),
		History:    store,
		Archiver:   archiver,
		Config: session.Config{
			IdleTTL:         cfg.Session.IdleTTL,
			ReapInterval:    cfg.Session.ReapInterval,
			MaxSessions:     cfg.Session.MaxSessions,
			SuggestionCount: cfg.AI.SuggestionCount,
			HistoryLimit:    cfg.History.LoadLimit,
			CloseTimeout:    10 * time.Second,
		},
		Logger: logger,
	})

	deps := api.Dependencies{
		Logger:            logger,
		Sessions:          manager,
		Readiness:         api.CombineReadinessChecks(readiness...),
		DependencyTimeout: time.Second,
	}
	if cfg.Auth.Required {
		validator, err := auth.NewStaticAPIKeyValidator(cfg.Auth.StaticKeys)
		if err != nil {
			logger.Error("failed to parse static auth keys", slog.Any("error", err))
			os.Exit(1)
		}
		deps.AuthMiddleware = auth.Middleware(logger, validator)
	}

	server := &http.Server{
		Addr:         cfg.HTTP.Address,
		Handler:      api.NewHandler(cfg, deps),
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
		IdleTimeout:  cfg.HTTP.IdleTimeout,
	}

	managerDone := make(chan struct{})
	go func() {
		defer close(managerDone)
		if err := manager.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("session manager stopped", slog.Any("error", err))
		}
	}()

	go func() {
		logger.Info("starting api server", slog.String("addr", cfg.HTTP.Address))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("api server failed", slog.Any("error", err))
			stop()
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	logger.Info("shutting down api server")
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", slog.Any("error", err))
		_ = server.Close()
	}
	<-managerDone
}
