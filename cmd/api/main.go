// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/adiadia/live-scoreboard/internal/auth"
	"github.com/adiadia/live-scoreboard/internal/broadcast"
	"github.com/adiadia/live-scoreboard/internal/config"
	"github.com/adiadia/live-scoreboard/internal/logging"
	"github.com/adiadia/live-scoreboard/internal/persistence/postgres"
	"github.com/adiadia/live-scoreboard/internal/persistence/sqlite"
	"github.com/adiadia/live-scoreboard/internal/repository"
	"github.com/adiadia/live-scoreboard/internal/serializer"
	"github.com/adiadia/live-scoreboard/internal/subscription"
	httptransport "github.com/adiadia/live-scoreboard/internal/transport/http"
)

var (
	Version   = "dev"
	Commit    = "none"
	BuildDate = "unknown"
)

// eventStore is what the API needs from a storage driver.
type eventStore interface {
	httptransport.EventReader
	serializer.Store
	Ping(ctx context.Context) error
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	ctx, stop := signal.NotifyContext(
		context.Background(),
		os.Interrupt,
		syscall.SIGTERM,
	)
	defer stop()

	logger := logging.NewLogger(cfg.Env, cfg.LogLevel)

	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		log.Fatalf("store %s: %v", cfg.StoreDriver, err)
	}

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           a.handler,
		ReadHeaderTimeout: 5 * time.Second,
		BaseContext: func(net.Listener) context.Context {
			return ctx
		},
	}

	go func() {
		logger.Info("api listening",
			"addr", cfg.HTTPAddr,
			"store", cfg.StoreDriver,
			"version", Version,
			"commit", Commit,
			"build_date", BuildDate,
		)

		if err := srv.ListenAndServe(); err != nil &&
			!errors.Is(err, http.ErrServerClosed) {
			logger.Error("server failed", "error", err)
			os.Exit(1)
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(
		context.Background(),
		5*time.Second,
	)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", "error", err)
	}
	a.close()
}

// app holds the long-lived components behind the HTTP server.
type app struct {
	handler    http.Handler
	registry   *subscription.Registry
	events     *serializer.Serializer
	dispatcher *broadcast.Dispatcher
	closeStore func()
}

// newApp opens the store and wires the pipeline. ctx bounds startup only;
// the dispatcher runs until close so commits made while the server drains
// still reach their subscribers.
func newApp(ctx context.Context, cfg config.Config, logger *slog.Logger) (*app, error) {
	store, health, closeStore, err := openStore(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}

	registry := subscription.NewRegistry(logger)
	dispatcher := broadcast.NewDispatcher(registry, cfg.DispatchLanes, logger)
	dispatcher.Start(context.Background())

	events := serializer.New(store, dispatcher, logger, serializer.Options{
		MaxAttempts: cfg.MaxCASAttempts,
	})

	handler := httptransport.NewRouter(httptransport.Deps{
		Events:          store,
		Writer:          events,
		Registry:        registry,
		Snapshots:       events,
		Identities:      auth.NewTokenResolver(cfg.JWTSecret, cfg.JWTIssuer, cfg.AdminToken),
		Health:          health,
		Logger:          logger,
		QueueSize:       cfg.OutboundQueueSize,
		WriteRatePerMin: cfg.WriteRateLimitPerMin,
		Version:         Version,
		Commit:          Commit,
		BuildDate:       BuildDate,
	})

	return &app{
		handler:    handler,
		registry:   registry,
		events:     events,
		dispatcher: dispatcher,
		closeStore: closeStore,
	}, nil
}

// close drains every dispatch lane and then releases the store. Call it
// after the HTTP server has shut down.
func (a *app) close() {
	a.dispatcher.Stop()
	a.closeStore()
}

func openStore(ctx context.Context, cfg config.Config, logger *slog.Logger) (eventStore, httptransport.HealthChecker, func(), error) {
	switch cfg.StoreDriver {
	case config.StorePostgres:
		pool, err := postgres.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns)
		if err != nil {
			return nil, nil, nil, err
		}
		if cfg.AutoMigrate {
			if err := postgres.EnsureSchema(ctx, pool, logger); err != nil {
				pool.Close()
				return nil, nil, nil, fmt.Errorf("migrate: %w", err)
			}
		}
		return repository.NewEventRepository(pool, logger), postgres.NewSchemaHealthChecker(pool), pool.Close, nil

	case config.StoreSQLite:
		db, err := sqlite.Open(ctx, cfg.SQLitePath, logger)
		if err != nil {
			return nil, nil, nil, err
		}
		store := repository.NewSQLiteEventRepository(db, logger)
		return store, httptransport.HealthCheckFunc(store.Ping), closeDB(db, logger), nil

	default:
		logger.Warn("using in-memory event store; state is lost on restart")
		store := repository.NewMemoryEventRepository()
		return store, httptransport.HealthCheckFunc(store.Ping), func() {}, nil
	}
}

func closeDB(db *sql.DB, logger *slog.Logger) func() {
	return func() {
		if err := db.Close(); err != nil {
			logger.Error("close sqlite", "error", err)
		}
	}
}
