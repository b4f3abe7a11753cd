//go:build integration

// SPDX-License-Identifier: Apache-2.0

package postgres

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/adiadia/live-scoreboard/internal/domain"
	"github.com/adiadia/live-scoreboard/internal/repository"
	"github.com/adiadia/live-scoreboard/migrations"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

func TestMigrateBootstrapsEmptyDatabase(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 90*time.Second)
	defer cancel()

	baseURL := strings.TrimSpace(os.Getenv("DATABASE_URL"))
	if baseURL == "" {
		t.Skip("set DATABASE_URL to run integration tests")
	}

	adminPool, err := pgxpool.New(ctx, baseURL)
	if err != nil {
		t.Skipf("skip integration test: cannot create admin pool (%v)", err)
	}
	defer adminPool.Close()

	if err := adminPool.Ping(ctx); err != nil {
		t.Skipf("skip integration test: cannot reach database (%v)", err)
	}

	testDBName := "bootstrap_" + strings.ReplaceAll(uuid.NewString(), "-", "")
	if _, err := adminPool.Exec(ctx, "CREATE DATABASE "+pgx.Identifier{testDBName}.Sanitize()); err != nil {
		t.Skipf("skip integration test: cannot create database (%v)", err)
	}

	defer func() {
		cleanupCtx, cleanupCancel := context.WithTimeout(context.Background(), 20*time.Second)
		defer cleanupCancel()

		_, _ = adminPool.Exec(cleanupCtx, `
			SELECT pg_terminate_backend(pid)
			FROM pg_stat_activity
			WHERE datname = $1
			  AND pid <> pg_backend_pid()
		`, testDBName)
		if _, err := adminPool.Exec(cleanupCtx, "DROP DATABASE "+pgx.Identifier{testDBName}.Sanitize()); err != nil {
			t.Logf("cleanup warning: drop temp database failed (%v)", err)
		}
	}()

	poolCfg, err := pgxpool.ParseConfig(baseURL)
	if err != nil {
		t.Fatalf("parse DATABASE_URL: %v", err)
	}
	poolCfg.ConnConfig.Database = testDBName

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		t.Fatalf("create temp database pool: %v", err)
	}
	defer pool.Close()

	if err := pool.Ping(ctx); err != nil {
		t.Fatalf("ping temp database: %v", err)
	}

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	first, err := Migrate(ctx, pool, logger)
	if err != nil {
		t.Fatalf("migrate first run: %v", err)
	}
	if len(first.Applied) == 0 || len(first.Skipped) != 0 {
		t.Fatalf("expected first run to apply everything, got %+v", first)
	}

	second, err := Migrate(ctx, pool, logger)
	if err != nil {
		t.Fatalf("migrate second run: %v", err)
	}
	if len(second.Applied) != 0 || len(second.Skipped) != len(first.Applied) {
		t.Fatalf("expected second run to skip everything, got %+v", second)
	}
	if err := NewSchemaHealthChecker(pool).Check(ctx); err != nil {
		t.Fatalf("schema ready check: %v", err)
	}

	events := repository.NewEventRepository(pool, logger)
	rec, err := domain.NewEventRecord(domain.CreateEventParams{
		Sport:       "hockey",
		Name:        "Bootstrap Cup",
		Location:    "Rink",
		ScheduledAt: time.Now().Add(time.Hour),
		TeamA:       "North",
		TeamB:       "South",
	}, time.Now())
	if err != nil {
		t.Fatalf("new event record: %v", err)
	}
	if err := events.CreateEvent(ctx, rec); err != nil {
		t.Fatalf("create event after bootstrap: %v", err)
	}
	got, err := events.GetEvent(ctx, rec.ID)
	if err != nil {
		t.Fatalf("get event after bootstrap: %v", err)
	}
	if got.ID == uuid.Nil || got.Version != 0 {
		t.Fatalf("unexpected bootstrapped event %+v", got)
	}

	if _, err := pool.Exec(ctx, `UPDATE schema_migrations SET checksum = 'edited'`); err != nil {
		t.Fatalf("tamper checksum: %v", err)
	}
	var mismatch *migrations.ErrChecksumMismatch
	if err := EnsureSchema(ctx, pool, logger); !errors.As(err, &mismatch) {
		t.Fatalf("expected checksum mismatch, got %v", err)
	}

	if _, err := pool.Exec(ctx, `ALTER TABLE events DROP COLUMN updated_at`); err != nil {
		t.Fatalf("drop column: %v", err)
	}
	if err := SchemaReady(ctx, pool); err == nil || !strings.Contains(err.Error(), "events.updated_at") {
		t.Fatalf("expected missing column to be reported, got %v", err)
	}
}
