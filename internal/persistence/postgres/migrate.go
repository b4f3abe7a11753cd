// SPDX-License-Identifier: Apache-2.0

package postgres

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/adiadia/live-scoreboard/migrations"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const migrationLockID int64 = 0x4c53425f4d494752 // "LSB_MIGR"

// requiredColumns are the columns the event store reads and writes.
var requiredColumns = map[string][]string{
	"events": {"id", "status", "score_a", "score_b", "version", "updated_at"},
}

// MigrationReport summarizes one Migrate call.
type MigrationReport struct {
	Applied  []string
	Skipped  []string
	Duration time.Duration
}

// SchemaHealthChecker backs the readiness probe.
type SchemaHealthChecker struct {
	pool *pgxpool.Pool
}

func NewSchemaHealthChecker(pool *pgxpool.Pool) *SchemaHealthChecker {
	return &SchemaHealthChecker{pool: pool}
}

func (h *SchemaHealthChecker) Check(ctx context.Context) error {
	return SchemaReady(ctx, h.pool)
}

// EnsureSchema applies pending migrations and verifies the result.
func EnsureSchema(ctx context.Context, pool *pgxpool.Pool, logger *slog.Logger) error {
	_, err := Migrate(ctx, pool, logger)
	return err
}

// Migrate applies every embedded Postgres migration not yet recorded in
// schema_migrations. Concurrent callers serialize on an advisory lock.
// Applied files whose checksum changed fail the run.
func Migrate(ctx context.Context, pool *pgxpool.Pool, logger *slog.Logger) (MigrationReport, error) {
	var report MigrationReport
	if pool == nil {
		return report, errors.New("nil database pool")
	}
	if logger == nil {
		logger = slog.Default()
	}

	files, err := migrations.Ordered(migrations.Postgres)
	if err != nil {
		return report, err
	}
	if len(files) == 0 {
		return report, errors.New("no embedded migrations found")
	}

	started := time.Now()
	conn, err := pool.Acquire(ctx)
	if err != nil {
		return report, fmt.Errorf("acquire migration connection: %w", err)
	}
	defer conn.Release()

	err = withAdvisoryLock(ctx, conn, logger, func() error {
		if _, err := conn.Exec(ctx, `
			CREATE TABLE IF NOT EXISTS schema_migrations (
				filename TEXT PRIMARY KEY,
				checksum TEXT NOT NULL DEFAULT '',
				applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
			)
		`); err != nil {
			return fmt.Errorf("create schema_migrations: %w", err)
		}

		recorded, err := appliedChecksums(ctx, conn)
		if err != nil {
			return err
		}

		for _, f := range files {
			if sum, ok := recorded[f.Name]; ok {
				if err := f.Verify(sum); err != nil {
					return err
				}
				report.Skipped = append(report.Skipped, f.Name)
				continue
			}

			if err := pgx.BeginFunc(ctx, conn, func(tx pgx.Tx) error {
				if _, err := tx.Exec(ctx, f.SQL, pgx.QueryExecModeSimpleProtocol); err != nil {
					return err
				}
				_, err := tx.Exec(ctx,
					`INSERT INTO schema_migrations (filename, checksum) VALUES ($1, $2)`,
					f.Name, f.Checksum,
				)
				return err
			}); err != nil {
				return fmt.Errorf("apply migration %s: %w", f.Name, err)
			}
			logger.Info("migration applied", "file", f.Name)
			report.Applied = append(report.Applied, f.Name)
		}
		return nil
	})
	if err != nil {
		return report, err
	}

	report.Duration = time.Since(started)
	logger.Info("schema up to date",
		"applied", len(report.Applied),
		"skipped", len(report.Skipped),
		"duration_ms", report.Duration.Milliseconds(),
	)
	return report, SchemaReady(ctx, pool)
}

func withAdvisoryLock(ctx context.Context, conn *pgxpool.Conn, logger *slog.Logger, fn func() error) error {
	if _, err := conn.Exec(ctx, `SELECT pg_advisory_lock($1)`, migrationLockID); err != nil {
		return fmt.Errorf("acquire migration lock: %w", err)
	}
	defer func() {
		unlockCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if _, err := conn.Exec(unlockCtx, `SELECT pg_advisory_unlock($1)`, migrationLockID); err != nil {
			logger.Error("migration unlock failed", "error", err)
		}
	}()
	return fn()
}

func appliedChecksums(ctx context.Context, conn *pgxpool.Conn) (map[string]string, error) {
	rows, err := conn.Query(ctx, `SELECT filename, checksum FROM schema_migrations`)
	if err != nil {
		return nil, fmt.Errorf("list applied migrations: %w", err)
	}

	out := make(map[string]string)
	var name, sum string
	if _, err := pgx.ForEachRow(rows, []any{&name, &sum}, func() error {
		out[name] = sum
		return nil
	}); err != nil {
		return nil, fmt.Errorf("scan applied migrations: %w", err)
	}
	return out, nil
}

// SchemaReady reports an error naming every required table or column that
// is missing from the current schema.
func SchemaReady(ctx context.Context, pool *pgxpool.Pool) error {
	if pool == nil {
		return errors.New("nil database pool")
	}

	tables := make([]string, 0, len(requiredColumns))
	for table := range requiredColumns {
		tables = append(tables, table)
	}
	slices.Sort(tables)

	rows, err := pool.Query(ctx, `
		SELECT table_name, column_name
		FROM information_schema.columns
		WHERE table_schema = current_schema()
		  AND table_name = ANY($1)
	`, tables)
	if err != nil {
		return fmt.Errorf("inspect schema: %w", err)
	}

	present := make(map[string]bool)
	var table, column string
	if _, err := pgx.ForEachRow(rows, []any{&table, &column}, func() error {
		present[table] = true
		present[table+"."+column] = true
		return nil
	}); err != nil {
		return fmt.Errorf("inspect schema: %w", err)
	}

	var missing []string
	for _, t := range tables {
		if !present[t] {
			missing = append(missing, t)
			continue
		}
		for _, c := range requiredColumns[t] {
			if !present[t+"."+c] {
				missing = append(missing, t+"."+c)
			}
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("schema incomplete, missing: %s", strings.Join(missing, ", "))
	}
	return nil
}
