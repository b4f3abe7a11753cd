// SPDX-License-Identifier: Apache-2.0

package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/adiadia/live-scoreboard/internal/domain"
	"github.com/google/uuid"
)

// SQLiteEventRepository is the single-node event store. Times are kept as
// unix milliseconds.
type SQLiteEventRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

func NewSQLiteEventRepository(db *sql.DB, logger *slog.Logger) *SQLiteEventRepository {
	if logger == nil {
		logger = slog.Default()
	}
	return &SQLiteEventRepository{db: db, logger: logger}
}

func (r *SQLiteEventRepository) GetEvent(ctx context.Context, id uuid.UUID) (domain.EventRecord, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+eventColumns+` FROM events WHERE id = ?`, id.String())

	rec, err := scanSQLiteEvent(row)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.EventRecord{}, domain.ErrNotFound
	}
	if err != nil {
		r.logger.Error("get event query failed", "event_id", id, "error", err)
		return domain.EventRecord{}, err
	}
	return rec, nil
}

func (r *SQLiteEventRepository) ListEvents(ctx context.Context) ([]domain.EventRecord, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+eventColumns+`
		FROM events
		WHERE status <> ?
		ORDER BY scheduled_at ASC, id ASC
	`, string(domain.StatusRemoved))
	if err != nil {
		r.logger.Error("list events query failed", "error", err)
		return nil, err
	}
	defer rows.Close()

	out := make([]domain.EventRecord, 0, 16)
	for rows.Next() {
		rec, err := scanSQLiteEvent(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (r *SQLiteEventRepository) CreateEvent(ctx context.Context, rec domain.EventRecord) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO events (`+eventColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		rec.ID.String(),
		rec.Sport,
		rec.Name,
		rec.Location,
		toMillis(rec.ScheduledAt),
		rec.TeamA,
		rec.TeamB,
		rec.ScoreA,
		rec.ScoreB,
		string(rec.Status),
		int64(rec.Version),
		toMillis(rec.CreatedAt),
		toMillis(rec.UpdatedAt),
	)
	if err != nil {
		r.logger.Error("insert event failed", "event_id", rec.ID, "error", err)
		return fmt.Errorf("insert event: %w", err)
	}
	return nil
}

func (r *SQLiteEventRepository) UpdateEvent(ctx context.Context, next domain.EventRecord, expected domain.Version) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE events
		SET score_a = ?, score_b = ?, status = ?, version = ?, updated_at = ?
		WHERE id = ? AND version = ?
	`,
		next.ScoreA,
		next.ScoreB,
		string(next.Status),
		int64(next.Version),
		toMillis(next.UpdatedAt),
		next.ID.String(),
		int64(expected),
	)
	if err != nil {
		r.logger.Error("update event failed", "event_id", next.ID, "error", err)
		return fmt.Errorf("update event: %w", err)
	}
	return r.checkAffected(ctx, res, next.ID)
}

func (r *SQLiteEventRepository) DeleteEvent(ctx context.Context, id uuid.UUID, expected domain.Version) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM events WHERE id = ? AND version = ?`, id.String(), int64(expected))
	if err != nil {
		r.logger.Error("delete event failed", "event_id", id, "error", err)
		return fmt.Errorf("delete event: %w", err)
	}
	return r.checkAffected(ctx, res, id)
}

func (r *SQLiteEventRepository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

func (r *SQLiteEventRepository) checkAffected(ctx context.Context, res sql.Result, id uuid.UUID) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n > 0 {
		return nil
	}

	var exists bool
	if err := r.db.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM events WHERE id = ?)`, id.String()).Scan(&exists); err != nil {
		return fmt.Errorf("check event existence: %w", err)
	}
	if !exists {
		return domain.ErrNotFound
	}
	return domain.ErrVersionConflict
}

func toMillis(t time.Time) int64 {
	return t.UTC().UnixMilli()
}

func fromMillis(v int64) time.Time {
	return time.UnixMilli(v).UTC()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSQLiteEvent(row rowScanner) (domain.EventRecord, error) {
	var (
		rec                               domain.EventRecord
		id, status                        string
		version                           int64
		scheduledAt, createdAt, updatedAt int64
	)
	if err := row.Scan(
		&id,
		&rec.Sport,
		&rec.Name,
		&rec.Location,
		&scheduledAt,
		&rec.TeamA,
		&rec.TeamB,
		&rec.ScoreA,
		&rec.ScoreB,
		&status,
		&version,
		&createdAt,
		&updatedAt,
	); err != nil {
		return domain.EventRecord{}, err
	}

	parsed, err := uuid.Parse(id)
	if err != nil {
		return domain.EventRecord{}, fmt.Errorf("parse event id %q: %w", id, err)
	}
	rec.ID = parsed
	rec.Status = domain.EventStatus(status)
	rec.Version = domain.Version(version)
	rec.ScheduledAt = fromMillis(scheduledAt)
	rec.CreatedAt = fromMillis(createdAt)
	rec.UpdatedAt = fromMillis(updatedAt)
	return rec, nil
}
