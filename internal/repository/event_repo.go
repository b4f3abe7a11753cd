// SPDX-License-Identifier: Apache-2.0

package repository

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/adiadia/live-scoreboard/internal/domain"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const eventColumns = `id, sport, name, location, scheduled_at, team_a, team_b,
	score_a, score_b, status, version, created_at, updated_at`

// EventRepository stores event records in Postgres. Updates and deletes are
// conditional on the version column.
type EventRepository struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

func NewEventRepository(pool *pgxpool.Pool, logger *slog.Logger) *EventRepository {
	if logger == nil {
		logger = slog.Default()
	}

	return &EventRepository{
		pool:   pool,
		logger: logger,
	}
}

func (r *EventRepository) GetEvent(ctx context.Context, id uuid.UUID) (domain.EventRecord, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+eventColumns+` FROM events WHERE id=$1`, id)

	rec, err := scanEvent(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.EventRecord{}, domain.ErrNotFound
	}
	if err != nil {
		r.logger.Error("get event query failed", "event_id", id, "error", err)
		return domain.EventRecord{}, err
	}
	return rec, nil
}

// ListEvents returns live records ordered by scheduled time, then id.
func (r *EventRepository) ListEvents(ctx context.Context) ([]domain.EventRecord, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+eventColumns+`
		FROM events
		WHERE status <> $1
		ORDER BY scheduled_at ASC, id ASC
	`, string(domain.StatusRemoved))
	if err != nil {
		r.logger.Error("list events query failed", "error", err)
		return nil, err
	}
	defer rows.Close()

	out := make([]domain.EventRecord, 0, 16)
	for rows.Next() {
		rec, err := scanEvent(rows)
		if err != nil {
			r.logger.Error("list events scan failed", "error", err)
			return nil, err
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		r.logger.Error("list events rows error", "error", err)
		return nil, err
	}
	return out, nil
}

func (r *EventRepository) CreateEvent(ctx context.Context, rec domain.EventRecord) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO events (`+eventColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	`,
		rec.ID,
		rec.Sport,
		rec.Name,
		rec.Location,
		rec.ScheduledAt,
		rec.TeamA,
		rec.TeamB,
		rec.ScoreA,
		rec.ScoreB,
		string(rec.Status),
		int64(rec.Version),
		rec.CreatedAt,
		rec.UpdatedAt,
	)
	if err != nil {
		r.logger.Error("insert event failed", "event_id", rec.ID, "error", err)
		return fmt.Errorf("insert event: %w", err)
	}
	return nil
}

// UpdateEvent writes next only if the stored version equals expected.
func (r *EventRepository) UpdateEvent(ctx context.Context, next domain.EventRecord, expected domain.Version) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE events
		SET score_a=$3,
		    score_b=$4,
		    status=$5,
		    version=$6,
		    updated_at=$7
		WHERE id=$1
		  AND version=$2
	`,
		next.ID,
		int64(expected),
		next.ScoreA,
		next.ScoreB,
		string(next.Status),
		int64(next.Version),
		next.UpdatedAt,
	)
	if err != nil {
		r.logger.Error("update event failed", "event_id", next.ID, "error", err)
		return fmt.Errorf("update event: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return r.missOrConflict(ctx, next.ID)
	}
	return nil
}

// DeleteEvent removes the row only if the stored version equals expected.
func (r *EventRepository) DeleteEvent(ctx context.Context, id uuid.UUID, expected domain.Version) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM events WHERE id=$1 AND version=$2`, id, int64(expected))
	if err != nil {
		r.logger.Error("delete event failed", "event_id", id, "error", err)
		return fmt.Errorf("delete event: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return r.missOrConflict(ctx, id)
	}
	return nil
}

// Ping reports whether the pool can reach the database.
func (r *EventRepository) Ping(ctx context.Context) error {
	return r.pool.Ping(ctx)
}

func (r *EventRepository) missOrConflict(ctx context.Context, id uuid.UUID) error {
	var exists bool
	if err := r.pool.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM events WHERE id=$1)`, id).Scan(&exists); err != nil {
		return fmt.Errorf("check event existence: %w", err)
	}
	if !exists {
		return domain.ErrNotFound
	}
	return domain.ErrVersionConflict
}

func scanEvent(row pgx.Row) (domain.EventRecord, error) {
	var (
		rec     domain.EventRecord
		status  string
		version int64
	)
	err := row.Scan(
		&rec.ID,
		&rec.Sport,
		&rec.Name,
		&rec.Location,
		&rec.ScheduledAt,
		&rec.TeamA,
		&rec.TeamB,
		&rec.ScoreA,
		&rec.ScoreB,
		&status,
		&version,
		&rec.CreatedAt,
		&rec.UpdatedAt,
	)
	if err != nil {
		return domain.EventRecord{}, err
	}
	rec.Status = domain.EventStatus(status)
	rec.Version = domain.Version(version)
	rec.ScheduledAt = rec.ScheduledAt.UTC()
	rec.CreatedAt = rec.CreatedAt.UTC()
	rec.UpdatedAt = rec.UpdatedAt.UTC()
	return rec, nil
}
