// SPDX-License-Identifier: Apache-2.0

package repository

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/adiadia/live-scoreboard/internal/domain"
	"github.com/google/uuid"
)

type eventStore interface {
	GetEvent(ctx context.Context, id uuid.UUID) (domain.EventRecord, error)
	ListEvents(ctx context.Context) ([]domain.EventRecord, error)
	CreateEvent(ctx context.Context, rec domain.EventRecord) error
	UpdateEvent(ctx context.Context, next domain.EventRecord, expected domain.Version) error
	DeleteEvent(ctx context.Context, id uuid.UUID, expected domain.Version) error
	Ping(ctx context.Context) error
}

func newTestRecord(t *testing.T, name string, scheduledAt time.Time) domain.EventRecord {
	t.Helper()
	rec, err := domain.NewEventRecord(domain.CreateEventParams{
		Sport:       "football",
		Name:        name,
		Location:    "Stadium",
		ScheduledAt: scheduledAt,
		TeamA:       "Home",
		TeamB:       "Away",
	}, time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	if err != nil {
		t.Fatalf("new record: %v", err)
	}
	return rec
}

// runEventStoreContract exercises the version contract every store must keep.
func runEventStoreContract(t *testing.T, store eventStore) {
	t.Helper()
	ctx := context.Background()

	if err := store.Ping(ctx); err != nil {
		t.Fatalf("ping: %v", err)
	}

	later := newTestRecord(t, "Final", time.Date(2026, 5, 2, 18, 0, 0, 0, time.UTC))
	earlier := newTestRecord(t, "Semi", time.Date(2026, 5, 1, 18, 0, 0, 0, time.UTC))
	for _, rec := range []domain.EventRecord{later, earlier} {
		if err := store.CreateEvent(ctx, rec); err != nil {
			t.Fatalf("create %s: %v", rec.Name, err)
		}
	}

	got, err := store.GetEvent(ctx, later.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Name != "Final" || got.Version != 0 || got.Status != domain.StatusScheduled {
		t.Fatalf("unexpected record %+v", got)
	}
	if !got.ScheduledAt.Equal(later.ScheduledAt) {
		t.Fatalf("expected scheduled_at %s got %s", later.ScheduledAt, got.ScheduledAt)
	}

	if _, err := store.GetEvent(ctx, uuid.New()); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound got %v", err)
	}

	list, err := store.ListEvents(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(list) != 2 || list[0].ID != earlier.ID || list[1].ID != later.ID {
		t.Fatalf("expected events ordered by scheduled time, got %d records", len(list))
	}

	next := got
	next.Status = domain.StatusLive
	next.ScoreA = 1
	next.Version = 1
	next.UpdatedAt = got.UpdatedAt.Add(time.Minute)
	if err := store.UpdateEvent(ctx, next, 0); err != nil {
		t.Fatalf("update: %v", err)
	}

	stale := next
	stale.ScoreA = 9
	stale.Version = 1
	if err := store.UpdateEvent(ctx, stale, 0); !errors.Is(err, domain.ErrVersionConflict) {
		t.Fatalf("expected ErrVersionConflict got %v", err)
	}

	missing := next
	missing.ID = uuid.New()
	if err := store.UpdateEvent(ctx, missing, 0); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound for unknown id got %v", err)
	}

	got, err = store.GetEvent(ctx, later.ID)
	if err != nil {
		t.Fatalf("get after update: %v", err)
	}
	if got.Version != 1 || got.ScoreA != 1 || got.Status != domain.StatusLive {
		t.Fatalf("unexpected record after update %+v", got)
	}

	tomb := got
	tomb.Status = domain.StatusRemoved
	tomb.Version = 2
	if err := store.UpdateEvent(ctx, tomb, 1); err != nil {
		t.Fatalf("tombstone: %v", err)
	}
	list, err = store.ListEvents(ctx)
	if err != nil {
		t.Fatalf("list after tombstone: %v", err)
	}
	if len(list) != 1 || list[0].ID != earlier.ID {
		t.Fatal("expected tombstoned record to be hidden from list")
	}

	if err := store.DeleteEvent(ctx, later.ID, 1); !errors.Is(err, domain.ErrVersionConflict) {
		t.Fatalf("expected ErrVersionConflict on stale delete got %v", err)
	}
	if err := store.DeleteEvent(ctx, later.ID, 2); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if err := store.DeleteEvent(ctx, later.ID, 2); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound on second delete got %v", err)
	}
	if _, err := store.GetEvent(ctx, later.ID); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected deleted record to be gone got %v", err)
	}
}
