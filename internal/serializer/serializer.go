// SPDX-License-Identifier: Apache-2.0

package serializer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/adiadia/live-scoreboard/internal/auth"
	"github.com/adiadia/live-scoreboard/internal/domain"
	"github.com/adiadia/live-scoreboard/internal/metrics"
	"github.com/google/uuid"
)

const DefaultMaxAttempts = 5

// Store is the persistence contract the serializer writes through.
// UpdateEvent and DeleteEvent are conditional on the stored version equal
// to expected and report domain.ErrVersionConflict otherwise.
type Store interface {
	GetEvent(ctx context.Context, id uuid.UUID) (domain.EventRecord, error)
	CreateEvent(ctx context.Context, rec domain.EventRecord) error
	UpdateEvent(ctx context.Context, next domain.EventRecord, expected domain.Version) error
	DeleteEvent(ctx context.Context, id uuid.UUID, expected domain.Version) error
}

// Publisher receives committed records while the ordering slot is held.
// Both calls must return without waiting on observers.
type Publisher interface {
	Publish(rec domain.EventRecord)
	PublishRemoved(rec domain.EventRecord)
}

// MutateFunc computes the next record from the current one. commit=false
// accepts the call without writing or bumping the version.
type MutateFunc func(current domain.EventRecord) (next domain.EventRecord, commit bool, err error)

type Options struct {
	MaxAttempts int
	Now         func() time.Time
}

// Serializer orders every write to one event id and stamps versions.
type Serializer struct {
	store       Store
	publisher   Publisher
	logger      *slog.Logger
	slots       *slotTable
	maxAttempts int
	now         func() time.Time
}

func New(store Store, publisher Publisher, logger *slog.Logger, opts Options) *Serializer {
	if logger == nil {
		logger = slog.Default()
	}
	maxAttempts := opts.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}

	return &Serializer{
		store:       store,
		publisher:   publisher,
		logger:      logger,
		slots:       newSlotTable(),
		maxAttempts: maxAttempts,
		now:         now,
	}
}

// Mutate runs the canonical forward or revert mutation for id.
func (s *Serializer) Mutate(ctx context.Context, id uuid.UUID, m domain.Mutation) (domain.EventRecord, error) {
	return s.Apply(ctx, id, m.Apply)
}

// Apply performs one serialized read-modify-write on id.
func (s *Serializer) Apply(ctx context.Context, id uuid.UUID, fn MutateFunc) (domain.EventRecord, error) {
	caller, err := requireAdmin(ctx)
	if err != nil {
		metrics.IncMutation(metrics.OutcomeRejected)
		return domain.EventRecord{}, err
	}

	started := time.Now()
	release, err := s.slots.acquire(ctx, id)
	if err != nil {
		return domain.EventRecord{}, err
	}
	defer release()
	defer func() { metrics.ObserveMutationDuration(time.Since(started)) }()

	// the slot is held; the mutation runs to completion
	storeCtx := context.WithoutCancel(ctx)

	for attempt := 1; attempt <= s.maxAttempts; attempt++ {
		current, err := s.load(storeCtx, id)
		if err != nil {
			s.reject(err)
			return domain.EventRecord{}, err
		}

		next, commit, err := fn(current)
		if err != nil {
			s.reject(err)
			return domain.EventRecord{}, err
		}
		if !commit {
			metrics.IncMutation(metrics.OutcomeNoop)
			s.logger.Info("event mutation accepted without change",
				"event_id", id,
				"version", current.Version,
				"subject", caller.Subject,
			)
			return current, nil
		}

		next.ID = current.ID
		next.CreatedAt = current.CreatedAt
		next.Version, err = current.Version.Next()
		if err != nil {
			metrics.IncMutation(metrics.OutcomeError)
			return domain.EventRecord{}, fmt.Errorf("stamp version: %w", err)
		}
		next.UpdatedAt = s.now().UTC()

		err = s.store.UpdateEvent(storeCtx, next, current.Version)
		if errors.Is(err, domain.ErrVersionConflict) {
			metrics.IncCASRetries()
			s.logger.Warn("event version conflict, retrying",
				"event_id", id,
				"expected_version", current.Version,
				"attempt", attempt,
			)
			continue
		}
		if err != nil {
			s.reject(err)
			return domain.EventRecord{}, err
		}

		s.publisher.Publish(next)
		metrics.IncMutation(metrics.OutcomeCommitted)
		s.logger.Info("event mutated",
			"event_id", id,
			"version", next.Version,
			"status", next.Status,
			"score_a", next.ScoreA,
			"score_b", next.ScoreB,
			"subject", caller.Subject,
		)
		return next, nil
	}

	metrics.IncMutation(metrics.OutcomeConflict)
	s.logger.Error("event mutation gave up after version conflicts",
		"event_id", id,
		"attempts", s.maxAttempts,
	)
	return domain.EventRecord{}, fmt.Errorf("%w: event %s", domain.ErrConflict, id)
}

// Create validates params and stores a new record at version 0.
func (s *Serializer) Create(ctx context.Context, params domain.CreateEventParams) (domain.EventRecord, error) {
	caller, err := requireAdmin(ctx)
	if err != nil {
		metrics.IncMutation(metrics.OutcomeRejected)
		return domain.EventRecord{}, err
	}

	rec, err := domain.NewEventRecord(params, s.now())
	if err != nil {
		metrics.IncMutation(metrics.OutcomeRejected)
		return domain.EventRecord{}, err
	}

	if err := s.store.CreateEvent(context.WithoutCancel(ctx), rec); err != nil {
		metrics.IncMutation(metrics.OutcomeError)
		s.logger.Error("create event failed", "event_id", rec.ID, "error", err)
		return domain.EventRecord{}, err
	}

	metrics.IncMutation(metrics.OutcomeCommitted)
	s.logger.Info("event created",
		"event_id", rec.ID,
		"sport", rec.Sport,
		"status", rec.Status,
		"subject", caller.Subject,
	)
	return rec, nil
}

// Delete fences id off: it writes a REMOVED tombstone, detaches every
// observer with a terminal notice and then removes the row. A tombstone
// left by an interrupted delete is finished off here.
func (s *Serializer) Delete(ctx context.Context, id uuid.UUID) error {
	caller, err := requireAdmin(ctx)
	if err != nil {
		metrics.IncMutation(metrics.OutcomeRejected)
		return err
	}

	release, err := s.slots.acquire(ctx, id)
	if err != nil {
		return err
	}
	defer release()

	storeCtx := context.WithoutCancel(ctx)

	var tomb domain.EventRecord
	for attempt := 1; ; attempt++ {
		current, err := s.store.GetEvent(storeCtx, id)
		if err != nil {
			s.reject(err)
			return err
		}
		if current.Removed() {
			tomb = current
			break
		}
		if attempt > s.maxAttempts {
			metrics.IncMutation(metrics.OutcomeConflict)
			return fmt.Errorf("%w: event %s", domain.ErrConflict, id)
		}

		tomb = current
		tomb.Status = domain.StatusRemoved
		tomb.Version, err = current.Version.Next()
		if err != nil {
			metrics.IncMutation(metrics.OutcomeError)
			return fmt.Errorf("stamp version: %w", err)
		}
		tomb.UpdatedAt = s.now().UTC()

		err = s.store.UpdateEvent(storeCtx, tomb, current.Version)
		if errors.Is(err, domain.ErrVersionConflict) {
			metrics.IncCASRetries()
			continue
		}
		if err != nil {
			s.reject(err)
			return err
		}
		break
	}

	s.publisher.PublishRemoved(tomb)

	if err := s.store.DeleteEvent(storeCtx, id, tomb.Version); err != nil {
		metrics.IncMutation(metrics.OutcomeError)
		s.logger.Error("delete event row failed",
			"event_id", id,
			"version", tomb.Version,
			"error", err,
		)
		return err
	}

	metrics.IncMutation(metrics.OutcomeCommitted)
	s.logger.Info("event deleted",
		"event_id", id,
		"version", tomb.Version,
		"subject", caller.Subject,
	)
	return nil
}

// Snapshot reads id under its ordering slot and hands the record to
// observe before the slot is released. Reads require no role.
func (s *Serializer) Snapshot(ctx context.Context, id uuid.UUID, observe func(domain.EventRecord)) (domain.EventRecord, error) {
	release, err := s.slots.acquire(ctx, id)
	if err != nil {
		return domain.EventRecord{}, err
	}
	defer release()

	rec, err := s.load(context.WithoutCancel(ctx), id)
	if err != nil {
		return domain.EventRecord{}, err
	}
	if observe != nil {
		observe(rec)
	}
	return rec, nil
}

func (s *Serializer) load(ctx context.Context, id uuid.UUID) (domain.EventRecord, error) {
	rec, err := s.store.GetEvent(ctx, id)
	if err != nil {
		return domain.EventRecord{}, err
	}
	if rec.Removed() {
		return domain.EventRecord{}, domain.ErrNotFound
	}
	return rec, nil
}

func (s *Serializer) reject(err error) {
	switch {
	case errors.Is(err, domain.ErrNotFound),
		errors.Is(err, domain.ErrInvalidTransition),
		errors.Is(err, domain.ErrInvalidMutation):
		metrics.IncMutation(metrics.OutcomeRejected)
	default:
		metrics.IncMutation(metrics.OutcomeError)
		s.logger.Error("event store failure", "error", err)
	}
}

func requireAdmin(ctx context.Context) (auth.Identity, error) {
	caller, ok := auth.IdentityFromContext(ctx)
	if !ok || !caller.IsAdmin() {
		return auth.Identity{}, domain.ErrUnauthorized
	}
	return caller, nil
}
