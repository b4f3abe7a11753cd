// SPDX-License-Identifier: Apache-2.0

package repository

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/adiadia/live-scoreboard/internal/domain"
	"github.com/google/uuid"
)

// MemoryEventRepository keeps records in process memory. It honours the
// same version contract as the SQL stores.
type MemoryEventRepository struct {
	mu      sync.RWMutex
	records map[uuid.UUID]domain.EventRecord
}

func NewMemoryEventRepository() *MemoryEventRepository {
	return &MemoryEventRepository{records: make(map[uuid.UUID]domain.EventRecord)}
}

func (r *MemoryEventRepository) GetEvent(_ context.Context, id uuid.UUID) (domain.EventRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	rec, ok := r.records[id]
	if !ok {
		return domain.EventRecord{}, domain.ErrNotFound
	}
	return rec, nil
}

func (r *MemoryEventRepository) ListEvents(_ context.Context) ([]domain.EventRecord, error) {
	r.mu.RLock()
	out := make([]domain.EventRecord, 0, len(r.records))
	for _, rec := range r.records {
		if rec.Removed() {
			continue
		}
		out = append(out, rec)
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if !out[i].ScheduledAt.Equal(out[j].ScheduledAt) {
			return out[i].ScheduledAt.Before(out[j].ScheduledAt)
		}
		return out[i].ID.String() < out[j].ID.String()
	})
	return out, nil
}

func (r *MemoryEventRepository) CreateEvent(_ context.Context, rec domain.EventRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.records[rec.ID]; exists {
		return fmt.Errorf("insert event: duplicate id %s", rec.ID)
	}
	r.records[rec.ID] = rec
	return nil
}

func (r *MemoryEventRepository) UpdateEvent(_ context.Context, next domain.EventRecord, expected domain.Version) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	current, ok := r.records[next.ID]
	if !ok {
		return domain.ErrNotFound
	}
	if current.Version != expected {
		return domain.ErrVersionConflict
	}
	r.records[next.ID] = next
	return nil
}

func (r *MemoryEventRepository) DeleteEvent(_ context.Context, id uuid.UUID, expected domain.Version) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	current, ok := r.records[id]
	if !ok {
		return domain.ErrNotFound
	}
	if current.Version != expected {
		return domain.ErrVersionConflict
	}
	delete(r.records, id)
	return nil
}

func (r *MemoryEventRepository) Ping(context.Context) error {
	return nil
}
