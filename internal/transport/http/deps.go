// SPDX-License-Identifier: Apache-2.0

package httptransport

import (
	"context"

	"github.com/adiadia/live-scoreboard/internal/domain"
	"github.com/google/uuid"
)

type EventReader interface {
	GetEvent(ctx context.Context, id uuid.UUID) (domain.EventRecord, error)
	ListEvents(ctx context.Context) ([]domain.EventRecord, error)
}

type EventWriter interface {
	Create(ctx context.Context, params domain.CreateEventParams) (domain.EventRecord, error)
	Mutate(ctx context.Context, id uuid.UUID, m domain.Mutation) (domain.EventRecord, error)
	Delete(ctx context.Context, id uuid.UUID) error
}

type HealthChecker interface {
	Check(ctx context.Context) error
}

// HealthCheckFunc adapts a plain function to HealthChecker.
type HealthCheckFunc func(ctx context.Context) error

func (f HealthCheckFunc) Check(ctx context.Context) error {
	return f(ctx)
}
