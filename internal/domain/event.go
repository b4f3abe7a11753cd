// SPDX-License-Identifier: Apache-2.0

package domain

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"
)

// MaxScore is the largest score a record can hold. It fits every store's
// integer column.
const MaxScore = math.MaxInt32

// EventRecord is the authoritative state of one sports event.
type EventRecord struct {
	ID          uuid.UUID   `json:"id"`
	Sport       string      `json:"sport"`
	Name        string      `json:"name"`
	Location    string      `json:"location"`
	ScheduledAt time.Time   `json:"scheduled_at"`
	TeamA       string      `json:"team_a"`
	TeamB       string      `json:"team_b"`
	ScoreA      int         `json:"score_a"`
	ScoreB      int         `json:"score_b"`
	Status      EventStatus `json:"status"`
	Version     Version     `json:"version"`
	CreatedAt   time.Time   `json:"created_at"`
	UpdatedAt   time.Time   `json:"updated_at"`
}

// Removed reports whether the record has been tombstoned by a delete.
func (e EventRecord) Removed() bool {
	return e.Status == StatusRemoved
}

type CreateEventParams struct {
	Sport       string
	Name        string
	Location    string
	ScheduledAt time.Time
	TeamA       string
	TeamB       string
	ScoreA      *int
	ScoreB      *int
	Status      *EventStatus
}

// NewEventRecord validates params and builds a version 0 record.
func NewEventRecord(params CreateEventParams, now time.Time) (EventRecord, error) {
	rec := EventRecord{
		ID:          uuid.New(),
		Sport:       strings.TrimSpace(params.Sport),
		Name:        strings.TrimSpace(params.Name),
		Location:    strings.TrimSpace(params.Location),
		ScheduledAt: params.ScheduledAt.UTC(),
		TeamA:       strings.TrimSpace(params.TeamA),
		TeamB:       strings.TrimSpace(params.TeamB),
		Status:      StatusScheduled,
		Version:     0,
		CreatedAt:   now.UTC(),
		UpdatedAt:   now.UTC(),
	}

	missing := make([]string, 0, 6)
	for _, f := range []struct {
		name  string
		value string
	}{
		{"sport", rec.Sport},
		{"name", rec.Name},
		{"location", rec.Location},
		{"team_a", rec.TeamA},
		{"team_b", rec.TeamB},
	} {
		if f.value == "" {
			missing = append(missing, f.name)
		}
	}
	if params.ScheduledAt.IsZero() {
		missing = append(missing, "scheduled_at")
	}
	if len(missing) > 0 {
		return EventRecord{}, &ValidationError{Fields: missing}
	}

	for _, f := range []struct {
		name  string
		value *int
		dst   *int
	}{
		{"score_a", params.ScoreA, &rec.ScoreA},
		{"score_b", params.ScoreB, &rec.ScoreB},
	} {
		if f.value == nil {
			continue
		}
		if *f.value > MaxScore {
			return EventRecord{}, fmt.Errorf("%w: %s %d exceeds %d", ErrInvalidEvent, f.name, *f.value, MaxScore)
		}
		*f.dst = clampScore(*f.value)
	}
	if params.Status != nil {
		status, err := ParseStatus(string(*params.Status))
		if err != nil {
			return EventRecord{}, err
		}
		rec.Status = status
	}

	return rec, nil
}

func clampScore(v int) int {
	if v < 0 {
		return 0
	}
	return v
}
