// SPDX-License-Identifier: Apache-2.0

package domain

import (
	"fmt"
	"math"
)

// Mutation is the single canonical change request for one event. Absolute
// scores and relative deltas go through the same clamping path; a delta is
// applied on top of the absolute value when both are present.
type Mutation struct {
	ScoreA *int         `json:"score_a,omitempty"`
	ScoreB *int         `json:"score_b,omitempty"`
	DeltaA int          `json:"delta_a,omitempty"`
	DeltaB int          `json:"delta_b,omitempty"`
	Status *EventStatus `json:"status,omitempty"`

	// Revert selects the explicit backwards path (LIVE -> SCHEDULED,
	// FINISHED -> LIVE). Revert mutations carry a status and nothing else.
	Revert bool `json:"revert,omitempty"`
}

func (m Mutation) touchesScores() bool {
	return m.ScoreA != nil || m.ScoreB != nil || m.DeltaA != 0 || m.DeltaB != 0
}

// Empty reports whether the mutation names no field at all.
func (m Mutation) Empty() bool {
	return !m.touchesScores() && m.Status == nil
}

// Apply computes the record that results from m. commit is false when the
// mutation is an accepted no-op that must not bump the version.
func (m Mutation) Apply(current EventRecord) (next EventRecord, commit bool, err error) {
	if current.Removed() {
		return current, false, ErrNotFound
	}

	if m.Status != nil {
		switch *m.Status {
		case StatusScheduled, StatusLive, StatusFinished:
		default:
			return current, false, fmt.Errorf("%w: unknown status %q", ErrInvalidMutation, *m.Status)
		}
	}

	if m.Revert {
		return m.applyRevert(current)
	}

	if m.Empty() {
		return current, false, fmt.Errorf("%w: no fields to update", ErrInvalidMutation)
	}
	if current.Status == StatusFinished {
		return current, false, fmt.Errorf("%w: event is %s", ErrInvalidTransition, current.Status)
	}

	next = current
	if m.Status != nil {
		if !forwardAllowed(current.Status, *m.Status) {
			return current, false, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, current.Status, *m.Status)
		}
		next.Status = *m.Status
	}

	if next.ScoreA, err = resolveScore(current.ScoreA, m.ScoreA, m.DeltaA); err != nil {
		return current, false, fmt.Errorf("%w: score_a %v", ErrInvalidMutation, err)
	}
	if next.ScoreB, err = resolveScore(current.ScoreB, m.ScoreB, m.DeltaB); err != nil {
		return current, false, fmt.Errorf("%w: score_b %v", ErrInvalidMutation, err)
	}

	return next, true, nil
}

func (m Mutation) applyRevert(current EventRecord) (EventRecord, bool, error) {
	if m.touchesScores() {
		return current, false, fmt.Errorf("%w: revert only changes status", ErrInvalidMutation)
	}
	if m.Status == nil {
		return current, false, fmt.Errorf("%w: revert requires a target status", ErrInvalidMutation)
	}

	target := *m.Status
	if current.Status == target {
		return current, false, nil
	}
	if !revertAllowed(current.Status, target) {
		return current, false, fmt.Errorf("%w: cannot revert %s -> %s", ErrInvalidTransition, current.Status, target)
	}

	next := current
	next.Status = target
	return next, true, nil
}

// resolveScore applies delta on top of the absolute value (or current when
// absolute is nil). Results below zero clamp to zero; results above MaxScore
// are rejected rather than wrapped.
func resolveScore(current int, absolute *int, delta int) (int, error) {
	base := current
	if absolute != nil {
		if *absolute > MaxScore {
			return current, fmt.Errorf("%d exceeds %d", *absolute, MaxScore)
		}
		base = *absolute
	}
	switch {
	case delta > 0 && base > MaxScore-delta:
		return current, fmt.Errorf("%d%+d exceeds %d", base, delta, MaxScore)
	case delta < 0 && base < math.MinInt-delta:
		return 0, nil
	}
	return clampScore(base + delta), nil
}
