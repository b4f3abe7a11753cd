// SPDX-License-Identifier: Apache-2.0

package domain

import (
	"fmt"
	"strings"
)

type EventStatus string

const (
	StatusScheduled EventStatus = "SCHEDULED"
	StatusLive      EventStatus = "LIVE"
	StatusFinished  EventStatus = "FINISHED"

	// StatusRemoved is the tombstone written by a delete before the row is
	// physically removed. It is never accepted from callers.
	StatusRemoved EventStatus = "REMOVED"
)

// ParseStatus accepts the public statuses case-insensitively.
func ParseStatus(raw string) (EventStatus, error) {
	switch EventStatus(strings.ToUpper(strings.TrimSpace(raw))) {
	case StatusScheduled:
		return StatusScheduled, nil
	case StatusLive:
		return StatusLive, nil
	case StatusFinished:
		return StatusFinished, nil
	default:
		return "", fmt.Errorf("%w: unknown status %q", ErrInvalidMutation, raw)
	}
}

// forwardAllowed reports whether the forward entry point may move from -> to.
func forwardAllowed(from, to EventStatus) bool {
	if from == StatusFinished {
		return false
	}
	if from == to {
		return true
	}
	return (from == StatusScheduled && to == StatusLive) ||
		(from == StatusLive && to == StatusFinished)
}

// revertAllowed reports whether the explicit revert entry point may move from -> to.
func revertAllowed(from, to EventStatus) bool {
	return (from == StatusLive && to == StatusScheduled) ||
		(from == StatusFinished && to == StatusLive)
}
