// SPDX-License-Identifier: Apache-2.0

package domain

import (
	"errors"
	"strings"
)

var ErrNotFound = errors.New("event not found")
var ErrInvalidTransition = errors.New("status transition not permitted")
var ErrInvalidMutation = errors.New("invalid mutation")
var ErrInvalidEvent = errors.New("invalid event")
var ErrUnauthorized = errors.New("administrator role required")
var ErrConflict = errors.New("concurrent update conflict")

// ErrVersionConflict is returned by stores when a conditional write finds a
// version other than the expected one.
var ErrVersionConflict = errors.New("version mismatch")

var ErrVersionOverflow = errors.New("version counter overflow")

// ValidationError lists the required fields a create request is missing.
type ValidationError struct {
	Fields []string
}

func (e *ValidationError) Error() string {
	return "missing required fields: " + strings.Join(e.Fields, ", ")
}

func (e *ValidationError) Unwrap() error {
	return ErrInvalidEvent
}
