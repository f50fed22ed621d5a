package models

import (
	"errors"
	"fmt"
)

// ErrInvalidTransition is returned for any transition the lifecycle forbids
var ErrInvalidTransition = errors.New("invalid status transition")

// validTransitions maps from-state to allowed to-states. Self transitions of
// non-terminal states are allowed because repeated snapshots carry the same status.
var validTransitions = map[JobStatus]map[JobStatus]bool{
	JobStatusStarting: {
		JobStatusStarting:   true,
		JobStatusProcessing: true,
		JobStatusSucceeded:  true, // fast predictions can skip processing between polls
		JobStatusFailed:     true,
		JobStatusCanceled:   true,
	},
	JobStatusProcessing: {
		JobStatusProcessing: true,
		JobStatusSucceeded:  true,
		JobStatusFailed:     true,
		JobStatusCanceled:   true,
	},
	// Terminal states (no transitions allowed)
	JobStatusSucceeded: {},
	JobStatusFailed:    {},
	JobStatusCanceled:  {},
}

// ValidateTransition checks if a status transition is valid
func ValidateTransition(from, to JobStatus) error {
	allowed, exists := validTransitions[from]
	if !exists {
		return fmt.Errorf("unknown source status %q: %w", from, ErrInvalidTransition)
	}
	if _, known := validTransitions[to]; !known {
		return fmt.Errorf("unknown target status %q: %w", to, ErrInvalidTransition)
	}
	if !allowed[to] {
		return fmt.Errorf("%s -> %s: %w", from, to, ErrInvalidTransition)
	}
	return nil
}

// IsTerminalState checks if a status is terminal
func IsTerminalState(status JobStatus) bool {
	switch status {
	case JobStatusSucceeded, JobStatusFailed, JobStatusCanceled:
		return true
	default:
		return false
	}
}

// IsValidStatus reports whether s belongs to the closed status enum
func IsValidStatus(s JobStatus) bool {
	_, ok := validTransitions[s]
	return ok
}

// Rank orders statuses along the lifecycle. Terminal statuses share the top rank.
// Unknown statuses rank below starting.
func Rank(s JobStatus) int {
	switch s {
	case JobStatusStarting:
		return 0
	case JobStatusProcessing:
		return 1
	case JobStatusSucceeded, JobStatusFailed, JobStatusCanceled:
		return 2
	default:
		return -1
	}
}
