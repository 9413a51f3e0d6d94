package pipeline

import (
	"errors"
	"fmt"
)

// Sentinel errors for status transition validation.
// These can be used with errors.Is() for error checking.
var (
	// ErrInvalidStatus indicates a status outside the known enumeration.
	ErrInvalidStatus = errors.New("invalid load status")

	// ErrTerminalStatusImmutable indicates an attempt to transition from a terminal status.
	ErrTerminalStatusImmutable = errors.New("terminal load status is immutable")

	// ErrNotTerminal indicates a finalize attempt with a non-terminal target status.
	ErrNotTerminal = errors.New("finalize target must be a terminal status")
)

// Status is the load attempt state. Every attempt moves from StatusStarted to
// exactly one terminal status; terminal statuses are immutable.
type Status string

const (
	// StatusStarted is the initial state, set when the attempt is created at
	// pipeline entry.
	StatusStarted Status = "STARTED"

	// StatusCompleted means the run finished with zero failed records.
	// Terminal.
	StatusCompleted Status = "COMPLETED"

	// StatusCompletedWithErrors means the run finished but some rows failed
	// to load. Terminal. Carries real information a two-state enumeration
	// discards: the run is usable but needs remediation.
	StatusCompletedWithErrors Status = "COMPLETED_WITH_ERRORS"

	// StatusFailed means a blocking validation issue, extraction error, or
	// unrecoverable system error terminated the run. Terminal.
	StatusFailed Status = "FAILED"
)

// ValidStatuses returns all valid load statuses.
func ValidStatuses() []Status {
	return []Status{StatusStarted, StatusCompleted, StatusCompletedWithErrors, StatusFailed}
}

// IsValid checks if the Status is a known enumeration value.
func (s Status) IsValid() bool {
	for _, valid := range ValidStatuses() {
		if s == valid {
			return true
		}
	}

	return false
}

// IsTerminal returns true for the three end states. Terminal statuses cannot
// transition to any other status.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusCompletedWithErrors || s == StatusFailed
}

// String returns the string representation of the status.
func (s Status) String() string {
	return string(s)
}

// ValidateTransition validates a load attempt status transition.
//
// Valid transitions:
//   - STARTED → {COMPLETED, COMPLETED_WITH_ERRORS, FAILED}
//
// Invalid transitions:
//   - terminal → anything (terminal statuses are immutable)
//   - STARTED → STARTED (finalize must reach a terminal status)
func ValidateTransition(from, to Status) error {
	if !from.IsValid() {
		return fmt.Errorf("%w: %q", ErrInvalidStatus, from)
	}

	if !to.IsValid() {
		return fmt.Errorf("%w: %q", ErrInvalidStatus, to)
	}

	if from.IsTerminal() {
		return fmt.Errorf("%w: %s → %s", ErrTerminalStatusImmutable, from, to)
	}

	if !to.IsTerminal() {
		return fmt.Errorf("%w: %s → %s", ErrNotTerminal, from, to)
	}

	return nil
}

// TerminalStatus picks the terminal status for a run that reached the load
// stage: COMPLETED when nothing failed, COMPLETED_WITH_ERRORS otherwise.
func TerminalStatus(recordsFailed int) Status {
	if recordsFailed > 0 {
		return StatusCompletedWithErrors
	}

	return StatusCompleted
}
