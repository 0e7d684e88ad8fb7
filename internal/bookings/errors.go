package bookings

import (
	"errors"
	"fmt"

	"github.com/wolfman30/appointment-engine/internal/availability"
)

// CodeSlotTaken is the only conflict code the engine produces.
const CodeSlotTaken = "slot_taken"

// ValidationError and NotFoundError are shared with the availability engine
// so both paths report the same taxonomy.
type (
	ValidationError = availability.ValidationError
	NotFoundError   = availability.NotFoundError
)

var (
	ErrValidation  = availability.ErrValidation
	ErrNotFound    = availability.ErrNotFound
	ErrSlotTaken   = errors.New("slot_taken")
	ErrLockTimeout = errors.New("lock_timeout")
)

// ConflictError means the slot was taken between display and commit. The
// caller must refresh availability rather than resubmit the same slot.
type ConflictError struct {
	Code string
	Err  error
}

func (e *ConflictError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("conflict: %s: %v", e.Code, e.Err)
	}
	return "conflict: " + e.Code
}

func (e *ConflictError) Is(target error) bool { return target == ErrSlotTaken }

func (e *ConflictError) Unwrap() error { return e.Err }

// LockTimeoutError is transient. The identical request may be retried.
type LockTimeoutError struct {
	Key DayKey
	Err error
}

func (e *LockTimeoutError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("lock timeout on %s: %v", e.Key, e.Err)
	}
	return "lock timeout on " + e.Key.String()
}

func (e *LockTimeoutError) Is(target error) bool { return target == ErrLockTimeout }

func (e *LockTimeoutError) Unwrap() error { return e.Err }

func slotTaken(cause error) error {
	return &ConflictError{Code: CodeSlotTaken, Err: cause}
}

func invalid(field, reason string) error {
	return &ValidationError{Field: field, Reason: reason}
}
