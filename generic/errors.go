/*
errors.go - Centralized error taxonomy for the invite engine

PURPOSE:
  All error types in one place for consistency and discoverability.
  Adapters and the invite package wrap these errors with additional context;
  the HTTP layer maps them to status codes via Code().

ERROR CATEGORIES:
  1. Lookup errors      - NotFound
  2. Permission errors  - Forbidden
  3. Lifecycle errors   - Expired, Conflict, PendingConfirmation
  4. Input errors       - InvalidParameter, SlotNoLongerAvailable
  5. Dependency errors  - UpstreamUnavailable

USAGE:
  if errors.Is(err, generic.ErrSlotNoLongerAvailable) {
      // recompute slots and let the user pick again
  }

SEE ALSO:
  - invite/redeem.go: Produces most of these errors
  - api/handlers.go: Maps them to HTTP status codes
*/
package generic

import (
	"errors"
	"fmt"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrNotFound is returned when the ledger does not know the invite id.
	// Not retryable without a different id.
	ErrNotFound = errors.New("invite not found")

	// ErrForbidden is returned when the actor is not the invite's recipient.
	ErrForbidden = errors.New("actor is not the invite recipient")

	// ErrExpired is returned when the invite passed its expiry unredeemed.
	ErrExpired = errors.New("invite expired")

	// ErrConflict is returned when the invite is already booked, or a
	// concurrent redemption won the race.
	ErrConflict = errors.New("invite already redeemed")

	// ErrSlotNoLongerAvailable is returned when the chosen slot is not among
	// the slots computed at commit time. Retryable by recomputing slots.
	ErrSlotNoLongerAvailable = errors.New("slot no longer available")

	// ErrInvalidParameter is returned for malformed input. Caller bug.
	ErrInvalidParameter = errors.New("invalid parameter")

	// ErrUpstreamUnavailable is returned when a dependency errored or timed out.
	ErrUpstreamUnavailable = errors.New("upstream unavailable")

	// ErrPendingConfirmation is returned when the record store shows a booking
	// the ledger has not confirmed. Requires out-of-band reconciliation.
	ErrPendingConfirmation = errors.New("redemption pending ledger confirmation")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// InvalidParameterError names the offending field.
type InvalidParameterError struct {
	Field  string
	Reason string
}

func (e *InvalidParameterError) Error() string {
	return fmt.Sprintf("invalid parameter %s: %s", e.Field, e.Reason)
}

func (e *InvalidParameterError) Unwrap() error { return ErrInvalidParameter }

// UpstreamError records which dependency failed and how.
type UpstreamError struct {
	Dependency string // "ledger", "records", "busy", "scheduler"
	Op         string
	Err        error
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Dependency, e.Op, e.Err)
}

// Unwrap exposes both the taxonomy sentinel and the transport cause, so
// errors.Is(err, context.DeadlineExceeded) keeps working.
func (e *UpstreamError) Unwrap() []error { return []error{ErrUpstreamUnavailable, e.Err} }

// Upstream wraps err as an UpstreamError unless it already carries a
// taxonomy error.
func Upstream(dependency, op string, err error) error {
	if err == nil {
		return nil
	}
	if Code(err) != CodeInternal {
		return err
	}
	return &UpstreamError{Dependency: dependency, Op: op, Err: err}
}

// PendingConfirmationError is returned when a record-store booking landed but
// the ledger redemption did not.
type PendingConfirmationError struct {
	InviteID string
	Cause    error
}

func (e *PendingConfirmationError) Error() string {
	if e.Cause == nil {
		return fmt.Sprintf("invite %s: %v", e.InviteID, ErrPendingConfirmation)
	}
	return fmt.Sprintf("invite %s: %v: %v", e.InviteID, ErrPendingConfirmation, e.Cause)
}

func (e *PendingConfirmationError) Unwrap() error { return ErrPendingConfirmation }

// =============================================================================
// ERROR HELPERS
// =============================================================================

// Stable machine-readable codes for the boundary layer.
const (
	CodeNotFound              = "not_found"
	CodeForbidden             = "forbidden"
	CodeExpired               = "expired"
	CodeConflict              = "conflict"
	CodeSlotNoLongerAvailable = "slot_no_longer_available"
	CodeInvalidParameter      = "invalid_parameter"
	CodeUpstreamUnavailable   = "upstream_unavailable"
	CodePendingConfirmation   = "pending_confirmation"
	CodeInternal              = "internal"
)

// Code maps err to its taxonomy code. Order matters: a pending confirmation
// caused by an upstream failure reports as pending.
func Code(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrPendingConfirmation):
		return CodePendingConfirmation
	case errors.Is(err, ErrNotFound):
		return CodeNotFound
	case errors.Is(err, ErrForbidden):
		return CodeForbidden
	case errors.Is(err, ErrExpired):
		return CodeExpired
	case errors.Is(err, ErrConflict):
		return CodeConflict
	case errors.Is(err, ErrSlotNoLongerAvailable):
		return CodeSlotNoLongerAvailable
	case errors.Is(err, ErrInvalidParameter):
		return CodeInvalidParameter
	case errors.Is(err, ErrUpstreamUnavailable):
		return CodeUpstreamUnavailable
	default:
		return CodeInternal
	}
}

// IsRetryable returns true if the same call might succeed later.
func IsRetryable(err error) bool {
	switch Code(err) {
	case CodeUpstreamUnavailable, CodeSlotNoLongerAvailable:
		return true
	}
	return false
}

// IsClientError returns true if the error is due to the caller's input or
// identity rather than system state.
func IsClientError(err error) bool {
	switch Code(err) {
	case CodeInvalidParameter, CodeForbidden:
		return true
	}
	return false
}

func IsNotFound(err error) bool { return errors.Is(err, ErrNotFound) }
