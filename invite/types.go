/*
Package invite implements invite reconciliation, availability and redemption.

PURPOSE:
  An invite is a non-transferable token a host issues to a recipient, who
  redeems it by booking a meeting slot. Two systems hold invite state and
  neither can be written transactionally with the other:

    Ledger (on-chain):   id, host, recipient, topic, duration, expiry,
                         canonical redeemed flag
    Record store:        scheduled slot, external event ref, join URL,
                         contact email, mirror redeemed flag

KEY CONCEPTS IN THIS FILE (types.go):
  - LedgerInvite: What the ledger says about an invite
  - Record:       What the record store says about an invite
  - View:         The merged, reconciled picture (see reconcile.go)
  - State:        Active, PendingConfirmation, Booked, Expired

LIFECYCLE:
  Active ──redeem──► Booked
    │                  ▲
    │ record write ok, │ Resolve (ledger retry)
    │ ledger failed    │
    └──► PendingConfirmation
  Active ──time──► Expired (computed on read, never written)

SEE ALSO:
  - reconcile.go:    Merge rules
  - redeem.go:       Commit protocol
  - availability.go: Slot computation
*/
package invite

import (
	"strings"
	"time"

	"github.com/dcjanio/vibehouse/generic"
)

// =============================================================================
// LEDGER SIDE
// =============================================================================

// LedgerInvite is the ledger-authoritative projection of an invite.
type LedgerInvite struct {
	ID              string
	Host            string
	Recipient       string
	Topic           string
	DurationMinutes int
	ExpiresAt       time.Time
	CreatedAt       time.Time
	Redeemed        bool
	RedeemedAt      *time.Time
}

// =============================================================================
// RECORD SIDE
// =============================================================================

// Record is the record-store row for an invite. Topic, Host and Recipient are
// cached copies written at mint time and are never read back as authoritative.
type Record struct {
	InviteID         string
	Host             string
	Recipient        string
	Topic            string
	ContactEmail     string
	ScheduledAt      *time.Time
	ScheduledEnd     *time.Time
	ExternalEventRef string
	JoinURL          string
	Redeemed         bool // mirror only; see reconcile.go
	RedeemedAt       *time.Time
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// Booking is the conditional record write performed by a redemption.
type Booking struct {
	InviteID         string
	Host             string
	Recipient        string
	Topic            string
	Slot             generic.Interval
	ContactEmail     string
	ExternalEventRef string
	JoinURL          string
	At               time.Time
}

// =============================================================================
// MERGED VIEW
// =============================================================================

// State is the redemption state of an invite as seen by the coordinator.
type State string

const (
	StateActive              State = "active"
	StatePendingConfirmation State = "pending_confirmation"
	StateBooked              State = "booked"
	StateExpired             State = "expired"
)

// View is the reconciled invite. Ledger fields are taken verbatim; scheduling
// fields are absent until a record row carries them.
type View struct {
	ID              string
	Host            string
	Recipient       string
	Topic           string
	DurationMinutes int
	ExpiresAt       time.Time
	CreatedAt       time.Time

	Redeemed                  bool
	RedeemedAt                *time.Time
	PendingLedgerConfirmation bool

	ScheduledAt      *time.Time
	ExternalEventRef string
	JoinURL          string
	ContactEmail     string

	State State
}

// Bookable reports whether a fresh redemption may be attempted.
func (v View) Bookable() bool { return v.State == StateActive }

// =============================================================================
// REDEMPTION I/O
// =============================================================================

// RedeemRequest is the input to Coordinator.Redeem.
type RedeemRequest struct {
	InviteID     string
	Actor        string
	Slot         generic.Interval
	ContactEmail string
}

// Confirmation is returned only when both the record store and the ledger
// accepted the redemption.
type Confirmation struct {
	InviteID         string
	ScheduledAt      time.Time
	ScheduledEnd     time.Time
	ExternalEventRef string
	JoinURL          string
}

// =============================================================================
// HELPERS
// =============================================================================

// NormalizeIdentity lower-cases and trims an address so that checksummed and
// plain forms compare equal.
func NormalizeIdentity(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// Clock returns the current instant. Injected so tests control "now".
type Clock func() time.Time

func (c Clock) now() time.Time {
	if c == nil {
		return time.Now().UTC()
	}
	return c().UTC()
}

