/*
records.go - Accessor over the off-chain scheduling record store

PURPOSE:
  The record store owns scheduling metadata (slot, event ref, join URL,
  contact email) plus a mirror of the redeemed flag. The mirror exists only
  to detect a redemption whose ledger call never landed.

CONDITIONAL WRITE:
  CommitBooking is the single write of a redemption. It must succeed only if:
  1. the row's mirror redeemed flag is still false (else ErrAlreadyBooked)
  2. the slot does not overlap another booked slot of the same host
     (else ErrHostSlotTaken)
  Both checks and the write happen atomically inside the store.

ABSENCE:
  A missing row is not an error for the engine; it means "no scheduling
  metadata yet". Records.Get reports it with ok=false.

IMPLEMENTATIONS:
  - store/sqlite:   SQLite (go-sqlite3)
  - store/postgres: PostgreSQL (pgx)
  - store/memory:   In-memory for tests
*/
package invite

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dcjanio/vibehouse/generic"
)

// =============================================================================
// RECORD STORE CAPABILITY
// =============================================================================

var (
	// ErrRecordNotFound is returned by RecordStore.Get for unknown ids.
	ErrRecordNotFound = errors.New("record not found")

	// ErrRecordExists is returned by RecordStore.Insert for duplicate ids.
	ErrRecordExists = fmt.Errorf("record exists: %w", generic.ErrConflict)

	// ErrAlreadyBooked is returned by CommitBooking when the mirror is set.
	ErrAlreadyBooked = fmt.Errorf("record already booked: %w", generic.ErrConflict)

	// ErrHostSlotTaken is returned by CommitBooking on a host overlap.
	ErrHostSlotTaken = fmt.Errorf("host already booked in slot: %w", generic.ErrSlotNoLongerAvailable)
)

// RecordStore is the injected persistence capability, keyed by invite id.
type RecordStore interface {
	Get(ctx context.Context, inviteID string) (Record, error)
	Insert(ctx context.Context, rec Record) error

	// CommitBooking upserts the row and sets the mirror redeemed flag.
	CommitBooking(ctx context.Context, b Booking) error

	// BookedIntervals returns booked slots of host intersecting [from, to).
	BookedIntervals(ctx context.Context, host string, from, to time.Time) ([]generic.Interval, error)

	ListByRecipient(ctx context.Context, recipient string) ([]string, error)
	ListByHost(ctx context.Context, host string) ([]string, error)

	// ListRedeemed returns ids whose mirror redeemed flag is set.
	ListRedeemed(ctx context.Context) ([]string, error)
}

// =============================================================================
// ACCESSOR
// =============================================================================

const defaultStoreTimeout = 5 * time.Second

// Records bounds every store call and translates store errors.
type Records struct {
	store   RecordStore
	timeout time.Duration
}

func NewRecords(store RecordStore, timeout time.Duration) *Records {
	if timeout <= 0 {
		timeout = defaultStoreTimeout
	}
	return &Records{store: store, timeout: timeout}
}

// Get returns ok=false when no row exists.
func (r *Records) Get(ctx context.Context, inviteID string) (Record, bool, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	rec, err := r.store.Get(ctx, inviteID)
	if errors.Is(err, ErrRecordNotFound) {
		return Record{}, false, nil
	}
	if err != nil {
		return Record{}, false, generic.Upstream("records", "get", err)
	}
	return rec, true, nil
}

// Insert creates the row cached at mint time.
func (r *Records) Insert(ctx context.Context, rec Record) error {
	if rec.InviteID == "" {
		return &generic.InvalidParameterError{Field: "invite_id", Reason: "required"}
	}
	rec.Host = NormalizeIdentity(rec.Host)
	rec.Recipient = NormalizeIdentity(rec.Recipient)

	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()
	return generic.Upstream("records", "insert", r.store.Insert(ctx, rec))
}

// CommitBooking performs the conditional write. ErrAlreadyBooked and
// ErrHostSlotTaken pass through unchanged.
func (r *Records) CommitBooking(ctx context.Context, b Booking) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()
	return generic.Upstream("records", "commit_booking", r.store.CommitBooking(ctx, b))
}

func (r *Records) BookedIntervals(ctx context.Context, host string, from, to time.Time) ([]generic.Interval, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	ivs, err := r.store.BookedIntervals(ctx, NormalizeIdentity(host), from, to)
	if err != nil {
		return nil, generic.Upstream("records", "booked_intervals", err)
	}
	return ivs, nil
}

func (r *Records) ListByRecipient(ctx context.Context, recipient string) ([]string, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	ids, err := r.store.ListByRecipient(ctx, NormalizeIdentity(recipient))
	if err != nil {
		return nil, generic.Upstream("records", "list_by_recipient", err)
	}
	return ids, nil
}

// ListByHost returns the ids of invites host issued.
func (r *Records) ListByHost(ctx context.Context, host string) ([]string, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	ids, err := r.store.ListByHost(ctx, NormalizeIdentity(host))
	if err != nil {
		return nil, generic.Upstream("records", "list_by_host", err)
	}
	return ids, nil
}

func (r *Records) ListRedeemed(ctx context.Context) ([]string, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	ids, err := r.store.ListRedeemed(ctx)
	if err != nil {
		return nil, generic.Upstream("records", "list_redeemed", err)
	}
	return ids, nil
}
