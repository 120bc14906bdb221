/*
reconcile.go - Merge ledger and record-store state into one View

MERGE RULES:
  1. Existence:     ledger only. No ledger record = NotFound, whatever the
                    record store holds.
  2. Identity:      host, recipient, topic, duration, expiry verbatim from
                    the ledger.
  3. Redeemed:      ledger true           -> true
                    ledger false, mirror true -> false, pending confirmation
                    both false            -> false
  4. Scheduling:    slot, event ref, join URL, email from the record row, or
                    absent when there is no row.
  5. State:         Booked > PendingConfirmation > Expired > Active

WHY NOT TRUST THE MIRROR?
  The mirror is written first during redemption (see redeem.go). A mirror
  without a ledger redemption means the second step never landed; reporting
  it as redeemed would hide a recoverable failure.

SEE ALSO:
  - redeem.go: Writes the record row and calls the ledger
*/
package invite

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sort"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/dcjanio/vibehouse/generic"
)

const ownerFanOut = 8

// Reconciler merges LedgerGateway and Records results.
type Reconciler struct {
	ledger  *LedgerGateway
	records *Records
	clock   Clock
	log     *slog.Logger
}

func NewReconciler(ledger *LedgerGateway, records *Records, clock Clock, log *slog.Logger) *Reconciler {
	if log == nil {
		log = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Reconciler{ledger: ledger, records: records, clock: clock, log: log}
}

// View returns the reconciled invite or generic.ErrNotFound.
func (r *Reconciler) View(ctx context.Context, inviteID string) (View, error) {
	if inviteID == "" {
		return View{}, &generic.InvalidParameterError{Field: "invite_id", Reason: "required"}
	}

	onChain, err := r.ledger.Invite(ctx, inviteID)
	if err != nil {
		return View{}, err
	}
	rec, hasRecord, err := r.records.Get(ctx, inviteID)
	if err != nil {
		return View{}, err
	}

	v := Merge(onChain, rec, hasRecord, r.clock.now())
	if v.PendingLedgerConfirmation {
		r.log.Warn("reconcile.divergence", "invite_id", inviteID, "host", v.Host)
	}
	return v, nil
}

// Merge applies the merge rules. Pure; exported for reuse by tooling.
func Merge(onChain LedgerInvite, rec Record, hasRecord bool, now time.Time) View {
	v := View{
		ID:              onChain.ID,
		Host:            onChain.Host,
		Recipient:       onChain.Recipient,
		Topic:           onChain.Topic,
		DurationMinutes: onChain.DurationMinutes,
		ExpiresAt:       onChain.ExpiresAt,
		CreatedAt:       onChain.CreatedAt,
		Redeemed:        onChain.Redeemed,
		RedeemedAt:      onChain.RedeemedAt,
	}

	if hasRecord {
		v.ScheduledAt = rec.ScheduledAt
		v.ExternalEventRef = rec.ExternalEventRef
		v.JoinURL = rec.JoinURL
		v.ContactEmail = rec.ContactEmail
		if !onChain.Redeemed && rec.Redeemed {
			v.PendingLedgerConfirmation = true
		}
	}

	switch {
	case v.Redeemed:
		v.State = StateBooked
	case v.PendingLedgerConfirmation:
		v.State = StatePendingConfirmation
	case !v.ExpiresAt.After(now):
		v.State = StateExpired
	default:
		v.State = StateActive
	}
	return v
}

// ViewByOwner returns views for every invite held by, or addressed to,
// identity. Ids the ledger does not know are dropped; any upstream failure
// fails the whole call.
func (r *Reconciler) ViewByOwner(ctx context.Context, identity string) ([]View, error) {
	identity = NormalizeIdentity(identity)
	if identity == "" {
		return nil, &generic.InvalidParameterError{Field: "owner", Reason: "required"}
	}

	owned, err := r.ledger.TokensOf(ctx, identity)
	if err != nil {
		return nil, err
	}
	addressed, err := r.records.ListByRecipient(ctx, identity)
	if err != nil {
		return nil, err
	}
	return r.viewAll(ctx, unionIDs(owned, addressed))
}

// ViewByHost returns views for every invite host issued, as far as the
// record store knows them.
func (r *Reconciler) ViewByHost(ctx context.Context, host string) ([]View, error) {
	host = NormalizeIdentity(host)
	if host == "" {
		return nil, &generic.InvalidParameterError{Field: "owner", Reason: "required"}
	}

	ids, err := r.records.ListByHost(ctx, host)
	if err != nil {
		return nil, err
	}
	return r.viewAll(ctx, ids)
}

// viewAll views ids concurrently, keeping their order. Ids the ledger does
// not know are dropped.
func (r *Reconciler) viewAll(ctx context.Context, ids []string) ([]View, error) {
	views := make([]*View, len(ids))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(ownerFanOut)
	for i, id := range ids {
		g.Go(func() error {
			v, err := r.View(gctx, id)
			if errors.Is(err, generic.ErrNotFound) {
				return nil
			}
			if err != nil {
				return err
			}
			views[i] = &v
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	out := make([]View, 0, len(views))
	for _, v := range views {
		if v != nil {
			out = append(out, *v)
		}
	}
	return out, nil
}

// Sweep returns the invites currently in PendingConfirmation. It never writes.
func (r *Reconciler) Sweep(ctx context.Context) ([]View, error) {
	ids, err := r.records.ListRedeemed(ctx)
	if err != nil {
		return nil, err
	}
	sort.Strings(ids)

	var pending []View
	for _, id := range ids {
		v, err := r.View(ctx, id)
		if errors.Is(err, generic.ErrNotFound) {
			r.log.Warn("reconcile.orphan_record", "invite_id", id)
			continue
		}
		if err != nil {
			return nil, err
		}
		if v.State == StatePendingConfirmation {
			pending = append(pending, v)
		}
	}
	r.log.Info("reconcile.sweep", "checked", len(ids), "pending", len(pending))
	return pending, nil
}

func unionIDs(a, b []string) []string {
	seen := make(map[string]struct{}, len(a)+len(b))
	var out []string
	for _, list := range [][]string{a, b} {
		for _, id := range list {
			if id == "" {
				continue
			}
			if _, ok := seen[id]; ok {
				continue
			}
			seen[id] = struct{}{}
			out = append(out, id)
		}
	}
	sort.Strings(out)
	return out
}
