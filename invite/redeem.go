/*
redeem.go - Redemption state machine and two-step commit

PURPOSE:
  Moves an invite from Active to Booked exactly once, across two systems
  that share no transaction.

PRECONDITIONS (checked in order, each a distinct failure):
  1. View is found, not booked, not pending, not expired
     -> NotFound | Conflict | PendingConfirmation | Expired
  2. Actor is the recipient                      -> Forbidden
  3. Slot is among the slots computed right now  -> SlotNoLongerAvailable
  4. Contact email parses                        -> InvalidParameter

COMMIT PROTOCOL:
  1. Create the external calendar event (gives the event ref)
  2. Conditional record write: slot, ref, email, mirror redeemed=true
  3. Ledger redeem

  Step 2 rejected -> no ledger call, event cancelled, invite stays Active.
  Step 2 times out -> the row is read back. If it carries our event ref the
                  write landed: PendingConfirmation, event kept. If it
                  does not, the event is cancelled. If the read fails too,
                  the event is kept and flagged orphan_suspected.
  Step 3 fails -> invite is PendingConfirmation: record says booked, ledger
                  does not. Resolve() retries only step 3.
  Step 3 says already redeemed -> Conflict; this caller lost a race.

EXCLUSIVITY:
  No in-process lock. The record store's conditional write rejects the
  second writer for the same invite, and the ledger's redeem succeeds at
  most once. Either one is enough to keep two callers from both succeeding.

SEE ALSO:
  - reconcile.go: View and divergence detection
  - availability.go: Slot re-validation
*/
package invite

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/dcjanio/vibehouse/generic"
)

// Coordinator drives redemptions.
type Coordinator struct {
	reconciler   *Reconciler
	availability *Availability
	ledger       *LedgerGateway
	records      *Records
	scheduler    Scheduler
	notifier     Notifier
	audit        AuditLog
	clock        Clock
	log          *slog.Logger
	metrics      *Metrics

	horizonDays      int
	schedulerTimeout time.Duration
}

// CoordinatorConfig wires a Coordinator. Notifier, Audit, Log and Metrics
// are optional.
type CoordinatorConfig struct {
	Reconciler   *Reconciler
	Availability *Availability
	Ledger       *LedgerGateway
	Records      *Records
	Scheduler    Scheduler
	Notifier     Notifier
	Audit        AuditLog
	Clock        Clock
	Log          *slog.Logger
	Metrics      *Metrics

	// HorizonDays is the horizon slots are re-validated against.
	HorizonDays      int
	SchedulerTimeout time.Duration
}

func NewCoordinator(cfg CoordinatorConfig) (*Coordinator, error) {
	if cfg.Reconciler == nil || cfg.Availability == nil || cfg.Ledger == nil || cfg.Records == nil || cfg.Scheduler == nil {
		return nil, errors.New("invite: coordinator requires reconciler, availability, ledger, records and scheduler")
	}
	if cfg.HorizonDays == 0 {
		cfg.HorizonDays = MaxHorizonDays
	}
	if cfg.HorizonDays < MinHorizonDays || cfg.HorizonDays > MaxHorizonDays {
		return nil, &generic.InvalidParameterError{Field: "horizon_days", Reason: "must be between 1 and 30"}
	}
	if cfg.Audit == nil {
		cfg.Audit = nopAudit{}
	}
	if cfg.Log == nil {
		cfg.Log = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Coordinator{
		reconciler:       cfg.Reconciler,
		availability:     cfg.Availability,
		ledger:           cfg.Ledger,
		records:          cfg.Records,
		scheduler:        cfg.Scheduler,
		notifier:         cfg.Notifier,
		audit:            cfg.Audit,
		clock:            cfg.Clock,
		log:              cfg.Log,
		metrics:          cfg.Metrics,
		horizonDays:      cfg.HorizonDays,
		schedulerTimeout: cfg.SchedulerTimeout,
	}, nil
}

// =============================================================================
// REDEEM
// =============================================================================

// Redeem books req.Slot for req.InviteID. It returns either a full
// Confirmation or one of the generic taxonomy errors, never partial success.
func (c *Coordinator) Redeem(ctx context.Context, req RedeemRequest) (Confirmation, error) {
	conf, err := c.redeem(ctx, req)
	c.metrics.observeRedeem(err)
	if err != nil {
		c.log.Info("redeem.rejected", "invite_id", req.InviteID, "code", generic.Code(err), "err", err)
	}
	return conf, err
}

func (c *Coordinator) redeem(ctx context.Context, req RedeemRequest) (Confirmation, error) {
	// 1. Invite state
	v, err := c.reconciler.View(ctx, req.InviteID)
	if err != nil {
		return Confirmation{}, err
	}
	if err := stateError(v); err != nil {
		return Confirmation{}, err
	}

	// 2. Ownership
	actor := NormalizeIdentity(req.Actor)
	if actor == "" || actor != v.Recipient {
		return Confirmation{}, fmt.Errorf("invite %s: %w", v.ID, generic.ErrForbidden)
	}

	// 3. Slot re-validation against live availability
	slot := generic.Interval{Start: req.Slot.Start.UTC(), End: req.Slot.End.UTC()}
	slots, err := c.availability.ComputeSlots(ctx, v.Host, v.DurationMinutes, c.horizonDays)
	if err != nil {
		return Confirmation{}, err
	}
	if !HasSlot(slots, slot) {
		return Confirmation{}, fmt.Errorf("slot %s: %w", slot, generic.ErrSlotNoLongerAvailable)
	}

	// 4. Contact email
	email, err := ValidateEmail(req.ContactEmail)
	if err != nil {
		return Confirmation{}, err
	}

	return c.commit(ctx, v, actor, slot, email)
}

func stateError(v View) error {
	switch v.State {
	case StateBooked:
		return fmt.Errorf("invite %s: %w", v.ID, generic.ErrConflict)
	case StatePendingConfirmation:
		return &generic.PendingConfirmationError{InviteID: v.ID}
	case StateExpired:
		return fmt.Errorf("invite %s expired at %s: %w", v.ID, v.ExpiresAt.Format(time.RFC3339), generic.ErrExpired)
	}
	return nil
}

func (c *Coordinator) commit(ctx context.Context, v View, actor string, slot generic.Interval, email string) (Confirmation, error) {
	acceptedAt := c.clock.now()

	schedCtx, cancel := withTimeout(ctx, c.schedulerTimeout)
	event, err := c.scheduler.CreateEvent(schedCtx, eventRequestFor(v, slot, email))
	cancel()
	if err != nil {
		return Confirmation{}, generic.Upstream("scheduler", "create_event", err)
	}

	err = c.records.CommitBooking(ctx, Booking{
		InviteID:         v.ID,
		Host:             v.Host,
		Recipient:        v.Recipient,
		Topic:            v.Topic,
		Slot:             slot,
		ContactEmail:     email,
		ExternalEventRef: event.Ref,
		JoinURL:          event.JoinURL,
		At:               acceptedAt,
	})
	if err != nil {
		return Confirmation{}, c.abandonCommit(ctx, v.ID, actor, event.Ref, err)
	}

	outcome, err := c.ledger.Redeem(ctx, v.ID)
	if err != nil {
		c.log.Warn("redeem.pending", "invite_id", v.ID, "err", err)
		c.appendAudit(ctx, v.ID, actor, AuditPending, err.Error())
		return Confirmation{}, &generic.PendingConfirmationError{InviteID: v.ID, Cause: err}
	}

	switch outcome {
	case RedeemOK:
	case RedeemAlreadyRedeemed:
		// Someone else's redemption reached the ledger first. Our row may now
		// describe a booking that never happened; leave it for an operator.
		c.log.Warn("redeem.race_lost", "invite_id", v.ID, "event_ref", event.Ref)
		c.appendAudit(ctx, v.ID, actor, AuditOrphanSuspected, "ledger reported already redeemed; event "+event.Ref)
		return Confirmation{}, fmt.Errorf("invite %s: ledger already redeemed: %w", v.ID, generic.ErrConflict)
	case RedeemNotFound:
		c.appendAudit(ctx, v.ID, actor, AuditOrphanSuspected, "ledger reported not found")
		return Confirmation{}, fmt.Errorf("invite %s: ledger redeem: %w", v.ID, generic.ErrNotFound)
	default:
		err := fmt.Errorf("unexpected ledger outcome %s", outcome)
		c.appendAudit(ctx, v.ID, actor, AuditPending, err.Error())
		return Confirmation{}, &generic.PendingConfirmationError{InviteID: v.ID, Cause: err}
	}

	conf := Confirmation{
		InviteID:         v.ID,
		ScheduledAt:      slot.Start,
		ScheduledEnd:     slot.End,
		ExternalEventRef: event.Ref,
		JoinURL:          event.JoinURL,
	}
	c.appendAudit(ctx, v.ID, actor, AuditRedeemed, slot.String())
	c.log.Info("redeem.booked", "invite_id", v.ID, "host", v.Host, "slot", slot.String())
	c.notify(ctx, v, conf, email)
	return conf, nil
}

// abandonCommit decides what a failed record write leaves behind. A
// rejection means nothing was written and the event can go. Any other
// failure may have landed, so the row is read back before the event is
// touched.
func (c *Coordinator) abandonCommit(ctx context.Context, inviteID, actor, ref string, err error) error {
	if errors.Is(err, generic.ErrConflict) || errors.Is(err, generic.ErrSlotNoLongerAvailable) {
		c.cancelEvent(ctx, inviteID, actor, ref, generic.Code(err))
		return err
	}

	rec, ok, getErr := c.records.Get(context.WithoutCancel(ctx), inviteID)
	switch {
	case getErr != nil:
		// Outcome unknown. Keep the event; an operator can match it by ref.
		c.log.Warn("redeem.commit.unknown", "invite_id", inviteID, "event_ref", ref, "err", err, "get_err", getErr)
		c.appendAudit(ctx, inviteID, actor, AuditOrphanSuspected, "record write outcome unknown; event "+ref)
		return err
	case ok && rec.Redeemed && rec.ExternalEventRef == ref:
		c.log.Warn("redeem.pending", "invite_id", inviteID, "event_ref", ref, "err", err)
		c.appendAudit(ctx, inviteID, actor, AuditPending, "record write reported "+generic.Code(err)+" but landed")
		return &generic.PendingConfirmationError{InviteID: inviteID, Cause: err}
	}

	c.cancelEvent(ctx, inviteID, actor, ref, generic.Code(err))
	return err
}

// =============================================================================
// RESOLVE - Operator retry of the ledger step only
// =============================================================================

// Resolve retries the ledger redemption for a PendingConfirmation invite.
// Already-redeemed on the ledger counts as resolved. An invite that is
// already Booked returns its confirmation unchanged.
func (c *Coordinator) Resolve(ctx context.Context, inviteID string) (Confirmation, error) {
	conf, err := c.resolve(ctx, inviteID)
	c.metrics.observeResolve(err)
	return conf, err
}

func (c *Coordinator) resolve(ctx context.Context, inviteID string) (Confirmation, error) {
	v, err := c.reconciler.View(ctx, inviteID)
	if err != nil {
		return Confirmation{}, err
	}
	switch v.State {
	case StateBooked:
		return confirmationOf(v), nil
	case StatePendingConfirmation:
	default:
		return Confirmation{}, &generic.InvalidParameterError{Field: "invite_id", Reason: "invite is not pending confirmation"}
	}

	outcome, err := c.ledger.Redeem(ctx, inviteID)
	if err != nil {
		return Confirmation{}, &generic.PendingConfirmationError{InviteID: inviteID, Cause: err}
	}
	if outcome == RedeemNotFound {
		return Confirmation{}, fmt.Errorf("invite %s: ledger redeem: %w", inviteID, generic.ErrNotFound)
	}

	c.appendAudit(ctx, inviteID, "", AuditResolved, outcome.String())
	c.log.Info("redeem.resolved", "invite_id", inviteID, "outcome", outcome.String())
	return confirmationOf(v), nil
}

func confirmationOf(v View) Confirmation {
	conf := Confirmation{
		InviteID:         v.ID,
		ExternalEventRef: v.ExternalEventRef,
		JoinURL:          v.JoinURL,
	}
	if v.ScheduledAt != nil {
		conf.ScheduledAt = *v.ScheduledAt
		conf.ScheduledEnd = v.ScheduledAt.Add(time.Duration(v.DurationMinutes) * time.Minute)
	}
	return conf
}

// =============================================================================
// SIDE EFFECTS (best effort, never change the outcome)
// =============================================================================

func (c *Coordinator) cancelEvent(ctx context.Context, inviteID, actor, ref, reason string) {
	if ref == "" {
		return
	}
	cctx, cancel := withTimeout(context.WithoutCancel(ctx), c.schedulerTimeout)
	defer cancel()
	if err := c.scheduler.CancelEvent(cctx, ref); err != nil {
		c.log.Warn("redeem.cancel_event.fail", "invite_id", inviteID, "event_ref", ref, "err", err)
		return
	}
	c.appendAudit(ctx, inviteID, actor, AuditEventCancelled, ref+": "+reason)
}

func (c *Coordinator) appendAudit(ctx context.Context, inviteID, actor string, action AuditAction, detail string) {
	err := c.audit.Append(context.WithoutCancel(ctx), AuditEntry{
		At:       c.clock.now(),
		InviteID: inviteID,
		Actor:    actor,
		Action:   action,
		Detail:   detail,
	})
	if err != nil {
		c.log.Error("audit.append.fail", "invite_id", inviteID, "action", string(action), "err", err)
	}
}

func (c *Coordinator) notify(ctx context.Context, v View, conf Confirmation, email string) {
	if c.notifier == nil {
		return
	}
	if err := c.notifier.Notify(ctx, ConfirmationMessage(v, conf, email)); err != nil {
		c.log.Warn("notify.fail", "invite_id", v.ID, "err", err)
	}
}
