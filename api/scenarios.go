/*
scenarios.go - Demo scenario loaders for testing and demonstrations

PURPOSE:

	Populates the in-memory ledger, the record store and the demo busy
	calendar with invites in each lifecycle state, so the dapp and the API
	can be exercised without a chain or a Google account.

AVAILABLE SCENARIOS:

	open-invite:          Active invites, host busy 10:00-10:30 tomorrow
	expired-invite:       Invite whose validity ended an hour ago
	pending-confirmation: Record says booked, ledger does not
	booked-invite:        Booked on both sides
	all:                  Every scenario above at once

HOW SCENARIOS WORK:
 1. Reset ledger, records and busy calendar
 2. Mint invites on the demo ledger
 3. Write record rows (and bookings) through the record store
 4. Optionally redeem on the ledger

USAGE VIA API:

	POST /api/scenarios/load
	{"scenario_id": "pending-confirmation"}

NOTE:

	Scenarios reset all data. Routes exist only when the demo ledger is used.

SEE ALSO:
  - handlers.go: Engine handlers
  - store/memory: Demo backends
*/
package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/dcjanio/vibehouse/generic"
	"github.com/dcjanio/vibehouse/invite"
	"github.com/dcjanio/vibehouse/store/memory"
)

// Demo addresses used by every scenario.
const (
	DemoHost  = "0xa11ce00000000000000000000000000000000001"
	DemoGuest = "0xb0b0000000000000000000000000000000000002"
)

// Demo holds the backends scenarios write into.
type Demo struct {
	Ledger  *memory.Ledger
	Busy    *memory.Busy // nil when busy intervals come from elsewhere
	Records invite.RecordStore
	Reset   func(ctx context.Context) error
	Clock   func() time.Time
}

func (d *Demo) now() time.Time {
	if d.Clock == nil {
		return time.Now().UTC()
	}
	return d.Clock().UTC()
}

// =============================================================================
// SCENARIO DEFINITIONS
// =============================================================================

var scenarios = []ScenarioDTO{
	{
		ID:          "open-invite",
		Name:        "Open Invite",
		Description: "Two active invites; the host is busy 10:00-10:30 UTC tomorrow",
	},
	{
		ID:          "expired-invite",
		Name:        "Expired Invite",
		Description: "Validity period ended; redemption is refused",
	},
	{
		ID:          "pending-confirmation",
		Name:        "Pending Confirmation",
		Description: "Booking written but the ledger redemption never landed",
	},
	{
		ID:          "booked-invite",
		Name:        "Booked Invite",
		Description: "Redeemed on the ledger with a scheduled meeting",
	},
	{
		ID:          "all",
		Name:        "All States",
		Description: "Every scenario loaded together",
	},
}

// ListScenarios returns available scenarios.
func (h *Handler) ListScenarios(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, scenarios)
}

// GetCurrentScenario returns the currently loaded scenario, if any.
func (h *Handler) GetCurrentScenario(w http.ResponseWriter, r *http.Request) {
	h.mu.Lock()
	current := h.currentScenario
	h.mu.Unlock()

	for _, s := range scenarios {
		if s.ID == current {
			writeJSON(w, http.StatusOK, s)
			return
		}
	}
	writeJSON(w, http.StatusOK, nil)
}

// LoadScenario loads a predefined scenario.
func (h *Handler) LoadScenario(w http.ResponseWriter, r *http.Request) {
	var req LoadScenarioRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	h.currentScenario = ""
	if err := h.Demo.load(r.Context(), req.ScenarioID); err != nil {
		if errors.Is(err, errUnknownScenario) {
			writeError(w, http.StatusBadRequest, "Unknown scenario", nil)
			return
		}
		writeError(w, http.StatusInternalServerError, fmt.Sprintf("Failed to load scenario: %v", err), err)
		return
	}
	h.currentScenario = req.ScenarioID

	writeJSON(w, http.StatusOK, map[string]string{"status": "loaded", "scenario": req.ScenarioID})
}

var errUnknownScenario = errors.New("unknown scenario")

func (d *Demo) load(ctx context.Context, id string) error {
	loaders := map[string][]func(context.Context) error{
		"open-invite":          {d.loadOpenInvite},
		"expired-invite":       {d.loadExpiredInvite},
		"pending-confirmation": {d.loadPendingConfirmation},
		"booked-invite":        {d.loadBookedInvite},
		"all":                  {d.loadOpenInvite, d.loadExpiredInvite, d.loadPendingConfirmation, d.loadBookedInvite},
	}
	steps, ok := loaders[id]
	if !ok {
		return errUnknownScenario
	}

	// Reset first
	d.Ledger.Reset()
	if d.Busy != nil {
		d.Busy.Reset()
	}
	if d.Reset != nil {
		if err := d.Reset(ctx); err != nil {
			return fmt.Errorf("reset: %w", err)
		}
	}

	for _, step := range steps {
		if err := step(ctx); err != nil {
			return err
		}
	}
	return nil
}

// =============================================================================
// SCENARIO LOADERS
// =============================================================================

func (d *Demo) loadOpenInvite(ctx context.Context) error {
	now := d.now()
	if err := d.mint(ctx, "1", "Coffee chat", 30, now.AddDate(0, 0, 14)); err != nil {
		return err
	}
	if err := d.mint(ctx, "2", "Design review", 60, now.AddDate(0, 0, 30)); err != nil {
		return err
	}
	if d.Busy != nil {
		tomorrow := generic.NextDay(now)
		d.Busy.Add(DemoHost, generic.Interval{
			Start: tomorrow.Add(10 * time.Hour),
			End:   tomorrow.Add(10*time.Hour + 30*time.Minute),
		})
	}
	return nil
}

func (d *Demo) loadExpiredInvite(ctx context.Context) error {
	return d.mint(ctx, "3", "Office hours", 30, d.now().Add(-time.Hour))
}

func (d *Demo) loadPendingConfirmation(ctx context.Context) error {
	if err := d.mint(ctx, "4", "Partnership call", 30, d.now().AddDate(0, 0, 14)); err != nil {
		return err
	}
	// Booking lands, ledger call does not.
	return d.book(ctx, "4", "Partnership call", 30, 14)
}

func (d *Demo) loadBookedInvite(ctx context.Context) error {
	if err := d.mint(ctx, "5", "Intro", 30, d.now().AddDate(0, 0, 14)); err != nil {
		return err
	}
	if err := d.book(ctx, "5", "Intro", 30, 15); err != nil {
		return err
	}
	outcome, err := d.Ledger.Redeem(ctx, "5")
	if err != nil {
		return err
	}
	if outcome != invite.RedeemOK {
		return fmt.Errorf("redeem 5: %s", outcome)
	}
	return nil
}

func (d *Demo) mint(ctx context.Context, id, topic string, minutes int, expires time.Time) error {
	if err := d.Ledger.Mint(invite.LedgerInvite{
		ID:              id,
		Host:            DemoHost,
		Recipient:       DemoGuest,
		Topic:           topic,
		DurationMinutes: minutes,
		ExpiresAt:       expires.UTC(),
		CreatedAt:       d.now(),
	}); err != nil {
		return err
	}
	return d.Records.Insert(ctx, invite.Record{
		InviteID:  id,
		Host:      DemoHost,
		Recipient: DemoGuest,
		Topic:     topic,
	})
}

// book commits a booking at hour:00 UTC on the next weekday.
func (d *Demo) book(ctx context.Context, id, topic string, minutes, hour int) error {
	day := generic.NextDay(d.now())
	for generic.IsWeekend(day) {
		day = generic.NextDay(day)
	}
	return d.Records.CommitBooking(ctx, invite.Booking{
		InviteID:         id,
		Host:             DemoHost,
		Recipient:        DemoGuest,
		Topic:            topic,
		Slot:             generic.NewInterval(day.Add(time.Duration(hour)*time.Hour), minutes),
		ContactEmail:     "guest@example.com",
		ExternalEventRef: "demo-" + id,
		At:               d.now(),
	})
}
