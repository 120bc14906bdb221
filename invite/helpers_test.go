package invite_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/dcjanio/vibehouse/generic"
	"github.com/dcjanio/vibehouse/invite"
	"github.com/dcjanio/vibehouse/store/memory"
)

// =============================================================================
// TEST SETUP
// =============================================================================

// Monday 2026-03-02 12:00 UTC. Horizon day 1 is Tuesday 2026-03-03.
var testNow = time.Date(2026, time.March, 2, 12, 0, 0, 0, time.UTC)

const (
	hostAddr      = "0xhost000000000000000000000000000000000001"
	recipientAddr = "0xrecipient00000000000000000000000000000002"
	strangerAddr  = "0xstranger000000000000000000000000000000003"
)

func tuesdayAt(hour, minute int) time.Time {
	return time.Date(2026, time.March, 3, hour, minute, 0, 0, time.UTC)
}

type harness struct {
	ledger  *flakyLedger
	records *flakyRecords
	busy    *flakyBusy
	sched   *gatedScheduler
	audit   *memory.Audit

	gateway *invite.LedgerGateway
	recs    *invite.Records
	avail   *invite.Availability
	recon   *invite.Reconciler
	coord   *invite.Coordinator
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	clock := func() time.Time { return testNow }
	h := &harness{
		ledger:  &flakyLedger{Ledger: memory.NewLedger().WithClock(clock)},
		records: &flakyRecords{Records: memory.NewRecords()},
		busy:    &flakyBusy{Busy: memory.NewBusy()},
		sched:   &gatedScheduler{Scheduler: memory.NewScheduler("https://meet.test")},
		audit:   memory.NewAudit(),
	}

	h.gateway = invite.NewLedgerGateway(h.ledger, time.Second)
	h.recs = invite.NewRecords(h.records, time.Second)
	h.avail = invite.NewAvailability(invite.AvailabilityConfig{
		Busy:        h.busy,
		Records:     h.recs,
		Clock:       clock,
		BusyTimeout: 200 * time.Millisecond,
	})
	h.recon = invite.NewReconciler(h.gateway, h.recs, clock, nil)

	coord, err := invite.NewCoordinator(invite.CoordinatorConfig{
		Reconciler:   h.recon,
		Availability: h.avail,
		Ledger:       h.gateway,
		Records:      h.recs,
		Scheduler:    h.sched,
		Audit:        h.audit,
		Clock:        clock,
		HorizonDays:  7,
	})
	require.NoError(t, err)
	h.coord = coord
	return h
}

// mint adds an active 30-minute invite from hostAddr to recipientAddr.
func (h *harness) mint(t *testing.T, id string) {
	t.Helper()
	require.NoError(t, h.ledger.Mint(invite.LedgerInvite{
		ID:              id,
		Host:            hostAddr,
		Recipient:       recipientAddr,
		Topic:           "Coffee chat",
		DurationMinutes: 30,
		ExpiresAt:       testNow.Add(14 * 24 * time.Hour),
	}))
}

func (h *harness) redeemReq(id string, start time.Time) invite.RedeemRequest {
	return invite.RedeemRequest{
		InviteID:     id,
		Actor:        recipientAddr,
		Slot:         generic.NewInterval(start, 30),
		ContactEmail: "guest@example.com",
	}
}

func (h *harness) actions(t *testing.T, id string) []invite.AuditAction {
	t.Helper()
	entries, err := h.audit.Query(context.Background(), id)
	require.NoError(t, err)
	var out []invite.AuditAction
	for _, e := range entries {
		out = append(out, e.Action)
	}
	return out
}

// =============================================================================
// FAULT INJECTION
// =============================================================================

var errBoom = errors.New("boom")

type flakyLedger struct {
	*memory.Ledger
	mu            sync.Mutex
	getErr        error
	redeemErr     error
	redeemOutcome *invite.RedeemOutcome
	redeemCalls   int
}

func (f *flakyLedger) GetInvite(ctx context.Context, id string) (invite.LedgerInvite, error) {
	f.mu.Lock()
	err := f.getErr
	f.mu.Unlock()
	if err != nil {
		return invite.LedgerInvite{}, err
	}
	return f.Ledger.GetInvite(ctx, id)
}

func (f *flakyLedger) Redeem(ctx context.Context, id string) (invite.RedeemOutcome, error) {
	f.mu.Lock()
	f.redeemCalls++
	err, outcome := f.redeemErr, f.redeemOutcome
	f.mu.Unlock()
	if err != nil {
		return 0, err
	}
	if outcome != nil {
		return *outcome, nil
	}
	return f.Ledger.Redeem(ctx, id)
}

func (f *flakyLedger) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.redeemCalls
}

type flakyRecords struct {
	*memory.Records
	mu        sync.Mutex
	getErr    error
	commitErr error

	// lostAck is returned after the write has been applied.
	lostAck           error
	// getErrAfterCommit becomes getErr once a write has been applied.
	getErrAfterCommit error
}

func (f *flakyRecords) Get(ctx context.Context, id string) (invite.Record, error) {
	f.mu.Lock()
	err := f.getErr
	f.mu.Unlock()
	if err != nil {
		return invite.Record{}, err
	}
	return f.Records.Get(ctx, id)
}

func (f *flakyRecords) CommitBooking(ctx context.Context, b invite.Booking) error {
	if f.commitErr != nil {
		return f.commitErr
	}
	if err := f.Records.CommitBooking(ctx, b); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.getErrAfterCommit != nil {
		f.getErr = f.getErrAfterCommit
	}
	return f.lostAck
}

type flakyBusy struct {
	*memory.Busy
	err   error
	block bool
}

func (f *flakyBusy) BusyIntervals(ctx context.Context, host string, start, end time.Time) ([]generic.Interval, error) {
	if f.block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if f.err != nil {
		return nil, f.err
	}
	return f.Busy.BusyIntervals(ctx, host, start, end)
}

// gatedScheduler optionally holds every CreateEvent until gate is closed.
type gatedScheduler struct {
	*memory.Scheduler
	gate    chan struct{}
	arrived sync.WaitGroup
}

func (g *gatedScheduler) CreateEvent(ctx context.Context, req invite.EventRequest) (invite.Event, error) {
	if g.gate != nil {
		g.arrived.Done()
		<-g.gate
	}
	return g.Scheduler.CreateEvent(ctx, req)
}
