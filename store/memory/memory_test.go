package memory_test

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dcjanio/vibehouse/generic"
	"github.com/dcjanio/vibehouse/invite"
	"github.com/dcjanio/vibehouse/store/memory"
)

var day = time.Date(2026, time.March, 3, 0, 0, 0, 0, time.UTC)

func booking(id, host string, hour, minute int) invite.Booking {
	return invite.Booking{
		InviteID:         id,
		Host:             host,
		Recipient:        "0xguest",
		Topic:            "Sync",
		Slot:             generic.NewInterval(day.Add(time.Duration(hour)*time.Hour+time.Duration(minute)*time.Minute), 30),
		ContactEmail:     "guest@example.com",
		ExternalEventRef: "ev-" + id,
		At:               day,
	}
}

// =============================================================================
// LEDGER
// =============================================================================

func TestLedger_RedeemOnce(t *testing.T) {
	ctx := context.Background()
	l := memory.NewLedger().WithClock(func() time.Time { return day })
	require.NoError(t, l.Mint(invite.LedgerInvite{ID: "1", Host: "0xHOST", Recipient: "0xGuest"}))
	assert.Error(t, l.Mint(invite.LedgerInvite{ID: "1"}), "minting twice")

	got, err := l.GetInvite(ctx, "1")
	require.NoError(t, err)
	assert.Equal(t, "0xhost", got.Host)
	assert.Equal(t, "0xguest", got.Recipient)

	out, err := l.Redeem(ctx, "1")
	require.NoError(t, err)
	assert.Equal(t, invite.RedeemOK, out)

	out, err = l.Redeem(ctx, "1")
	require.NoError(t, err)
	assert.Equal(t, invite.RedeemAlreadyRedeemed, out)

	out, err = l.Redeem(ctx, "2")
	require.NoError(t, err)
	assert.Equal(t, invite.RedeemNotFound, out)

	got, err = l.GetInvite(ctx, "1")
	require.NoError(t, err)
	assert.True(t, got.Redeemed)
	require.NotNil(t, got.RedeemedAt)
	assert.Equal(t, day, *got.RedeemedAt)

	_, err = l.GetInvite(ctx, "2")
	assert.ErrorIs(t, err, invite.ErrLedgerNotFound)
}

func TestLedger_ConcurrentRedeem(t *testing.T) {
	l := memory.NewLedger()
	require.NoError(t, l.Mint(invite.LedgerInvite{ID: "1"}))

	var ok atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if out, _ := l.Redeem(context.Background(), "1"); out == invite.RedeemOK {
				ok.Add(1)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), ok.Load())
}

func TestLedger_TokensOf(t *testing.T) {
	l := memory.NewLedger()
	require.NoError(t, l.Mint(invite.LedgerInvite{ID: "2", Recipient: "0xa"}))
	require.NoError(t, l.Mint(invite.LedgerInvite{ID: "1", Recipient: "0xA"}))
	require.NoError(t, l.Mint(invite.LedgerInvite{ID: "3", Recipient: "0xb"}))

	ids, err := l.TokensOf(context.Background(), " 0XA ")
	require.NoError(t, err)
	assert.Equal(t, []string{"1", "2"}, ids)

	l.Reset()
	ids, err = l.TokensOf(context.Background(), "0xa")
	require.NoError(t, err)
	assert.Empty(t, ids)
}

// =============================================================================
// RECORDS
// =============================================================================

func TestRecords_InsertAndGet(t *testing.T) {
	ctx := context.Background()
	r := memory.NewRecords()

	_, err := r.Get(ctx, "1")
	assert.ErrorIs(t, err, invite.ErrRecordNotFound)

	require.NoError(t, r.Insert(ctx, invite.Record{InviteID: "1", Host: "0xhost", Recipient: "0xguest"}))
	err = r.Insert(ctx, invite.Record{InviteID: "1"})
	assert.ErrorIs(t, err, invite.ErrRecordExists)
	assert.ErrorIs(t, err, generic.ErrConflict)

	rec, err := r.Get(ctx, "1")
	require.NoError(t, err)
	assert.False(t, rec.Redeemed)
	assert.False(t, rec.CreatedAt.IsZero())
}

func TestRecords_CommitBooking(t *testing.T) {
	ctx := context.Background()
	r := memory.NewRecords()

	// Upserts a row that was never inserted.
	require.NoError(t, r.CommitBooking(ctx, booking("1", "0xhost", 9, 0)))

	rec, err := r.Get(ctx, "1")
	require.NoError(t, err)
	assert.True(t, rec.Redeemed)
	require.NotNil(t, rec.ScheduledAt)
	assert.Equal(t, day.Add(9*time.Hour), *rec.ScheduledAt)
	assert.Equal(t, "ev-1", rec.ExternalEventRef)

	t.Run("same invite twice", func(t *testing.T) {
		assert.ErrorIs(t, r.CommitBooking(ctx, booking("1", "0xhost", 11, 0)), invite.ErrAlreadyBooked)
	})
	t.Run("host overlap", func(t *testing.T) {
		err := r.CommitBooking(ctx, booking("2", "0xhost", 9, 15))
		assert.ErrorIs(t, err, invite.ErrHostSlotTaken)
		assert.ErrorIs(t, err, generic.ErrSlotNoLongerAvailable)
	})
	t.Run("touching is fine", func(t *testing.T) {
		assert.NoError(t, r.CommitBooking(ctx, booking("3", "0xhost", 9, 30)))
	})
	t.Run("other host", func(t *testing.T) {
		assert.NoError(t, r.CommitBooking(ctx, booking("4", "0xother", 9, 0)))
	})

	booked, err := r.BookedIntervals(ctx, "0xhost", day, day.Add(24*time.Hour))
	require.NoError(t, err)
	require.Len(t, booked, 2)
	assert.Equal(t, day.Add(9*time.Hour), booked[0].Start)
	assert.Equal(t, day.Add(9*time.Hour+30*time.Minute), booked[1].Start)

	redeemed, err := r.ListRedeemed(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"1", "3", "4"}, redeemed)

	mine, err := r.ListByRecipient(ctx, "0xguest")
	require.NoError(t, err)
	assert.Equal(t, []string{"1", "3", "4"}, mine)

	issued, err := r.ListByHost(ctx, "0xhost")
	require.NoError(t, err)
	assert.Equal(t, []string{"1", "3"}, issued)

	issued, err = r.ListByHost(ctx, "0xguest")
	require.NoError(t, err)
	assert.Empty(t, issued)
}

func TestRecords_ConcurrentCommit(t *testing.T) {
	r := memory.NewRecords()

	var ok atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if r.CommitBooking(context.Background(), booking("1", "0xhost", 9+i%4, 0)) == nil {
				ok.Add(1)
			}
		}(i)
	}
	wg.Wait()
	assert.Equal(t, int32(1), ok.Load())
}

// =============================================================================
// BUSY, SCHEDULER, AUDIT
// =============================================================================

func TestBusy_FiltersWindowAndHost(t *testing.T) {
	b := memory.NewBusy()
	b.Add("0xHost",
		generic.NewInterval(day.Add(10*time.Hour), 30),
		generic.NewInterval(day.Add(48*time.Hour), 30),
	)

	got, err := b.BusyIntervals(context.Background(), "0xhost", day, day.Add(24*time.Hour))
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, day.Add(10*time.Hour), got[0].Start)

	got, err = b.BusyIntervals(context.Background(), "0xsomeoneelse", day, day.Add(72*time.Hour))
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestScheduler_CreateAndCancel(t *testing.T) {
	ctx := context.Background()
	s := memory.NewScheduler("https://meet.test")

	ev, err := s.CreateEvent(ctx, invite.EventRequest{InviteID: "1", Summary: "Sync"})
	require.NoError(t, err)
	assert.NotEmpty(t, ev.Ref)
	assert.Equal(t, "https://meet.test/"+ev.Ref, ev.JoinURL)
	assert.Contains(t, s.Events(), ev.Ref)

	require.NoError(t, s.CancelEvent(ctx, ev.Ref))
	assert.Empty(t, s.Events())
}

func TestAudit_AppendQuery(t *testing.T) {
	ctx := context.Background()
	a := memory.NewAudit()

	require.NoError(t, a.Append(ctx, invite.AuditEntry{InviteID: "1", Action: invite.AuditPending}))
	require.NoError(t, a.Append(ctx, invite.AuditEntry{InviteID: "2", Action: invite.AuditRedeemed}))
	require.NoError(t, a.Append(ctx, invite.AuditEntry{InviteID: "1", Action: invite.AuditResolved}))

	got, err := a.Query(ctx, "1")
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, invite.AuditPending, got[0].Action)
	assert.Equal(t, invite.AuditResolved, got[1].Action)
	assert.NotEmpty(t, got[0].ID)

	all, err := a.Query(ctx, "")
	require.NoError(t, err)
	assert.Len(t, all, 3)
}
