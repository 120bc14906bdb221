package invite_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dcjanio/vibehouse/generic"
	"github.com/dcjanio/vibehouse/invite"
)

func TestComputeSlots_EmptyBusy_ReturnsFullGrid(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	slots, err := h.avail.ComputeSlots(ctx, hostAddr, 30, 7)
	require.NoError(t, err)

	// Tue..Fri plus the following Monday, 8 hourly starts each.
	window := generic.HorizonWindow(testNow, 7)
	grid := generic.DefaultWorkHours().Candidates(window.Start, window.End, 30)
	assert.Equal(t, grid, slots)
	assert.Len(t, slots, 5*8)
}

func TestComputeSlots_BusyHalfHourExcluded(t *testing.T) {
	// GIVEN: host busy [10:00, 10:30) on day 1
	// WHEN: 30-minute slots for day 1 only
	// THEN: 10:00 is gone, 09:00 and 11:00 remain
	h := newHarness(t)
	h.busy.Add(hostAddr, generic.Interval{Start: tuesdayAt(10, 0), End: tuesdayAt(10, 30)})

	slots, err := h.avail.ComputeSlots(context.Background(), hostAddr, 30, 1)
	require.NoError(t, err)

	assert.False(t, invite.HasSlot(slots, generic.NewInterval(tuesdayAt(10, 0), 30)))
	assert.True(t, invite.HasSlot(slots, generic.NewInterval(tuesdayAt(9, 0), 30)))
	assert.True(t, invite.HasSlot(slots, generic.NewInterval(tuesdayAt(11, 0), 30)))
	assert.Len(t, slots, 7)
}

func TestComputeSlots_NeverOverlapsBusy(t *testing.T) {
	busySets := [][]generic.Interval{
		{{Start: tuesdayAt(9, 15), End: tuesdayAt(9, 45)}},
		{{Start: tuesdayAt(8, 0), End: tuesdayAt(12, 0)}, {Start: tuesdayAt(11, 30), End: tuesdayAt(14, 10)}},
		{{Start: tuesdayAt(16, 59), End: tuesdayAt(17, 30)}},
		{{Start: tuesdayAt(0, 0), End: tuesdayAt(0, 0).Add(36 * time.Hour)}},
		{{Start: tuesdayAt(13, 0), End: tuesdayAt(13, 1)}, {Start: tuesdayAt(15, 0), End: tuesdayAt(15, 0)}},
	}

	for _, duration := range []int{15, 30, 45, 60, 90, 120} {
		for i, busy := range busySets {
			h := newHarness(t)
			h.busy.Add(hostAddr, busy...)

			slots, err := h.avail.ComputeSlots(context.Background(), hostAddr, duration, 3)
			require.NoError(t, err)
			for _, s := range slots {
				assert.False(t, generic.Overlaps(s, busy), "duration %d set %d slot %s overlaps", duration, i, s)
				assert.Equal(t, duration, s.Minutes())
				assert.True(t, s.Start.After(testNow))
			}
		}
	}
}

func TestComputeSlots_ExcludesHostBookings(t *testing.T) {
	// GIVEN: another invite of the same host is booked Tuesday 14:00
	h := newHarness(t)
	ctx := context.Background()
	h.mint(t, "1")
	_, err := h.coord.Redeem(ctx, h.redeemReq("1", tuesdayAt(14, 0)))
	require.NoError(t, err)

	// THEN: 14:00 is no longer offered to anyone for that host
	slots, err := h.avail.ComputeSlots(ctx, hostAddr, 30, 1)
	require.NoError(t, err)
	assert.False(t, invite.HasSlot(slots, generic.NewInterval(tuesdayAt(14, 0), 30)))
	assert.True(t, invite.HasSlot(slots, generic.NewInterval(tuesdayAt(15, 0), 30)))
}

func TestComputeSlots_InvalidParameters(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	cases := []struct {
		name     string
		duration int
		days     int
	}{
		{"duration too short", 14, 7},
		{"duration too long", 121, 7},
		{"zero horizon", 30, 0},
		{"horizon too long", 30, 31},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := h.avail.ComputeSlots(ctx, hostAddr, tc.duration, tc.days)
			assert.ErrorIs(t, err, generic.ErrInvalidParameter)
		})
	}

	_, err := h.avail.ComputeSlots(ctx, "  ", 30, 7)
	assert.ErrorIs(t, err, generic.ErrInvalidParameter)
}

func TestComputeSlots_BusySourceFailure_IsUpstreamUnavailable(t *testing.T) {
	h := newHarness(t)
	h.busy.err = errBoom

	slots, err := h.avail.ComputeSlots(context.Background(), hostAddr, 30, 7)
	assert.Nil(t, slots)
	assert.ErrorIs(t, err, generic.ErrUpstreamUnavailable)
	assert.ErrorIs(t, err, errBoom)
}

func TestComputeSlots_BusySourceTimeout_IsUpstreamUnavailable(t *testing.T) {
	h := newHarness(t)
	h.busy.block = true

	_, err := h.avail.ComputeSlots(context.Background(), hostAddr, 30, 7)
	assert.ErrorIs(t, err, generic.ErrUpstreamUnavailable)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.True(t, generic.IsRetryable(err))
}
