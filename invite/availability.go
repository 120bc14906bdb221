package invite

import (
	"context"
	"time"

	"github.com/dcjanio/vibehouse/generic"
)

// Bounds on slot requests.
const (
	MinDurationMinutes = 15
	MaxDurationMinutes = 120
	MinHorizonDays     = 1
	MaxHorizonDays     = 30
)

// BusySource is the injected external-calendar capability.
type BusySource interface {
	BusyIntervals(ctx context.Context, host string, start, end time.Time) ([]generic.Interval, error)
}

// Availability computes offerable slots for a host. It holds no mutable
// state and is safe for concurrent use.
type Availability struct {
	busy    BusySource
	records *Records // may be nil: external calendar only
	hours   generic.WorkHours
	clock   Clock
	timeout time.Duration
	metrics *Metrics
}

// AvailabilityConfig wires an Availability.
type AvailabilityConfig struct {
	Busy        BusySource
	Records     *Records
	Hours       generic.WorkHours
	Clock       Clock
	BusyTimeout time.Duration
	Metrics     *Metrics
}

func NewAvailability(cfg AvailabilityConfig) *Availability {
	if cfg.Hours == (generic.WorkHours{}) {
		cfg.Hours = generic.DefaultWorkHours()
	}
	if cfg.BusyTimeout <= 0 {
		cfg.BusyTimeout = 10 * time.Second
	}
	return &Availability{
		busy:    cfg.Busy,
		records: cfg.Records,
		hours:   cfg.Hours,
		clock:   cfg.Clock,
		timeout: cfg.BusyTimeout,
		metrics: cfg.Metrics,
	}
}

// ComputeSlots returns the candidate grid for the next horizonDays days minus
// anything that overlaps the host's busy intervals or committed bookings.
// A busy-source failure is UpstreamUnavailable, never an open calendar.
func (a *Availability) ComputeSlots(ctx context.Context, host string, durationMinutes, horizonDays int) ([]generic.Interval, error) {
	if durationMinutes < MinDurationMinutes || durationMinutes > MaxDurationMinutes {
		return nil, &generic.InvalidParameterError{Field: "duration", Reason: "must be between 15 and 120 minutes"}
	}
	if horizonDays < MinHorizonDays || horizonDays > MaxHorizonDays {
		return nil, &generic.InvalidParameterError{Field: "days", Reason: "must be between 1 and 30"}
	}
	host = NormalizeIdentity(host)
	if host == "" {
		return nil, &generic.InvalidParameterError{Field: "host", Reason: "required"}
	}

	now := a.clock.now()
	window := generic.HorizonWindow(now, horizonDays)

	busy, err := a.busyIntervals(ctx, host, now, window.End)
	if err != nil {
		return nil, err
	}

	candidates := a.hours.Candidates(window.Start, window.End, durationMinutes)
	slots := make([]generic.Interval, 0, len(candidates))
	for _, c := range candidates {
		if !c.Start.After(now) {
			continue
		}
		if generic.Overlaps(c, busy) {
			continue
		}
		slots = append(slots, c)
	}

	a.metrics.observeSlots(len(slots))
	return slots, nil
}

func (a *Availability) busyIntervals(ctx context.Context, host string, start, end time.Time) ([]generic.Interval, error) {
	busyCtx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	external, err := a.busy.BusyIntervals(busyCtx, host, start, end)
	if err != nil {
		return nil, generic.Upstream("busy", "busy_intervals", err)
	}
	if a.records == nil {
		return generic.MergeIntervals(external), nil
	}

	booked, err := a.records.BookedIntervals(ctx, host, start, end)
	if err != nil {
		return nil, err
	}
	return generic.MergeIntervals(append(external, booked...)), nil
}

// HasSlot reports whether slot is exactly one of slots.
func HasSlot(slots []generic.Interval, slot generic.Interval) bool {
	for _, s := range slots {
		if s.Equal(slot) {
			return true
		}
	}
	return false
}
