package generic

import "time"

// =============================================================================
// WINDOW - The search range for availability
// =============================================================================

// Window is the half-open range [Start, End) an availability search covers.
//
// Examples:
//   - Horizon of 1 day from Mon 14:05: Tue 00:00 - Wed 00:00
//   - Horizon of 7 days from Fri 10:00: Sat 00:00 - next Sat 00:00
type Window struct {
	Start time.Time
	End   time.Time
}

// HorizonWindow returns the window of whole UTC days starting the day after
// now. Slots are never offered on the current day.
func HorizonWindow(now time.Time, horizonDays int) Window {
	start := NextDay(now)
	return Window{Start: start, End: start.AddDate(0, 0, horizonDays)}
}

// Contains returns true if t is within [Start, End).
func (w Window) Contains(t time.Time) bool {
	return !t.Before(w.Start) && t.Before(w.End)
}

// Days returns midnight UTC of every day the window touches.
func (w Window) Days() []time.Time {
	var days []time.Time
	for d := StartOfDay(w.Start); d.Before(w.End); d = d.AddDate(0, 0, 1) {
		days = append(days, d)
	}
	return days
}

func (w Window) String() string {
	return "[" + w.Start.UTC().Format(time.RFC3339) + ", " + w.End.UTC().Format(time.RFC3339) + ")"
}
