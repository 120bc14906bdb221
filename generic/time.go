/*
Package generic provides the domain-agnostic pieces of the invite engine.

PURPOSE:
  Time arithmetic for availability and the error taxonomy shared by every
  other package. Nothing here knows about ledgers, calendars or records.

KEY CONCEPTS IN THIS FILE (time.go):
  - Interval: Half-open [Start, End) in UTC
  - WorkHours: Daily window slots may be offered in
  - GenerateCandidates: The fixed slot grid before busy exclusion

DESIGN PRINCIPLES:
  1. Half-open: touching intervals never conflict
  2. UTC only: no host time zones are inferred
  3. Pure: no I/O, no clock reads

USAGE:
  w := generic.HorizonWindow(now, 7)
  for _, c := range generic.DefaultWorkHours().Candidates(w.Start, w.End, 30) {
      if !generic.Overlaps(c, busy) { ... }
  }

SEE ALSO:
  - period.go: Horizon window
  - errors.go: Error taxonomy
*/
package generic

import (
	"sort"
	"time"
)

// =============================================================================
// INTERVAL - Half-open time range [Start, End)
// =============================================================================

// Interval is a half-open range of time. Every interval in this system is
// expressed in UTC; the engine does not infer host-local time zones.
type Interval struct {
	Start time.Time
	End   time.Time
}

// NewInterval builds [start, start+minutes) in UTC.
func NewInterval(start time.Time, minutes int) Interval {
	s := start.UTC()
	return Interval{Start: s, End: s.Add(time.Duration(minutes) * time.Minute)}
}

func (i Interval) Duration() time.Duration { return i.End.Sub(i.Start) }
func (i Interval) Minutes() int            { return int(i.Duration() / time.Minute) }
func (i Interval) Valid() bool             { return i.End.After(i.Start) }

// Equal compares instants, not locations.
func (i Interval) Equal(other Interval) bool {
	return i.Start.Equal(other.Start) && i.End.Equal(other.End)
}

// Intersects reports half-open overlap: touching endpoints do not overlap.
func (i Interval) Intersects(other Interval) bool {
	return i.Start.Before(other.End) && i.End.After(other.Start)
}

func (i Interval) String() string {
	return "[" + i.Start.UTC().Format(time.RFC3339) + ", " + i.End.UTC().Format(time.RFC3339) + ")"
}

// Overlaps returns true iff candidate intersects any busy interval.
func Overlaps(candidate Interval, busy []Interval) bool {
	for _, b := range busy {
		if candidate.Intersects(b) {
			return true
		}
	}
	return false
}

// MergeIntervals sorts and coalesces overlapping or touching intervals.
// Invalid (empty or inverted) intervals are dropped.
func MergeIntervals(in []Interval) []Interval {
	sorted := make([]Interval, 0, len(in))
	for _, iv := range in {
		if iv.Valid() {
			sorted = append(sorted, Interval{Start: iv.Start.UTC(), End: iv.End.UTC()})
		}
	}
	sort.Slice(sorted, func(a, b int) bool { return sorted[a].Start.Before(sorted[b].Start) })

	var out []Interval
	for _, iv := range sorted {
		n := len(out)
		if n > 0 && !iv.Start.After(out[n-1].End) {
			if iv.End.After(out[n-1].End) {
				out[n-1].End = iv.End
			}
			continue
		}
		out = append(out, iv)
	}
	return out
}

// =============================================================================
// WORK HOURS - Daily offerable window
// =============================================================================

// WorkHours is the per-day window in which slots may be offered.
type WorkHours struct {
	StartHour       int  // inclusive, 0-23
	EndHour         int  // exclusive boundary, 1-24
	StepMinutes     int  // grid spacing between candidate starts
	ExcludeWeekends bool // skip Saturday and Sunday entirely
}

// DefaultWorkHours is 09:00-17:00 UTC on the hour, weekdays only.
func DefaultWorkHours() WorkHours {
	return WorkHours{StartHour: 9, EndHour: 17, StepMinutes: 60, ExcludeWeekends: true}
}

// Validate rejects hours outside a single day or a non-positive step.
func (w WorkHours) Validate() error {
	if w.StartHour < 0 || w.StartHour > 23 {
		return &InvalidParameterError{Field: "work_start_hour", Reason: "must be between 0 and 23"}
	}
	if w.EndHour <= w.StartHour || w.EndHour > 24 {
		return &InvalidParameterError{Field: "work_end_hour", Reason: "must be after start and at most 24"}
	}
	if w.StepMinutes <= 0 {
		return &InvalidParameterError{Field: "step_minutes", Reason: "must be positive"}
	}
	return nil
}

// GenerateCandidates produces one candidate per step boundary inside each
// day's work window, ordered chronologically. Candidates whose end passes the
// day's work end, or that fall outside [windowStart, windowEnd), are dropped.
func GenerateCandidates(windowStart, windowEnd time.Time, durationMinutes, stepMinutes, workStartHour, workEndHour int, excludeWeekends bool) []Interval {
	if durationMinutes <= 0 || stepMinutes <= 0 || !windowEnd.After(windowStart) {
		return nil
	}
	window := Window{Start: windowStart.UTC(), End: windowEnd.UTC()}
	step := time.Duration(stepMinutes) * time.Minute

	var out []Interval
	for _, day := range window.Days() {
		if excludeWeekends && IsWeekend(day) {
			continue
		}
		dayStart := day.Add(time.Duration(workStartHour) * time.Hour)
		dayEnd := day.Add(time.Duration(workEndHour) * time.Hour)

		for s := dayStart; s.Before(dayEnd); s = s.Add(step) {
			c := NewInterval(s, durationMinutes)
			if c.End.After(dayEnd) {
				break
			}
			if c.Start.Before(window.Start) || c.End.After(window.End) {
				continue
			}
			out = append(out, c)
		}
	}
	return out
}

// Candidates is GenerateCandidates with the hours taken from w.
func (w WorkHours) Candidates(windowStart, windowEnd time.Time, durationMinutes int) []Interval {
	return GenerateCandidates(windowStart, windowEnd, durationMinutes, w.StepMinutes, w.StartHour, w.EndHour, w.ExcludeWeekends)
}

// =============================================================================
// TIME UTILITIES
// =============================================================================

// StartOfDay truncates t to midnight UTC.
func StartOfDay(t time.Time) time.Time {
	u := t.UTC()
	return time.Date(u.Year(), u.Month(), u.Day(), 0, 0, 0, 0, time.UTC)
}

// NextDay returns midnight UTC of the day after t.
func NextDay(t time.Time) time.Time { return StartOfDay(t).AddDate(0, 0, 1) }

func IsWeekend(t time.Time) bool {
	wd := t.UTC().Weekday()
	return wd == time.Saturday || wd == time.Sunday
}
