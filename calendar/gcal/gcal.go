/*
Package gcal adapts Google Calendar to invite.BusySource and invite.Scheduler.

CALENDAR SELECTION:
  Hosts are ledger addresses, not Google accounts. Each host maps to a
  calendar id through WithCalendars; unmapped hosts use the default calendar
  (the authenticated account's "primary").

EVENT REFS:
  Refs are "<calendarID>/<eventID>" so CancelEvent can find the calendar
  without a lookup table. Google event ids never contain '/'.

TIMES:
  All requests are RFC3339 in UTC with TimeZone "UTC".
*/
package gcal

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
	"golang.org/x/oauth2"
	googleoauth "golang.org/x/oauth2/google"
	"google.golang.org/api/calendar/v3"
	"google.golang.org/api/option"

	"github.com/dcjanio/vibehouse/generic"
	"github.com/dcjanio/vibehouse/invite"
)

const defaultCalendar = "primary"

// Calendar is safe for concurrent use.
type Calendar struct {
	svc       *calendar.Service
	calendars map[string]string
	fallback  string
}

type Option func(*Calendar)

// WithCalendars maps host identities to calendar ids.
func WithCalendars(m map[string]string) Option {
	return func(c *Calendar) {
		for host, id := range m {
			c.calendars[invite.NormalizeIdentity(host)] = id
		}
	}
}

// WithDefaultCalendar sets the calendar used for unmapped hosts.
func WithDefaultCalendar(id string) Option {
	return func(c *Calendar) {
		if id = strings.TrimSpace(id); id != "" {
			c.fallback = id
		}
	}
}

// New builds a Calendar from Google client options (credentials, endpoint,
// HTTP client).
func New(ctx context.Context, clientOpts []option.ClientOption, opts ...Option) (*Calendar, error) {
	svc, err := calendar.NewService(ctx, clientOpts...)
	if err != nil {
		return nil, fmt.Errorf("gcal: new service: %w", err)
	}
	c := &Calendar{svc: svc, calendars: make(map[string]string), fallback: defaultCalendar}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// TokenSource returns a refreshing token source for an installed-app OAuth
// client with a stored refresh token.
func TokenSource(ctx context.Context, clientID, clientSecret, refreshToken string) oauth2.TokenSource {
	cfg := &oauth2.Config{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		Endpoint:     googleoauth.Endpoint,
		Scopes:       []string{calendar.CalendarEventsScope, calendar.CalendarReadonlyScope},
	}
	return cfg.TokenSource(ctx, &oauth2.Token{RefreshToken: refreshToken})
}

func (c *Calendar) calendarFor(host string) string {
	if id, ok := c.calendars[invite.NormalizeIdentity(host)]; ok {
		return id
	}
	return c.fallback
}

// =============================================================================
// BUSY SOURCE
// =============================================================================

func (c *Calendar) BusyIntervals(ctx context.Context, host string, start, end time.Time) ([]generic.Interval, error) {
	calID := c.calendarFor(host)

	resp, err := c.svc.Freebusy.Query(&calendar.FreeBusyRequest{
		TimeMin:  start.UTC().Format(time.RFC3339),
		TimeMax:  end.UTC().Format(time.RFC3339),
		TimeZone: "UTC",
		Items:    []*calendar.FreeBusyRequestItem{{Id: calID}},
	}).Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("gcal: freebusy: %w", err)
	}

	cal, ok := resp.Calendars[calID]
	if !ok {
		return nil, fmt.Errorf("gcal: freebusy: calendar %q missing from response", calID)
	}
	if len(cal.Errors) > 0 {
		return nil, fmt.Errorf("gcal: freebusy %s: %s", calID, cal.Errors[0].Reason)
	}

	out := make([]generic.Interval, 0, len(cal.Busy))
	for _, p := range cal.Busy {
		s, err := time.Parse(time.RFC3339, p.Start)
		if err != nil {
			return nil, fmt.Errorf("gcal: busy start: %w", err)
		}
		e, err := time.Parse(time.RFC3339, p.End)
		if err != nil {
			return nil, fmt.Errorf("gcal: busy end: %w", err)
		}
		out = append(out, generic.Interval{Start: s.UTC(), End: e.UTC()})
	}
	return out, nil
}

// =============================================================================
// SCHEDULER
// =============================================================================

// CreateEvent inserts the event with a Meet conference and emails the
// attendee.
func (c *Calendar) CreateEvent(ctx context.Context, req invite.EventRequest) (invite.Event, error) {
	calID := c.calendarFor(req.Host)

	ev := &calendar.Event{
		Summary:     req.Summary,
		Description: req.Description,
		Start: &calendar.EventDateTime{
			DateTime: req.Slot.Start.UTC().Format(time.RFC3339),
			TimeZone: "UTC",
		},
		End: &calendar.EventDateTime{
			DateTime: req.Slot.End.UTC().Format(time.RFC3339),
			TimeZone: "UTC",
		},
		ConferenceData: &calendar.ConferenceData{
			CreateRequest: &calendar.CreateConferenceRequest{
				RequestId:             ulid.Make().String(),
				ConferenceSolutionKey: &calendar.ConferenceSolutionKey{Type: "hangoutsMeet"},
			},
		},
	}
	if req.AttendeeEmail != "" {
		ev.Attendees = []*calendar.EventAttendee{{Email: req.AttendeeEmail}}
	}

	created, err := c.svc.Events.Insert(calID, ev).
		ConferenceDataVersion(1).
		SendUpdates("all").
		Context(ctx).
		Do()
	if err != nil {
		return invite.Event{}, fmt.Errorf("gcal: insert event: %w", err)
	}

	out := invite.Event{
		Ref:      calID + "/" + created.Id,
		JoinURL:  created.HangoutLink,
		HTMLLink: created.HtmlLink,
	}
	if out.JoinURL == "" && created.ConferenceData != nil {
		for _, ep := range created.ConferenceData.EntryPoints {
			if ep.EntryPointType == "video" {
				out.JoinURL = ep.Uri
				break
			}
		}
	}
	return out, nil
}

var errBadRef = errors.New("gcal: malformed event ref")

func (c *Calendar) CancelEvent(ctx context.Context, ref string) error {
	i := strings.LastIndex(ref, "/")
	if i <= 0 || i == len(ref)-1 {
		return errBadRef
	}
	calID, eventID := ref[:i], ref[i+1:]

	err := c.svc.Events.Delete(calID, eventID).SendUpdates("all").Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("gcal: delete event: %w", err)
	}
	return nil
}
