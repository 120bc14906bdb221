package invite

import (
	"context"
	"fmt"
	"log/slog"
	"net/mail"
	"strings"
	"time"

	"github.com/dcjanio/vibehouse/generic"
)

// =============================================================================
// SCHEDULING CAPABILITY - External calendar events
// =============================================================================

// EventRequest describes the calendar event created for a booking.
type EventRequest struct {
	InviteID      string
	Host          string
	AttendeeEmail string
	Summary       string
	Description   string
	Slot          generic.Interval
}

// Event is what the calendar returns for a created event.
type Event struct {
	Ref      string // external event id
	JoinURL  string // meeting link, may be empty
	HTMLLink string
}

// Scheduler creates and cancels external calendar events.
type Scheduler interface {
	CreateEvent(ctx context.Context, req EventRequest) (Event, error)
	CancelEvent(ctx context.Context, ref string) error
}

func eventRequestFor(v View, slot generic.Interval, email string) EventRequest {
	return EventRequest{
		InviteID:      v.ID,
		Host:          v.Host,
		AttendeeEmail: email,
		Summary:       v.Topic,
		Description:   fmt.Sprintf("Calendar invite #%s", v.ID),
		Slot:          slot,
	}
}

// =============================================================================
// NOTIFICATION CAPABILITY - Delivery is someone else's job
// =============================================================================

// Message is a fully formed notification.
type Message struct {
	To      string
	Subject string
	Text    string
}

// Notifier delivers messages. Failures never undo a booking.
type Notifier interface {
	Notify(ctx context.Context, msg Message) error
}

// ConfirmationMessage renders the attendee's booking confirmation.
func ConfirmationMessage(v View, c Confirmation, to string) Message {
	var b strings.Builder
	fmt.Fprintf(&b, "You have been invited to a meeting: %s\n\n", v.Topic)
	fmt.Fprintf(&b, "Time: %s - %s (UTC)\n",
		c.ScheduledAt.UTC().Format("Mon Jan 2 2006 15:04"),
		c.ScheduledEnd.UTC().Format("15:04"))
	if c.JoinURL != "" {
		fmt.Fprintf(&b, "\nJoin the meeting: %s\n", c.JoinURL)
	}
	return Message{
		To:      to,
		Subject: "Meeting Invitation: " + v.Topic,
		Text:    b.String(),
	}
}

// LogNotifier writes messages to a logger instead of delivering them.
type LogNotifier struct {
	Log *slog.Logger
}

func (n LogNotifier) Notify(_ context.Context, msg Message) error {
	if n.Log != nil {
		n.Log.Info("notify.message", "to", msg.To, "subject", msg.Subject)
	}
	return nil
}

// =============================================================================
// INPUT VALIDATION
// =============================================================================

// ValidateEmail accepts a bare RFC 5322 address, no display name.
func ValidateEmail(s string) (string, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return "", &generic.InvalidParameterError{Field: "email", Reason: "required"}
	}
	addr, err := mail.ParseAddress(s)
	if err != nil || addr.Name != "" || addr.Address != s {
		return "", &generic.InvalidParameterError{Field: "email", Reason: "not a valid address"}
	}
	return addr.Address, nil
}

// withTimeout bounds calls to capabilities that have no accessor of their own.
func withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		d = 10 * time.Second
	}
	return context.WithTimeout(ctx, d)
}
