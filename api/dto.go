/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. These types decouple
  the engine's types from the external API contract.

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients
  - *Response: Wrappers

TIMES:
  Always RFC3339 in UTC on the way out. Accepted in any offset on the way in
  and converted to UTC by the engine.

VALIDATION:
  Validation is done in handlers and the engine, not in DTOs.

SEE ALSO:
  - handlers.go: Uses these types
  - invite/types.go: Engine types
*/
package api

import (
	"time"

	"github.com/dcjanio/vibehouse/generic"
	"github.com/dcjanio/vibehouse/invite"
)

// =============================================================================
// SLOTS
// =============================================================================

type SlotDTO struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

type SlotsResponse struct {
	Host            string    `json:"host"`
	DurationMinutes int       `json:"duration_minutes"`
	Days            int       `json:"days"`
	Slots           []SlotDTO `json:"slots"`
}

func toSlotDTOs(ivs []generic.Interval) []SlotDTO {
	out := make([]SlotDTO, len(ivs))
	for i, iv := range ivs {
		out[i] = SlotDTO{Start: iv.Start.UTC(), End: iv.End.UTC()}
	}
	return out
}

// =============================================================================
// INVITES
// =============================================================================

// InviteDTO is the reconciled view of one invite.
type InviteDTO struct {
	ID                        string     `json:"id"`
	Host                      string     `json:"host"`
	Recipient                 string     `json:"recipient"`
	Topic                     string     `json:"topic"`
	DurationMinutes           int        `json:"duration_minutes"`
	ExpiresAt                 time.Time  `json:"expires_at"`
	CreatedAt                 *time.Time `json:"created_at,omitempty"`
	State                     string     `json:"state"`
	Redeemed                  bool       `json:"redeemed"`
	RedeemedAt                *time.Time `json:"redeemed_at,omitempty"`
	PendingLedgerConfirmation bool       `json:"pending_ledger_confirmation"`
	ScheduledAt               *time.Time `json:"scheduled_at,omitempty"`
	ExternalEventRef          string     `json:"external_event_ref,omitempty"`
	JoinURL                   string     `json:"join_url,omitempty"`
	ContactEmail              string     `json:"contact_email,omitempty"`
}

func toInviteDTO(v invite.View) InviteDTO {
	dto := InviteDTO{
		ID:                        v.ID,
		Host:                      v.Host,
		Recipient:                 v.Recipient,
		Topic:                     v.Topic,
		DurationMinutes:           v.DurationMinutes,
		ExpiresAt:                 v.ExpiresAt.UTC(),
		State:                     string(v.State),
		Redeemed:                  v.Redeemed,
		RedeemedAt:                v.RedeemedAt,
		PendingLedgerConfirmation: v.PendingLedgerConfirmation,
		ScheduledAt:               v.ScheduledAt,
		ExternalEventRef:          v.ExternalEventRef,
		JoinURL:                   v.JoinURL,
		ContactEmail:              v.ContactEmail,
	}
	if !v.CreatedAt.IsZero() {
		created := v.CreatedAt.UTC()
		dto.CreatedAt = &created
	}
	return dto
}

func toInviteDTOs(views []invite.View) []InviteDTO {
	out := make([]InviteDTO, len(views))
	for i, v := range views {
		out[i] = toInviteDTO(v)
	}
	return out
}

// CreateInviteRequest registers the record row for an invite already minted
// on the ledger. Host, recipient and topic are copied from the ledger.
type CreateInviteRequest struct {
	ID           string `json:"id"`
	ContactEmail string `json:"contact_email,omitempty"`
}

// RedeemRequest books a slot.
type RedeemRequest struct {
	Actor string    `json:"actor"`
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
	Email string    `json:"email"`
}

type ConfirmationDTO struct {
	InviteID         string    `json:"invite_id"`
	ScheduledAt      time.Time `json:"scheduled_at"`
	ScheduledEnd     time.Time `json:"scheduled_end"`
	ExternalEventRef string    `json:"external_event_ref"`
	JoinURL          string    `json:"join_url,omitempty"`
}

func toConfirmationDTO(c invite.Confirmation) ConfirmationDTO {
	return ConfirmationDTO{
		InviteID:         c.InviteID,
		ScheduledAt:      c.ScheduledAt.UTC(),
		ScheduledEnd:     c.ScheduledEnd.UTC(),
		ExternalEventRef: c.ExternalEventRef,
		JoinURL:          c.JoinURL,
	}
}

// =============================================================================
// ADMIN
// =============================================================================

type SweepResponse struct {
	Pending []InviteDTO `json:"pending"`
}

// SweepStatusResponse describes the background sweep.
type SweepStatusResponse struct {
	Enabled         bool         `json:"enabled"`
	Running         bool         `json:"running"`
	IntervalSeconds int          `json:"interval_seconds"`
	NextRunAt       *time.Time   `json:"next_run_at,omitempty"`
	LastRun         *SweepRunDTO `json:"last_run,omitempty"`
}

type SweepRunDTO struct {
	StartedAt   time.Time `json:"started_at"`
	CompletedAt time.Time `json:"completed_at"`
	Pending     []string  `json:"pending"`
	Error       string    `json:"error,omitempty"`
}

func toSweepStatus(s *SweepScheduler) SweepStatusResponse {
	resp := SweepStatusResponse{
		Enabled:         s.Enabled,
		Running:         s.Running(),
		IntervalSeconds: int(s.CheckInterval / time.Second),
	}
	if next := s.NextRunTime(); !next.IsZero() {
		resp.NextRunAt = &next
	}
	if run := s.LastRun(); run != nil {
		dto := &SweepRunDTO{
			StartedAt:   run.StartedAt,
			CompletedAt: run.CompletedAt,
			Pending:     run.Pending,
		}
		if dto.Pending == nil {
			dto.Pending = []string{}
		}
		if run.Err != nil {
			dto.Error = run.Err.Error()
		}
		resp.LastRun = dto
	}
	return resp
}

type AuditEntryDTO struct {
	ID       string    `json:"id"`
	At       time.Time `json:"at"`
	InviteID string    `json:"invite_id"`
	Actor    string    `json:"actor,omitempty"`
	Action   string    `json:"action"`
	Detail   string    `json:"detail,omitempty"`
}

func toAuditDTOs(entries []invite.AuditEntry) []AuditEntryDTO {
	out := make([]AuditEntryDTO, len(entries))
	for i, e := range entries {
		out[i] = AuditEntryDTO{
			ID:       e.ID,
			At:       e.At.UTC(),
			InviteID: e.InviteID,
			Actor:    e.Actor,
			Action:   string(e.Action),
			Detail:   e.Detail,
		}
	}
	return out
}

// =============================================================================
// SCENARIOS
// =============================================================================

// ScenarioDTO describes a demo scenario.
type ScenarioDTO struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

// LoadScenarioRequest is the request to load a scenario.
type LoadScenarioRequest struct {
	ScenarioID string `json:"scenario_id"`
}

// ErrorResponse is the standard error response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code,omitempty"`
	Details any    `json:"details,omitempty"`
}
