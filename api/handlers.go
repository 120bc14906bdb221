/*
handlers.go - HTTP API handlers for the invite engine

PURPOSE:
  Exposes availability, invite views, redemption and operator actions via
  REST. Handles HTTP request/response and JSON, and delegates to the engine.

ENDPOINTS:
  Availability:
    GET    /api/hosts/{host}/slots?duration=30&days=7

  Invites:
    GET    /api/invites/{id}           Reconciled view
    GET    /api/invites?owner=0x..     Views held by or addressed to owner
    POST   /api/invites                Record row for a minted invite
    POST   /api/invites/{id}/redeem    Book a slot

  Admin:
    POST   /api/admin/reconcile              List PendingConfirmation invites
    POST   /api/admin/invites/{id}/resolve   Retry the ledger step
    GET    /api/admin/invites/{id}/audit     Audit trail

ERROR HANDLING:
  Engine errors map to status by taxonomy code:
  - 400: invalid_parameter
  - 403: forbidden
  - 404: not_found
  - 409: conflict, slot_no_longer_available
  - 410: expired
  - 503: upstream_unavailable, pending_confirmation
  - 500: anything else

SECURITY NOTE:
  The actor in a redeem request is trusted as given. Authentication of the
  actor's wallet signature happens in front of this service.

SEE ALSO:
  - dto.go: Request/response data structures
  - scenarios.go: Demo scenario loaders
  - server.go: Router setup and middleware
*/
package api

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"sync"

	"github.com/go-chi/chi/v5"

	"github.com/dcjanio/vibehouse/generic"
	"github.com/dcjanio/vibehouse/invite"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

const (
	defaultSlotDuration = 30
	defaultSlotDays     = 7
)

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Availability *invite.Availability
	Reconciler   *invite.Reconciler
	Coordinator  *invite.Coordinator
	Records      *invite.Records
	Audit        invite.AuditLog
	Log          *slog.Logger

	// Demo is nil unless the in-memory ledger is in use.
	Demo *Demo

	// Sweep is optional; GET /api/admin/sweep is only mounted with it.
	Sweep *SweepScheduler

	mu              sync.Mutex
	currentScenario string
}

// =============================================================================
// AVAILABILITY
// =============================================================================

// GetSlots returns open slots for a host.
// GET /api/hosts/{host}/slots?duration=30&days=7
func (h *Handler) GetSlots(w http.ResponseWriter, r *http.Request) {
	host := chi.URLParam(r, "host")

	duration, err := intParam(r, "duration", defaultSlotDuration)
	if err != nil {
		h.writeEngineError(w, r, err)
		return
	}
	days, err := intParam(r, "days", defaultSlotDays)
	if err != nil {
		h.writeEngineError(w, r, err)
		return
	}

	slots, err := h.Availability.ComputeSlots(r.Context(), host, duration, days)
	if err != nil {
		h.writeEngineError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, SlotsResponse{
		Host:            invite.NormalizeIdentity(host),
		DurationMinutes: duration,
		Days:            days,
		Slots:           toSlotDTOs(slots),
	})
}

// =============================================================================
// INVITES
// =============================================================================

// GetInvite returns the reconciled view.
// GET /api/invites/{id}
func (h *Handler) GetInvite(w http.ResponseWriter, r *http.Request) {
	v, err := h.Reconciler.View(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toInviteDTO(v))
}

// ListInvites returns every invite held by or addressed to owner, or with
// role=host every invite owner issued.
// GET /api/invites?owner=0x..[&role=recipient|host]
func (h *Handler) ListInvites(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	var (
		views []invite.View
		err   error
	)
	switch role := strings.ToLower(strings.TrimSpace(q.Get("role"))); role {
	case "", "recipient":
		views, err = h.Reconciler.ViewByOwner(r.Context(), q.Get("owner"))
	case "host":
		views, err = h.Reconciler.ViewByHost(r.Context(), q.Get("owner"))
	default:
		err = &generic.InvalidParameterError{Field: "role", Reason: "must be recipient or host"}
	}
	if err != nil {
		h.writeEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toInviteDTOs(views))
}

// CreateInvite writes the record row for an invite that exists on the ledger.
// POST /api/invites
func (h *Handler) CreateInvite(w http.ResponseWriter, r *http.Request) {
	var req CreateInviteRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	ctx := r.Context()

	v, err := h.Reconciler.View(ctx, strings.TrimSpace(req.ID))
	if err != nil {
		h.writeEngineError(w, r, err)
		return
	}

	rec := invite.Record{
		InviteID:  v.ID,
		Host:      v.Host,
		Recipient: v.Recipient,
		Topic:     v.Topic,
	}
	if req.ContactEmail != "" {
		email, err := invite.ValidateEmail(req.ContactEmail)
		if err != nil {
			h.writeEngineError(w, r, err)
			return
		}
		rec.ContactEmail = email
	}
	if err := h.Records.Insert(ctx, rec); err != nil {
		h.writeEngineError(w, r, err)
		return
	}

	v, err = h.Reconciler.View(ctx, v.ID)
	if err != nil {
		h.writeEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toInviteDTO(v))
}

// RedeemInvite books a slot.
// POST /api/invites/{id}/redeem
func (h *Handler) RedeemInvite(w http.ResponseWriter, r *http.Request) {
	var req RedeemRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.Start.IsZero() || !req.End.After(req.Start) {
		h.writeEngineError(w, r, &generic.InvalidParameterError{Field: "slot", Reason: "start and end required, end after start"})
		return
	}

	conf, err := h.Coordinator.Redeem(r.Context(), invite.RedeemRequest{
		InviteID:     chi.URLParam(r, "id"),
		Actor:        req.Actor,
		Slot:         generic.Interval{Start: req.Start, End: req.End},
		ContactEmail: req.Email,
	})
	if err != nil {
		h.writeEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toConfirmationDTO(conf))
}

// =============================================================================
// ADMIN
// =============================================================================

// Reconcile lists invites stuck in PendingConfirmation.
// POST /api/admin/reconcile
func (h *Handler) Reconcile(w http.ResponseWriter, r *http.Request) {
	pending, err := h.Reconciler.Sweep(r.Context())
	if err != nil {
		h.writeEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, SweepResponse{Pending: toInviteDTOs(pending)})
}

// GetSweepStatus reports the background sweep's last run and next tick.
// GET /api/admin/sweep
func (h *Handler) GetSweepStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, toSweepStatus(h.Sweep))
}

// ResolveInvite retries the ledger redemption of a pending invite.
// POST /api/admin/invites/{id}/resolve
func (h *Handler) ResolveInvite(w http.ResponseWriter, r *http.Request) {
	conf, err := h.Coordinator.Resolve(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toConfirmationDTO(conf))
}

// GetAudit returns the audit trail of one invite.
// GET /api/admin/invites/{id}/audit
func (h *Handler) GetAudit(w http.ResponseWriter, r *http.Request) {
	if h.Audit == nil {
		writeJSON(w, http.StatusOK, []AuditEntryDTO{})
		return
	}
	entries, err := h.Audit.Query(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeEngineError(w, r, generic.Upstream("audit", "query", err))
		return
	}
	writeJSON(w, http.StatusOK, toAuditDTOs(entries))
}

// Healthz reports liveness.
func (h *Handler) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// =============================================================================
// HELPERS
// =============================================================================

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Code = generic.Code(err)
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}

// statusFor maps the taxonomy code of err to an HTTP status.
func statusFor(err error) int {
	switch generic.Code(err) {
	case generic.CodeInvalidParameter:
		return http.StatusBadRequest
	case generic.CodeForbidden:
		return http.StatusForbidden
	case generic.CodeNotFound:
		return http.StatusNotFound
	case generic.CodeConflict, generic.CodeSlotNoLongerAvailable:
		return http.StatusConflict
	case generic.CodeExpired:
		return http.StatusGone
	case generic.CodeUpstreamUnavailable, generic.CodePendingConfirmation:
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

func (h *Handler) writeEngineError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status >= 500 && h.Log != nil {
		h.Log.Error("api.error", "path", r.URL.Path, "code", generic.Code(err), "err", err)
	}

	writeError(w, status, messageFor(err, status), err)
}

// messageFor is the text shown to the person who tried to book.
func messageFor(err error, status int) string {
	var invalid *generic.InvalidParameterError
	if errors.As(err, &invalid) {
		return invalid.Error()
	}
	switch generic.Code(err) {
	case generic.CodeSlotNoLongerAvailable:
		return "That time is no longer available, please pick another time"
	case generic.CodePendingConfirmation:
		return "Your booking is still being confirmed, try again shortly"
	case generic.CodeUpstreamUnavailable:
		return "A service we depend on is unavailable, try again shortly"
	}
	return http.StatusText(status)
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(io.LimitReader(r.Body, 1<<16))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", &generic.InvalidParameterError{Field: "body", Reason: err.Error()})
		return false
	}
	return true
}

func intParam(r *http.Request, name string, def int) (int, error) {
	raw := strings.TrimSpace(r.URL.Query().Get(name))
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, &generic.InvalidParameterError{Field: name, Reason: "must be an integer"}
	}
	return n, nil
}
