// Package memory provides in-memory implementations of every capability the
// invite engine consumes. Used by tests and by the dev server when no ledger
// or database is configured.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/dcjanio/vibehouse/generic"
	"github.com/dcjanio/vibehouse/invite"
)

// =============================================================================
// LEDGER - Stand-in for the on-chain invite token contract
// =============================================================================

// Ledger keeps invites in a map. Redeem succeeds at most once per id.
type Ledger struct {
	mu      sync.Mutex
	invites map[string]invite.LedgerInvite
	now     func() time.Time
}

func NewLedger() *Ledger {
	return &Ledger{invites: make(map[string]invite.LedgerInvite), now: time.Now}
}

// WithClock sets the time source used for RedeemedAt.
func (l *Ledger) WithClock(now func() time.Time) *Ledger {
	l.now = now
	return l
}

// Mint adds an invite. Minting twice with the same id is an error.
func (l *Ledger) Mint(inv invite.LedgerInvite) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, ok := l.invites[inv.ID]; ok {
		return fmt.Errorf("mint %s: token exists", inv.ID)
	}
	inv.Host = invite.NormalizeIdentity(inv.Host)
	inv.Recipient = invite.NormalizeIdentity(inv.Recipient)
	if inv.CreatedAt.IsZero() {
		inv.CreatedAt = l.now().UTC()
	}
	l.invites[inv.ID] = inv
	return nil
}

// Reset drops every invite.
func (l *Ledger) Reset() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.invites = make(map[string]invite.LedgerInvite)
}

func (l *Ledger) GetInvite(_ context.Context, id string) (invite.LedgerInvite, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	inv, ok := l.invites[id]
	if !ok {
		return invite.LedgerInvite{}, invite.ErrLedgerNotFound
	}
	return inv, nil
}

func (l *Ledger) Redeem(_ context.Context, id string) (invite.RedeemOutcome, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	inv, ok := l.invites[id]
	if !ok {
		return invite.RedeemNotFound, nil
	}
	if inv.Redeemed {
		return invite.RedeemAlreadyRedeemed, nil
	}
	at := l.now().UTC()
	inv.Redeemed = true
	inv.RedeemedAt = &at
	l.invites[id] = inv
	return invite.RedeemOK, nil
}

// TokensOf returns ids whose token is held by owner (the recipient).
func (l *Ledger) TokensOf(_ context.Context, owner string) ([]string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	owner = invite.NormalizeIdentity(owner)
	var ids []string
	for id, inv := range l.invites {
		if inv.Recipient == owner {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids, nil
}

// =============================================================================
// RECORD STORE
// =============================================================================

// Records is an in-memory invite.RecordStore.
type Records struct {
	mu   sync.RWMutex
	rows map[string]invite.Record
	now  func() time.Time
}

func NewRecords() *Records {
	return &Records{rows: make(map[string]invite.Record), now: time.Now}
}

// Put writes rec unconditionally. For tests and scenario seeding.
func (m *Records) Put(rec invite.Record) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rows[rec.InviteID] = rec
}

func (m *Records) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rows = make(map[string]invite.Record)
}

func (m *Records) Get(_ context.Context, inviteID string) (invite.Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	rec, ok := m.rows[inviteID]
	if !ok {
		return invite.Record{}, invite.ErrRecordNotFound
	}
	return rec, nil
}

func (m *Records) Insert(_ context.Context, rec invite.Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.rows[rec.InviteID]; ok {
		return invite.ErrRecordExists
	}
	now := m.now().UTC()
	rec.CreatedAt, rec.UpdatedAt = now, now
	m.rows[rec.InviteID] = rec
	return nil
}

// CommitBooking checks the mirror and the host's other bookings, then writes,
// all under one lock.
func (m *Records) CommitBooking(_ context.Context, b invite.Booking) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, exists := m.rows[b.InviteID]
	if exists && rec.Redeemed {
		return invite.ErrAlreadyBooked
	}
	for id, other := range m.rows {
		if id == b.InviteID || !other.Redeemed || other.Host != b.Host || other.ScheduledAt == nil {
			continue
		}
		if b.Slot.Intersects(bookedInterval(other)) {
			return invite.ErrHostSlotTaken
		}
	}

	if !exists {
		rec = invite.Record{InviteID: b.InviteID, CreatedAt: b.At}
	}
	start, end, at := b.Slot.Start, b.Slot.End, b.At
	rec.Host = b.Host
	rec.Recipient = b.Recipient
	rec.Topic = b.Topic
	rec.ContactEmail = b.ContactEmail
	rec.ScheduledAt = &start
	rec.ScheduledEnd = &end
	rec.ExternalEventRef = b.ExternalEventRef
	rec.JoinURL = b.JoinURL
	rec.Redeemed = true
	rec.RedeemedAt = &at
	rec.UpdatedAt = at
	m.rows[b.InviteID] = rec
	return nil
}

func (m *Records) BookedIntervals(_ context.Context, host string, from, to time.Time) ([]generic.Interval, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	window := generic.Interval{Start: from, End: to}
	var out []generic.Interval
	for _, rec := range m.rows {
		if !rec.Redeemed || rec.Host != host || rec.ScheduledAt == nil {
			continue
		}
		if iv := bookedInterval(rec); iv.Intersects(window) {
			out = append(out, iv)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Start.Before(out[j].Start) })
	return out, nil
}

func (m *Records) ListByRecipient(_ context.Context, recipient string) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var ids []string
	for id, rec := range m.rows {
		if rec.Recipient == recipient {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids, nil
}

func (m *Records) ListByHost(_ context.Context, host string) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var ids []string
	for id, rec := range m.rows {
		if rec.Host == host {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids, nil
}

func (m *Records) ListRedeemed(_ context.Context) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var ids []string
	for id, rec := range m.rows {
		if rec.Redeemed {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids, nil
}

func bookedInterval(rec invite.Record) generic.Interval {
	iv := generic.Interval{Start: *rec.ScheduledAt}
	if rec.ScheduledEnd != nil {
		iv.End = *rec.ScheduledEnd
	} else {
		iv.End = iv.Start
	}
	return iv
}

// =============================================================================
// BUSY SOURCE
// =============================================================================

// Busy is a static busy-interval source keyed by host.
type Busy struct {
	mu   sync.RWMutex
	busy map[string][]generic.Interval
}

func NewBusy() *Busy {
	return &Busy{busy: make(map[string][]generic.Interval)}
}

// Add marks intervals busy for host.
func (b *Busy) Add(host string, ivs ...generic.Interval) {
	b.mu.Lock()
	defer b.mu.Unlock()
	host = invite.NormalizeIdentity(host)
	b.busy[host] = append(b.busy[host], ivs...)
}

func (b *Busy) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.busy = make(map[string][]generic.Interval)
}

func (b *Busy) BusyIntervals(_ context.Context, host string, start, end time.Time) ([]generic.Interval, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	window := generic.Interval{Start: start, End: end}
	var out []generic.Interval
	for _, iv := range b.busy[invite.NormalizeIdentity(host)] {
		if iv.Intersects(window) {
			out = append(out, iv)
		}
	}
	return out, nil
}

// =============================================================================
// SCHEDULER
// =============================================================================

// Scheduler records events in memory and hands out ULID refs.
type Scheduler struct {
	mu      sync.Mutex
	events  map[string]invite.EventRequest
	joinURL string
}

// NewScheduler builds join links as joinBase + "/" + ref.
func NewScheduler(joinBase string) *Scheduler {
	return &Scheduler{events: make(map[string]invite.EventRequest), joinURL: joinBase}
}

func (s *Scheduler) CreateEvent(_ context.Context, req invite.EventRequest) (invite.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ref := ulid.Make().String()
	s.events[ref] = req
	ev := invite.Event{Ref: ref}
	if s.joinURL != "" {
		ev.JoinURL = s.joinURL + "/" + ref
		ev.HTMLLink = ev.JoinURL
	}
	return ev, nil
}

func (s *Scheduler) CancelEvent(_ context.Context, ref string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.events, ref)
	return nil
}

// Events returns the live (not cancelled) events by ref.
func (s *Scheduler) Events() map[string]invite.EventRequest {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make(map[string]invite.EventRequest, len(s.events))
	for k, v := range s.events {
		out[k] = v
	}
	return out
}

// =============================================================================
// AUDIT LOG
// =============================================================================

type Audit struct {
	mu      sync.Mutex
	entries []invite.AuditEntry
}

func NewAudit() *Audit { return &Audit{} }

func (a *Audit) Append(_ context.Context, e invite.AuditEntry) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if e.ID == "" {
		e.ID = ulid.Make().String()
	}
	a.entries = append(a.entries, e)
	return nil
}

func (a *Audit) Query(_ context.Context, inviteID string) ([]invite.AuditEntry, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	var out []invite.AuditEntry
	for _, e := range a.entries {
		if inviteID == "" || e.InviteID == inviteID {
			out = append(out, e)
		}
	}
	return out, nil
}
