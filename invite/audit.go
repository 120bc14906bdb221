package invite

import (
	"context"
	"time"
)

// =============================================================================
// AUDIT LOG - Separate from both sources of truth, tracks what happened when
// =============================================================================

// AuditAction names a redemption milestone worth keeping for operators.
type AuditAction string

const (
	AuditRedeemed        AuditAction = "redeemed"
	AuditPending         AuditAction = "pending_confirmation"
	AuditResolved        AuditAction = "resolved"
	AuditOrphanSuspected AuditAction = "orphan_suspected"
	AuditEventCancelled  AuditAction = "event_cancelled"
)

// AuditEntry records who did what when. ID is assigned by the log.
type AuditEntry struct {
	ID       string
	At       time.Time
	InviteID string
	Actor    string
	Action   AuditAction
	Detail   string
}

// AuditLog stores audit entries. Append-only.
type AuditLog interface {
	Append(ctx context.Context, entry AuditEntry) error
	Query(ctx context.Context, inviteID string) ([]AuditEntry, error)
}

type nopAudit struct{}

func (nopAudit) Append(context.Context, AuditEntry) error            { return nil }
func (nopAudit) Query(context.Context, string) ([]AuditEntry, error) { return nil, nil }
