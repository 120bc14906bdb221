/*
ledger.go - Read/redeem gateway over the external token ledger

PURPOSE:
  Wraps an injected LedgerClient with the engine's rules:
  identities are normalized, every call is bounded by a timeout, and
  transport failures become UpstreamUnavailable.

WHY A WRAPPER?
  The ledger client speaks the ledger's dialect (token ids, outcomes,
  transport errors). The engine needs the error taxonomy and a hard bound
  on how long a request may wait on a chain node.

EXCLUSIVITY:
  Redeem on the ledger succeeds at most once per invite. A second call
  returns RedeemAlreadyRedeemed, which is the only race arbiter this
  engine relies on.

SEE ALSO:
  - ledger/httpledger: HTTP client implementation
  - store/memory:      In-memory implementation for tests and dev
*/
package invite

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dcjanio/vibehouse/generic"
)

// =============================================================================
// LEDGER CAPABILITY
// =============================================================================

// RedeemOutcome is the ledger's answer to a redemption call.
type RedeemOutcome int

const (
	RedeemOK RedeemOutcome = iota
	RedeemAlreadyRedeemed
	RedeemNotFound
)

func (o RedeemOutcome) String() string {
	switch o {
	case RedeemOK:
		return "redeemed"
	case RedeemAlreadyRedeemed:
		return "already_redeemed"
	case RedeemNotFound:
		return "not_found"
	default:
		return fmt.Sprintf("outcome(%d)", int(o))
	}
}

// ErrLedgerNotFound is returned by LedgerClient.GetInvite for unknown ids.
var ErrLedgerNotFound = errors.New("ledger: token not found")

// LedgerClient is the injected ledger capability.
type LedgerClient interface {
	// GetInvite returns ErrLedgerNotFound for unknown ids.
	GetInvite(ctx context.Context, id string) (LedgerInvite, error)

	// Redeem must be idempotent: a second call reports RedeemAlreadyRedeemed.
	Redeem(ctx context.Context, id string) (RedeemOutcome, error)

	// TokensOf lists invite ids held by owner.
	TokensOf(ctx context.Context, owner string) ([]string, error)
}

// =============================================================================
// GATEWAY
// =============================================================================

const defaultLedgerTimeout = 10 * time.Second

// LedgerGateway is the engine's read/redeem accessor over a LedgerClient.
type LedgerGateway struct {
	client  LedgerClient
	timeout time.Duration
}

// NewLedgerGateway wraps client. A non-positive timeout uses the default.
func NewLedgerGateway(client LedgerClient, timeout time.Duration) *LedgerGateway {
	if timeout <= 0 {
		timeout = defaultLedgerTimeout
	}
	return &LedgerGateway{client: client, timeout: timeout}
}

// Invite returns the ledger record or generic.ErrNotFound.
func (g *LedgerGateway) Invite(ctx context.Context, id string) (LedgerInvite, error) {
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	inv, err := g.client.GetInvite(ctx, id)
	if errors.Is(err, ErrLedgerNotFound) {
		return LedgerInvite{}, fmt.Errorf("invite %s: %w", id, generic.ErrNotFound)
	}
	if err != nil {
		return LedgerInvite{}, generic.Upstream("ledger", "get_invite", err)
	}
	inv.ID = id
	inv.Host = NormalizeIdentity(inv.Host)
	inv.Recipient = NormalizeIdentity(inv.Recipient)
	inv.ExpiresAt = inv.ExpiresAt.UTC()
	return inv, nil
}

// Redeem invokes the ledger redemption. Any error, including a timeout, is an
// UpstreamError: the caller cannot know whether the ledger applied it.
func (g *LedgerGateway) Redeem(ctx context.Context, id string) (RedeemOutcome, error) {
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	out, err := g.client.Redeem(ctx, id)
	if err != nil {
		return out, generic.Upstream("ledger", "redeem", err)
	}
	return out, nil
}

// TokensOf lists ids owned by owner.
func (g *LedgerGateway) TokensOf(ctx context.Context, owner string) ([]string, error) {
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	ids, err := g.client.TokensOf(ctx, NormalizeIdentity(owner))
	if err != nil {
		return nil, generic.Upstream("ledger", "tokens_of", err)
	}
	return ids, nil
}
