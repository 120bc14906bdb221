/*
Package httpledger is an invite.LedgerClient over a JSON ledger relayer.

ENDPOINTS:
  GET  {base}/invites/{id}          -> invite fields
  POST {base}/invites/{id}/redeem   -> 200 redeemed | 409 already redeemed | 404 unknown
  GET  {base}/owners/{addr}/invites -> {"tokenIds": [...]}

NUMERIC FIELDS:
  The relayer forwards contract uint256 values as decimal strings
  ("duration", "validUntil", "createTime", "redemptionTime"). They are parsed
  with shopspring/decimal and must be non-negative integers that fit int64.
  Times are unix seconds; zero means unset.
*/
package httpledger

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/dcjanio/vibehouse/invite"
)

// Client talks to the relayer. Safe for concurrent use.
type Client struct {
	base   string
	apiKey string
	http   *http.Client
}

type Option func(*Client)

// WithAPIKey sends key as a bearer token on every request.
func WithAPIKey(key string) Option {
	return func(c *Client) { c.apiKey = strings.TrimSpace(key) }
}

// WithHTTPClient replaces the default client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.http = hc
		}
	}
}

func New(baseURL string, opts ...Option) (*Client, error) {
	u, err := url.Parse(strings.TrimSpace(baseURL))
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("httpledger: invalid base url %q", baseURL)
	}
	c := &Client{
		base: strings.TrimRight(u.String(), "/"),
		http: &http.Client{Timeout: 30 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// =============================================================================
// WIRE FORMAT
// =============================================================================

type inviteDTO struct {
	Sender         string `json:"sender"`
	Recipient      string `json:"recipient"`
	Topic          string `json:"topic"`
	Duration       string `json:"duration"`
	ValidUntil     string `json:"validUntil"`
	CreateTime     string `json:"createTime"`
	Redeemed       bool   `json:"redeemed"`
	RedemptionTime string `json:"redemptionTime"`
}

type tokensDTO struct {
	TokenIDs []string `json:"tokenIds"`
}

type statusError struct {
	Op     string
	Status int
	Body   string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("httpledger: %s: unexpected status %d: %s", e.Op, e.Status, e.Body)
}

// =============================================================================
// invite.LedgerClient
// =============================================================================

func (c *Client) GetInvite(ctx context.Context, id string) (invite.LedgerInvite, error) {
	var dto inviteDTO
	status, err := c.do(ctx, http.MethodGet, "/invites/"+url.PathEscape(id), &dto)
	if err != nil {
		return invite.LedgerInvite{}, err
	}
	switch status {
	case http.StatusOK:
	case http.StatusNotFound:
		return invite.LedgerInvite{}, invite.ErrLedgerNotFound
	default:
		return invite.LedgerInvite{}, &statusError{Op: "get invite", Status: status}
	}
	return dto.toInvite(id)
}

func (c *Client) Redeem(ctx context.Context, id string) (invite.RedeemOutcome, error) {
	status, err := c.do(ctx, http.MethodPost, "/invites/"+url.PathEscape(id)+"/redeem", nil)
	if err != nil {
		return 0, err
	}
	switch status {
	case http.StatusOK, http.StatusNoContent:
		return invite.RedeemOK, nil
	case http.StatusConflict:
		return invite.RedeemAlreadyRedeemed, nil
	case http.StatusNotFound:
		return invite.RedeemNotFound, nil
	}
	return 0, &statusError{Op: "redeem", Status: status}
}

func (c *Client) TokensOf(ctx context.Context, owner string) ([]string, error) {
	var dto tokensDTO
	status, err := c.do(ctx, http.MethodGet, "/owners/"+url.PathEscape(owner)+"/invites", &dto)
	if err != nil {
		return nil, err
	}
	if status != http.StatusOK {
		return nil, &statusError{Op: "tokens of", Status: status}
	}

	ids := make([]string, 0, len(dto.TokenIDs))
	for _, raw := range dto.TokenIDs {
		n, err := parseUint("tokenIds", raw)
		if err != nil {
			return nil, err
		}
		ids = append(ids, fmt.Sprint(n))
	}
	return ids, nil
}

// do sends the request and decodes a 2xx body into out when out is non-nil.
// Non-2xx statuses are returned for the caller to classify.
func (c *Client) do(ctx context.Context, method, path string, out any) (int, error) {
	var body io.Reader
	if method == http.MethodPost {
		body = bytes.NewReader([]byte("{}"))
	}
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, body)
	if err != nil {
		return 0, err
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		if resp.StatusCode >= 500 {
			return 0, &statusError{Op: method + " " + path, Status: resp.StatusCode, Body: strings.TrimSpace(string(snippet))}
		}
		return resp.StatusCode, nil
	}
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return 0, fmt.Errorf("httpledger: decode %s: %w", path, err)
		}
	}
	return resp.StatusCode, nil
}

// =============================================================================
// PARSING
// =============================================================================

var maxInt64 = decimal.NewFromInt(math.MaxInt64)

func parseUint(field, raw string) (int64, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, nil
	}
	d, err := decimal.NewFromString(raw)
	if err != nil {
		return 0, fmt.Errorf("httpledger: %s: %w", field, err)
	}
	if !d.IsInteger() || d.IsNegative() || d.GreaterThan(maxInt64) {
		return 0, fmt.Errorf("httpledger: %s: %q is not a uint64-sized integer", field, raw)
	}
	return d.IntPart(), nil
}

func unixOrZero(sec int64) time.Time {
	if sec == 0 {
		return time.Time{}
	}
	return time.Unix(sec, 0).UTC()
}

func (d inviteDTO) toInvite(id string) (invite.LedgerInvite, error) {
	duration, err := parseUint("duration", d.Duration)
	if err != nil {
		return invite.LedgerInvite{}, err
	}
	validUntil, err := parseUint("validUntil", d.ValidUntil)
	if err != nil {
		return invite.LedgerInvite{}, err
	}
	created, err := parseUint("createTime", d.CreateTime)
	if err != nil {
		return invite.LedgerInvite{}, err
	}
	redeemedAt, err := parseUint("redemptionTime", d.RedemptionTime)
	if err != nil {
		return invite.LedgerInvite{}, err
	}
	if duration > math.MaxInt32 {
		return invite.LedgerInvite{}, fmt.Errorf("httpledger: duration %d out of range", duration)
	}

	inv := invite.LedgerInvite{
		ID:              id,
		Host:            d.Sender,
		Recipient:       d.Recipient,
		Topic:           d.Topic,
		DurationMinutes: int(duration),
		ExpiresAt:       unixOrZero(validUntil),
		CreatedAt:       unixOrZero(created),
		Redeemed:        d.Redeemed,
	}
	if d.Redeemed && redeemedAt != 0 {
		t := unixOrZero(redeemedAt)
		inv.RedeemedAt = &t
	}
	return inv, nil
}
