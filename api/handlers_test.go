/*
handlers_test.go - HTTP-level tests for the invite API

Tests for:
- Error taxonomy to status mapping
- Slots, invite views, redemption and admin endpoints
- Record creation for minted invites
*/
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dcjanio/vibehouse/generic"
	"github.com/dcjanio/vibehouse/invite"
	"github.com/dcjanio/vibehouse/store/memory"
)

// Monday 2026-03-02 12:00 UTC. Tomorrow is a Tuesday.
var testNow = time.Date(2026, time.March, 2, 12, 0, 0, 0, time.UTC)

func tuesdayAt(hour, minute int) time.Time {
	return time.Date(2026, time.March, 3, hour, minute, 0, 0, time.UTC)
}

type testServer struct {
	*httptest.Server
	ledger  *memory.Ledger
	records *memory.Records
	busy    *memory.Busy
	audit   *memory.Audit
	handler *Handler
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()

	clock := func() time.Time { return testNow }
	ts := &testServer{
		ledger:  memory.NewLedger().WithClock(clock),
		records: memory.NewRecords(),
		busy:    memory.NewBusy(),
		audit:   memory.NewAudit(),
	}

	gateway := invite.NewLedgerGateway(ts.ledger, time.Second)
	recs := invite.NewRecords(ts.records, time.Second)
	avail := invite.NewAvailability(invite.AvailabilityConfig{
		Busy:    ts.busy,
		Records: recs,
		Clock:   clock,
	})
	recon := invite.NewReconciler(gateway, recs, clock, nil)
	coord, err := invite.NewCoordinator(invite.CoordinatorConfig{
		Reconciler:   recon,
		Availability: avail,
		Ledger:       gateway,
		Records:      recs,
		Scheduler:    memory.NewScheduler("https://meet.test"),
		Audit:        ts.audit,
		Clock:        clock,
		HorizonDays:  7,
	})
	require.NoError(t, err)

	ts.handler = &Handler{
		Availability: avail,
		Reconciler:   recon,
		Coordinator:  coord,
		Records:      recs,
		Audit:        ts.audit,
		Demo: &Demo{
			Ledger:  ts.ledger,
			Busy:    ts.busy,
			Records: ts.records,
			Reset: func(context.Context) error {
				ts.records.Reset()
				return nil
			},
			Clock: clock,
		},
	}
	ts.Server = httptest.NewServer(NewRouter(ts.handler, RouterOptions{CORSOrigins: []string{"*"}}))
	t.Cleanup(ts.Close)
	return ts
}

func (ts *testServer) do(t *testing.T, method, path string, body any, out any) int {
	t.Helper()

	var rdr bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&rdr).Encode(body))
	}
	req, err := http.NewRequest(method, ts.URL+path, &rdr)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")

	resp, err := ts.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	if out != nil {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp.StatusCode
}

func (ts *testServer) loadScenario(t *testing.T, id string) {
	t.Helper()
	status := ts.do(t, http.MethodPost, "/api/scenarios/load", LoadScenarioRequest{ScenarioID: id}, nil)
	require.Equal(t, http.StatusOK, status)
}

func redeemBody(actor string, start time.Time) RedeemRequest {
	return RedeemRequest{
		Actor: actor,
		Start: start,
		End:   start.Add(30 * time.Minute),
		Email: "guest@example.com",
	}
}

// =============================================================================
// STATUS MAPPING
// =============================================================================

func TestStatusFor(t *testing.T) {
	cases := []struct {
		err     error
		want    int
		message string
	}{
		{generic.ErrNotFound, http.StatusNotFound, "Not Found"},
		{generic.ErrForbidden, http.StatusForbidden, "Forbidden"},
		{generic.ErrExpired, http.StatusGone, "Gone"},
		{generic.ErrConflict, http.StatusConflict, "Conflict"},
		{invite.ErrHostSlotTaken, http.StatusConflict, "please pick another time"},
		{&generic.InvalidParameterError{Field: "x", Reason: "bad"}, http.StatusBadRequest, "bad"},
		{generic.Upstream("ledger", "get", errors.New("dial tcp")), http.StatusServiceUnavailable, "try again shortly"},
		{&generic.PendingConfirmationError{InviteID: "1"}, http.StatusServiceUnavailable, "try again shortly"},
		{errors.New("boom"), http.StatusInternalServerError, "Internal Server Error"},
	}
	for _, tc := range cases {
		t.Run(fmt.Sprint(tc.err), func(t *testing.T) {
			assert.Equal(t, tc.want, statusFor(tc.err))
			assert.Contains(t, messageFor(tc.err, tc.want), tc.message)
		})
	}
}

// =============================================================================
// SLOTS
// =============================================================================

func TestGetSlots_ExcludesBusy(t *testing.T) {
	// GIVEN: The host is busy 10:00-10:30 tomorrow
	ts := newTestServer(t)
	ts.loadScenario(t, "open-invite")

	// WHEN: Asking for one day of 30-minute slots
	var resp SlotsResponse
	status := ts.do(t, http.MethodGet, "/api/hosts/"+DemoHost+"/slots?duration=30&days=1", nil, &resp)

	// THEN: Seven hourly slots, 10:00 missing
	require.Equal(t, http.StatusOK, status)
	require.Len(t, resp.Slots, 7)
	for _, s := range resp.Slots {
		assert.NotEqual(t, tuesdayAt(10, 0), s.Start)
		assert.Equal(t, 30*time.Minute, s.End.Sub(s.Start))
	}
	assert.Equal(t, tuesdayAt(9, 0), resp.Slots[0].Start)
	assert.Equal(t, DemoHost, resp.Host)
}

func TestGetSlots_InvalidParameters(t *testing.T) {
	ts := newTestServer(t)

	for _, q := range []string{"duration=5", "duration=abc", "days=0", "days=31"} {
		t.Run(q, func(t *testing.T) {
			var resp ErrorResponse
			status := ts.do(t, http.MethodGet, "/api/hosts/"+DemoHost+"/slots?"+q, nil, &resp)
			assert.Equal(t, http.StatusBadRequest, status)
			assert.Equal(t, generic.CodeInvalidParameter, resp.Code)
		})
	}
}

// =============================================================================
// REDEMPTION
// =============================================================================

func TestRedeemInvite_BookThenConflict(t *testing.T) {
	// GIVEN: An active invite
	ts := newTestServer(t)
	ts.loadScenario(t, "open-invite")

	// WHEN: The recipient books 09:00 tomorrow
	var conf ConfirmationDTO
	status := ts.do(t, http.MethodPost, "/api/invites/1/redeem", redeemBody(DemoGuest, tuesdayAt(9, 0)), &conf)

	// THEN: Booked with a join link
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "1", conf.InviteID)
	assert.Equal(t, tuesdayAt(9, 0), conf.ScheduledAt)
	assert.NotEmpty(t, conf.ExternalEventRef)
	assert.NotEmpty(t, conf.JoinURL)

	var view InviteDTO
	require.Equal(t, http.StatusOK, ts.do(t, http.MethodGet, "/api/invites/1", nil, &view))
	assert.Equal(t, string(invite.StateBooked), view.State)
	assert.True(t, view.Redeemed)

	// AND: A second attempt is a conflict
	var resp ErrorResponse
	status = ts.do(t, http.MethodPost, "/api/invites/1/redeem", redeemBody(DemoGuest, tuesdayAt(11, 0)), &resp)
	assert.Equal(t, http.StatusConflict, status)
	assert.Equal(t, generic.CodeConflict, resp.Code)

	var audit []AuditEntryDTO
	require.Equal(t, http.StatusOK, ts.do(t, http.MethodGet, "/api/admin/invites/1/audit", nil, &audit))
	require.Len(t, audit, 1)
	assert.Equal(t, string(invite.AuditRedeemed), audit[0].Action)
}

func TestRedeemInvite_Errors(t *testing.T) {
	cases := []struct {
		name     string
		scenario string
		id       string
		body     RedeemRequest
		status   int
		code     string
		message  string
	}{
		{"stranger", "open-invite", "1", redeemBody("0xstranger", tuesdayAt(9, 0)), http.StatusForbidden, generic.CodeForbidden, "Forbidden"},
		{"expired", "expired-invite", "3", redeemBody(DemoGuest, tuesdayAt(9, 0)), http.StatusGone, generic.CodeExpired, "Gone"},
		{"unknown", "open-invite", "404", redeemBody(DemoGuest, tuesdayAt(9, 0)), http.StatusNotFound, generic.CodeNotFound, "Not Found"},
		{"busy slot", "open-invite", "1", redeemBody(DemoGuest, tuesdayAt(10, 0)), http.StatusConflict, generic.CodeSlotNoLongerAvailable, "please pick another time"},
		{"pending", "pending-confirmation", "4", redeemBody(DemoGuest, tuesdayAt(9, 0)), http.StatusServiceUnavailable, generic.CodePendingConfirmation, "try again shortly"},
		{"bad email", "open-invite", "1", RedeemRequest{Actor: DemoGuest, Start: tuesdayAt(9, 0), End: tuesdayAt(9, 30), Email: "not-an-email"}, http.StatusBadRequest, generic.CodeInvalidParameter, "email"},
		{"no slot", "open-invite", "1", RedeemRequest{Actor: DemoGuest, Email: "guest@example.com"}, http.StatusBadRequest, generic.CodeInvalidParameter, "slot"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			ts := newTestServer(t)
			ts.loadScenario(t, tc.scenario)

			var resp ErrorResponse
			status := ts.do(t, http.MethodPost, "/api/invites/"+tc.id+"/redeem", tc.body, &resp)
			assert.Equal(t, tc.status, status)
			assert.Equal(t, tc.code, resp.Code)
			assert.Contains(t, resp.Error, tc.message)
		})
	}
}

func TestRedeemInvite_RejectsUnknownFields(t *testing.T) {
	ts := newTestServer(t)
	ts.loadScenario(t, "open-invite")

	var resp ErrorResponse
	status := ts.do(t, http.MethodPost, "/api/invites/1/redeem", map[string]any{"actor": DemoGuest, "slot": "tomorrow"}, &resp)
	assert.Equal(t, http.StatusBadRequest, status)
}

// =============================================================================
// INVITES
// =============================================================================

func TestCreateInvite(t *testing.T) {
	// GIVEN: A minted invite with no record row
	ts := newTestServer(t)
	require.NoError(t, ts.ledger.Mint(invite.LedgerInvite{
		ID:              "9",
		Host:            DemoHost,
		Recipient:       DemoGuest,
		Topic:           "Kickoff",
		DurationMinutes: 30,
		ExpiresAt:       testNow.AddDate(0, 0, 7),
	}))

	// WHEN: Registering it
	var view InviteDTO
	status := ts.do(t, http.MethodPost, "/api/invites", CreateInviteRequest{ID: "9", ContactEmail: "host@example.com"}, &view)

	// THEN: Created with ledger identity fields
	require.Equal(t, http.StatusCreated, status)
	assert.Equal(t, "Kickoff", view.Topic)
	assert.Equal(t, string(invite.StateActive), view.State)
	assert.Equal(t, "host@example.com", view.ContactEmail)

	// AND: Registering again is a conflict
	status = ts.do(t, http.MethodPost, "/api/invites", CreateInviteRequest{ID: "9"}, nil)
	assert.Equal(t, http.StatusConflict, status)

	// AND: Unknown ledger ids are not found
	status = ts.do(t, http.MethodPost, "/api/invites", CreateInviteRequest{ID: "10"}, nil)
	assert.Equal(t, http.StatusNotFound, status)
}

func TestListInvites_ByOwner(t *testing.T) {
	ts := newTestServer(t)
	ts.loadScenario(t, "all")

	var views []InviteDTO
	require.Equal(t, http.StatusOK, ts.do(t, http.MethodGet, "/api/invites?owner="+DemoGuest, nil, &views))

	states := map[string]string{}
	for _, v := range views {
		states[v.ID] = v.State
	}
	assert.Equal(t, map[string]string{
		"1": string(invite.StateActive),
		"2": string(invite.StateActive),
		"3": string(invite.StateExpired),
		"4": string(invite.StatePendingConfirmation),
		"5": string(invite.StateBooked),
	}, states)
}

func TestListInvites_ByRole(t *testing.T) {
	ts := newTestServer(t)
	ts.loadScenario(t, "all")

	var issued []InviteDTO
	require.Equal(t, http.StatusOK, ts.do(t, http.MethodGet, "/api/invites?owner="+DemoHost+"&role=host", nil, &issued))
	ids := []string{}
	for _, v := range issued {
		ids = append(ids, v.ID)
		assert.Equal(t, DemoHost, v.Host)
	}
	assert.Equal(t, []string{"1", "2", "3", "4", "5"}, ids)

	// The guest issued nothing.
	var none []InviteDTO
	require.Equal(t, http.StatusOK, ts.do(t, http.MethodGet, "/api/invites?owner="+DemoGuest+"&role=host", nil, &none))
	assert.Empty(t, none)

	// The host holds nothing as a recipient.
	var held []InviteDTO
	require.Equal(t, http.StatusOK, ts.do(t, http.MethodGet, "/api/invites?owner="+DemoHost+"&role=recipient", nil, &held))
	assert.Empty(t, held)

	var resp ErrorResponse
	assert.Equal(t, http.StatusBadRequest, ts.do(t, http.MethodGet, "/api/invites?owner="+DemoHost+"&role=admin", nil, &resp))
	assert.Equal(t, generic.CodeInvalidParameter, resp.Code)
}

// =============================================================================
// ADMIN
// =============================================================================

func TestReconcileAndResolve(t *testing.T) {
	// GIVEN: A booking whose ledger step never landed
	ts := newTestServer(t)
	ts.loadScenario(t, "all")

	// WHEN: Sweeping
	var sweep SweepResponse
	require.Equal(t, http.StatusOK, ts.do(t, http.MethodPost, "/api/admin/reconcile", nil, &sweep))

	// THEN: Only invite 4 is pending
	require.Len(t, sweep.Pending, 1)
	assert.Equal(t, "4", sweep.Pending[0].ID)
	assert.True(t, sweep.Pending[0].PendingLedgerConfirmation)

	// WHEN: Resolving it
	var conf ConfirmationDTO
	require.Equal(t, http.StatusOK, ts.do(t, http.MethodPost, "/api/admin/invites/4/resolve", nil, &conf))
	assert.Equal(t, "demo-4", conf.ExternalEventRef)

	// THEN: Booked, and nothing left to sweep
	var view InviteDTO
	require.Equal(t, http.StatusOK, ts.do(t, http.MethodGet, "/api/invites/4", nil, &view))
	assert.Equal(t, string(invite.StateBooked), view.State)

	require.Equal(t, http.StatusOK, ts.do(t, http.MethodPost, "/api/admin/reconcile", nil, &sweep))
	assert.Empty(t, sweep.Pending)

	// AND: Resolving an active invite is rejected
	status := ts.do(t, http.MethodPost, "/api/admin/invites/1/resolve", nil, nil)
	assert.Equal(t, http.StatusBadRequest, status)
}

// =============================================================================
// SCENARIOS
// =============================================================================

func TestScenarios(t *testing.T) {
	ts := newTestServer(t)

	var list []ScenarioDTO
	require.Equal(t, http.StatusOK, ts.do(t, http.MethodGet, "/api/scenarios", nil, &list))
	assert.Len(t, list, len(scenarios))

	status := ts.do(t, http.MethodPost, "/api/scenarios/load", LoadScenarioRequest{ScenarioID: "nope"}, nil)
	assert.Equal(t, http.StatusBadRequest, status)

	ts.loadScenario(t, "booked-invite")
	var current ScenarioDTO
	require.Equal(t, http.StatusOK, ts.do(t, http.MethodGet, "/api/scenarios/current", nil, &current))
	assert.Equal(t, "booked-invite", current.ID)

	// Loading again resets previous data.
	ts.loadScenario(t, "open-invite")
	status = ts.do(t, http.MethodGet, "/api/invites/5", nil, nil)
	assert.Equal(t, http.StatusNotFound, status)
}

func TestScenarioRoutes_AbsentWithoutDemo(t *testing.T) {
	ts := newTestServer(t)
	ts.handler.Demo = nil
	srv := httptest.NewServer(NewRouter(ts.handler, RouterOptions{}))
	defer srv.Close()

	resp, err := srv.Client().Get(srv.URL + "/api/scenarios")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestHealthz(t *testing.T) {
	ts := newTestServer(t)
	var body map[string]string
	require.Equal(t, http.StatusOK, ts.do(t, http.MethodGet, "/healthz", nil, &body))
	assert.Equal(t, "ok", body["status"])
}
