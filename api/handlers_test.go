/*
handlers_test.go - HTTP tests for the group ledger API

Tests for:
- Requester header enforcement
- Group lifecycle over HTTP (create, join, members)
- Expense creation, balances, preview and execute
- Error status mapping
*/
package api_test

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/group-ledger/api"
	"github.com/warp/group-ledger/groups"
	"github.com/warp/group-ledger/ledger/store"
	"github.com/warp/group-ledger/membership"
	"github.com/warp/group-ledger/metrics"
)

// =============================================================================
// TEST SETUP
// =============================================================================

type testServer struct {
	t      *testing.T
	server *httptest.Server
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	dir := membership.NewDirectory(membership.NewMemoryStore())
	reg := prometheus.NewRegistry()
	svc := groups.NewService(store.NewTxMemory(), dir, groups.WithMetrics(metrics.New(reg)))
	h := api.NewHandler(svc, dir, nil)

	srv := httptest.NewServer(api.NewRouter(h, api.RouterOptions{Gatherer: reg}))
	t.Cleanup(srv.Close)
	return &testServer{t: t, server: srv}
}

// do sends a JSON request as user and decodes the response into out when
// out is non-nil.
func (ts *testServer) do(method, path, user string, body any, out any) int {
	ts.t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(ts.t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, ts.server.URL+path, &buf)
	require.NoError(ts.t, err)
	req.Header.Set("Content-Type", "application/json")
	if user != "" {
		req.Header.Set(api.UserIDHeader, user)
	}

	resp, err := http.DefaultClient.Do(req)
	require.NoError(ts.t, err)
	defer resp.Body.Close()

	if out != nil {
		require.NoError(ts.t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp.StatusCode
}

// household creates a group administered by A with members B and C.
func (ts *testServer) household() string {
	ts.t.Helper()
	var g api.GroupDTO
	require.Equal(ts.t, http.StatusCreated, ts.do("POST", "/api/groups", "A", api.CreateGroupRequest{Name: "Household"}, &g))
	for _, u := range []string{"B", "C"} {
		require.Equal(ts.t, http.StatusOK, ts.do("POST", "/api/groups/join", u, api.JoinGroupRequest{InviteCode: g.InviteCode}, nil))
	}
	return g.ID
}

func balancesByUser(dtos []api.BalanceDTO) map[string]string {
	out := make(map[string]string, len(dtos))
	for _, b := range dtos {
		out[b.UserID] = b.Balance
	}
	return out
}

// =============================================================================
// TESTS
// =============================================================================

func TestMissingUserHeader(t *testing.T) {
	ts := newTestServer(t)
	var errResp api.ErrorResponse
	status := ts.do("GET", "/api/groups", "", nil, &errResp)
	assert.Equal(t, http.StatusUnauthorized, status)
	assert.Contains(t, errResp.Error, api.UserIDHeader)
}

func TestHealthAndMetrics(t *testing.T) {
	ts := newTestServer(t)
	assert.Equal(t, http.StatusOK, ts.do("GET", "/healthz", "", nil, nil))

	resp, err := http.Get(ts.server.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestGroupLifecycle(t *testing.T) {
	// GIVEN: A group created by A and joined by B and C
	// WHEN: Listing members, joining twice, removing as non-admin
	// THEN: Members are sorted, the second join conflicts, removal is forbidden

	ts := newTestServer(t)
	id := ts.household()

	var members []api.MemberDTO
	require.Equal(t, http.StatusOK, ts.do("GET", "/api/groups/"+id+"/members", "B", nil, &members))
	require.Len(t, members, 3)
	assert.Equal(t, "A", members[0].UserID)
	assert.Equal(t, "ADMIN", members[0].Role)
	assert.Equal(t, "MEMBER", members[1].Role)

	var g api.GroupDTO
	require.Equal(t, http.StatusOK, ts.do("GET", "/api/groups/"+id, "A", nil, &g))
	assert.Equal(t, http.StatusConflict, ts.do("POST", "/api/groups/join", "B", api.JoinGroupRequest{InviteCode: g.InviteCode}, nil))
	assert.Equal(t, http.StatusNotFound, ts.do("POST", "/api/groups/join", "D", api.JoinGroupRequest{InviteCode: "nope"}, nil))

	assert.Equal(t, http.StatusForbidden, ts.do("DELETE", "/api/groups/"+id+"/members/C", "B", nil, nil))
	assert.Equal(t, http.StatusForbidden, ts.do("GET", "/api/groups/"+id+"/members", "D", nil, nil))

	assert.Equal(t, http.StatusBadRequest, ts.do("POST", "/api/groups/"+id+"/leave", "A", nil, nil))

	var m api.MemberDTO
	require.Equal(t, http.StatusOK, ts.do("PUT", "/api/groups/"+id+"/members/B/role", "A", api.UpdateRoleRequest{Role: "admin"}, &m))
	assert.Equal(t, "ADMIN", m.Role)
	assert.Equal(t, http.StatusNoContent, ts.do("POST", "/api/groups/"+id+"/leave", "A", nil, nil))

	var code api.InviteCodeResponse
	require.Equal(t, http.StatusOK, ts.do("POST", "/api/groups/"+id+"/invite-code", "B", nil, &code))
	assert.NotEqual(t, g.InviteCode, code.InviteCode)
}

func TestExpenseBalancesAndSettlement(t *testing.T) {
	// GIVEN: A pays 90 split equally; B pays 60 split A:0, B:30, C:30
	// WHEN: The admin previews and then executes a settlement
	// THEN: Balances, preview and execution agree, and every balance ends at zero

	ts := newTestServer(t)
	id := ts.household()

	var exp api.ExpenseDTO
	require.Equal(t, http.StatusCreated, ts.do("POST", "/api/groups/"+id+"/expenses", "A", map[string]any{
		"amount":       "90",
		"description":  "Groceries",
		"date":         "2025-07-01",
		"split_type":   "equal",
		"participants": []map[string]any{{"user_id": "A"}, {"user_id": "B"}, {"user_id": "C"}},
	}, &exp))
	assert.Equal(t, "90.00", exp.Amount)
	assert.Equal(t, "EQUAL", exp.SplitType)
	require.Len(t, exp.Splits, 3)
	assert.Equal(t, "30.00", exp.Splits[0].Amount)

	require.Equal(t, http.StatusCreated, ts.do("POST", "/api/groups/"+id+"/expenses", "B", map[string]any{
		"amount":      60,
		"description": "Utilities",
		"split_type":  "CUSTOM",
		"participants": []map[string]any{
			{"user_id": "B", "amount": "30"},
			{"user_id": "C", "amount": "30"},
		},
	}, nil))

	var balances []api.BalanceDTO
	require.Equal(t, http.StatusOK, ts.do("GET", "/api/groups/"+id+"/balances", "C", nil, &balances))
	assert.Equal(t, map[string]string{"A": "60.00", "B": "0.00", "C": "-60.00"}, balancesByUser(balances))

	var preview api.PreviewResponse
	require.Equal(t, http.StatusOK, ts.do("POST", "/api/groups/"+id+"/settlements/preview", "A", nil, &preview))
	assert.Equal(t, "0.00", preview.EqualShare)
	require.Len(t, preview.Transfers, 1)
	assert.Equal(t, api.TransferDTO{FromID: "A", ToID: "C", Amount: "60.00"}, preview.Transfers[0])

	assert.Equal(t, http.StatusBadRequest, ts.do("POST", "/api/groups/"+id+"/settlements/execute", "A", api.SettlementRequest{}, nil))
	assert.Equal(t, http.StatusForbidden, ts.do("POST", "/api/groups/"+id+"/settlements/execute", "B", api.SettlementRequest{Confirmed: true}, nil))

	var executed api.ExecuteResponse
	require.Equal(t, http.StatusOK, ts.do("POST", "/api/groups/"+id+"/settlements/execute", "A", api.SettlementRequest{Confirmed: true}, &executed))
	assert.Equal(t, 1, executed.Summary.TransferCount)
	for _, b := range executed.UpdatedBalances {
		assert.Equal(t, "0.00", b.Balance)
	}

	var history []api.SettlementDTO
	require.Equal(t, http.StatusOK, ts.do("GET", "/api/groups/"+id+"/settlements", "B", nil, &history))
	require.Len(t, history, 1)
	assert.Equal(t, "A", history[0].CreatedBy)

	var expenses []api.ExpenseDTO
	require.Equal(t, http.StatusOK, ts.do("GET", "/api/groups/"+id+"/expenses", "C", nil, &expenses))
	require.Len(t, expenses, 2)
	assert.Equal(t, http.StatusOK, ts.do("GET", "/api/expenses/"+exp.ID, "B", nil, nil))
	assert.Equal(t, http.StatusNotFound, ts.do("GET", "/api/expenses/"+exp.ID, "D", nil, nil))
}

func TestCreateExpense_ErrorMapping(t *testing.T) {
	ts := newTestServer(t)
	id := ts.household()
	path := "/api/groups/" + id + "/expenses"

	tests := []struct {
		name   string
		user   string
		body   map[string]any
		status int
	}{
		{
			name:   "custom split does not add up",
			user:   "A",
			body:   map[string]any{"amount": "10", "description": "x", "split_type": "CUSTOM", "participants": []map[string]any{{"user_id": "A", "amount": "4"}}},
			status: http.StatusBadRequest,
		},
		{
			name:   "participant outside the group",
			user:   "A",
			body:   map[string]any{"amount": "10", "description": "x", "split_type": "EQUAL", "participants": []map[string]any{{"user_id": "Z"}}},
			status: http.StatusBadRequest,
		},
		{
			name:   "requester outside the group",
			user:   "Z",
			body:   map[string]any{"amount": "10", "description": "x", "split_type": "EQUAL", "participants": []map[string]any{{"user_id": "A"}}},
			status: http.StatusForbidden,
		},
		{
			name:   "amount above the maximum",
			user:   "A",
			body:   map[string]any{"amount": "1000000000000", "description": "x", "split_type": "EQUAL", "participants": []map[string]any{{"user_id": "A"}, {"user_id": "B"}}},
			status: http.StatusBadRequest,
		},
		{
			name:   "bad date",
			user:   "A",
			body:   map[string]any{"amount": "10", "description": "x", "date": "yesterday", "split_type": "EQUAL", "participants": []map[string]any{{"user_id": "A"}}},
			status: http.StatusBadRequest,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var errResp api.ErrorResponse
			assert.Equal(t, tt.status, ts.do("POST", path, tt.user, tt.body, &errResp))
			assert.NotEmpty(t, errResp.Error)
		})
	}

	assert.Equal(t, http.StatusNotFound, ts.do("GET", "/api/groups/unknown/balances", "A", nil, nil))
}
