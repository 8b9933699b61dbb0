package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/till-engine/config"
	"github.com/warp/till-engine/posting"
	"github.com/warp/till-engine/recon"
	"github.com/warp/till-engine/recon/store"
)

// =============================================================================
// TEST SETUP
// =============================================================================

type testServer struct {
	server  *httptest.Server
	journal *posting.MemoryJournal
	audit   *store.MemoryAuditLog
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()

	counterCfg := recon.CashCounterConfig{
		Currency:  "INR",
		MinorUnit: 2,
		Denominations: []decimal.Decimal{
			decimal.NewFromInt(1000),
			decimal.NewFromInt(500),
			decimal.NewFromInt(100),
		},
		AccountMappings: map[recon.PaymentMode]string{
			recon.ModeCash: "1110-cash-in-hand",
			recon.ModeCard: "1120-card-clearing",
			recon.ModeUPI:  "1130-upi-clearing",
		},
		VarianceThreshold: decimal.NewFromInt(100),
	}

	memStore := store.NewMemory()
	journal := posting.NewMemoryJournal()
	audit := store.NewMemoryAuditLog()

	lifecycle := recon.NewCloseLifecycle(memStore, journal, audit, nil)
	query := recon.NewCloseQueryService(memStore)

	handler := NewHandler(lifecycle, query, config.NewStaticProvider(counterCfg))
	handler.Audit = audit

	ts := httptest.NewServer(NewRouter(handler, nil))
	t.Cleanup(ts.Close)

	return &testServer{server: ts, journal: journal, audit: audit}
}

func (ts *testServer) post(t *testing.T, path string, body any) *http.Response {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	resp, err := http.Post(ts.server.URL+path, "application/json", &buf)
	require.NoError(t, err)
	return resp
}

func (ts *testServer) get(t *testing.T, path string) *http.Response {
	t.Helper()
	resp, err := http.Get(ts.server.URL + path)
	require.NoError(t, err)
	return resp
}

func decodeBody[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	defer resp.Body.Close()
	var out T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return out
}

func consistentSubmit(cashierID string) SubmitCloseRequest {
	return SubmitCloseRequest{
		CashierID:     cashierID,
		ExpectedTotal: "5000.00",
		Denominations: []DenominationInput{
			{Value: "1000", Count: 4},
			{Value: "500", Count: 2},
		},
		PaymentModeTotals: []PaymentModeInput{
			{Mode: "cash", Amount: "5000.00"},
		},
		Notes: "evening shift",
	}
}

func (ts *testServer) submitClose(t *testing.T, cashierID string) CloseDTO {
	t.Helper()
	resp := ts.post(t, "/api/closes", consistentSubmit(cashierID))
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	return decodeBody[CloseDTO](t, resp)
}

// =============================================================================
// SUBMIT
// =============================================================================

func TestSubmitClose_Created(t *testing.T) {
	ts := newTestServer(t)

	resp := ts.post(t, "/api/closes", consistentSubmit("cashier-1"))
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	dto := decodeBody[CloseDTO](t, resp)
	assert.NotEmpty(t, dto.ID)
	assert.Equal(t, "cashier-1", dto.CashierID)
	assert.Equal(t, "requested", dto.Status)
	assert.Equal(t, "5000", dto.CountedTotal)
	assert.Equal(t, "0", dto.Variance)
	assert.False(t, dto.VarianceFlagged)
	assert.NotEmpty(t, dto.ClosingTimestamp)
}

func TestSubmitClose_MissingCashierID(t *testing.T) {
	ts := newTestServer(t)

	req := consistentSubmit("")
	resp := ts.post(t, "/api/closes", req)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	resp.Body.Close()
}

func TestSubmitClose_MalformedAmount(t *testing.T) {
	ts := newTestServer(t)

	req := consistentSubmit("cashier-1")
	req.ExpectedTotal = "five thousand"
	resp := ts.post(t, "/api/closes", req)
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)

	errResp := decodeBody[ErrorResponse](t, resp)
	assert.Contains(t, errResp.Details, "expected_total")
}

func TestSubmitClose_ValidationErrorCarriesCode(t *testing.T) {
	ts := newTestServer(t)

	// GIVEN: declared mode totals that don't reach the expected amount
	req := consistentSubmit("cashier-1")
	req.PaymentModeTotals = []PaymentModeInput{{Mode: "cash", Amount: "4000.00"}}

	resp := ts.post(t, "/api/closes", req)
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)

	errResp := decodeBody[ErrorResponse](t, resp)
	assert.Equal(t, string(recon.PaymentModeTotalMismatch), errResp.Code)
}

func TestSubmitClose_UnknownPaymentMode(t *testing.T) {
	ts := newTestServer(t)

	req := consistentSubmit("cashier-1")
	req.PaymentModeTotals = []PaymentModeInput{{Mode: "cheque", Amount: "5000.00"}}

	resp := ts.post(t, "/api/closes", req)
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)

	errResp := decodeBody[ErrorResponse](t, resp)
	assert.Equal(t, string(recon.UnknownPaymentMode), errResp.Code)
}

func TestSubmitClose_SecondPendingConflict(t *testing.T) {
	ts := newTestServer(t)

	ts.submitClose(t, "cashier-1")

	resp := ts.post(t, "/api/closes", consistentSubmit("cashier-1"))
	require.Equal(t, http.StatusConflict, resp.StatusCode)

	errResp := decodeBody[ErrorResponse](t, resp)
	assert.Equal(t, "already_pending", errResp.Code)
}

// =============================================================================
// TEMPLATE
// =============================================================================

func TestGetCloseTemplate(t *testing.T) {
	ts := newTestServer(t)

	resp := ts.get(t, "/api/closes/template")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	tmpl := decodeBody[TemplateResponse](t, resp)
	assert.Equal(t, "INR", tmpl.Currency)
	assert.Equal(t, "100", tmpl.VarianceThreshold)
	assert.ElementsMatch(t, []string{"cash", "card", "upi"}, tmpl.PaymentModes)

	// Denominations come back zeroed, largest face value first
	require.Len(t, tmpl.Denominations, 3)
	assert.Equal(t, "1000", tmpl.Denominations[0].Value)
	assert.Equal(t, "100", tmpl.Denominations[2].Value)
	for _, d := range tmpl.Denominations {
		assert.Equal(t, int64(0), d.Count)
	}
}

// =============================================================================
// PENDING / GET / HISTORY
// =============================================================================

func TestListPendingCloses(t *testing.T) {
	ts := newTestServer(t)

	first := ts.submitClose(t, "cashier-1")
	second := ts.submitClose(t, "cashier-2")

	resp := ts.get(t, "/api/closes/pending")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	body := decodeBody[struct {
		Closes []CloseDTO `json:"closes"`
	}](t, resp)
	require.Len(t, body.Closes, 2)
	assert.Equal(t, first.ID, body.Closes[0].ID)
	assert.Equal(t, second.ID, body.Closes[1].ID)
}

func TestGetClose(t *testing.T) {
	ts := newTestServer(t)

	created := ts.submitClose(t, "cashier-1")

	resp := ts.get(t, "/api/closes/"+created.ID)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	dto := decodeBody[CloseDTO](t, resp)
	assert.Equal(t, created.ID, dto.ID)

	resp = ts.get(t, "/api/closes/missing")
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
	errResp := decodeBody[ErrorResponse](t, resp)
	assert.Equal(t, "not_found", errResp.Code)
}

func TestCloseHistory_PaginatesWithCursor(t *testing.T) {
	ts := newTestServer(t)

	// GIVEN: three resolved closes for distinct cashiers
	for i := 1; i <= 3; i++ {
		created := ts.submitClose(t, fmt.Sprintf("cashier-%d", i))
		resp := ts.post(t, "/api/closes/"+created.ID+"/approve", nil)
		require.Equal(t, http.StatusOK, resp.StatusCode)
		resp.Body.Close()
	}

	first := decodeBody[HistoryResponse](t, ts.get(t, "/api/closes?limit=2"))
	require.Len(t, first.Closes, 2)
	require.NotEmpty(t, first.NextCursor)

	second := decodeBody[HistoryResponse](t, ts.get(t, "/api/closes?limit=2&cursor="+first.NextCursor))
	require.Len(t, second.Closes, 1)
	assert.Empty(t, second.NextCursor)

	// No overlap between pages
	seen := map[string]bool{}
	for _, c := range append(first.Closes, second.Closes...) {
		assert.False(t, seen[c.ID])
		seen[c.ID] = true
	}
}

func TestCloseHistory_InvalidParams(t *testing.T) {
	ts := newTestServer(t)

	resp := ts.get(t, "/api/closes?limit=abc")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	resp.Body.Close()

	resp = ts.get(t, "/api/closes?cursor=%2A%2A%2A")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	resp.Body.Close()
}

// =============================================================================
// APPROVE / REJECT
// =============================================================================

func TestApproveClose_Verified(t *testing.T) {
	ts := newTestServer(t)

	created := ts.submitClose(t, "cashier-1")

	resp := ts.post(t, "/api/closes/"+created.ID+"/approve", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	dto := decodeBody[CloseDTO](t, resp)
	assert.Equal(t, "verified", dto.Status)
	assert.Equal(t, "JE-1", dto.JournalEntryID)
}

func TestApproveClose_AlreadyResolvedCarriesWinningStatus(t *testing.T) {
	ts := newTestServer(t)

	created := ts.submitClose(t, "cashier-1")
	resp := ts.post(t, "/api/closes/"+created.ID+"/approve", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()

	resp = ts.post(t, "/api/closes/"+created.ID+"/reject", RejectCloseRequest{Reason: "too late"})
	require.Equal(t, http.StatusConflict, resp.StatusCode)

	errResp := decodeBody[ErrorResponse](t, resp)
	assert.Equal(t, "already_resolved", errResp.Code)
	assert.Equal(t, "verified", errResp.Details)
}

func TestApproveClose_PostingFailureIsRetryable(t *testing.T) {
	ts := newTestServer(t)

	created := ts.submitClose(t, "cashier-1")
	ts.journal.Fail = fmt.Errorf("ledger unavailable")

	resp := ts.post(t, "/api/closes/"+created.ID+"/approve", nil)
	require.Equal(t, http.StatusBadGateway, resp.StatusCode)

	errResp := decodeBody[ErrorResponse](t, resp)
	assert.Equal(t, "posting_failed", errResp.Code)
	assert.True(t, errResp.Retryable)

	// THEN: the close is still pending and a retry succeeds
	ts.journal.Fail = nil
	resp = ts.post(t, "/api/closes/"+created.ID+"/approve", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	dto := decodeBody[CloseDTO](t, resp)
	assert.Equal(t, "verified", dto.Status)
}

func TestRejectClose_WithReason(t *testing.T) {
	ts := newTestServer(t)

	created := ts.submitClose(t, "cashier-1")

	resp := ts.post(t, "/api/closes/"+created.ID+"/reject", RejectCloseRequest{Reason: "recount ordered"})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	dto := decodeBody[CloseDTO](t, resp)
	assert.Equal(t, "rejected", dto.Status)
	assert.Equal(t, "recount ordered", dto.RejectionReason)
	assert.Empty(t, dto.JournalEntryID)
}

func TestRejectClose_EmptyReason(t *testing.T) {
	ts := newTestServer(t)

	created := ts.submitClose(t, "cashier-1")

	resp := ts.post(t, "/api/closes/"+created.ID+"/reject", RejectCloseRequest{Reason: "  "})
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)

	errResp := decodeBody[ErrorResponse](t, resp)
	assert.Equal(t, "invalid_reason", errResp.Code)
}

// =============================================================================
// AUDIT
// =============================================================================

func TestQueryAudit_ByCloseID(t *testing.T) {
	ts := newTestServer(t)

	created := ts.submitClose(t, "cashier-1")
	resp := ts.post(t, "/api/closes/"+created.ID+"/approve", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()

	resp = ts.get(t, "/api/audit?close_id="+created.ID)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	body := decodeBody[struct {
		Events []AuditEventDTO `json:"events"`
	}](t, resp)
	require.Len(t, body.Events, 2)
	assert.Equal(t, "close_submitted", body.Events[0].Action)
	assert.Equal(t, 1, body.Events[0].Seq)
	assert.Equal(t, "close_verified", body.Events[1].Action)
	assert.Equal(t, "JE-1", body.Events[1].JournalEntryID)
	assert.Equal(t, "5000", body.Events[1].CountedTotal)
}

func TestQueryAudit_NotConfigured(t *testing.T) {
	// GIVEN: a handler without an audit log attached
	memStore := store.NewMemory()
	lifecycle := recon.NewCloseLifecycle(memStore, posting.NewMemoryJournal(), store.NewMemoryAuditLog(), nil)
	handler := NewHandler(lifecycle, recon.NewCloseQueryService(memStore), config.NewStaticProvider(recon.CashCounterConfig{}))
	bare := httptest.NewServer(NewRouter(handler, nil))
	t.Cleanup(bare.Close)

	resp, err := http.Get(bare.URL + "/api/audit")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}
