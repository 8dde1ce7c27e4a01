/*
handlers_test.go - HTTP tests for the resident ledger API

Tests drive the full router (chi + middleware) against an in-memory store.
*/
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/resident-ledger/ledger"
	"github.com/warp/resident-ledger/ledger/store"
)

type testServer struct {
	router http.Handler
	store  *store.Memory
	ledger *ledger.Ledger
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	mem := store.NewMemory()
	l := ledger.New(mem, ledger.DefaultConfig())
	h := NewHandler(l)
	h.HistoryDefaultLimit = 3
	h.HistoryMaxLimit = 5
	return &testServer{
		router: NewRouter(h, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.Write([]byte("# metrics"))
		})),
		store:  mem,
		ledger: l,
	}
}

func (s *testServer) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&v), rec.Body.String())
	return v
}

func TestInitResident_Idempotent(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, http.MethodPost, "/api/residents/r-1/init", nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	rec = s.do(t, http.MethodPost, "/api/residents/r-1/init", nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	recs := s.store.Records("r-1")
	require.Len(t, recs, 1)
	assert.True(t, recs[0].IsSnapshot())
}

func TestPostCharge_InitializesAndAppends(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, http.MethodPost, "/api/residents/r-1/charges", ChargeRequest{
		Amount: 210000, ChargeType: "rent", Description: "March rent", PropertyID: "prop-1",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.Equal(t, int64(1), decode[VersionDTO](t, rec).Version)

	recs := s.store.Records("r-1")
	require.Len(t, recs, 2)
	assert.True(t, recs[0].IsSnapshot())
	assert.Equal(t, ledger.ChargeRent, recs[1].ChargeType)
	assert.Equal(t, "prop-1", recs[1].PropertyID)
}

func TestPostCharge_Rejects(t *testing.T) {
	s := newTestServer(t)

	tests := []struct {
		name string
		body any
	}{
		{"unknown charge type", ChargeRequest{Amount: 100, ChargeType: "parking"}},
		{"zero amount", ChargeRequest{Amount: 0, ChargeType: "RENT"}},
		{"malformed body", "not-an-object"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := s.do(t, http.MethodPost, "/api/residents/r-1/charges", tt.body)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.NotEmpty(t, decode[ErrorResponse](t, rec).Error)
		})
	}
}

func TestBalance_AfterChargesAndPayment(t *testing.T) {
	s := newTestServer(t)

	s.do(t, http.MethodPost, "/api/residents/r-1/charges", ChargeRequest{Amount: 10000, ChargeType: "RENT"})
	s.do(t, http.MethodPost, "/api/residents/r-1/charges", ChargeRequest{Amount: 5000, ChargeType: "UTILITY"})
	rec := s.do(t, http.MethodPost, "/api/residents/r-1/payments", AmountRequest{Amount: 12000, ReferenceID: "pay-1"})
	require.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, int64(3), decode[VersionDTO](t, rec).Version)

	rec = s.do(t, http.MethodGet, "/api/residents/r-1/balance", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	bal := decode[BalanceDTO](t, rec)

	assert.Equal(t, "r-1", bal.ResidentID)
	assert.Equal(t, int64(3000), bal.Balance)
	assert.Equal(t, "30.00", bal.BalanceDisplay)
	assert.Equal(t, "USD", bal.Currency)
	assert.Equal(t, int64(3), bal.Version)
	require.Len(t, bal.OutstandingItems, 1)
	assert.Equal(t, int64(2), bal.OutstandingItems[0].Version)
	assert.Equal(t, "UTILITY", bal.OutstandingItems[0].ChargeType)
	assert.Equal(t, "30.00", bal.OutstandingItems[0].AmountDisplay)
}

func TestAmountRoutes_ApplySign(t *testing.T) {
	s := newTestServer(t)
	s.do(t, http.MethodPost, "/api/residents/r-1/charges", ChargeRequest{Amount: 10000, ChargeType: "RENT"})

	routes := map[string]int64{
		"credits":     -1000,
		"refunds":     500,
		"chargebacks": 700,
		"late-fees":   2500,
	}
	want := int64(10000)
	for route, delta := range routes {
		rec := s.do(t, http.MethodPost, "/api/residents/r-1/"+route, AmountRequest{Amount: 0, Description: route})
		assert.Equal(t, http.StatusBadRequest, rec.Code, route)

		abs := delta
		if abs < 0 {
			abs = -abs
		}
		rec = s.do(t, http.MethodPost, "/api/residents/r-1/"+route, AmountRequest{Amount: Cents(abs)})
		require.Equal(t, http.StatusCreated, rec.Code, route)
		want += delta
	}

	state, err := s.ledger.RebuildState(context.Background(), "r-1")
	require.NoError(t, err)
	assert.Equal(t, want, state.Balance)
}

func TestPayment_NegativeBalanceRendersSign(t *testing.T) {
	s := newTestServer(t)
	s.do(t, http.MethodPost, "/api/residents/r-1/charges", ChargeRequest{Amount: 1000, ChargeType: "RENT"})
	s.do(t, http.MethodPost, "/api/residents/r-1/payments", AmountRequest{Amount: 1250})

	bal := decode[BalanceDTO](t, s.do(t, http.MethodGet, "/api/residents/r-1/balance", nil))
	assert.Equal(t, int64(-250), bal.Balance)
	assert.Equal(t, "-2.50", bal.BalanceDisplay)
	assert.Empty(t, bal.OutstandingItems)
}

func TestGetVersion_UnknownResident(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, http.MethodGet, "/api/residents/ghost/version", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, int64(0), decode[VersionDTO](t, rec).Version)

	bal := decode[BalanceDTO](t, s.do(t, http.MethodGet, "/api/residents/ghost/balance", nil))
	assert.Equal(t, int64(0), bal.Balance)
	assert.NotNil(t, bal.OutstandingItems)
}

func TestGetHistory_Pages(t *testing.T) {
	s := newTestServer(t)
	for i := 0; i < 4; i++ {
		s.do(t, http.MethodPost, "/api/residents/r-1/charges", ChargeRequest{Amount: 100, ChargeType: "RENT"})
	}

	// v0 snapshot + 4 events; default page size is 3.
	page := decode[HistoryDTO](t, s.do(t, http.MethodGet, "/api/residents/r-1/history", nil))
	require.Len(t, page.Records, 3)
	assert.Equal(t, "SNAPSHOT", page.Records[0].Kind)
	require.NotNil(t, page.Records[0].Balance)
	require.NotNil(t, page.Next)
	assert.Equal(t, int64(2), *page.Next)

	page = decode[HistoryDTO](t, s.do(t, http.MethodGet, "/api/residents/r-1/history?after=2", nil))
	require.Len(t, page.Records, 2)
	assert.Equal(t, int64(3), page.Records[0].Version)
	assert.Nil(t, page.Next)

	page = decode[HistoryDTO](t, s.do(t, http.MethodGet, "/api/residents/r-1/history?limit=50", nil))
	assert.Len(t, page.Records, 5)
}

func TestGetHistory_BadQuery(t *testing.T) {
	s := newTestServer(t)
	for _, q := range []string{"after=x", "after=-5", "limit=0", "limit=abc"} {
		rec := s.do(t, http.MethodGet, "/api/residents/r-1/history?"+q, nil)
		assert.Equal(t, http.StatusBadRequest, rec.Code, q)
	}
}

func TestAppend_ExhaustedMapsToConflict(t *testing.T) {
	faulty := &store.Faulty{
		Store: store.NewMemory(),
		BeforePutIfAbsent: func(context.Context, ledger.Record) error {
			return ledger.ErrConditionFailed
		},
	}
	h := NewHandler(ledger.New(faulty, ledger.Config{SnapshotInterval: 10, MaxAttempts: 2}))
	router := NewRouter(h, nil)

	req := httptest.NewRequest(http.MethodPost, "/api/residents/r-1/payments", strings.NewReader(`{"amount":100}`))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestHistory_UnsupportedStore(t *testing.T) {
	h := NewHandler(ledger.New(&store.Faulty{Store: store.NewMemory()}, ledger.DefaultConfig()))
	rec := httptest.NewRecorder()
	NewRouter(h, nil).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/residents/r-1/history", nil))

	assert.Equal(t, http.StatusNotImplemented, rec.Code)
}

func TestHealthzAndMetrics(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, http.MethodGet, "/healthz", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = s.do(t, http.MethodGet, "/metrics", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "# metrics", rec.Body.String())
}

func TestCents_Decode(t *testing.T) {
	tests := []struct {
		in   string
		want Cents
		ok   bool
	}{
		{`2100`, 2100, true},
		{`"21.00"`, 2100, true},
		{`"21"`, 2100, true},
		{`"0.05"`, 5, true},
		{`"-3.5"`, -350, true},
		{`"21.005"`, 0, false},
		{`"abc"`, 0, false},
		{`21.5`, 0, false},
		{`true`, 0, false},
		{`"92233720368547758.06"`, 9223372036854775806, true},
		{`"92233720368547758.07"`, 0, false},
		{`"184467440737095516.17"`, 0, false},
		{`"100000000000000000.00"`, 0, false},
		{`-9223372036854775808`, 0, false},
		{`9223372036854775807`, 0, false},
		{`9223372036854775808`, 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			var c Cents
			err := json.Unmarshal([]byte(tt.in), &c)
			if !tt.ok {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, c)
		})
	}
}

func TestPostCharge_DecimalStringAmount(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, http.MethodPost, "/api/residents/r-1/charges",
		map[string]any{"amount": "1250.75", "chargeType": "DEPOSIT"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	bal := decode[BalanceDTO](t, s.do(t, http.MethodGet, "/api/residents/r-1/balance", nil))
	assert.Equal(t, int64(125075), bal.Balance)
	assert.Equal(t, "1250.75", bal.BalanceDisplay)
}

func TestPostPayment_RejectsOutOfRangeAmounts(t *testing.T) {
	s := newTestServer(t)
	require.Equal(t, http.StatusCreated,
		s.do(t, http.MethodPost, "/api/residents/r-1/charges", ChargeRequest{Amount: 100, ChargeType: "RENT"}).Code)

	for _, amount := range []any{json.Number("-9223372036854775808"), "184467440737095516.17"} {
		rec := s.do(t, http.MethodPost, "/api/residents/r-1/payments", map[string]any{"amount": amount})
		assert.Equal(t, http.StatusBadRequest, rec.Code, "amount %v", amount)
	}

	bal := decode[BalanceDTO](t, s.do(t, http.MethodGet, "/api/residents/r-1/balance", nil))
	assert.Equal(t, int64(100), bal.Balance)
	require.Len(t, bal.OutstandingItems, 1)
	assert.Equal(t, int64(100), bal.OutstandingItems[0].Amount)
}

func TestFormatCents(t *testing.T) {
	assert.Equal(t, "21.00", formatCents(2100))
	assert.Equal(t, "0.05", formatCents(5))
	assert.Equal(t, "0.00", formatCents(0))
	assert.Equal(t, "-1234.56", formatCents(-123456))
}
