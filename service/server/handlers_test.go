package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/brojonat/aptoswatch/service/aptos"
	"github.com/brojonat/aptoswatch/service/config"
	natspkg "github.com/brojonat/aptoswatch/service/nats"
	"github.com/brojonat/aptoswatch/service/temporal"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const account = "0xa"

var recipient = "0x" + strings.Repeat("0", 63) + "b"

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testConfig() *config.Config {
	return &config.Config{
		DefaultPollInterval: 15 * time.Second,
		MinPollInterval:     5 * time.Second,
		FetchTimeout:        time.Second,
		HistoryLimit:        20,
	}
}

func transferTxn(hash, sender, to, octas string, micros int64) aptos.RawTransaction {
	return aptos.RawTransaction{
		Hash:      hash,
		Type:      aptos.UserTransactionType,
		Success:   true,
		Sender:    sender,
		Timestamp: aptos.Micros(micros),
		Payload: &aptos.Payload{
			Function:  aptos.TransferFunction,
			Arguments: []any{to, octas},
		},
	}
}

// fakeSource serves fixed ledger data and counts calls.
type fakeSource struct {
	txns       []aptos.RawTransaction
	balance    decimal.Decimal
	txErr      error
	balErr     error
	lastLimit  atomic.Int64
	balanceHit atomic.Int32
}

func newFakeSource() *fakeSource {
	return &fakeSource{
		txns: []aptos.RawTransaction{
			transferTxn("0x1111", account, "0xb", "150000000", 1_000_000),
			transferTxn("0x2222", "0xb", account, "25000000", 2_000_000),
		},
		balance: decimal.RequireFromString("3.25"),
	}
}

func (f *fakeSource) FetchTransactions(ctx context.Context, address string, limit int) ([]aptos.RawTransaction, error) {
	f.lastLimit.Store(int64(limit))
	return f.txns, f.txErr
}

func (f *fakeSource) FetchBalance(ctx context.Context, address string) (decimal.Decimal, error) {
	f.balanceHit.Add(1)
	return f.balance, f.balErr
}

type testServer struct {
	server    *Server
	handler   http.Handler
	source    *fakeSource
	scheduler *temporal.MockScheduler
	nats      *natspkg.MockPublisher
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	src := newFakeSource()
	sched := temporal.NewMockScheduler()
	pub := natspkg.NewMockPublisher()
	s := New(":0", testConfig(), src, sched, pub, nil, testLogger())
	return &testServer{server: s, handler: s.Handler(), source: src, scheduler: sched, nats: pub}
}

func (ts *testServer) do(method, target, body string) *httptest.ResponseRecorder {
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, r)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	ts.handler.ServeHTTP(w, req)
	return w
}

func decodeError(t *testing.T, w *httptest.ResponseRecorder) string {
	t.Helper()
	var body map[string]string
	require.NoError(t, json.NewDecoder(w.Body).Decode(&body))
	return body["error"]
}

func TestGetHistory(t *testing.T) {
	ts := newTestServer(t)

	w := ts.do(http.MethodGet, "/api/v1/accounts/0xa/history", "")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))

	var history aptos.AccountHistory
	require.NoError(t, json.NewDecoder(w.Body).Decode(&history))
	assert.Equal(t, "3.25", history.Balance.String())
	require.Len(t, history.Transfers, 2)
	assert.Equal(t, "0x2222", history.Transfers[0].Hash)
	assert.Equal(t, aptos.DirectionIncoming, history.Transfers[0].Direction)
	assert.Equal(t, "1.5", history.Transfers[1].Amount.String())
	assert.Equal(t, aptos.Stats{TotalCount: 2, SentCount: 1, ReceivedCount: 1}, history.Stats)
	assert.Equal(t, int64(20), ts.source.lastLimit.Load())
}

func TestGetHistory_Limit(t *testing.T) {
	ts := newTestServer(t)

	w := ts.do(http.MethodGet, "/api/v1/accounts/0xa/history?limit=5", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, int64(5), ts.source.lastLimit.Load())

	for _, bad := range []string{"0", "101", "abc", "-1"} {
		w := ts.do(http.MethodGet, "/api/v1/accounts/0xa/history?limit="+bad, "")
		assert.Equal(t, http.StatusBadRequest, w.Code, bad)
	}
}

func TestGetHistory_FetchFailure(t *testing.T) {
	tests := []struct {
		name       string
		txErr      error
		balErr     error
		wantStatus int
	}{
		{"node error", errors.New("connection refused"), nil, http.StatusBadGateway},
		{"balance error", nil, errors.New("boom"), http.StatusBadGateway},
		{"not found", aptos.ErrAccountNotFound, nil, http.StatusNotFound},
		{"rate limited", nil, &aptos.APIError{StatusCode: http.StatusTooManyRequests, Message: "slow down"}, http.StatusTooManyRequests},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ts := newTestServer(t)
			ts.source.txErr = tt.txErr
			ts.source.balErr = tt.balErr

			w := ts.do(http.MethodGet, "/api/v1/accounts/0xa/history", "")
			assert.Equal(t, tt.wantStatus, w.Code)
			assert.NotEmpty(t, decodeError(t, w))
		})
	}
}

func TestGetHistory_InvalidAddress(t *testing.T) {
	ts := newTestServer(t)

	for _, bad := range []string{"abc", "0xzz", "0x" + strings.Repeat("a", 65)} {
		w := ts.do(http.MethodGet, "/api/v1/accounts/"+bad+"/history", "")
		assert.Equal(t, http.StatusBadRequest, w.Code, bad)
	}
	assert.Equal(t, int32(0), ts.source.balanceHit.Load())
}

func TestGetBalance(t *testing.T) {
	ts := newTestServer(t)

	w := ts.do(http.MethodGet, "/api/v1/accounts/0xa/balance", "")
	require.Equal(t, http.StatusOK, w.Code)

	var resp balanceResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	assert.Equal(t, "0xa", resp.Address)
	assert.Equal(t, "3.25", resp.Balance.String())
	assert.Equal(t, "3.25", resp.Formatted)

	ts.source.balErr = errors.New("node down")
	w = ts.do(http.MethodGet, "/api/v1/accounts/0xa/balance", "")
	assert.Equal(t, http.StatusBadGateway, w.Code)
	assert.Contains(t, decodeError(t, w), "node down")
}

func TestValidateTransfer(t *testing.T) {
	tests := []struct {
		name         string
		body         string
		wantStatus   int
		wantError    string
		wantBalanced bool
	}{
		{
			name:         "valid",
			body:         `{"sender":"0xa","recipient":"` + recipient + `","amount":"1.25"}`,
			wantStatus:   http.StatusOK,
			wantBalanced: true,
		},
		{
			name:       "short recipient",
			body:       `{"sender":"0xa","recipient":"0xb","amount":"1"}`,
			wantStatus: http.StatusUnprocessableEntity,
			wantError:  "invalid recipient",
		},
		{
			name:       "zero amount",
			body:       `{"sender":"0xa","recipient":"` + recipient + `","amount":"0"}`,
			wantStatus: http.StatusUnprocessableEntity,
			wantError:  "invalid amount",
		},
		{
			name:       "too many decimals",
			body:       `{"sender":"0xa","recipient":"` + recipient + `","amount":"0.000000001"}`,
			wantStatus: http.StatusUnprocessableEntity,
			wantError:  "invalid amount",
		},
		{
			name:         "insufficient balance",
			body:         `{"sender":"0xa","recipient":"` + recipient + `","amount":"3.26"}`,
			wantStatus:   http.StatusUnprocessableEntity,
			wantError:    "insufficient balance",
			wantBalanced: true,
		},
		{
			name:       "bad sender",
			body:       `{"sender":"alice","recipient":"` + recipient + `","amount":"1"}`,
			wantStatus: http.StatusBadRequest,
			wantError:  "sender",
		},
		{
			name:       "malformed JSON",
			body:       `{"sender":`,
			wantStatus: http.StatusBadRequest,
			wantError:  "invalid request body",
		},
		{
			name:       "body too large",
			body:       `{"sender":"` + strings.Repeat("a", 2<<20) + `"}`,
			wantStatus: http.StatusBadRequest,
			wantError:  "request body too large",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ts := newTestServer(t)

			w := ts.do(http.MethodPost, "/api/v1/transfers/validate", tt.body)
			require.Equal(t, tt.wantStatus, w.Code, w.Body.String())

			if tt.wantBalanced {
				assert.Equal(t, int32(1), ts.source.balanceHit.Load())
			} else {
				assert.Equal(t, int32(0), ts.source.balanceHit.Load(), "balance must not be fetched for bad input")
			}

			if tt.wantError != "" {
				assert.Contains(t, decodeError(t, w), tt.wantError)
				return
			}

			var resp validateTransferResponse
			require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
			assert.True(t, resp.Valid)
			assert.Equal(t, "3.25", resp.Balance.String())
			assert.Equal(t, aptos.TransferFunction, resp.Payload.Function)
			assert.Equal(t, []any{recipient, "125000000"}, resp.Payload.Arguments)
		})
	}
}

func TestValidateTransfer_BalanceUnavailable(t *testing.T) {
	ts := newTestServer(t)
	ts.source.balErr = errors.New("timeout")

	w := ts.do(http.MethodPost, "/api/v1/transfers/validate",
		`{"sender":"0xa","recipient":"`+recipient+`","amount":"1"}`)
	assert.Equal(t, http.StatusBadGateway, w.Code)
}

func TestWatches_Lifecycle(t *testing.T) {
	ts := newTestServer(t)

	w := ts.do(http.MethodPost, "/api/v1/watches", `{"address":"0x0A","poll_interval":"30s"}`)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	var created watchResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&created))
	assert.Equal(t, "0xa", created.Address)
	assert.Equal(t, "30s", created.PollInterval)

	interval, ok := ts.scheduler.GetScheduleInterval("0xa")
	require.True(t, ok)
	assert.Equal(t, 30*time.Second, interval)

	// Re-watching updates the interval and keeps the creation time
	w = ts.do(http.MethodPost, "/api/v1/watches", `{"address":"0xa","poll_interval":"1m"}`)
	require.Equal(t, http.StatusCreated, w.Code)
	var updated watchResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&updated))
	assert.Equal(t, "1m0s", updated.PollInterval)
	assert.True(t, created.CreatedAt.Equal(updated.CreatedAt))
	assert.Equal(t, 1, ts.scheduler.ScheduleCount())

	w = ts.do(http.MethodPost, "/api/v1/watches", `{"address":"0xb"}`)
	require.Equal(t, http.StatusCreated, w.Code)

	w = ts.do(http.MethodGet, "/api/v1/watches", "")
	require.Equal(t, http.StatusOK, w.Code)
	var list listWatchesResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&list))
	require.Len(t, list.Watches, 2)
	assert.Equal(t, "0xa", list.Watches[0].Address)
	assert.Equal(t, "0xb", list.Watches[1].Address)
	assert.Equal(t, "15s", list.Watches[1].PollInterval)

	w = ts.do(http.MethodDelete, "/api/v1/watches/0xa", "")
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.False(t, ts.scheduler.ScheduleExists("0xa"))

	w = ts.do(http.MethodDelete, "/api/v1/watches/0xa", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestCreateWatch_Validation(t *testing.T) {
	tests := []struct {
		name      string
		body      string
		wantError string
	}{
		{"missing address", `{}`, "address is required"},
		{"bad address", `{"address":"0x;drop"}`, "invalid"},
		{"bad interval", `{"address":"0xa","poll_interval":"soon"}`, "invalid poll_interval format"},
		{"interval below minimum", `{"address":"0xa","poll_interval":"1s"}`, "at least"},
		{"interval above maximum", `{"address":"0xa","poll_interval":"48h"}`, "at most"},
		{"malformed", `{"address":`, "invalid request body"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ts := newTestServer(t)
			w := ts.do(http.MethodPost, "/api/v1/watches", tt.body)
			assert.Equal(t, http.StatusBadRequest, w.Code)
			assert.Contains(t, decodeError(t, w), tt.wantError)
			assert.Equal(t, 0, ts.scheduler.ScheduleCount())
		})
	}
}

func TestWatches_SchedulerErrors(t *testing.T) {
	ts := newTestServer(t)
	ts.scheduler.SetCreateError(errors.New("temporal unavailable"))

	w := ts.do(http.MethodPost, "/api/v1/watches", `{"address":"0xa"}`)
	assert.Equal(t, http.StatusInternalServerError, w.Code)

	w = ts.do(http.MethodGet, "/api/v1/watches", "")
	var list listWatchesResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&list))
	assert.Empty(t, list.Watches, "failed schedule must not register a watch")

	ts.scheduler.SetCreateError(nil)
	w = ts.do(http.MethodPost, "/api/v1/watches", `{"address":"0xa"}`)
	require.Equal(t, http.StatusCreated, w.Code)

	ts.scheduler.SetDeleteError(errors.New("temporal unavailable"))
	w = ts.do(http.MethodDelete, "/api/v1/watches/0xa", "")
	assert.Equal(t, http.StatusInternalServerError, w.Code)

	w = ts.do(http.MethodGet, "/api/v1/watches", "")
	require.NoError(t, json.NewDecoder(w.Body).Decode(&list))
	assert.Len(t, list.Watches, 1, "watch is kept while its schedule still exists")
}

func TestHealthAndCORS(t *testing.T) {
	ts := newTestServer(t)

	w := ts.do(http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "OK", w.Body.String())
	assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))

	w = ts.do(http.MethodOptions, "/api/v1/watches", "")
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Contains(t, w.Header().Get("Access-Control-Allow-Methods"), "DELETE")
}

func TestValidateAddress(t *testing.T) {
	assert.NoError(t, validateAddress("0x1"))
	assert.NoError(t, validateAddress(recipient))

	assert.ErrorContains(t, validateAddress(""), "required")
	assert.ErrorContains(t, validateAddress("0x"+strings.Repeat("a", 70)), "too long")
	assert.ErrorContains(t, validateAddress("0xa\x00"), "control characters")
	assert.ErrorContains(t, validateAddress("0xg"), "invalid address format")
}
