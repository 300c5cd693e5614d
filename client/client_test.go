package client

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/brojonat/aptoswatch/service/aptos"
	"github.com/brojonat/aptoswatch/service/config"
	natspkg "github.com/brojonat/aptoswatch/service/nats"
	"github.com/brojonat/aptoswatch/service/reconciler"
	"github.com/brojonat/aptoswatch/service/server"
	"github.com/brojonat/aptoswatch/service/temporal"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var recipient = "0x" + strings.Repeat("0", 63) + "b"

func TestHistory_Success(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "GET", r.Method)
		assert.Equal(t, "/api/v1/accounts/0xa/history", r.URL.Path)
		assert.Equal(t, "5", r.URL.Query().Get("limit"))

		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{
			"address": "0xa",
			"balance": "1.5",
			"transfers": [{"hash":"0x1","direction":"incoming","amount":"0.25","counterparty":"0xb",
				"occurred_at":"2024-01-01T00:00:00Z","source":"payload","status":"success"}],
			"stats": {"total_count":1,"sent_count":0,"received_count":1}
		}`))
	}))
	defer srv.Close()

	client := NewClient(srv.URL, nil, nil)
	history, err := client.History(context.Background(), "0xa", 5)
	require.NoError(t, err)

	assert.Equal(t, "1.5", history.Balance.String())
	require.Len(t, history.Transfers, 1)
	assert.Equal(t, aptos.DirectionIncoming, history.Transfers[0].Direction)
	assert.Equal(t, "0.25", history.Transfers[0].Amount.String())
	assert.Equal(t, 1, history.Stats.ReceivedCount)
}

func TestHistory_NoLimit(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Empty(t, r.URL.RawQuery)
		w.Write([]byte(`{"address":"0xa","balance":"0","transfers":[],"stats":{}}`))
	}))
	defer srv.Close()

	_, err := NewClient(srv.URL+"/", nil, nil).History(context.Background(), "0xa", 0)
	assert.NoError(t, err)
}

func TestHistory_ServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadGateway)
		json.NewEncoder(w).Encode(map[string]string{"error": "ledger unavailable"})
	}))
	defer srv.Close()

	_, err := NewClient(srv.URL, nil, nil).History(context.Background(), "0xa", 0)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ledger unavailable")

	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusBadGateway, apiErr.StatusCode)
	assert.False(t, IsNotFound(err))
}

func TestBalance_NonJSONError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "not here", http.StatusNotFound)
	}))
	defer srv.Close()

	_, err := NewClient(srv.URL, nil, nil).Balance(context.Background(), "0xa")
	require.Error(t, err)
	assert.True(t, IsNotFound(err))
	assert.Contains(t, err.Error(), "not here")
}

func TestWatch_Success(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "POST", r.Method)
		assert.Equal(t, "/api/v1/watches", r.URL.Path)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))

		var body map[string]interface{}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "0xa", body["address"])
		assert.Equal(t, "30s", body["poll_interval"])

		w.WriteHeader(http.StatusCreated)
		json.NewEncoder(w).Encode(map[string]interface{}{
			"address":       "0xa",
			"poll_interval": "30s",
			"created_at":    time.Now().UTC(),
			"updated_at":    time.Now().UTC(),
		})
	}))
	defer srv.Close()

	watch, err := NewClient(srv.URL, nil, nil).Watch(context.Background(), "0xa", 30*time.Second)
	require.NoError(t, err)
	assert.Equal(t, "0xa", watch.Address)
	assert.Equal(t, 30*time.Second, watch.PollInterval)
}

func TestUnwatch_NotFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "DELETE", r.Method)
		assert.Equal(t, "/api/v1/watches/0xa", r.URL.Path)
		w.WriteHeader(http.StatusNotFound)
		json.NewEncoder(w).Encode(map[string]string{"error": "watch not found"})
	}))
	defer srv.Close()

	err := NewClient(srv.URL, nil, nil).Unwatch(context.Background(), "0xa")
	require.Error(t, err)
	assert.True(t, IsNotFound(err))
}

func TestListWatches_InvalidInterval(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"watches":[{"address":"0xa","poll_interval":"often"}]}`))
	}))
	defer srv.Close()

	_, err := NewClient(srv.URL, nil, nil).ListWatches(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid poll_interval")
}

func TestStreamHistory(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/stream/history/0xa", r.URL.Path)
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, "event: connected\ndata: {\"address\":\"0xa\"}\n\n")
		fmt.Fprint(w, ": keepalive\n\n")
		fmt.Fprint(w, "event: history\ndata: {\"address\":\"0xa\",\"balance\":\"1\"}\n\n")
		fmt.Fprint(w, "event: history\ndata: not json\n\n")
		fmt.Fprint(w, "event: history\ndata: {\"address\":\"0xa\",\"balance\":\"2\"}\n\n")
	}))
	defer srv.Close()

	var balances []string
	err := NewClient(srv.URL, nil, nil).StreamHistory(context.Background(), "0xa", func(h *aptos.AccountHistory) error {
		balances = append(balances, h.Balance.String())
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"1", "2"}, balances)
}

func TestStreamHistory_CallbackError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "event: history\ndata: {\"address\":\"0xa\",\"balance\":\"1\"}\n\n")
		fmt.Fprint(w, "event: history\ndata: {\"address\":\"0xa\",\"balance\":\"2\"}\n\n")
	}))
	defer srv.Close()

	stop := fmt.Errorf("enough")
	calls := 0
	err := NewClient(srv.URL, nil, nil).StreamHistory(context.Background(), "0xa", func(h *aptos.AccountHistory) error {
		calls++
		return stop
	})
	assert.ErrorIs(t, err, stop)
	assert.Equal(t, 1, calls)
}

// newLiveServer runs the real HTTP handlers over in-memory dependencies.
func newLiveServer(t *testing.T) (*httptest.Server, *temporal.MockScheduler) {
	t.Helper()
	src := reconciler.SourceFuncs{
		Transactions: func(ctx context.Context, address string, limit int) ([]aptos.RawTransaction, error) {
			return []aptos.RawTransaction{{
				Hash:      "0xabc",
				Type:      aptos.UserTransactionType,
				Success:   true,
				Sender:    "0xa",
				Timestamp: aptos.Micros(1_700_000_000_000_000),
				Payload: &aptos.Payload{
					Function:  aptos.TransferFunction,
					Arguments: []any{"0xb", "200000000"},
				},
			}}, nil
		},
		Balance: func(ctx context.Context, address string) (decimal.Decimal, error) {
			return decimal.RequireFromString("10"), nil
		},
	}
	cfg := &config.Config{
		DefaultPollInterval: 15 * time.Second,
		MinPollInterval:     5 * time.Second,
		FetchTimeout:        time.Second,
		HistoryLimit:        20,
	}
	sched := temporal.NewMockScheduler()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	s := server.New(":0", cfg, src, sched, natspkg.NewMockPublisher(), nil, logger)

	srv := httptest.NewServer(s.Handler())
	t.Cleanup(srv.Close)
	return srv, sched
}

func TestClient_AgainstServer(t *testing.T) {
	srv, sched := newLiveServer(t)
	client := NewClient(srv.URL, nil, nil)
	ctx := context.Background()

	history, err := client.History(ctx, "0xa", 0)
	require.NoError(t, err)
	require.Len(t, history.Transfers, 1)
	assert.Equal(t, aptos.DirectionOutgoing, history.Transfers[0].Direction)
	assert.Equal(t, "2", history.Transfers[0].Amount.String())
	assert.Equal(t, "10", history.Balance.String())

	bal, err := client.Balance(ctx, "0xa")
	require.NoError(t, err)
	assert.Equal(t, "10.00", bal.Formatted)

	check, err := client.ValidateTransfer(ctx, aptos.TransferRequest{
		Sender:    "0xa",
		Recipient: recipient,
		Amount:    decimal.RequireFromString("2.5"),
	})
	require.NoError(t, err)
	assert.True(t, check.Valid)
	assert.Equal(t, []any{recipient, "250000000"}, check.Payload.Arguments)

	_, err = client.ValidateTransfer(ctx, aptos.TransferRequest{
		Sender:    "0xa",
		Recipient: recipient,
		Amount:    decimal.RequireFromString("11"),
	})
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusUnprocessableEntity, apiErr.StatusCode)
	assert.Contains(t, apiErr.Message, "insufficient balance")

	watch, err := client.Watch(ctx, "0xa", 0)
	require.NoError(t, err)
	assert.Equal(t, 15*time.Second, watch.PollInterval)
	assert.True(t, sched.ScheduleExists("0xa"))

	watches, err := client.ListWatches(ctx)
	require.NoError(t, err)
	require.Len(t, watches, 1)
	assert.Equal(t, "0xa", watches[0].Address)

	require.NoError(t, client.Unwatch(ctx, "0xa"))
	assert.True(t, IsNotFound(client.Unwatch(ctx, "0xa")))
}
