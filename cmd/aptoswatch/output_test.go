package main

import (
	"bytes"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/brojonat/aptoswatch/client"
	"github.com/brojonat/aptoswatch/service/aptos"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleHistory() *aptos.AccountHistory {
	at := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	return &aptos.AccountHistory{
		Address: "0xa",
		Balance: decimal.RequireFromString("1234.5"),
		Transfers: []aptos.Transfer{
			{
				Hash:         "0x" + strings.Repeat("ab", 32),
				Direction:    aptos.DirectionIncoming,
				Amount:       decimal.RequireFromString("0.25"),
				Counterparty: "0xb",
				OccurredAt:   at,
				Source:       aptos.SourceEvent,
				Status:       aptos.StatusCompleted,
			},
			{
				Hash:         "0x02",
				Direction:    aptos.DirectionOutgoing,
				Amount:       decimal.RequireFromString("1.5"),
				Counterparty: "0xc",
				OccurredAt:   at.Add(-time.Hour),
				Source:       aptos.SourcePayload,
				Status:       aptos.StatusCompleted,
			},
		},
		Stats:     aptos.Stats{TotalCount: 2, SentCount: 1, ReceivedCount: 1},
		FetchedAt: at,
	}
}

func TestJQFilterMatching(t *testing.T) {
	tests := []struct {
		name        string
		jqFilter    string
		expectMatch bool
		expectErr   bool
	}{
		{name: "received something", jqFilter: `.stats.received_count > 0`, expectMatch: true},
		{name: "balance threshold", jqFilter: `(.balance | tonumber) > 2000`, expectMatch: false},
		{name: "any outgoing", jqFilter: `any(.transfers[]; .direction == "outgoing")`, expectMatch: true},
		{name: "null result", jqFilter: `.missing`, expectMatch: false},
		{name: "empty result", jqFilter: `empty`, expectMatch: false},
		{name: "runtime error", jqFilter: `error("boom")`, expectErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code, err := compileJQ(tt.jqFilter)
			require.NoError(t, err)

			matched, err := matchJQ(code, sampleHistory())
			if tt.expectErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.expectMatch, matched)
		})
	}
}

func TestCompileJQ_Invalid(t *testing.T) {
	_, err := compileJQ(`.foo |`)
	assert.ErrorContains(t, err, "failed to parse jq filter")
}

func TestIsTruthy(t *testing.T) {
	assert.False(t, isTruthy(nil))
	assert.False(t, isTruthy(false))
	assert.True(t, isTruthy(true))
	assert.True(t, isTruthy(0.0))
	assert.True(t, isTruthy(""))
	assert.True(t, isTruthy([]any{}))
}

func TestOutputEmit(t *testing.T) {
	h := sampleHistory()

	var buf bytes.Buffer
	o := &output{w: &buf}
	require.NoError(t, o.emit(h, func(w io.Writer) { w.Write([]byte("human\n")) }))
	assert.Equal(t, "human\n", buf.String())

	buf.Reset()
	o.json = true
	require.NoError(t, o.emit(h, nil))
	assert.Contains(t, buf.String(), `"balance": "1234.5"`)

	buf.Reset()
	code, err := compileJQ(`.transfers[].hash`)
	require.NoError(t, err)
	o.jq = code
	require.NoError(t, o.emit(h, nil))
	assert.Equal(t, `"0x`+strings.Repeat("ab", 32)+`"`+"\n"+`"0x02"`+"\n", buf.String())
}

func TestPrintHistory(t *testing.T) {
	var buf bytes.Buffer
	printHistory(&buf, sampleHistory())
	out := buf.String()

	assert.Contains(t, out, "Balance:  1,234.50 APT")
	assert.Contains(t, out, "Sent:     1   Received: 1")
	assert.Contains(t, out, "+0.250000")
	assert.Contains(t, out, "-1.50")
	assert.Contains(t, out, "0xabab…abab")
	assert.Contains(t, out, "2024-05-01 12:00:00")

	buf.Reset()
	printHistory(&buf, &aptos.AccountHistory{Address: "0xa"})
	assert.Contains(t, buf.String(), "No transfers.")
}

func TestRenderWatches(t *testing.T) {
	var buf bytes.Buffer
	renderWatches(&buf, nil)
	assert.Equal(t, "No watched accounts.\n", buf.String())

	buf.Reset()
	renderWatches(&buf, []*client.Watch{{Address: "0xa", PollInterval: 30 * time.Second}})
	assert.Contains(t, buf.String(), "0xa")
	assert.Contains(t, buf.String(), "30s")
}

func TestSnapshotPrinter_OnlyNewTransfers(t *testing.T) {
	var buf bytes.Buffer
	sp := newSnapshotPrinter(&output{w: &buf})

	require.NoError(t, sp.print(sampleHistory()))
	assert.Contains(t, buf.String(), "2 transfers (2 new)")
	assert.Contains(t, buf.String(), "DIRECTION")

	buf.Reset()
	require.NoError(t, sp.print(sampleHistory()))
	assert.Contains(t, buf.String(), "2 transfers (0 new)")
	assert.NotContains(t, buf.String(), "DIRECTION")
}

func TestShortAddress(t *testing.T) {
	assert.Equal(t, "0xa", shortAddress("0xa"))
	assert.Equal(t, "unknown", shortAddress("unknown"))
	assert.Equal(t, "0x1234…cdef", shortAddress("0x1234567890abcdef"))
}
