package aptos

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/brojonat/aptoswatch/service/metrics"
	"github.com/shopspring/decimal"
)

// Client wraps a LedgerClient with logging and metrics and exposes the
// account-level fetches the reconciler needs.
type Client struct {
	ledger  LedgerClient
	logger  *slog.Logger
	metrics *metrics.Metrics
	network string // label for metrics (e.g., "mainnet", "testnet")
}

// NewClient creates a new Client.
// If metrics is nil, no metrics will be recorded.
func NewClient(ledger LedgerClient, network string, m *metrics.Metrics, logger *slog.Logger) *Client {
	return &Client{
		ledger:  ledger,
		logger:  logger,
		metrics: m,
		network: network,
	}
}

// FetchTransactions returns up to limit raw transactions for address, newest first
// as the node returns them.
func (c *Client) FetchTransactions(ctx context.Context, address string, limit int) ([]RawTransaction, error) {
	c.logger.DebugContext(ctx, "fetching account transactions",
		"address", address,
		"limit", limit,
	)

	start := time.Now()
	txns, err := c.ledger.AccountTransactions(ctx, address, limit)
	c.record("AccountTransactions", err, time.Since(start))

	if err != nil {
		c.logger.ErrorContext(ctx, "failed to fetch transactions",
			"address", address,
			"error", err,
		)
		return nil, err
	}

	if c.metrics != nil {
		c.metrics.RecordLedgerRecords(c.network, len(txns))
	}
	c.logger.DebugContext(ctx, "fetched account transactions",
		"address", address,
		"count", len(txns),
	)
	return txns, nil
}

// FetchBalance returns the native coin balance of address in major units.
func (c *Client) FetchBalance(ctx context.Context, address string) (decimal.Decimal, error) {
	start := time.Now()
	octas, err := c.ledger.AccountBalance(ctx, address, AptosCoinType)
	c.record("AccountBalance", err, time.Since(start))

	if err != nil {
		c.logger.ErrorContext(ctx, "failed to fetch balance",
			"address", address,
			"error", err,
		)
		return decimal.Zero, err
	}

	balance := FromMinorUnits(octas)
	c.logger.DebugContext(ctx, "fetched balance",
		"address", address,
		"balance", balance.String(),
	)
	return balance, nil
}

func (c *Client) record(method string, err error, d time.Duration) {
	if c.metrics == nil {
		return
	}
	status := "success"
	if err != nil {
		status = "error"
		if errors.Is(err, ErrRateLimited) {
			c.metrics.RecordRateLimitHit(c.network)
		}
	}
	c.metrics.RecordLedgerCall(method, status, c.network, d.Seconds())
}
