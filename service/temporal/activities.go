package temporal

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/brojonat/aptoswatch/service/aptos"
	"github.com/brojonat/aptoswatch/service/metrics"
	natspkg "github.com/brojonat/aptoswatch/service/nats"
	"github.com/brojonat/aptoswatch/service/reconciler"
	"github.com/shopspring/decimal"
)

// ReconcileAccountInput contains the input parameters for reconciling one account.
type ReconcileAccountInput struct {
	Address      string        `json:"address"`
	Limit        int           `json:"limit"`
	FetchTimeout time.Duration `json:"fetch_timeout"`
}

// ReconcileAccountResult summarizes one reconciliation run.
type ReconcileAccountResult struct {
	Address       string          `json:"address"`
	Balance       decimal.Decimal `json:"balance"`
	TransferCount int             `json:"transfer_count"`
	SentCount     int             `json:"sent_count"`
	ReceivedCount int             `json:"received_count"`
	ReconciledAt  time.Time       `json:"reconciled_at"`
	Error         *string         `json:"error,omitempty"`
}

// FetchTransactionsInput contains parameters for the FetchTransactions activity.
type FetchTransactionsInput struct {
	Address string `json:"address"`
	Limit   int    `json:"limit"`
}

// FetchTransactionsResult contains the raw ledger records of an account.
type FetchTransactionsResult struct {
	Transactions []aptos.RawTransaction `json:"transactions"`
}

// FetchBalanceInput contains parameters for the FetchBalance activity.
type FetchBalanceInput struct {
	Address string `json:"address"`
}

// FetchBalanceResult contains an account balance in major units.
type FetchBalanceResult struct {
	Balance decimal.Decimal `json:"balance"`
}

// PublishSnapshotInput contains the snapshot to publish.
type PublishSnapshotInput struct {
	History *aptos.AccountHistory `json:"history"`
}

// PublisherInterface defines the NATS publishing operations needed by activities.
// This allows for easy mocking in tests.
type PublisherInterface interface {
	PublishSnapshot(ctx context.Context, event *natspkg.SnapshotEvent) error
}

// Activities holds the dependencies needed by Temporal activities.
// Following go-kit pattern, all dependencies are explicit.
type Activities struct {
	source    reconciler.Source
	publisher PublisherInterface
	metrics   *metrics.Metrics
	logger    *slog.Logger
}

// NewActivities creates a new Activities instance with explicit dependencies.
// If metrics is nil, no metrics will be recorded.
func NewActivities(source reconciler.Source, publisher PublisherInterface, m *metrics.Metrics, logger *slog.Logger) *Activities {
	if logger == nil {
		logger = slog.Default()
	}
	return &Activities{
		source:    source,
		publisher: publisher,
		metrics:   m,
		logger:    logger,
	}
}

func (a *Activities) observe(activity string, start time.Time, err error) {
	if a.metrics == nil {
		return
	}
	status := "success"
	if err != nil {
		status = "error"
	}
	a.metrics.RecordActivityDuration(activity, status, time.Since(start).Seconds())
}

// FetchTransactions reads the most recent raw transactions of an account from the ledger.
func (a *Activities) FetchTransactions(ctx context.Context, input FetchTransactionsInput) (result *FetchTransactionsResult, err error) {
	start := time.Now()
	defer func() { a.observe("FetchTransactions", start, err) }()

	txns, err := a.source.FetchTransactions(ctx, input.Address, input.Limit)
	if err != nil {
		a.logger.ErrorContext(ctx, "failed to fetch transactions",
			"address", input.Address,
			"error", err,
		)
		return nil, &reconciler.FetchError{Op: reconciler.OpTransactions, Address: input.Address, Err: err}
	}

	a.logger.DebugContext(ctx, "fetched transactions",
		"address", input.Address,
		"count", len(txns),
	)
	return &FetchTransactionsResult{Transactions: txns}, nil
}

// FetchBalance reads the native coin balance of an account from the ledger.
func (a *Activities) FetchBalance(ctx context.Context, input FetchBalanceInput) (result *FetchBalanceResult, err error) {
	start := time.Now()
	defer func() { a.observe("FetchBalance", start, err) }()

	balance, err := a.source.FetchBalance(ctx, input.Address)
	if err != nil {
		a.logger.ErrorContext(ctx, "failed to fetch balance",
			"address", input.Address,
			"error", err,
		)
		return nil, &reconciler.FetchError{Op: reconciler.OpBalance, Address: input.Address, Err: err}
	}

	return &FetchBalanceResult{Balance: balance}, nil
}

// PublishSnapshot publishes a finished snapshot to NATS.
func (a *Activities) PublishSnapshot(ctx context.Context, input PublishSnapshotInput) (err error) {
	start := time.Now()
	defer func() { a.observe("PublishSnapshot", start, err) }()

	if input.History == nil {
		return fmt.Errorf("no snapshot to publish")
	}
	if a.publisher == nil {
		a.logger.WarnContext(ctx, "no publisher configured, dropping snapshot", "address", input.History.Address)
		return nil
	}

	if err := a.publisher.PublishSnapshot(ctx, natspkg.NewSnapshotEvent(input.History)); err != nil {
		a.logger.ErrorContext(ctx, "failed to publish snapshot",
			"address", input.History.Address,
			"error", err,
		)
		return fmt.Errorf("failed to publish snapshot: %w", err)
	}

	if a.metrics != nil {
		a.metrics.RecordSnapshotSize(input.History.Address, input.History.Stats.TotalCount)
	}
	a.logger.InfoContext(ctx, "published snapshot",
		"address", input.History.Address,
		"transfers", input.History.Stats.TotalCount,
		"balance", input.History.Balance.String(),
	)
	return nil
}
