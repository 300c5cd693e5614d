// Package reconciler combines an account's balance and recent ledger
// transactions into an AccountHistory snapshot.
package reconciler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/brojonat/aptoswatch/service/aptos"
	"github.com/brojonat/aptoswatch/service/metrics"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"
)

const (
	// DefaultLimit is how many recent transactions a snapshot is built from.
	DefaultLimit = 20

	// DefaultFetchTimeout bounds each ledger fetch.
	DefaultFetchTimeout = 15 * time.Second
)

// Fetch operations reported in FetchError.Op.
const (
	OpTransactions = "transactions"
	OpBalance      = "balance"
)

// ErrFetchFailure is matched by every error caused by a failed ledger query.
var ErrFetchFailure = errors.New("fetch failure")

// FetchError reports which ledger query failed for which account.
type FetchError struct {
	Op      string
	Address string
	Err     error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("failed to fetch %s for %s: %v", e.Op, e.Address, e.Err)
}

// Unwrap makes errors.Is match both ErrFetchFailure and the underlying cause.
func (e *FetchError) Unwrap() []error {
	return []error{ErrFetchFailure, e.Err}
}

// Source is the ledger query capability the reconciler needs. *aptos.Client implements it.
type Source interface {
	FetchTransactions(ctx context.Context, address string, limit int) ([]aptos.RawTransaction, error)
	FetchBalance(ctx context.Context, address string) (decimal.Decimal, error)
}

// SourceFuncs adapts a pair of functions to Source.
type SourceFuncs struct {
	Transactions func(ctx context.Context, address string, limit int) ([]aptos.RawTransaction, error)
	Balance      func(ctx context.Context, address string) (decimal.Decimal, error)
}

func (f SourceFuncs) FetchTransactions(ctx context.Context, address string, limit int) ([]aptos.RawTransaction, error) {
	return f.Transactions(ctx, address, limit)
}

func (f SourceFuncs) FetchBalance(ctx context.Context, address string) (decimal.Decimal, error) {
	return f.Balance(ctx, address)
}

// Options tunes a reconciliation. The zero value uses the defaults above.
type Options struct {
	Limit        int
	FetchTimeout time.Duration
	Clock        func() time.Time
	Metrics      *metrics.Metrics
	Logger       *slog.Logger
}

func (o Options) withDefaults() Options {
	if o.Limit <= 0 {
		o.Limit = DefaultLimit
	}
	if o.FetchTimeout <= 0 {
		o.FetchTimeout = DefaultFetchTimeout
	}
	if o.Clock == nil {
		o.Clock = func() time.Time { return time.Now().UTC() }
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	return o
}

// Reconcile fetches the balance and recent transactions of address concurrently and
// builds a fresh snapshot from them. If either fetch fails the whole call fails with
// a *FetchError; a partial snapshot is never returned.
func Reconcile(ctx context.Context, address string, src Source, opts Options) (*aptos.AccountHistory, error) {
	opts = opts.withDefaults()
	start := time.Now()

	var (
		raws    []aptos.RawTransaction
		balance decimal.Decimal
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		fctx, cancel := context.WithTimeout(gctx, opts.FetchTimeout)
		defer cancel()
		txns, err := src.FetchTransactions(fctx, address, opts.Limit)
		if err != nil {
			return &FetchError{Op: OpTransactions, Address: address, Err: err}
		}
		raws = txns
		return nil
	})
	g.Go(func() error {
		fctx, cancel := context.WithTimeout(gctx, opts.FetchTimeout)
		defer cancel()
		b, err := src.FetchBalance(fctx, address)
		if err != nil {
			return &FetchError{Op: OpBalance, Address: address, Err: err}
		}
		balance = b
		return nil
	})

	if err := g.Wait(); err != nil {
		opts.Logger.WarnContext(ctx, "reconciliation failed",
			"address", address,
			"error", err,
		)
		if opts.Metrics != nil {
			opts.Metrics.RecordReconcile("error", time.Since(start).Seconds())
		}
		return nil, err
	}

	history := summarize(address, raws, balance, func(t *aptos.Transfer, reason aptos.DropReason) {
		if opts.Metrics == nil {
			return
		}
		if t != nil {
			opts.Metrics.RecordTransferNormalized(string(t.Source), string(t.Direction))
			return
		}
		opts.Metrics.RecordRecordDropped(string(reason))
	})
	history.FetchedAt = opts.Clock()

	if opts.Metrics != nil {
		opts.Metrics.RecordReconcile("success", time.Since(start).Seconds())
	}
	opts.Logger.DebugContext(ctx, "reconciled account",
		"address", address,
		"raw_count", len(raws),
		"transfer_count", history.Stats.TotalCount,
		"balance", balance.String(),
	)
	return history, nil
}

// Summarize normalizes raws from the viewpoint of address and aggregates them with
// balance into a snapshot. It is pure; FetchedAt is left zero.
func Summarize(address string, raws []aptos.RawTransaction, balance decimal.Decimal) *aptos.AccountHistory {
	return summarize(address, raws, balance, nil)
}

func summarize(address string, raws []aptos.RawTransaction, balance decimal.Decimal, observe func(*aptos.Transfer, aptos.DropReason)) *aptos.AccountHistory {
	transfers := make([]aptos.Transfer, 0, len(raws))
	var stats aptos.Stats
	for _, raw := range raws {
		t, reason := aptos.NormalizeWithReason(raw, address)
		if observe != nil {
			observe(t, reason)
		}
		if t == nil {
			continue
		}
		transfers = append(transfers, *t)
		switch t.Direction {
		case aptos.DirectionOutgoing:
			stats.SentCount++
		case aptos.DirectionIncoming:
			stats.ReceivedCount++
		}
	}
	stats.TotalCount = len(transfers)

	// Ties keep ledger order.
	slices.SortStableFunc(transfers, func(a, b aptos.Transfer) int {
		return b.OccurredAt.Compare(a.OccurredAt)
	})

	return &aptos.AccountHistory{
		Address:   address,
		Balance:   balance,
		Transfers: transfers,
		Stats:     stats,
	}
}
