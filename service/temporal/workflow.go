package temporal

import (
	"fmt"
	"time"

	"github.com/brojonat/aptoswatch/service/reconciler"
	temporalsdk "go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"
)

var a *Activities // for type-safe activity invocation

// ReconcileAccountWorkflow builds a fresh snapshot of one account and publishes it.
// It is triggered by a Temporal schedule at the watch's poll interval.
//
// The workflow performs these steps:
// 1. Fetch raw transactions and balance in parallel (FetchTransactions, FetchBalance)
// 2. Normalize and aggregate them into a snapshot
// 3. Publish the snapshot to NATS (PublishSnapshot)
//
// A failed fetch fails the run; the next scheduled run is the retry.
func ReconcileAccountWorkflow(ctx workflow.Context, input ReconcileAccountInput) (*ReconcileAccountResult, error) {
	logger := workflow.GetLogger(ctx)
	logger.Info("ReconcileAccountWorkflow started", "address", input.Address)

	result := &ReconcileAccountResult{Address: input.Address}

	limit := input.Limit
	if limit <= 0 {
		limit = reconciler.DefaultLimit
	}
	timeout := input.FetchTimeout
	if timeout <= 0 {
		timeout = reconciler.DefaultFetchTimeout
	}

	ctx = workflow.WithActivityOptions(ctx, workflow.ActivityOptions{
		StartToCloseTimeout: timeout,
		RetryPolicy: &temporalsdk.RetryPolicy{
			MaximumAttempts: 1,
		},
	})

	// Step 1: fetch both sides concurrently
	txFuture := workflow.ExecuteActivity(ctx, a.FetchTransactions, FetchTransactionsInput{
		Address: input.Address,
		Limit:   limit,
	})
	balFuture := workflow.ExecuteActivity(ctx, a.FetchBalance, FetchBalanceInput{
		Address: input.Address,
	})

	var txResult *FetchTransactionsResult
	txErr := txFuture.Get(ctx, &txResult)
	var balResult *FetchBalanceResult
	balErr := balFuture.Get(ctx, &balResult)

	if txErr != nil {
		return fail(result, "failed to fetch transactions", txErr)
	}
	if balErr != nil {
		return fail(result, "failed to fetch balance", balErr)
	}

	// Step 2: aggregate
	history := reconciler.Summarize(input.Address, txResult.Transactions, balResult.Balance)
	history.FetchedAt = workflow.Now(ctx).UTC()

	result.Balance = history.Balance
	result.TransferCount = history.Stats.TotalCount
	result.SentCount = history.Stats.SentCount
	result.ReceivedCount = history.Stats.ReceivedCount
	result.ReconciledAt = history.FetchedAt

	logger.Info("reconciled account",
		"address", input.Address,
		"raw_count", len(txResult.Transactions),
		"transfer_count", result.TransferCount,
	)

	// Step 3: publish
	publishCtx := workflow.WithActivityOptions(ctx, workflow.ActivityOptions{
		StartToCloseTimeout: 10 * time.Second,
		RetryPolicy: &temporalsdk.RetryPolicy{
			InitialInterval:    time.Second,
			BackoffCoefficient: 2.0,
			MaximumAttempts:    3,
		},
	})
	if err := workflow.ExecuteActivity(publishCtx, a.PublishSnapshot, PublishSnapshotInput{History: history}).Get(ctx, nil); err != nil {
		return fail(result, "failed to publish snapshot", err)
	}

	logger.Info("ReconcileAccountWorkflow completed successfully",
		"address", input.Address,
		"transfer_count", result.TransferCount,
	)
	return result, nil
}

func fail(result *ReconcileAccountResult, msg string, err error) (*ReconcileAccountResult, error) {
	errMsg := fmt.Sprintf("%s: %v", msg, err)
	result.Error = &errMsg
	return result, fmt.Errorf("%s: %w", msg, err)
}
