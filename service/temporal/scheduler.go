package temporal

import (
	"context"
	"time"

	"github.com/brojonat/aptoswatch/service/aptos"
)

// Scheduler manages Temporal schedules for watched accounts.
// Each account gets its own schedule that triggers the ReconcileAccountWorkflow.
type Scheduler interface {
	// UpsertWatchSchedule creates the schedule for address, or updates its interval if it exists.
	UpsertWatchSchedule(ctx context.Context, address string, interval time.Duration) error

	// DeleteWatchSchedule deletes the schedule for address.
	DeleteWatchSchedule(ctx context.Context, address string) error
}

// scheduleID returns the Temporal schedule ID for an account address.
func scheduleID(address string) string {
	return "reconcile-account-" + aptos.CanonicalAddress(address)
}
