package reconciler

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/brojonat/aptoswatch/service/aptos"
)

// ErrRefreshInFlight is returned by Refresh when a refresh for the same poller is already running.
var ErrRefreshInFlight = errors.New("refresh already in flight")

// Poller keeps the latest snapshot of one account current.
// At most one reconciliation runs at a time; concurrent Refresh calls are rejected, not queued.
type Poller struct {
	address    string
	src        Source
	opts       Options
	onSnapshot func(*aptos.AccountHistory)

	inFlight atomic.Bool
	snapshot atomic.Pointer[aptos.AccountHistory]

	mu      sync.Mutex
	lastErr error
}

// PollerOption configures a Poller.
type PollerOption func(*Poller)

// WithSnapshotHandler registers fn to be called with every newly completed snapshot.
func WithSnapshotHandler(fn func(*aptos.AccountHistory)) PollerOption {
	return func(p *Poller) {
		p.onSnapshot = fn
	}
}

// NewPoller creates a Poller for address.
func NewPoller(address string, src Source, opts Options, pollerOpts ...PollerOption) *Poller {
	p := &Poller{
		address: address,
		src:     src,
		opts:    opts.withDefaults(),
	}
	for _, o := range pollerOpts {
		o(p)
	}
	return p
}

// Address returns the account this poller watches.
func (p *Poller) Address() string {
	return p.address
}

// Refresh runs one reconciliation and publishes its snapshot. A failure is recorded
// and returned but leaves the previous snapshot in place.
func (p *Poller) Refresh(ctx context.Context) (*aptos.AccountHistory, error) {
	if !p.inFlight.CompareAndSwap(false, true) {
		if p.opts.Metrics != nil {
			p.opts.Metrics.RecordRefreshCoalesced(p.address)
		}
		return nil, ErrRefreshInFlight
	}
	defer p.inFlight.Store(false)

	history, err := Reconcile(ctx, p.address, p.src, p.opts)

	p.mu.Lock()
	p.lastErr = err
	p.mu.Unlock()

	if err != nil {
		return nil, err
	}

	p.snapshot.Store(history)
	if p.opts.Metrics != nil {
		p.opts.Metrics.RecordSnapshotSize(p.address, history.Stats.TotalCount)
	}
	if p.onSnapshot != nil {
		p.onSnapshot(history)
	}
	return history, nil
}

// Latest returns the last completed snapshot (nil before the first) and the error of
// the most recent refresh, if it failed.
func (p *Poller) Latest() (*aptos.AccountHistory, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.snapshot.Load(), p.lastErr
}

// Run refreshes immediately and then every interval until ctx is cancelled.
// Cancelling ctx also aborts the reconciliation in progress. Run returns ctx.Err().
func (p *Poller) Run(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	p.refreshAndLog(ctx)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			p.refreshAndLog(ctx)
		}
	}
}

func (p *Poller) refreshAndLog(ctx context.Context) {
	_, err := p.Refresh(ctx)
	switch {
	case err == nil:
	case errors.Is(err, ErrRefreshInFlight):
		p.opts.Logger.DebugContext(ctx, "skipping refresh, previous one still running", "address", p.address)
	case ctx.Err() != nil:
	default:
		p.opts.Logger.WarnContext(ctx, "refresh failed", "address", p.address, "error", err)
	}
}
