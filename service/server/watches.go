package server

import (
	"sort"
	"time"

	"github.com/brojonat/aptoswatch/service/aptos"
	"github.com/puzpuzpuz/xsync/v4"
)

// watch is an account whose history is reconciled on a Temporal schedule.
type watch struct {
	Address      string
	PollInterval time.Duration
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// watchRegistry tracks watched accounts keyed by canonical address.
// Registrations live only as long as the process; the schedules themselves live in Temporal.
type watchRegistry struct {
	m *xsync.Map[string, watch]
}

func newWatchRegistry() *watchRegistry {
	return &watchRegistry{m: xsync.NewMap[string, watch]()}
}

// upsert stores w, keeping the original CreatedAt if the address was already watched.
func (r *watchRegistry) upsert(w watch) watch {
	key := aptos.CanonicalAddress(w.Address)
	out, _ := r.m.Compute(key, func(old watch, loaded bool) (watch, xsync.ComputeOp) {
		if loaded {
			w.CreatedAt = old.CreatedAt
		}
		return w, xsync.UpdateOp
	})
	return out
}

func (r *watchRegistry) get(address string) (watch, bool) {
	return r.m.Load(aptos.CanonicalAddress(address))
}

func (r *watchRegistry) remove(address string) (watch, bool) {
	return r.m.LoadAndDelete(aptos.CanonicalAddress(address))
}

// list returns all watches ordered by address.
func (r *watchRegistry) list() []watch {
	out := make([]watch, 0, r.m.Size())
	r.m.Range(func(_ string, w watch) bool {
		out = append(out, w)
		return true
	})
	sort.Slice(out, func(i, j int) bool { return out[i].Address < out[j].Address })
	return out
}
