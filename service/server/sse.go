package server

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/brojonat/aptoswatch/service/aptos"
	"github.com/brojonat/aptoswatch/service/metrics"
	natspkg "github.com/brojonat/aptoswatch/service/nats"
)

// sseKeepalive is how often a comment line is written to idle streams.
var sseKeepalive = 10 * time.Second

// handleStreamHistory streams snapshots of one account as Server-Sent Events.
// Each snapshot published to NATS for the account is sent as a "history" event.
func handleStreamHistory(subscriber natspkg.Subscriber, m *metrics.Metrics, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		address := r.PathValue("address")
		if err := validateAddress(address); err != nil {
			writeError(w, err.Error(), http.StatusBadRequest)
			return
		}
		account := aptos.CanonicalAddress(address)

		flusher, ok := w.(http.Flusher)
		if !ok {
			writeError(w, "streaming not supported", http.StatusInternalServerError)
			return
		}

		// Buffered so a slow client never blocks the NATS consumer
		events := make(chan *natspkg.SnapshotEvent, 10)
		stop, err := subscriber.SubscribeSnapshots(r.Context(), account, func(ev *natspkg.SnapshotEvent) {
			select {
			case events <- ev:
			case <-r.Context().Done():
			default:
				logger.WarnContext(r.Context(), "SSE client too slow, dropping snapshot", "address", account)
			}
		})
		if err != nil {
			logger.ErrorContext(r.Context(), "failed to subscribe to snapshots",
				"address", account,
				"error", err,
			)
			writeError(w, "failed to subscribe", http.StatusServiceUnavailable)
			return
		}
		defer stop()

		// Set SSE headers
		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("Connection", "keep-alive")

		if m != nil {
			m.RecordSSEConnectionChange(account, 1)
			defer m.RecordSSEConnectionChange(account, -1)
		}

		logger.DebugContext(r.Context(), "SSE client connected",
			"address", account,
			"remote_addr", r.RemoteAddr,
		)

		// Send initial connection event
		fmt.Fprintf(w, "event: connected\ndata: {\"address\":%q}\n\n", account)
		flusher.Flush()

		keepalive := time.NewTicker(sseKeepalive)
		defer keepalive.Stop()

		for {
			select {
			case <-keepalive.C:
				fmt.Fprintf(w, ": keepalive\n\n")
				flusher.Flush()

			case ev := <-events:
				data, err := json.Marshal(ev)
				if err != nil {
					logger.WarnContext(r.Context(), "failed to marshal snapshot",
						"error", err,
					)
					continue
				}

				fmt.Fprintf(w, "event: history\ndata: %s\n\n", data)
				flusher.Flush()

				if m != nil {
					m.RecordSSEEventSent(account, "history")
				}
				logger.DebugContext(r.Context(), "sent history event",
					"address", account,
					"transfers", ev.Stats.TotalCount,
				)

			case <-r.Context().Done():
				logger.DebugContext(r.Context(), "SSE client disconnected",
					"address", account,
					"remote_addr", r.RemoteAddr,
				)
				return
			}
		}
	})
}
