package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"
	"unicode"

	"github.com/brojonat/aptoswatch/service/aptos"
	"github.com/brojonat/aptoswatch/service/config"
	"github.com/brojonat/aptoswatch/service/reconciler"
	"github.com/brojonat/aptoswatch/service/temporal"
	"github.com/shopspring/decimal"
)

const (
	maxRequestBodySize = 1 << 20 // 1MB
	maxAddressLength   = 66      // 0x + 64 hex chars
	maxHistoryLimit    = 100
)

type balanceResponse struct {
	Address   string          `json:"address"`
	Balance   decimal.Decimal `json:"balance"`
	Formatted string          `json:"formatted"`
}

type validateTransferRequest struct {
	Sender    string          `json:"sender"`
	Recipient string          `json:"recipient"`
	Amount    decimal.Decimal `json:"amount"`
}

type validateTransferResponse struct {
	Valid   bool            `json:"valid"`
	Balance decimal.Decimal `json:"balance"`
	Payload aptos.Payload   `json:"payload"`
}

type createWatchRequest struct {
	Address      string `json:"address"`
	PollInterval string `json:"poll_interval"`
}

type watchResponse struct {
	Address      string    `json:"address"`
	PollInterval string    `json:"poll_interval"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

type listWatchesResponse struct {
	Watches []watchResponse `json:"watches"`
}

// handleGetHistory reconciles an account on demand and returns the snapshot.
func handleGetHistory(source reconciler.Source, opts reconciler.Options, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		address := r.PathValue("address")
		if err := validateAddress(address); err != nil {
			writeError(w, err.Error(), http.StatusBadRequest)
			return
		}

		reqOpts := opts
		if raw := r.URL.Query().Get("limit"); raw != "" {
			limit, err := strconv.Atoi(raw)
			if err != nil || limit < 1 || limit > maxHistoryLimit {
				writeError(w, fmt.Sprintf("limit must be an integer between 1 and %d", maxHistoryLimit), http.StatusBadRequest)
				return
			}
			reqOpts.Limit = limit
		}

		history, err := reconciler.Reconcile(r.Context(), address, source, reqOpts)
		if err != nil {
			logger.ErrorContext(r.Context(), "failed to reconcile account",
				"address", address,
				"error", err,
			)
			writeFetchError(w, err)
			return
		}

		writeJSON(w, history, http.StatusOK)
	})
}

// handleGetBalance returns the current native coin balance of an account.
func handleGetBalance(source reconciler.Source, timeout time.Duration, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		address := r.PathValue("address")
		if err := validateAddress(address); err != nil {
			writeError(w, err.Error(), http.StatusBadRequest)
			return
		}

		balance, err := fetchBalance(r.Context(), source, address, timeout)
		if err != nil {
			logger.ErrorContext(r.Context(), "failed to fetch balance",
				"address", address,
				"error", err,
			)
			writeFetchError(w, err)
			return
		}

		writeJSON(w, balanceResponse{
			Address:   address,
			Balance:   balance,
			Formatted: aptos.FormatAmount(balance),
		}, http.StatusOK)
	})
}

// handleValidateTransfer checks a transfer would pass every pre-submission check
// and returns the payload a wallet would sign. Nothing is submitted.
func handleValidateTransfer(source reconciler.Source, timeout time.Duration, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)

		var req validateTransferRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			var maxBytesErr *http.MaxBytesError
			if errors.As(err, &maxBytesErr) {
				writeError(w, "request body too large", http.StatusBadRequest)
				return
			}
			writeError(w, "invalid request body", http.StatusBadRequest)
			return
		}

		if err := validateAddress(req.Sender); err != nil {
			writeError(w, "sender: "+err.Error(), http.StatusBadRequest)
			return
		}

		// Input checks run before the balance lookup
		if err := aptos.ValidateRecipient(req.Recipient); err != nil {
			writeError(w, err.Error(), http.StatusUnprocessableEntity)
			return
		}
		if err := aptos.ValidateAmountUnits(req.Amount); err != nil {
			writeError(w, err.Error(), http.StatusUnprocessableEntity)
			return
		}

		balance, err := fetchBalance(r.Context(), source, req.Sender, timeout)
		if err != nil {
			logger.ErrorContext(r.Context(), "failed to fetch sender balance",
				"sender", req.Sender,
				"error", err,
			)
			writeFetchError(w, err)
			return
		}

		transfer := aptos.TransferRequest{Sender: req.Sender, Recipient: req.Recipient, Amount: req.Amount}
		if err := aptos.ValidateTransfer(transfer, balance); err != nil {
			writeError(w, err.Error(), http.StatusUnprocessableEntity)
			return
		}

		writeJSON(w, validateTransferResponse{
			Valid:   true,
			Balance: balance,
			Payload: aptos.BuildTransferPayload(req.Recipient, req.Amount),
		}, http.StatusOK)
	})
}

// handleCreateWatch registers an account for scheduled reconciliation.
// Watching an already watched account updates its poll interval.
func handleCreateWatch(watches *watchRegistry, scheduler temporal.Scheduler, cfg *config.Config, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)

		var req createWatchRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			var maxBytesErr *http.MaxBytesError
			if errors.As(err, &maxBytesErr) {
				writeError(w, "request body too large", http.StatusBadRequest)
				return
			}
			writeError(w, "invalid request body", http.StatusBadRequest)
			return
		}

		if err := validateAddress(req.Address); err != nil {
			writeError(w, err.Error(), http.StatusBadRequest)
			return
		}

		interval := cfg.DefaultPollInterval
		if req.PollInterval != "" {
			parsed, err := time.ParseDuration(req.PollInterval)
			if err != nil {
				writeError(w, "invalid poll_interval format", http.StatusBadRequest)
				return
			}
			interval = parsed
		}
		if err := validatePollInterval(interval, cfg.MinPollInterval); err != nil {
			writeError(w, err.Error(), http.StatusBadRequest)
			return
		}

		if err := scheduler.UpsertWatchSchedule(r.Context(), req.Address, interval); err != nil {
			logger.ErrorContext(r.Context(), "failed to upsert watch schedule",
				"address", req.Address,
				"error", err,
			)
			writeError(w, "failed to create schedule", http.StatusInternalServerError)
			return
		}

		now := time.Now().UTC()
		saved := watches.upsert(watch{
			Address:      aptos.CanonicalAddress(req.Address),
			PollInterval: interval,
			CreatedAt:    now,
			UpdatedAt:    now,
		})

		logger.InfoContext(r.Context(), "account watched",
			"address", saved.Address,
			"poll_interval", interval,
		)
		writeJSON(w, watchToResponse(saved), http.StatusCreated)
	})
}

// handleDeleteWatch stops scheduled reconciliation of an account.
func handleDeleteWatch(watches *watchRegistry, scheduler temporal.Scheduler, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		address := r.PathValue("address")
		if err := validateAddress(address); err != nil {
			writeError(w, err.Error(), http.StatusBadRequest)
			return
		}

		if _, ok := watches.get(address); !ok {
			writeError(w, "watch not found", http.StatusNotFound)
			return
		}

		if err := scheduler.DeleteWatchSchedule(r.Context(), address); err != nil {
			logger.ErrorContext(r.Context(), "failed to delete watch schedule",
				"address", address,
				"error", err,
			)
			writeError(w, "failed to delete schedule", http.StatusInternalServerError)
			return
		}
		watches.remove(address)

		logger.InfoContext(r.Context(), "account unwatched", "address", address)
		w.WriteHeader(http.StatusNoContent)
	})
}

// handleListWatches returns every watched account.
func handleListWatches(watches *watchRegistry) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		all := watches.list()
		resp := listWatchesResponse{Watches: make([]watchResponse, 0, len(all))}
		for _, wt := range all {
			resp.Watches = append(resp.Watches, watchToResponse(wt))
		}
		writeJSON(w, resp, http.StatusOK)
	})
}

func fetchBalance(ctx context.Context, source reconciler.Source, address string, timeout time.Duration) (decimal.Decimal, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	balance, err := source.FetchBalance(ctx, address)
	if err != nil {
		return decimal.Zero, &reconciler.FetchError{Op: reconciler.OpBalance, Address: address, Err: err}
	}
	return balance, nil
}

// writeFetchError maps a ledger failure to a status code. A failed fetch is never
// answered with an empty snapshot or a zero balance.
func writeFetchError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, aptos.ErrAccountNotFound):
		writeError(w, err.Error(), http.StatusNotFound)
	case errors.Is(err, aptos.ErrRateLimited):
		writeError(w, err.Error(), http.StatusTooManyRequests)
	case errors.Is(err, context.DeadlineExceeded):
		writeError(w, err.Error(), http.StatusGatewayTimeout)
	default:
		writeError(w, err.Error(), http.StatusBadGateway)
	}
}

func watchToResponse(w watch) watchResponse {
	return watchResponse{
		Address:      w.Address,
		PollInterval: w.PollInterval.String(),
		CreatedAt:    w.CreatedAt,
		UpdatedAt:    w.UpdatedAt,
	}
}

// writeJSON writes a JSON response with the given status code.
func writeJSON(w http.ResponseWriter, data interface{}, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(data)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, message string, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(map[string]string{
		"error": message,
	})
}

// validateAddress validates an account address taken from a path or body.
func validateAddress(address string) error {
	if address == "" {
		return errorf("address is required")
	}

	if len(address) > maxAddressLength {
		return errorf("address too long: maximum length is %d characters", maxAddressLength)
	}

	for _, r := range address {
		if r == 0 || unicode.IsControl(r) {
			return errorf("invalid characters in address: control characters not allowed")
		}
	}

	if !aptos.IsAddress(address) {
		return errorf("invalid address format: expected 0x followed by 1 to 64 hex characters")
	}

	return nil
}

// validatePollInterval validates that the poll interval is within acceptable bounds.
func validatePollInterval(interval, min time.Duration) error {
	if interval < min {
		return errorf("poll_interval must be at least %v", min)
	}

	if interval > 24*time.Hour {
		return errorf("poll_interval must be at most 24h")
	}

	return nil
}

// errorf creates a validation error with a formatted message.
func errorf(format string, args ...interface{}) error {
	return &validationError{message: fmt.Sprintf(format, args...)}
}

type validationError struct {
	message string
}

func (e *validationError) Error() string {
	return e.message
}
