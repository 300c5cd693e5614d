package aptos

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// LedgerClient is the read side of the ledger API the reconciler depends on.
// Tests substitute a fake; production uses RESTClient.
type LedgerClient interface {
	// AccountTransactions returns up to limit of the account's most recent transactions.
	AccountTransactions(ctx context.Context, address string, limit int) ([]RawTransaction, error)

	// AccountBalance returns the account's balance of coinType in minor units.
	AccountBalance(ctx context.Context, address, coinType string) (decimal.Decimal, error)
}

var (
	// ErrAccountNotFound is matched by errors for accounts the node has no record of.
	ErrAccountNotFound = errors.New("account not found")

	// ErrRateLimited is matched by errors for 429 responses.
	ErrRateLimited = errors.New("rate limited")
)

// APIError is a non-2xx response from the fullnode REST API.
type APIError struct {
	StatusCode int    `json:"-"`
	Message    string `json:"message"`
	ErrorCode  string `json:"error_code"`
}

func (e *APIError) Error() string {
	if e.ErrorCode != "" {
		return fmt.Sprintf("ledger api %d %s: %s", e.StatusCode, e.ErrorCode, e.Message)
	}
	return fmt.Sprintf("ledger api %d: %s", e.StatusCode, e.Message)
}

// Unwrap exposes ErrAccountNotFound and ErrRateLimited to errors.Is.
func (e *APIError) Unwrap() error {
	switch {
	case e.ErrorCode == "account_not_found" || e.ErrorCode == "resource_not_found":
		return ErrAccountNotFound
	case e.StatusCode == http.StatusTooManyRequests:
		return ErrRateLimited
	default:
		return nil
	}
}

// RESTClient talks to an Aptos fullnode's /v1 REST API.
type RESTClient struct {
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewRESTClient creates a client for the node at baseURL (for example
// "https://fullnode.mainnet.aptoslabs.com"). A nil httpClient uses a client with a 30s timeout.
func NewRESTClient(baseURL string, httpClient *http.Client, logger *slog.Logger) *RESTClient {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &RESTClient{
		baseURL:    strings.TrimSuffix(strings.TrimSuffix(baseURL, "/"), "/v1"),
		httpClient: httpClient,
		logger:     logger,
	}
}

// AccountTransactions calls GET /v1/accounts/{address}/transactions.
func (c *RESTClient) AccountTransactions(ctx context.Context, address string, limit int) ([]RawTransaction, error) {
	u := fmt.Sprintf("%s/v1/accounts/%s/transactions", c.baseURL, url.PathEscape(address))
	if limit > 0 {
		u += "?" + url.Values{"limit": []string{strconv.Itoa(limit)}}.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	var txns []RawTransaction
	if err := c.do(req, &txns); err != nil {
		return nil, fmt.Errorf("failed to fetch transactions for %s: %w", address, err)
	}
	return txns, nil
}

type viewRequest struct {
	Function      string   `json:"function"`
	TypeArguments []string `json:"type_arguments"`
	Arguments     []string `json:"arguments"`
}

// AccountBalance calls the 0x1::coin::balance view function.
func (c *RESTClient) AccountBalance(ctx context.Context, address, coinType string) (decimal.Decimal, error) {
	body, err := json.Marshal(viewRequest{
		Function:      "0x1::coin::balance",
		TypeArguments: []string{coinType},
		Arguments:     []string{address},
	})
	if err != nil {
		return decimal.Zero, fmt.Errorf("failed to encode view request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/view", bytes.NewReader(body))
	if err != nil {
		return decimal.Zero, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	var out []any
	if err := c.do(req, &out); err != nil {
		return decimal.Zero, fmt.Errorf("failed to fetch balance for %s: %w", address, err)
	}
	if len(out) != 1 {
		return decimal.Zero, fmt.Errorf("unexpected view result for %s: %d values", address, len(out))
	}

	s, ok := stringValue(out[0])
	if !ok {
		return decimal.Zero, fmt.Errorf("unexpected balance type %T for %s", out[0], address)
	}
	balance, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, fmt.Errorf("invalid balance %q for %s: %w", s, address, err)
	}
	return balance, nil
}

func (c *RESTClient) do(req *http.Request, out any) error {
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	c.logger.DebugContext(req.Context(), "ledger api response",
		"method", req.Method,
		"path", req.URL.Path,
		"status", resp.StatusCode,
	)

	if resp.StatusCode >= 400 {
		apiErr := &APIError{StatusCode: resp.StatusCode}
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
		if err := json.Unmarshal(raw, apiErr); err != nil || apiErr.Message == "" {
			apiErr.Message = strings.TrimSpace(string(raw))
		}
		if apiErr.Message == "" {
			apiErr.Message = http.StatusText(resp.StatusCode)
		}
		return apiErr
	}

	dec := json.NewDecoder(resp.Body)
	dec.UseNumber()
	if err := dec.Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}
