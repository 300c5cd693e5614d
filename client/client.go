package client

import (
	"bufio"
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

	"github.com/brojonat/aptoswatch/service/aptos"
	"github.com/shopspring/decimal"
)

// Watch represents an account the server reconciles on a schedule.
type Watch struct {
	Address      string        `json:"address"`
	PollInterval time.Duration `json:"poll_interval"`
	CreatedAt    time.Time     `json:"created_at"`
	UpdatedAt    time.Time     `json:"updated_at"`
}

// Balance is the current native coin balance of an account.
type Balance struct {
	Address   string          `json:"address"`
	Balance   decimal.Decimal `json:"balance"`
	Formatted string          `json:"formatted"`
}

// TransferCheck is the server's answer to a transfer pre-check.
type TransferCheck struct {
	Valid   bool            `json:"valid"`
	Balance decimal.Decimal `json:"balance"`
	Payload aptos.Payload   `json:"payload"`
}

// APIError is a non-success response from the server.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("request failed with status %d: %s", e.StatusCode, e.Message)
}

// IsNotFound reports whether err is a 404 from the server.
func IsNotFound(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound
}

// Client is the HTTP client for the aptoswatch service.
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewClient creates a new aptoswatch service client.
func NewClient(baseURL string, httpClient *http.Client, logger *slog.Logger) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	if logger == nil {
		logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}
	return &Client{
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		httpClient: httpClient,
		logger:     logger,
	}
}

// History asks the server to reconcile an account now and returns the snapshot.
// A limit of 0 uses the server's default.
func (c *Client) History(ctx context.Context, address string, limit int) (*aptos.AccountHistory, error) {
	u := fmt.Sprintf("%s/api/v1/accounts/%s/history", c.baseURL, url.PathEscape(address))
	if limit > 0 {
		u += "?limit=" + strconv.Itoa(limit)
	}

	var history aptos.AccountHistory
	if err := c.doJSON(ctx, http.MethodGet, u, nil, http.StatusOK, &history); err != nil {
		return nil, err
	}
	return &history, nil
}

// Balance returns the current balance of an account.
func (c *Client) Balance(ctx context.Context, address string) (*Balance, error) {
	u := fmt.Sprintf("%s/api/v1/accounts/%s/balance", c.baseURL, url.PathEscape(address))

	var bal Balance
	if err := c.doJSON(ctx, http.MethodGet, u, nil, http.StatusOK, &bal); err != nil {
		return nil, err
	}
	return &bal, nil
}

// ValidateTransfer runs the server's pre-submission checks on a transfer.
// A transfer that fails a check returns an *APIError with status 422.
func (c *Client) ValidateTransfer(ctx context.Context, req aptos.TransferRequest) (*TransferCheck, error) {
	var check TransferCheck
	if err := c.doJSON(ctx, http.MethodPost, c.baseURL+"/api/v1/transfers/validate", req, http.StatusOK, &check); err != nil {
		return nil, err
	}
	return &check, nil
}

// Watch tells the server to reconcile an account every pollInterval.
// A zero pollInterval uses the server's default.
func (c *Client) Watch(ctx context.Context, address string, pollInterval time.Duration) (*Watch, error) {
	reqBody := map[string]interface{}{
		"address": address,
	}
	if pollInterval > 0 {
		reqBody["poll_interval"] = pollInterval.String()
	}

	var apiWatch watchResponse
	if err := c.doJSON(ctx, http.MethodPost, c.baseURL+"/api/v1/watches", reqBody, http.StatusCreated, &apiWatch); err != nil {
		return nil, err
	}

	c.logger.Debug("account watched", "address", address, "poll_interval", apiWatch.PollInterval)
	return responseToWatch(&apiWatch)
}

// Unwatch tells the server to stop reconciling an account.
func (c *Client) Unwatch(ctx context.Context, address string) error {
	u := fmt.Sprintf("%s/api/v1/watches/%s", c.baseURL, url.PathEscape(address))
	if err := c.doJSON(ctx, http.MethodDelete, u, nil, http.StatusNoContent, nil); err != nil {
		return err
	}

	c.logger.Debug("account unwatched", "address", address)
	return nil
}

// ListWatches retrieves all watched accounts.
func (c *Client) ListWatches(ctx context.Context) ([]*Watch, error) {
	var response struct {
		Watches []watchResponse `json:"watches"`
	}
	if err := c.doJSON(ctx, http.MethodGet, c.baseURL+"/api/v1/watches", nil, http.StatusOK, &response); err != nil {
		return nil, err
	}

	watches := make([]*Watch, len(response.Watches))
	for i, apiWatch := range response.Watches {
		w, err := responseToWatch(&apiWatch)
		if err != nil {
			return nil, fmt.Errorf("failed to parse watch %s: %w", apiWatch.Address, err)
		}
		watches[i] = w
	}
	return watches, nil
}

// StreamHistory follows the server's snapshot stream for an account and calls fn
// for each snapshot until ctx is done, the stream ends or fn returns an error.
// It returns nil when ctx is cancelled.
func (c *Client) StreamHistory(ctx context.Context, address string, fn func(*aptos.AccountHistory) error) error {
	u := fmt.Sprintf("%s/api/v1/stream/history/%s", c.baseURL, url.PathEscape(address))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "text/event-stream")

	// The stream outlives any client timeout.
	streamClient := *c.httpClient
	streamClient.Timeout = 0

	resp, err := streamClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return c.parseErrorResponse(resp)
	}

	var event string
	var data strings.Builder
	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 64*1024), 4<<20)
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case line == "":
			if event == "history" && data.Len() > 0 {
				var history aptos.AccountHistory
				if err := json.Unmarshal([]byte(data.String()), &history); err != nil {
					c.logger.Warn("failed to decode history event", "error", err)
				} else if err := fn(&history); err != nil {
					return err
				}
			}
			event = ""
			data.Reset()
		case strings.HasPrefix(line, ":"):
			// keepalive
		case strings.HasPrefix(line, "event:"):
			event = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
		case strings.HasPrefix(line, "data:"):
			data.WriteString(strings.TrimSpace(strings.TrimPrefix(line, "data:")))
		}
	}

	if ctx.Err() != nil {
		return nil
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("stream failed: %w", err)
	}
	return nil
}

// doJSON sends body as JSON (when non-nil), checks the status and decodes the
// response into out (when non-nil).
func (c *Client) doJSON(ctx context.Context, method, u string, body any, wantStatus int, out any) error {
	var r io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		r = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, method, u, r)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != wantStatus {
		return c.parseErrorResponse(resp)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

// watchResponse is the API response format for a watch.
// The server returns poll_interval as a string (e.g. "30s").
type watchResponse struct {
	Address      string    `json:"address"`
	PollInterval string    `json:"poll_interval"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// responseToWatch converts an API response to a Watch.
func responseToWatch(resp *watchResponse) (*Watch, error) {
	pollInterval, err := time.ParseDuration(resp.PollInterval)
	if err != nil {
		return nil, fmt.Errorf("invalid poll_interval %q: %w", resp.PollInterval, err)
	}

	return &Watch{
		Address:      resp.Address,
		PollInterval: pollInterval,
		CreatedAt:    resp.CreatedAt,
		UpdatedAt:    resp.UpdatedAt,
	}, nil
}

// parseErrorResponse attempts to parse an error response from the server.
func (c *Client) parseErrorResponse(resp *http.Response) error {
	var errResp struct {
		Error string `json:"error"`
	}

	body, _ := io.ReadAll(resp.Body)
	if err := json.Unmarshal(body, &errResp); err != nil || errResp.Error == "" {
		return &APIError{StatusCode: resp.StatusCode, Message: strings.TrimSpace(string(body))}
	}

	return &APIError{StatusCode: resp.StatusCode, Message: errResp.Error}
}
