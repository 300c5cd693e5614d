package aptos

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

const (
	// UserTransactionType is the only ledger transaction kind that can carry a transfer.
	UserTransactionType = "user_transaction"

	// AptosCoinType is the native coin's type tag.
	AptosCoinType = "0x1::aptos_coin::AptosCoin"

	// CoinDecimals is the number of minor-unit (octa) decimals of the native coin.
	CoinDecimals = 8

	// UnknownAddress is the counterparty placeholder when the ledger record does not name one.
	UnknownAddress = "unknown"
)

// RawTransaction is a ledger transaction record as returned by the fullnode REST API.
// Only the fields the normalizer reads are decoded.
type RawTransaction struct {
	Hash      string   `json:"hash"`
	Type      string   `json:"type"`
	Version   string   `json:"version,omitempty"`
	Success   bool     `json:"success"`
	Sender    string   `json:"sender"`
	Timestamp Micros   `json:"timestamp"`
	Payload   *Payload `json:"payload,omitempty"`
	Events    []Event  `json:"events,omitempty"`
}

// Payload is the entry function call a user transaction executed.
// Arguments keep whatever JSON type the node returned (u64 values arrive as strings).
type Payload struct {
	Type          string   `json:"type,omitempty"`
	Function      string   `json:"function"`
	TypeArguments []string `json:"type_arguments,omitempty"`
	Arguments     []any    `json:"arguments"`
}

// Event is an event emitted while the transaction executed.
type Event struct {
	Type string         `json:"type"`
	Data map[string]any `json:"data"`
}

// Micros is a ledger timestamp in microseconds since the Unix epoch.
// The REST API encodes it as a decimal string; plain JSON numbers are accepted too.
type Micros int64

// Time converts the timestamp to a UTC time.Time.
func (m Micros) Time() time.Time {
	return time.UnixMicro(int64(m)).UTC()
}

// MarshalJSON encodes the timestamp as a decimal string, the way the ledger does.
func (m Micros) MarshalJSON() ([]byte, error) {
	return json.Marshal(strconv.FormatInt(int64(m), 10))
}

// UnmarshalJSON accepts "1700000000000000" or 1700000000000000.
func (m *Micros) UnmarshalJSON(b []byte) error {
	s := strings.Trim(strings.TrimSpace(string(b)), `"`)
	if s == "" || s == "null" {
		*m = 0
		return nil
	}
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return fmt.Errorf("invalid timestamp %q: %w", s, err)
	}
	*m = Micros(v)
	return nil
}

// Direction is the side of a transfer relative to the viewpoint account.
type Direction string

const (
	DirectionIncoming Direction = "incoming"
	DirectionOutgoing Direction = "outgoing"
)

// Source records which detection path produced a Transfer.
type Source string

const (
	SourcePayload Source = "payload"
	SourceEvent   Source = "event"
)

// Status of a Transfer. Failed transactions never become transfers, so only completed exists.
type Status string

const StatusCompleted Status = "completed"

// Transfer is the canonical, viewpoint-relative record derived from one ledger transaction.
type Transfer struct {
	Hash         string          `json:"hash"`
	Direction    Direction       `json:"direction"`
	Amount       decimal.Decimal `json:"amount"` // major units, always > 0
	Counterparty string          `json:"counterparty"`
	OccurredAt   time.Time       `json:"occurred_at"`
	Source       Source          `json:"source"`
	Status       Status          `json:"status"`
	Function     string          `json:"function,omitempty"` // function id or event type that matched
}

// Stats counts the transfers of a history by direction.
type Stats struct {
	TotalCount    int `json:"total_count"`
	SentCount     int `json:"sent_count"`
	ReceivedCount int `json:"received_count"`
}

// AccountHistory is an immutable snapshot of an account's balance and recent transfers.
// Transfers are ordered most recent first.
type AccountHistory struct {
	Address   string          `json:"address"`
	Balance   decimal.Decimal `json:"balance"`
	Transfers []Transfer      `json:"transfers"`
	Stats     Stats           `json:"stats"`
	FetchedAt time.Time       `json:"fetched_at"`
}

// FromMinorUnits converts an integer octa amount to major units.
func FromMinorUnits(octas decimal.Decimal) decimal.Decimal {
	return octas.Shift(-CoinDecimals)
}

// ToMinorUnits converts a major-unit amount to octas. Amounts with more precision than
// the coin supports are truncated toward zero.
func ToMinorUnits(amount decimal.Decimal) decimal.Decimal {
	return amount.Shift(CoinDecimals).Truncate(0)
}
