package aptos

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"math/big"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
)

// FrameworkAddress is the account that publishes the built-in coin modules.
const FrameworkAddress = "0x1"

// Built-in entry functions whose arguments are (recipient, amount).
var transferFunctions = map[string]struct{}{
	"aptos_account::transfer":       {},
	"aptos_account::transfer_coins": {},
	"coin::transfer":                {},
}

// Event types that move coins into an account.
var depositEvents = map[string]struct{}{
	"coin::DepositEvent":      {},
	"coin::CoinDeposit":       {},
	"fungible_asset::Deposit": {},
}

// Event types that move coins out of an account.
var withdrawEvents = map[string]struct{}{
	"coin::WithdrawEvent":      {},
	"coin::CoinWithdraw":       {},
	"fungible_asset::Withdraw": {},
}

// DropReason explains why a raw record produced no Transfer.
type DropReason string

const (
	DropNone        DropReason = ""
	DropNotUser     DropReason = "not_user_transaction"
	DropFailed      DropReason = "failed"
	DropNoTransfer  DropReason = "no_transfer"
	DropNotInvolved DropReason = "not_involved"
	DropZeroAmount  DropReason = "zero_amount"
)

var (
	errNotTransferCall = errors.New("not a transfer call")
	errNotInvolved     = errors.New("viewpoint is neither sender nor recipient")
	errZeroAmount      = errors.New("zero amount")
	errNoEvent         = errors.New("no deposit or withdraw event")
)

// Normalize reduces a raw ledger transaction to at most one Transfer seen from viewpoint.
// It returns false when the record is not a transfer relevant to viewpoint. It never
// mutates raw and never fails on malformed input.
func Normalize(raw RawTransaction, viewpoint string) (*Transfer, bool) {
	t, _ := NormalizeWithReason(raw, viewpoint)
	return t, t != nil
}

// NormalizeWithReason is Normalize but also reports why a record was dropped.
func NormalizeWithReason(raw RawTransaction, viewpoint string) (*Transfer, DropReason) {
	if raw.Type != UserTransactionType {
		return nil, DropNotUser
	}
	if !raw.Success {
		return nil, DropFailed
	}

	occurredAt := raw.Timestamp.Time()

	// Call arguments are the more attributable signal, so they win over events.
	t, payloadErr := transferFromPayload(raw, viewpoint)
	if payloadErr == nil {
		t.OccurredAt = occurredAt
		return t, DropNone
	}
	// The call names both parties; its events describe those parties, not viewpoint.
	if errors.Is(payloadErr, errNotInvolved) {
		return nil, DropNotInvolved
	}

	t, eventErr := transferFromEvents(raw)
	if eventErr == nil {
		t.OccurredAt = occurredAt
		return t, DropNone
	}

	if errors.Is(payloadErr, errZeroAmount) || errors.Is(eventErr, errZeroAmount) {
		return nil, DropZeroAmount
	}
	return nil, DropNoTransfer
}

// transferFromPayload detects a plain (recipient, amount) built-in transfer call.
func transferFromPayload(raw RawTransaction, viewpoint string) (*Transfer, error) {
	p := raw.Payload
	if p == nil {
		return nil, errNotTransferCall
	}
	addr, module, name, ok := splitTag(p.Function)
	if !ok || addr != FrameworkAddress {
		return nil, errNotTransferCall
	}
	if _, ok := transferFunctions[module+"::"+name]; !ok {
		return nil, errNotTransferCall
	}
	if len(p.Arguments) < 2 {
		return nil, fmt.Errorf("%w: %d arguments", errNotTransferCall, len(p.Arguments))
	}

	recipient, ok := stringValue(p.Arguments[0])
	if !ok || recipient == "" {
		return nil, fmt.Errorf("%w: recipient is not a string", errNotTransferCall)
	}
	octas, err := minorUnits(p.Arguments[1])
	if err != nil {
		return nil, err
	}

	t := &Transfer{
		Hash:     raw.Hash,
		Amount:   FromMinorUnits(octas),
		Source:   SourcePayload,
		Status:   StatusCompleted,
		Function: p.Function,
	}
	switch {
	case SameAddress(raw.Sender, viewpoint):
		t.Direction = DirectionOutgoing
		t.Counterparty = recipient
	case SameAddress(recipient, viewpoint):
		t.Direction = DirectionIncoming
		t.Counterparty = raw.Sender
	default:
		return nil, errNotInvolved
	}
	return t, nil
}

// transferFromEvents takes the first deposit event, or failing that the first withdraw event.
func transferFromEvents(raw RawTransaction) (*Transfer, error) {
	var deposit, withdraw *Event
	for i := range raw.Events {
		ev := &raw.Events[i]
		if isEventType(ev.Type, depositEvents) {
			deposit = ev
			break
		}
		if withdraw == nil && isEventType(ev.Type, withdrawEvents) {
			withdraw = ev
		}
	}

	ev, dir := deposit, DirectionIncoming
	if ev == nil {
		ev, dir = withdraw, DirectionOutgoing
	}
	if ev == nil {
		return nil, errNoEvent
	}

	amount, ok := ev.Data["amount"]
	if !ok {
		return nil, fmt.Errorf("%w: event has no amount", errZeroAmount)
	}
	octas, err := minorUnits(amount)
	if err != nil {
		return nil, err
	}

	counterparty := UnknownAddress
	keys := []string{"sender", "from"}
	if dir == DirectionOutgoing {
		keys = []string{"recipient", "to"}
	}
	for _, k := range keys {
		if s, ok := stringValue(ev.Data[k]); ok && s != "" {
			counterparty = s
			break
		}
	}

	return &Transfer{
		Hash:         raw.Hash,
		Direction:    dir,
		Amount:       FromMinorUnits(octas),
		Counterparty: counterparty,
		Source:       SourceEvent,
		Status:       StatusCompleted,
		Function:     ev.Type,
	}, nil
}

func isEventType(tag string, set map[string]struct{}) bool {
	addr, module, name, ok := splitTag(tag)
	if !ok || addr != FrameworkAddress {
		return false
	}
	_, ok = set[module+"::"+name]
	return ok
}

// minorUnits parses a u64 octa amount. Anything that is not a strictly positive
// integer is a non-match.
func minorUnits(v any) (decimal.Decimal, error) {
	var (
		d   decimal.Decimal
		err error
	)
	switch x := v.(type) {
	case string:
		d, err = decimal.NewFromString(strings.TrimSpace(x))
	case json.Number:
		d, err = decimal.NewFromString(x.String())
	case float64:
		if math.IsNaN(x) || math.IsInf(x, 0) {
			return decimal.Zero, fmt.Errorf("%w: non-finite amount", errNotTransferCall)
		}
		d = decimal.NewFromFloat(x)
	case int:
		d = decimal.NewFromInt(int64(x))
	case int64:
		d = decimal.NewFromInt(x)
	case uint64:
		d = decimal.NewFromBigInt(new(big.Int).SetUint64(x), 0)
	default:
		return decimal.Zero, fmt.Errorf("%w: amount has type %T", errNotTransferCall, v)
	}
	if err != nil {
		return decimal.Zero, fmt.Errorf("%w: %v", errNotTransferCall, err)
	}
	if !d.IsInteger() || d.IsNegative() {
		return decimal.Zero, fmt.Errorf("%w: amount %s is not a u64", errNotTransferCall, d)
	}
	if d.IsZero() {
		return decimal.Zero, errZeroAmount
	}
	return d, nil
}

func stringValue(v any) (string, bool) {
	switch x := v.(type) {
	case string:
		return x, true
	case json.Number:
		return x.String(), true
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64), true
	default:
		return "", false
	}
}
