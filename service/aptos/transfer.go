package aptos

import (
	"context"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// TransferFunction is the entry function used to send native coins.
const TransferFunction = "0x1::aptos_account::transfer"

var (
	// ErrInvalidRecipient is returned when a recipient is not a full 0x-prefixed 64 hex char address.
	ErrInvalidRecipient = errors.New("invalid recipient address")

	// ErrInvalidAmount is returned for non-positive amounts or amounts finer than one octa.
	ErrInvalidAmount = errors.New("invalid amount")

	// ErrInsufficientBalance is returned when the amount exceeds the sender's known balance.
	ErrInsufficientBalance = errors.New("insufficient balance")
)

// TransferRequest is a user's intent to send native coins.
type TransferRequest struct {
	Sender    string          `json:"sender"`
	Recipient string          `json:"recipient"`
	Amount    decimal.Decimal `json:"amount"` // major units
}

// PendingTransaction is the handle returned once a transaction was submitted.
// Its Hash later matches Transfer.Hash when the ledger record is normalized.
type PendingTransaction struct {
	Hash string `json:"hash"`
}

// Submitter signs and submits an entry function payload. Wallet adapters implement it.
type Submitter interface {
	Submit(ctx context.Context, payload Payload) (*PendingTransaction, error)
}

// ValidateRecipient checks the recipient is a full-length account address.
func ValidateRecipient(addr string) error {
	if !IsFullAddress(addr) {
		return fmt.Errorf("%w: %q must be 0x followed by 64 hex characters", ErrInvalidRecipient, addr)
	}
	return nil
}

// ValidateAmountUnits checks amount is positive and expressible in octas.
// It needs no balance, so callers can reject bad input before reaching the node.
func ValidateAmountUnits(amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return fmt.Errorf("%w: amount must be greater than 0", ErrInvalidAmount)
	}
	if !amount.Shift(CoinDecimals).IsInteger() {
		return fmt.Errorf("%w: amount %s has more than %d decimals", ErrInvalidAmount, amount, CoinDecimals)
	}
	return nil
}

// ValidateAmount checks amount is positive, expressible in octas and covered by balance.
func ValidateAmount(amount, balance decimal.Decimal) error {
	if err := ValidateAmountUnits(amount); err != nil {
		return err
	}
	if amount.GreaterThan(balance) {
		return fmt.Errorf("%w: have %s, trying to send %s", ErrInsufficientBalance, balance, amount)
	}
	return nil
}

// ValidateTransfer runs every local check a transfer must pass before submission.
func ValidateTransfer(req TransferRequest, balance decimal.Decimal) error {
	if err := ValidateRecipient(req.Recipient); err != nil {
		return err
	}
	return ValidateAmount(req.Amount, balance)
}

// BuildTransferPayload builds the entry function call for a native coin transfer.
func BuildTransferPayload(recipient string, amount decimal.Decimal) Payload {
	return Payload{
		Type:          "entry_function_payload",
		Function:      TransferFunction,
		TypeArguments: []string{},
		Arguments:     []any{recipient, ToMinorUnits(amount).String()},
	}
}

// SubmitTransfer validates req against knownBalance and hands the payload to s.
// Validation failures are returned without calling s.
func SubmitTransfer(ctx context.Context, s Submitter, req TransferRequest, knownBalance decimal.Decimal) (*PendingTransaction, error) {
	if err := ValidateTransfer(req, knownBalance); err != nil {
		return nil, err
	}
	pending, err := s.Submit(ctx, BuildTransferPayload(req.Recipient, req.Amount))
	if err != nil {
		return nil, fmt.Errorf("failed to submit transfer: %w", err)
	}
	return pending, nil
}
