package aptos

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var validRecipient = "0x" + strings.Repeat("ab", 32)

type fakeSubmitter struct {
	payloads []Payload
	hash     string
	err      error
}

func (f *fakeSubmitter) Submit(ctx context.Context, payload Payload) (*PendingTransaction, error) {
	f.payloads = append(f.payloads, payload)
	if f.err != nil {
		return nil, f.err
	}
	return &PendingTransaction{Hash: f.hash}, nil
}

func TestValidateRecipient(t *testing.T) {
	assert.NoError(t, ValidateRecipient(validRecipient))
	assert.NoError(t, ValidateRecipient("0x"+strings.Repeat("AB", 32)))

	for _, bad := range []string{
		"",
		"0xB",
		strings.Repeat("ab", 33),
		validRecipient + "a",
		"0x" + strings.Repeat("zz", 32),
	} {
		err := ValidateRecipient(bad)
		assert.ErrorIs(t, err, ErrInvalidRecipient, bad)
	}
}

func TestValidateAmount(t *testing.T) {
	balance := decimal.RequireFromString("1.5")

	assert.NoError(t, ValidateAmount(decimal.RequireFromString("1.5"), balance))
	assert.NoError(t, ValidateAmount(decimal.RequireFromString("0.00000001"), balance))

	assert.ErrorIs(t, ValidateAmount(decimal.Zero, balance), ErrInvalidAmount)
	assert.ErrorIs(t, ValidateAmount(decimal.RequireFromString("-1"), balance), ErrInvalidAmount)
	assert.ErrorIs(t, ValidateAmount(decimal.RequireFromString("0.000000001"), balance), ErrInvalidAmount)
	assert.ErrorIs(t, ValidateAmount(decimal.RequireFromString("1.50000001"), balance), ErrInsufficientBalance)
}

func TestValidateAmountUnits(t *testing.T) {
	assert.NoError(t, ValidateAmountUnits(decimal.RequireFromString("1000000")))
	assert.ErrorIs(t, ValidateAmountUnits(decimal.Zero), ErrInvalidAmount)
	assert.ErrorIs(t, ValidateAmountUnits(decimal.RequireFromString("0.123456789")), ErrInvalidAmount)
}

func TestBuildTransferPayload(t *testing.T) {
	p := BuildTransferPayload(validRecipient, decimal.RequireFromString("2.5"))

	assert.Equal(t, TransferFunction, p.Function)
	require.Len(t, p.Arguments, 2)
	assert.Equal(t, validRecipient, p.Arguments[0])
	assert.Equal(t, "250000000", p.Arguments[1])
}

func TestBuildTransferPayload_NormalizesBack(t *testing.T) {
	sender := "0x" + strings.Repeat("cd", 32)
	amount := decimal.RequireFromString("0.12345678")
	p := BuildTransferPayload(validRecipient, amount)

	raw := RawTransaction{
		Hash:      "0xsubmitted",
		Type:      UserTransactionType,
		Success:   true,
		Sender:    sender,
		Timestamp: testTimestamp,
		Payload:   &p,
	}

	got, ok := Normalize(raw, sender)
	require.True(t, ok)
	assert.Equal(t, DirectionOutgoing, got.Direction)
	assert.True(t, amount.Equal(got.Amount))
	assert.Equal(t, validRecipient, got.Counterparty)
}

func TestSubmitTransfer(t *testing.T) {
	ctx := context.Background()
	balance := decimal.NewFromInt(10)

	t.Run("submits valid transfer", func(t *testing.T) {
		s := &fakeSubmitter{hash: "0xpending"}
		pending, err := SubmitTransfer(ctx, s, TransferRequest{
			Recipient: validRecipient,
			Amount:    decimal.NewFromInt(3),
		}, balance)
		require.NoError(t, err)
		assert.Equal(t, "0xpending", pending.Hash)
		require.Len(t, s.payloads, 1)
		assert.Equal(t, "300000000", s.payloads[0].Arguments[1])
	})

	t.Run("validation happens before submission", func(t *testing.T) {
		s := &fakeSubmitter{hash: "0xpending"}
		_, err := SubmitTransfer(ctx, s, TransferRequest{Recipient: "0xB", Amount: decimal.NewFromInt(1)}, balance)
		assert.ErrorIs(t, err, ErrInvalidRecipient)

		_, err = SubmitTransfer(ctx, s, TransferRequest{Recipient: validRecipient, Amount: decimal.NewFromInt(11)}, balance)
		assert.ErrorIs(t, err, ErrInsufficientBalance)

		assert.Empty(t, s.payloads)
	})

	t.Run("submitter error is wrapped", func(t *testing.T) {
		rejected := errors.New("user rejected")
		s := &fakeSubmitter{err: rejected}
		_, err := SubmitTransfer(ctx, s, TransferRequest{Recipient: validRecipient, Amount: decimal.NewFromInt(1)}, balance)
		assert.ErrorIs(t, err, rejected)
	})
}
