package aptos

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func TestFormatAmount(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"0", "0.000000"},
		{"0.00000005", "0.00000005"},
		{"0.0000009", "0.00000090"},
		{"0.5", "0.500000"},
		{"0.12345678", "0.123457"},
		{"1", "1.00"},
		{"2.5", "2.50"},
		{"12.3456789", "12.345679"},
		{"1234.5", "1,234.50"},
		{"1234567.1234567", "1,234,567.123457"},
		{"-1234.5", "-1,234.50"},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, FormatAmount(decimal.RequireFromString(tt.in)))
		})
	}
}

func TestMinorUnitConversion(t *testing.T) {
	assert.Equal(t, "250000000", ToMinorUnits(decimal.RequireFromString("2.5")).String())
	assert.Equal(t, "1", ToMinorUnits(decimal.RequireFromString("0.000000019")).String())
	assert.Equal(t, "2.5", FromMinorUnits(decimal.NewFromInt(250000000)).String())
}
