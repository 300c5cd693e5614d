package aptos

import (
	"strings"

	"github.com/shopspring/decimal"
)

var (
	microUnit = decimal.New(1, -6)
	oneUnit   = decimal.NewFromInt(1)
)

// FormatAmount renders a major-unit amount for display: tiny amounts keep 8 decimals,
// sub-unit amounts 6, larger amounts between 2 and 6 with thousands separators.
func FormatAmount(d decimal.Decimal) string {
	abs := d.Abs()
	switch {
	case d.IsZero():
		return "0.000000"
	case abs.LessThan(microUnit):
		return d.StringFixed(8)
	case abs.LessThan(oneUnit):
		return d.StringFixed(6)
	}

	s := d.Round(6).StringFixed(6)
	intPart, frac, _ := strings.Cut(s, ".")
	frac = strings.TrimRight(frac, "0")
	for len(frac) < 2 {
		frac += "0"
	}

	sign := ""
	if strings.HasPrefix(intPart, "-") {
		sign, intPart = "-", intPart[1:]
	}
	return sign + groupThousands(intPart) + "." + frac
}

func groupThousands(digits string) string {
	if len(digits) <= 3 {
		return digits
	}
	var b strings.Builder
	head := len(digits) % 3
	if head > 0 {
		b.WriteString(digits[:head])
	}
	for i := head; i < len(digits); i += 3 {
		if b.Len() > 0 {
			b.WriteByte(',')
		}
		b.WriteString(digits[i : i+3])
	}
	return b.String()
}
