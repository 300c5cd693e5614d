package aptos

import (
	"regexp"
	"strings"
)

var (
	// fullAddressRegex matches the long form the wallet UI accepts for recipients.
	fullAddressRegex = regexp.MustCompile(`^0x[0-9a-fA-F]{64}$`)

	// addressRegex also accepts short forms such as "0x1".
	addressRegex = regexp.MustCompile(`^0x[0-9a-fA-F]{1,64}$`)
)

// CanonicalAddress reduces an account address to a comparable form: lower case,
// 0x-prefixed, leading zeros of the hex body removed. "0x0A" and "0xa" compare equal.
// Strings that are not hex are trimmed and lower-cased but otherwise kept.
func CanonicalAddress(addr string) string {
	s := strings.ToLower(strings.TrimSpace(addr))
	body := strings.TrimPrefix(s, "0x")
	if body == "" || !isHex(body) {
		return s
	}
	body = strings.TrimLeft(body, "0")
	if body == "" {
		body = "0"
	}
	return "0x" + body
}

// SameAddress reports whether a and b name the same account.
func SameAddress(a, b string) bool {
	if a == "" || b == "" {
		return false
	}
	return CanonicalAddress(a) == CanonicalAddress(b)
}

// IsFullAddress reports whether addr is 0x followed by exactly 64 hex characters.
func IsFullAddress(addr string) bool {
	return fullAddressRegex.MatchString(addr)
}

// IsAddress reports whether addr is 0x followed by 1 to 64 hex characters.
func IsAddress(addr string) bool {
	return addressRegex.MatchString(addr)
}

func isHex(s string) bool {
	for _, c := range s {
		switch {
		case c >= '0' && c <= '9', c >= 'a' && c <= 'f':
		default:
			return false
		}
	}
	return true
}

// splitTag splits a Move identifier such as "0x1::coin::DepositEvent<T>" into its
// canonical address, module and name. Generic parameters are dropped.
func splitTag(tag string) (addr, module, name string, ok bool) {
	if i := strings.IndexByte(tag, '<'); i >= 0 {
		tag = tag[:i]
	}
	parts := strings.Split(strings.TrimSpace(tag), "::")
	if len(parts) != 3 || parts[0] == "" || parts[1] == "" || parts[2] == "" {
		return "", "", "", false
	}
	return CanonicalAddress(parts[0]), parts[1], parts[2], true
}
