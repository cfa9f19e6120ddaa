package auth

import (
	"strings"
	"unicode"

	"github.com/nyaruka/phonenumbers"
)

// DefaultPhoneRegion is used to parse numbers written without a country code
var DefaultPhoneRegion = "US"

// NormalizePhone returns the E164 form of valid numbers. Anything else is
// reduced to its digits (keeping a leading +) so lookups still match the
// stored form.
func NormalizePhone(raw string) string {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return ""
	}

	if num, err := phonenumbers.Parse(trimmed, DefaultPhoneRegion); err == nil && phonenumbers.IsValidNumber(num) {
		return phonenumbers.Format(num, phonenumbers.E164)
	}

	var b strings.Builder
	for i, r := range trimmed {
		if r == '+' && i == 0 {
			b.WriteRune(r)
			continue
		}
		if unicode.IsDigit(r) {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// NormalizeEmail trims and lower cases an address
func NormalizeEmail(raw string) string {
	return strings.ToLower(strings.TrimSpace(raw))
}
