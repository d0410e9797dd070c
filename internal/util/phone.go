package util

import (
	"fmt"
	"regexp"
	"strings"
)

// MinPhoneDigits is the shortest number accepted as a phone identifier.
const MinPhoneDigits = 6

var nonDigit = regexp.MustCompile(`\D`)

// CanonicalPhone reduces a sender or recipient identifier to its digits.
// It accepts E.164 numbers, Twilio "whatsapp:+..." addresses and WhatsApp JID users.
func CanonicalPhone(raw string) (string, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return "", fmt.Errorf("phone cannot be empty")
	}
	s = strings.TrimPrefix(strings.ToLower(s), "whatsapp:")
	if i := strings.IndexByte(s, '@'); i >= 0 {
		s = s[:i]
	}
	digits := nonDigit.ReplaceAllString(s, "")
	if digits == "" {
		return "", fmt.Errorf("invalid phone number: no digits found in %q", raw)
	}
	if len(digits) < MinPhoneDigits {
		return "", fmt.Errorf("invalid phone number: %q is too short (minimum %d digits required)", digits, MinPhoneDigits)
	}
	return digits, nil
}
