package flow

import (
	"regexp"
	"strings"
	"unicode"
)

// Input validation patterns.
var (
	emailPattern         = regexp.MustCompile(`[^\s@]+@[^\s@]+\.[^\s@]+`)
	embeddedPhonePattern = regexp.MustCompile(`\+?\(?\d{3}\)?[\s.\-]?\d{3}[\s.\-]?\d{4}`)
	phoneOnlyPattern     = regexp.MustCompile(`^\+?[\d\s\-()]+$`)
)

// MinPhoneDigits is the number of significant digits a phone number needs.
const MinPhoneDigits = 10

// nonEmpty accepts any input with non-whitespace content.
func nonEmpty(input string) bool {
	return strings.TrimSpace(input) != ""
}

// minLength accepts input whose trimmed length is at least n.
func minLength(n int) ValidateFunc {
	return func(input string) bool {
		return len([]rune(strings.TrimSpace(input))) >= n
	}
}

// optional accepts anything, including an empty answer.
func optional(string) bool {
	return true
}

// IsValidContact requires both an email address and a phone number somewhere in the input.
func IsValidContact(input string) bool {
	return emailPattern.MatchString(input) && embeddedPhonePattern.MatchString(input)
}

// IsValidPhone accepts digits, spaces, hyphens and parentheses with at least
// MinPhoneDigits digits.
func IsValidPhone(input string) bool {
	trimmed := strings.TrimSpace(input)
	if !phoneOnlyPattern.MatchString(trimmed) {
		return false
	}
	digits := 0
	for _, r := range trimmed {
		if unicode.IsDigit(r) {
			digits++
		}
	}
	return digits >= MinPhoneDigits
}
