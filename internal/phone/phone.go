// Package phone normalizes free-form phone input into E.164.
package phone

import (
	"regexp"
	"strings"
)

var e164Pattern = regexp.MustCompile(`^\+\d{11,15}$`)

// Normalize keeps digits and a single leading '+'. A bare 10-digit number is
// assumed North American and gets "+1". Malformed input stays malformed;
// callers check the result with IsE164.
func Normalize(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}
	var b strings.Builder
	b.Grow(len(raw))
	if raw[0] == '+' {
		b.WriteByte('+')
	}
	for _, r := range raw {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	out := b.String()
	if !strings.HasPrefix(out, "+") && len(out) == 10 {
		return "+1" + out
	}
	return out
}

// IsE164 reports whether s is a plausible E.164 number.
func IsE164(s string) bool {
	return e164Pattern.MatchString(s)
}

// NormalizeValid normalizes raw and reports whether the result is E.164.
func NormalizeValid(raw string) (string, bool) {
	n := Normalize(raw)
	return n, IsE164(n)
}

// Mask hides all but the last four digits for log output.
func Mask(s string) string {
	if len(s) <= 4 {
		return "***"
	}
	return "***" + s[len(s)-4:]
}
