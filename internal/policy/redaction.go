package policy

import (
	"regexp"
	"strings"
)

var (
	emailPattern = regexp.MustCompile(`[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}`)
	phonePattern = regexp.MustCompile(`\+?[0-9][0-9\-() ]{7,}[0-9]`)
	cardPattern  = regexp.MustCompile(`\b(?:\d[ -]*?){13,19}\b`)
)

// RedactPII masks common high-risk PII patterns in caller speech before it is logged.
func RedactPII(input string) (redacted string, changed bool) {
	out := input

	next := emailPattern.ReplaceAllString(out, "[REDACTED_EMAIL]")
	changed = changed || next != out
	out = next

	// Cards first so long digit runs are not classified as phone numbers.
	next = cardPattern.ReplaceAllString(out, "[REDACTED_CARD]")
	changed = changed || next != out
	out = next

	next = phonePattern.ReplaceAllString(out, "[REDACTED_PHONE]")
	changed = changed || next != out
	out = next

	return out, changed
}

// Redact is RedactPII without the change flag.
func Redact(input string) string {
	out, _ := RedactPII(input)
	return out
}

// MaskNumber keeps the country prefix and last four digits of a phone number,
// e.g. "+15552223333" becomes "+1******3333".
func MaskNumber(number string) string {
	n := strings.TrimSpace(number)
	if n == "" {
		return ""
	}
	digits := 0
	for _, r := range n {
		if r >= '0' && r <= '9' {
			digits++
		}
	}
	if digits <= 4 {
		return strings.Repeat("*", len(n))
	}

	keepHead := 0
	if strings.HasPrefix(n, "+") {
		keepHead = 2
	}
	var b strings.Builder
	seen := 0
	for i, r := range n {
		isDigit := r >= '0' && r <= '9'
		switch {
		case i < keepHead:
			b.WriteRune(r)
			if isDigit {
				seen++
			}
		case !isDigit:
			b.WriteRune(r)
		case seen >= digits-4:
			b.WriteRune(r)
			seen++
		default:
			b.WriteByte('*')
			seen++
		}
	}
	return b.String()
}
