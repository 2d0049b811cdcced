package policy

import (
	"strings"
	"testing"
)

func TestRedactPII(t *testing.T) {
	input := "Email me at sam@example.com or +1 (555) 123-9876 and use 4242 4242 4242 4242."
	out, changed := RedactPII(input)
	if !changed {
		t.Fatalf("changed = false, want true")
	}
	for _, marker := range []string{"[REDACTED_EMAIL]", "[REDACTED_PHONE]", "[REDACTED_CARD]"} {
		if !strings.Contains(out, marker) {
			t.Fatalf("output missing marker %q: %q", marker, out)
		}
	}
	if got := Redact("what's the weather in Paris"); got != "what's the weather in Paris" {
		t.Fatalf("Redact() changed clean text: %q", got)
	}
}

func TestMaskNumber(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"+15552223333", "+1******3333"},
		{"5552223333", "******3333"},
		{"1234", "****"},
		{"", ""},
	}
	for _, tc := range cases {
		if got := MaskNumber(tc.in); got != tc.want {
			t.Fatalf("MaskNumber(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}
