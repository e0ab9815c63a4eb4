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
}

func TestRedactPIIKeys(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"key sk-proj_abcdefghijklmnop leaked", "key [REDACTED_KEY] leaked"},
		{"Authorization: Bearer abc.def-ghijklmnop", "Authorization: [REDACTED_KEY]"},
		{"Run 8 km easy on monday", "Run 8 km easy on monday"},
	}
	for _, tc := range cases {
		got, changed := RedactPII(tc.in)
		if got != tc.want {
			t.Fatalf("RedactPII(%q) = %q, want %q", tc.in, got, tc.want)
		}
		if changed != (tc.in != tc.want) {
			t.Fatalf("RedactPII(%q) changed = %v", tc.in, changed)
		}
	}
}
