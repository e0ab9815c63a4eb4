package policy

import (
	"errors"
	"strings"
	"testing"
)

func TestNormalizeClientID(t *testing.T) {
	cases := []struct {
		name       string
		candidates []string
		want       string
		wantErr    error
	}{
		{"first wins", []string{" runner-1 ", "header"}, "runner-1", nil},
		{"falls through blanks", []string{"", "  ", "header"}, "header", nil},
		{"spaces inside allowed", []string{"team a"}, "team a", nil},
		{"none", []string{"", " "}, "", ErrClientIDRequired},
		{"no candidates", nil, "", ErrClientIDRequired},
		{"control char", []string{"bad\x00id"}, "", ErrClientIDInvalid},
		{"too long", []string{strings.Repeat("x", MaxClientIDRunes+1)}, "", ErrClientIDInvalid},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := NormalizeClientID(tc.candidates...)
			if !errors.Is(err, tc.wantErr) {
				t.Fatalf("NormalizeClientID() error = %v, want %v", err, tc.wantErr)
			}
			if got != tc.want {
				t.Fatalf("NormalizeClientID() = %q, want %q", got, tc.want)
			}
		})
	}
}
