package policy

import (
	"errors"
	"strings"
	"unicode"
	"unicode/utf8"
)

const MaxClientIDRunes = 128

var (
	ErrClientIDRequired = errors.New("client_id required")
	ErrClientIDInvalid  = errors.New("client_id must be at most 128 printable characters")
)

// NormalizeClientID returns the first non-blank candidate, trimmed. Client ids
// are opaque but must be printable and bounded since they end up in log
// fields and archive object keys.
func NormalizeClientID(candidates ...string) (string, error) {
	for _, c := range candidates {
		id := strings.TrimSpace(c)
		if id == "" {
			continue
		}
		if utf8.RuneCountInString(id) > MaxClientIDRunes || !utf8.ValidString(id) {
			return "", ErrClientIDInvalid
		}
		for _, r := range id {
			if !unicode.IsPrint(r) {
				return "", ErrClientIDInvalid
			}
		}
		return id, nil
	}
	return "", ErrClientIDRequired
}
