package delivery

import (
	"errors"
	"strings"
)

// NormalizePhone strips formatting from a phone number and prefixes
// the US country code when the bare ten digits are given.
func NormalizePhone(raw string) (string, error) {
	var digits strings.Builder
	for _, r := range raw {
		if r >= '0' && r <= '9' {
			digits.WriteRune(r)
		}
	}
	normalized := digits.String()
	if normalized == "" {
		return "", errors.New("phone number has no digits")
	}
	if len(normalized) == 10 {
		normalized = "1" + normalized
	}
	return normalized, nil
}
