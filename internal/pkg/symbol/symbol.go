package symbol

import (
	"errors"
	"fmt"
	"strings"
)

const maxLen = 32

var ErrInvalid = errors.New("invalid symbol")

// Normalize upper-cases and trims a ticker. Pair notation such as BTC/USD and
// dotted share classes such as BRK.B are kept as-is.
func Normalize(s string) (string, error) {
	s = strings.ToUpper(strings.TrimSpace(s))
	if s == "" {
		return "", fmt.Errorf("%w: empty", ErrInvalid)
	}
	if len(s) > maxLen {
		return "", fmt.Errorf("%w: %q exceeds %d characters", ErrInvalid, s, maxLen)
	}
	for _, r := range s {
		switch {
		case r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
		case r == '/', r == '.', r == '-', r == '_', r == ':':
		default:
			return "", fmt.Errorf("%w: %q contains %q", ErrInvalid, s, r)
		}
	}
	return s, nil
}

// MustNormalize is for constants and tests.
func MustNormalize(s string) string {
	out, err := Normalize(s)
	if err != nil {
		panic(err)
	}
	return out
}

func IsValid(s string) bool {
	_, err := Normalize(s)
	return err == nil
}

// NormalizeList normalizes and de-duplicates, dropping invalid entries.
func NormalizeList(symbols []string) []string {
	if len(symbols) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(symbols))
	out := make([]string, 0, len(symbols))
	for _, s := range symbols {
		norm, err := Normalize(s)
		if err != nil {
			continue
		}
		if _, ok := seen[norm]; ok {
			continue
		}
		seen[norm] = struct{}{}
		out = append(out, norm)
	}
	return out
}
