package carpark

import (
	"strings"

	"golang.org/x/text/unicode/norm"
)

// NormalizeKey returns the canonical form of a car park name: trimmed and
// NFC-normalised, so visually identical names map to one key.
func NormalizeKey(name string) string {
	return norm.NFC.String(strings.TrimSpace(name))
}
