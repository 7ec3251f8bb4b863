package util

import (
	"unicode/utf8"

	"golang.org/x/text/unicode/norm"
)

// CharCount returns the number of characters in s after NFC composition, so
// "é" counts once whether it arrives precomposed or as e plus a combining
// accent.
func CharCount(s string) int {
	return utf8.RuneCountInString(norm.NFC.String(s))
}
