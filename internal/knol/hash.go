// Package knol derives a stable identity for flashcard content so that the
// same card imported twice is recognised as a duplicate.
package knol

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"

	"github.com/conorfennell/cardcue/internal/domain"
)

// Normalize lowercases, trims and normalises line endings of each side, then
// joins them with a newline so "ab"+"c" and "a"+"bc" stay distinct.
func Normalize(d domain.Draft) string {
	clean := func(part string) string {
		p := strings.ReplaceAll(part, "\r\n", "\n")
		return strings.ToLower(strings.TrimSpace(p))
	}
	return clean(d.Front) + "\n" + clean(d.Back)
}

// Hash returns the hex SHA-256 of the normalised draft.
func Hash(d domain.Draft) string {
	sum := sha256.Sum256([]byte(Normalize(d)))
	return hex.EncodeToString(sum[:])
}
