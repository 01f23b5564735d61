// Package normalizer handles regional money, date and direction conventions
// found in Brazilian and international bank statements.
package normalizer

import (
	"errors"
	"regexp"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

var (
	ErrInvalidAmount = errors.New("invalid amount format")
	ErrInvalidDate   = errors.New("invalid date format")
	ErrUnknownLocale = errors.New("unknown locale")
)

var spacePattern = regexp.MustCompile(`\s+`)

// CleanDescription normalizes merchant/description text
func CleanDescription(raw string) string {
	result := strings.TrimSpace(raw)
	result = spacePattern.ReplaceAllString(result, " ")
	return result
}

// FoldAccents strips combining marks so "Crédito" and "Credito" compare equal.
func FoldAccents(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	out, _, err := transform.String(t, s)
	if err != nil {
		return s
	}
	return out
}

// FoldHeader lowercases, removes accents and collapses whitespace. Used for
// header-name and keyword comparisons.
func FoldHeader(s string) string {
	return strings.ToLower(CleanDescription(FoldAccents(s)))
}
