// Package textnorm holds the text folding rules shared by search needles and
// cell values, so that a normalized needle always meets an identically
// normalized haystack.
package textnorm

import (
	"fmt"
	"strings"
	"time"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// StripAccents decomposes s to base letters (NFKD) and discards combining
// marks, e.g. "São Paulo" becomes "Sao Paulo".
func StripAccents(s string) string {
	if s == "" {
		return s
	}
	// transformers keep internal state, build a fresh chain per call.
	t := transform.Chain(norm.NFKD, runes.Remove(runes.In(unicode.Mn)))
	out, _, err := transform.String(t, s)
	if err != nil {
		return s
	}
	return out
}

// Fold lower-cases s unless caseSensitive and strips diacritics when
// accentInsensitive.
func Fold(s string, caseSensitive, accentInsensitive bool) string {
	if !caseSensitive {
		s = strings.ToLower(s)
	}
	if accentInsensitive {
		s = StripAccents(s)
	}
	return s
}

// ValueString renders a cell value as display text. nil renders empty.
func ValueString(v any) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	case []byte:
		return string(val)
	case time.Time:
		return val.Format(time.RFC3339)
	case *time.Time:
		if val == nil {
			return ""
		}
		return val.Format(time.RFC3339)
	case fmt.Stringer:
		return val.String()
	default:
		return fmt.Sprint(val)
	}
}

// FoldValue is Fold applied to ValueString(v).
func FoldValue(v any, caseSensitive, accentInsensitive bool) string {
	return Fold(ValueString(v), caseSensitive, accentInsensitive)
}
