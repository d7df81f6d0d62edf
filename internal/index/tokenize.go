package index

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// Tokenize lowercases, strips diacritics and splits on non-alphanumeric
// runes. Single-letter tokens are dropped unless numeric, so years survive
// while Italian articles and stray letters do not.
func Tokenize(text string) []string {
	folded := foldDiacritics(strings.ToLower(text))

	var tokens []string
	var sb strings.Builder
	flush := func() {
		if sb.Len() == 0 {
			return
		}
		tok := sb.String()
		sb.Reset()
		if len(tok) >= 2 || unicode.IsDigit(rune(tok[0])) {
			tokens = append(tokens, tok)
		}
	}

	for _, r := range folded {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			sb.WriteRune(r)
			continue
		}
		flush()
	}
	flush()
	return tokens
}

// foldDiacritics maps accented letters to their base form (città -> citta).
// Transformers carry state, so a fresh chain is built per call.
func foldDiacritics(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	out, _, err := transform.String(t, s)
	if err != nil {
		return s
	}
	return out
}
