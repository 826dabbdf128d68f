package db

import (
	"strconv"
	"strings"
	"unicode/utf8"
)

const hexDigits = "0123456789abcdef"

// Tokenize lowers text and turns every character into one alphanumeric
// token, so the FTS5 unicode61 tokenizer sees one token per character.
// ASCII characters become their two hex digits; anything else becomes "u"
// followed by the hex code point. Dashes, slashes and pipes are therefore
// ordinary searchable characters rather than word separators.
func Tokenize(text string) string {
	lower := strings.ToLower(text)

	var b strings.Builder
	b.Grow(len(lower) * 3)
	for _, r := range lower {
		if b.Len() > 0 {
			b.WriteByte(' ')
		}
		if r < utf8.RuneSelf {
			b.WriteByte(hexDigits[r>>4])
			b.WriteByte(hexDigits[r&0x0f])
			continue
		}
		b.WriteByte('u')
		b.WriteString(strconv.FormatInt(int64(r), 16))
	}
	return b.String()
}

// PhraseQuery converts a search term into an FTS5 MATCH expression that is
// true exactly when the lowered term is a substring of the lowered command.
// Returns "" for an empty term.
func PhraseQuery(term string) string {
	tokens := Tokenize(term)
	if tokens == "" {
		return ""
	}
	// Tokens are [0-9a-fu] only, so no quote escaping is needed.
	return `"` + tokens + `"`
}
