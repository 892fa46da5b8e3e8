package chunk

import (
	"unicode"
	"unicode/utf8"
)

// span is a token's byte range in its source text.
type span struct {
	start, end int
}

// tokenize returns every maximal run of non-whitespace characters.
func tokenize(text string) []span {
	var spans []span
	start := -1
	for i, r := range text {
		if unicode.IsSpace(r) {
			if start >= 0 {
				spans = append(spans, span{start, i})
				start = -1
			}
			continue
		}
		if start < 0 {
			start = i
		}
	}
	if start >= 0 {
		spans = append(spans, span{start, len(text)})
	}
	return spans
}

// CountTokens returns the number of tokens the chunker sees in text.
func CountTokens(text string) int {
	n := 0
	inToken := false
	for len(text) > 0 {
		r, size := utf8.DecodeRuneInString(text)
		text = text[size:]
		if unicode.IsSpace(r) {
			inToken = false
			continue
		}
		if !inToken {
			n++
			inToken = true
		}
	}
	return n
}
