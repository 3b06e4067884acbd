package escape

import (
	"strings"
)

// Token maps an escape sequence written by the collector to the literal it replaces
type Token struct {
	Escaped string
	Literal string
}

// DefaultTokens is the collector's escaping scheme in decode order.
// %25 must stay last: decoding it earlier could turn "%253A" into a fresh %3A token.
var DefaultTokens = []Token{
	{Escaped: "%3A", Literal: ":"},
	{Escaped: "%2E", Literal: "."},
	{Escaped: "%5C", Literal: `\`},
	{Escaped: "%25", Literal: "%"},
}

// Decoder reverses an ordered token table over path segments
type Decoder struct {
	tokens []Token
}

// NewDecoder creates a decoder for the given tokens, applied in order
func NewDecoder(tokens []Token) *Decoder {
	t := make([]Token, len(tokens))
	copy(t, tokens)
	return &Decoder{tokens: t}
}

var defaultDecoder = NewDecoder(DefaultTokens)

// Default returns the decoder for the collector's escaping scheme
func Default() *Decoder {
	return defaultDecoder
}

// Decode returns the literal form of an escaped name using DefaultTokens
func Decode(name string) string {
	return defaultDecoder.Decode(name)
}

// Decode returns the literal form of name. Tokens match case-insensitively.
func (d *Decoder) Decode(name string) string {
	for _, t := range d.tokens {
		name = replaceFold(name, t.Escaped, t.Literal)
	}
	return name
}

// replaceFold replaces every ASCII case-insensitive occurrence of old in s
func replaceFold(s, old, literal string) string {
	if old == "" || len(s) < len(old) {
		return s
	}

	var b strings.Builder
	i, last := 0, 0
	for i+len(old) <= len(s) {
		if strings.EqualFold(s[i:i+len(old)], old) {
			b.WriteString(s[last:i])
			b.WriteString(literal)
			i += len(old)
			last = i
			continue
		}
		i++
	}
	if last == 0 {
		return s
	}
	b.WriteString(s[last:])
	return b.String()
}
