package tuning

import (
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"strings"
	"unicode"
)

// stopwords are common English words excluded from token sets.
var stopwords = map[string]bool{
	"the": true, "a": true, "an": true, "is": true, "are": true,
	"was": true, "were": true, "do": true, "does": true, "did": true,
	"have": true, "has": true, "had": true, "be": true, "been": true,
	"will": true, "would": true, "could": true, "should": true,
	"and": true, "or": true, "but": true, "if": true, "then": true,
	"so": true, "as": true, "at": true, "by": true, "for": true,
	"from": true, "in": true, "into": true, "of": true, "on": true,
	"to": true, "with": true, "it": true, "its": true, "this": true,
	"that": true, "we": true, "they": true, "you": true, "me": true,
	"my": true, "i": true,
}

// TokenSet is a bag-of-tokens with set semantics.
type TokenSet map[string]struct{}

// Tokenize splits text into a set of lowercase alphanumeric tokens,
// dropping stopwords.
func Tokenize(text string) TokenSet {
	words := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '_'
	})
	set := make(TokenSet, len(words))
	for _, w := range words {
		if stopwords[w] {
			continue
		}
		set[w] = struct{}{}
	}
	return set
}

// Sorted returns the tokens in lexical order.
func (s TokenSet) Sorted() []string {
	out := make([]string, 0, len(s))
	for tok := range s {
		out = append(out, tok)
	}
	sort.Strings(out)
	return out
}

// Intersect returns the tokens present in both sets.
func (s TokenSet) Intersect(other TokenSet) TokenSet {
	out := make(TokenSet)
	for tok := range s {
		if _, ok := other[tok]; ok {
			out[tok] = struct{}{}
		}
	}
	return out
}

// Jaccard returns |a ∩ b| / |a ∪ b|. Two empty sets are identical.
func Jaccard(a, b TokenSet) float64 {
	if len(a) == 0 && len(b) == 0 {
		return 1
	}
	inter := 0
	for tok := range a {
		if _, ok := b[tok]; ok {
			inter++
		}
	}
	union := len(a) + len(b) - inter
	return float64(inter) / float64(union)
}

// Fingerprint returns a stable hex digest of text.
func Fingerprint(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])
}

// Excerpt truncates text to at most max runes after applying redact.
func Excerpt(text string, max int, redact func(string) string) string {
	if redact != nil {
		text = redact(text)
	}
	runes := []rune(text)
	if max > 0 && len(runes) > max {
		return string(runes[:max])
	}
	return text
}
