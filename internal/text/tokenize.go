// Package text provides the tokenizer shared by scoring, embedding and reflection.
package text

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

var stopwords = map[string]bool{
	"a": true, "an": true, "the": true, "and": true, "or": true, "but": true,
	"of": true, "to": true, "in": true, "on": true, "at": true, "for": true,
	"with": true, "by": true, "from": true, "as": true, "is": true, "are": true,
	"was": true, "were": true, "be": true, "been": true, "it": true, "its": true,
	"this": true, "that": true, "these": true, "those": true, "what": true,
	"which": true, "who": true, "whom": true, "does": true, "do": true, "did": true,
	"has": true, "have": true, "had": true, "i": true, "me": true, "my": true,
	"we": true, "our": true, "you": true, "your": true, "he": true, "she": true,
	"they": true, "them": true, "their": true, "so": true, "if": true, "then": true,
	"than": true, "there": true, "here": true, "into": true, "about": true,
	"can": true, "will": true, "would": true, "should": true, "could": true,
	"not": true, "no": true, "yes": true, "any": true, "all": true, "some": true,
}

// Fold lowercases s and strips diacritics.
func Fold(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	out, _, err := transform.String(t, s)
	if err != nil {
		out = s
	}
	return strings.ToLower(out)
}

// Words splits s into folded words, keeping stopwords.
func Words(s string) []string {
	return strings.FieldsFunc(Fold(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

// Tokens returns the stemmed content words of s, stopwords removed.
func Tokens(s string) []string {
	words := Words(s)
	out := make([]string, 0, len(words))
	for _, w := range words {
		if stopwords[w] || len(w) < 2 {
			continue
		}
		out = append(out, Stem(w))
	}
	return out
}

// TokenSet returns the distinct tokens of s.
func TokenSet(s string) map[string]bool {
	set := map[string]bool{}
	for _, t := range Tokens(s) {
		set[t] = true
	}
	return set
}

// Bigrams returns adjacent token pairs joined by a space.
func Bigrams(tokens []string) []string {
	if len(tokens) < 2 {
		return nil
	}
	out := make([]string, 0, len(tokens)-1)
	for i := 0; i+1 < len(tokens); i++ {
		out = append(out, tokens[i]+" "+tokens[i+1])
	}
	return out
}

// Stem strips a few common English suffixes. It is deliberately light:
// "prefers" and "preferred" both become "prefer".
func Stem(w string) string {
	for _, suf := range []string{"ing", "ied", "ies", "ed", "es", "ly", "s"} {
		if len(w) > len(suf)+2 && strings.HasSuffix(w, suf) {
			base := w[:len(w)-len(suf)]
			switch suf {
			case "ied", "ies":
				return base + "y"
			case "ed", "ing":
				if n := len(base); n > 2 && base[n-1] == base[n-2] {
					base = base[:n-1]
				}
			case "es":
				if !hasAnySuffix(base, "s", "x", "z", "ch", "sh") {
					return w[:len(w)-1]
				}
			case "s":
				if strings.HasSuffix(base, "s") {
					return w
				}
			}
			return base
		}
	}
	return w
}

func hasAnySuffix(s string, suffixes ...string) bool {
	for _, suf := range suffixes {
		if strings.HasSuffix(s, suf) {
			return true
		}
	}
	return false
}

// Overlap is the fraction of query tokens present in content.
func Overlap(query, content string) float64 {
	q := TokenSet(query)
	if len(q) == 0 {
		return 0
	}
	c := TokenSet(content)
	hit := 0
	for t := range q {
		if c[t] {
			hit++
		}
	}
	return float64(hit) / float64(len(q))
}

// BigramOverlap is the fraction of query bigrams present in content.
func BigramOverlap(query, content string) float64 {
	qb := Bigrams(Tokens(query))
	if len(qb) == 0 {
		return 0
	}
	cset := map[string]bool{}
	for _, b := range Bigrams(Tokens(content)) {
		cset[b] = true
	}
	hit := 0
	for _, b := range qb {
		if cset[b] {
			hit++
		}
	}
	return float64(hit) / float64(len(qb))
}

// Snippet returns the first sentence of s, cut to max runes.
func Snippet(s string, max int) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexAny(s, ".!?\n"); i > 0 {
		s = s[:i]
	}
	r := []rune(s)
	if len(r) > max {
		return string(r[:max]) + "..."
	}
	return s
}
