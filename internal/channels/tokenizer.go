// Package channels implements the three retrieval channels the harness
// measures: keyword full-text match, vector nearest-neighbor, and
// structured-relation lookup. Each adapter maps (query text, limit) to
// an ordered candidate list; an empty list is a first-class outcome, and
// store or inference faults are recorded on the result instead of
// propagating.
package channels

import (
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"
)

const minTokenLen = 3

// stopwords are dropped from keyword queries. Words shorter than three
// characters never reach this table.
var stopwords = map[string]bool{
	"the": true, "and": true, "for": true, "are": true, "was": true,
	"has": true, "had": true, "not": true, "but": true, "all": true,
	"any": true, "can": true, "this": true, "that": true, "these": true,
	"those": true, "with": true, "from": true, "into": true, "onto": true,
	"about": true, "over": true, "under": true, "than": true, "then": true,
	"them": true, "they": true, "their": true, "there": true, "some": true,
	"much": true, "many": true, "most": true, "very": true, "your": true,
	"yours": true, "you": true, "our": true, "ours": true, "its": true,
	"his": true, "her": true, "hers": true, "she": true, "him": true,
	"how": true, "why": true, "who": true, "whom": true, "what": true,
	"when": true, "where": true, "which": true, "does": true, "did": true,
	"doing": true, "done": true, "will": true, "would": true, "could": true,
	"should": true, "shall": true, "may": true, "might": true, "must": true,
	"been": true, "being": true, "have": true, "having": true, "just": true,
	"only": true, "also": true, "such": true, "each": true, "other": true,
	"more": true, "less": true, "need": true, "want": true,
}

// Tokenize turns free text into search terms: NFKC normalization,
// lower-casing, punctuation stripped to spaces, tokens under three
// characters and stopwords dropped, duplicates removed keeping
// first-seen order.
func Tokenize(text string) []string {
	normalized := norm.NFKC.String(text)
	normalized = strings.ToLower(normalized)

	var b strings.Builder
	b.Grow(len(normalized))
	for _, r := range normalized {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
		} else {
			b.WriteRune(' ')
		}
	}

	var terms []string
	seen := make(map[string]bool)
	for _, tok := range strings.Fields(b.String()) {
		if len([]rune(tok)) < minTokenLen {
			continue
		}
		if stopwords[tok] {
			continue
		}
		if seen[tok] {
			continue
		}
		seen[tok] = true
		terms = append(terms, tok)
	}
	return terms
}
