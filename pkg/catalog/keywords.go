// Copyright 2026 © The Meshwork Authors
// SPDX-License-Identifier: Apache-2.0

package catalog

import (
	"strings"
	"unicode"
)

var stopwords = map[string]struct{}{
	"a": {}, "an": {}, "the": {}, "and": {}, "or": {}, "of": {}, "for": {}, "to": {},
	"on": {}, "in": {}, "at": {}, "by": {}, "with": {}, "from": {}, "into": {}, "is": {},
	"are": {}, "be": {}, "it": {}, "its": {}, "this": {}, "that": {}, "their": {},
	"his": {}, "her": {}, "my": {}, "me": {}, "please": {}, "then": {}, "also": {},
	"all": {}, "any": {}, "new": {}, "as": {}, "after": {}, "before": {}, "via": {},
	"s": {},
}

// synonyms folds request verbs onto the verbs operation names use.
var synonyms = map[string]string{
	"show":     "get",
	"view":     "get",
	"display":  "get",
	"fetch":    "get",
	"retrieve": "get",
	"find":     "get",
	"lookup":   "get",
	"look":     "get",
	"list":     "get",
	"read":     "get",
	"book":     "schedule",
	"pay":      "payment",
	"bill":     "invoice",
}

// Keywords returns the normalized, de-duplicated search terms of text in
// order of first appearance. camelCase is split, words are lowercased,
// stopwords and tokens containing digits are dropped, plurals are folded
// and common verb synonyms are mapped.
func Keywords(text string) []string {
	seen := make(map[string]struct{})
	var out []string
	for _, w := range splitWords(text) {
		k, ok := normalizeWord(w)
		if !ok {
			continue
		}
		if _, dup := seen[k]; dup {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, k)
	}
	return out
}

// Normalize returns the search term for a single word, or "" when the
// word carries no search weight.
func Normalize(word string) string {
	k, _ := normalizeWord(word)
	return k
}

func normalizeWord(w string) (string, bool) {
	w = strings.ToLower(w)
	if len(w) < 2 {
		return "", false
	}
	for _, r := range w {
		if unicode.IsDigit(r) {
			return "", false
		}
	}
	if _, stop := stopwords[w]; stop {
		return "", false
	}
	w = singular(w)
	if s, ok := synonyms[w]; ok {
		w = s
	}
	return w, true
}

func singular(w string) string {
	switch {
	case len(w) > 4 && strings.HasSuffix(w, "ies"):
		return w[:len(w)-3] + "y"
	case len(w) > 3 && strings.HasSuffix(w, "s") &&
		!strings.HasSuffix(w, "ss") && !strings.HasSuffix(w, "us") && !strings.HasSuffix(w, "is"):
		return w[:len(w)-1]
	default:
		return w
	}
}

// splitWords splits on non-alphanumerics and on camelCase boundaries.
func splitWords(text string) []string {
	var words []string
	var cur []rune
	flush := func() {
		if len(cur) > 0 {
			words = append(words, string(cur))
			cur = cur[:0]
		}
	}
	runes := []rune(text)
	for i, r := range runes {
		if !unicode.IsLetter(r) && !unicode.IsDigit(r) {
			flush()
			continue
		}
		if unicode.IsUpper(r) && len(cur) > 0 {
			prev := runes[i-1]
			nextLower := i+1 < len(runes) && unicode.IsLower(runes[i+1])
			if unicode.IsLower(prev) || unicode.IsDigit(prev) || (unicode.IsUpper(prev) && nextLower) {
				flush()
			}
		}
		cur = append(cur, r)
	}
	flush()
	return words
}
