// Copyright 2026 © The Meshwork Authors
// SPDX-License-Identifier: Apache-2.0

package resolver

import (
	"regexp"
	"strings"

	"github.com/jllopis/meshwork/pkg/catalog"
)

var (
	strongSeparator = regexp.MustCompile(`(?i)\s*;\s*|,?\s+and\s+then\s+|,?\s+after\s+that,?\s+|,?\s+then,?\s+`)
	sentenceEnd     = regexp.MustCompile(`\.\s+`)
	softSeparator   = regexp.MustCompile(`(?i),\s*(?:and\s+)?([a-z]+)|\s+and\s+([a-z]+)`)
	contextLead     = regexp.MustCompile(`(?i)^(?:for|regarding|about|concerning|re)\b`)
)

// abbreviations end in a period without ending a sentence.
var abbreviations = map[string]struct{}{
	"dr": {}, "mr": {}, "mrs": {}, "ms": {}, "st": {}, "no": {},
}

// baseVerbs are request verbs recognized regardless of the catalog.
var baseVerbs = []string{
	"get", "show", "view", "display", "list", "find", "fetch", "retrieve", "review",
	"check", "look", "see", "pull", "read", "open", "set", "book", "pay", "bill",
}

// verbSet returns the verbs that may start a clause: the base verbs plus
// the leading word of every operation name in c.
func verbSet(c *catalog.Catalog) map[string]struct{} {
	verbs := make(map[string]struct{}, len(baseVerbs))
	for _, v := range baseVerbs {
		verbs[v] = struct{}{}
	}
	for _, op := range c.Operations() {
		if words := nameWords(op.Name); len(words) > 0 {
			verbs[words[0]] = struct{}{}
		}
	}
	return verbs
}

// nameWords splits a camelCase operation or parameter name into lowercase
// words without normalizing them.
func nameWords(name string) []string {
	var words []string
	start := 0
	for i := 1; i < len(name); i++ {
		if name[i] >= 'A' && name[i] <= 'Z' && name[i-1] >= 'a' && name[i-1] <= 'z' {
			words = append(words, strings.ToLower(name[start:i]))
			start = i
		}
	}
	if start < len(name) {
		words = append(words, strings.ToLower(name[start:]))
	}
	return words
}

func hasVerb(segment string, verbs map[string]struct{}) bool {
	for _, w := range strings.FieldsFunc(strings.ToLower(segment), notLetter) {
		if _, ok := verbs[w]; ok {
			return true
		}
	}
	return false
}

func notLetter(r rune) bool {
	return (r < 'a' || r > 'z') && (r < 'A' || r > 'Z')
}

// splitClauses breaks text into action clauses. A leading verb-less
// segment that only qualifies the request ("For patient PT-1, ...") is
// returned as shared context instead of a clause.
func (r *Resolver) splitClauses(text string, c *catalog.Catalog) (shared string, clauses []string) {
	verbs := verbSet(c)
	var segments []string
	for _, part := range strongSeparator.Split(text, -1) {
		for _, sentence := range splitSentences(part) {
			segments = append(segments, splitOnVerbs(sentence, verbs)...)
		}
	}
	for _, s := range segments {
		s = strings.Trim(s, " \t\n.,;")
		if s != "" {
			clauses = append(clauses, s)
		}
	}
	if len(clauses) > 1 && r.isContext(clauses[0], c, verbs) {
		return clauses[0], clauses[1:]
	}
	return "", clauses
}

func (r *Resolver) isContext(segment string, c *catalog.Catalog, verbs map[string]struct{}) bool {
	if hasVerb(segment, verbs) {
		return false
	}
	if contextLead.MatchString(segment) {
		return true
	}
	matches := c.Lookup(segment)
	return len(matches) == 0 || matches[0].Confidence < r.minConfidence
}

func splitSentences(text string) []string {
	var out []string
	start := 0
	for _, loc := range sentenceEnd.FindAllStringIndex(text, -1) {
		if isAbbreviation(text[start:loc[0]]) {
			continue
		}
		out = append(out, text[start:loc[0]])
		start = loc[1]
	}
	return append(out, text[start:])
}

func isAbbreviation(before string) bool {
	fields := strings.Fields(before)
	if len(fields) == 0 {
		return false
	}
	_, ok := abbreviations[strings.ToLower(fields[len(fields)-1])]
	return ok
}

// splitOnVerbs splits at ", <verb>", ", and <verb>" and " and <verb>".
// The connector is dropped and the verb starts the next segment.
func splitOnVerbs(text string, verbs map[string]struct{}) []string {
	var out []string
	start := 0
	for _, m := range softSeparator.FindAllStringSubmatchIndex(text, -1) {
		wordStart, wordEnd := m[2], m[3]
		if wordStart < 0 {
			wordStart, wordEnd = m[4], m[5]
		}
		if _, ok := verbs[strings.ToLower(text[wordStart:wordEnd])]; !ok {
			continue
		}
		out = append(out, text[start:m[0]])
		start = wordStart
	}
	return append(out, text[start:])
}
