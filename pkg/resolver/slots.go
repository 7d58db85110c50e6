// Copyright 2026 © The Meshwork Authors
// SPDX-License-Identifier: Apache-2.0

package resolver

import (
	"math"
	"regexp"
	"strings"

	"github.com/jllopis/meshwork/pkg/catalog"
)

// SlotFiller extracts literal argument values for op from a clause. shared
// is the request's leading context segment, possibly empty. Parameters
// the filler cannot bind are left out of the returned map.
type SlotFiller interface {
	Fill(clause, shared string, op catalog.Operation) map[string]interface{}
}

// SlotFillerFunc adapts a function to SlotFiller.
type SlotFillerFunc func(clause, shared string, op catalog.Operation) map[string]interface{}

// Fill calls f.
func (f SlotFillerFunc) Fill(clause, shared string, op catalog.Operation) map[string]interface{} {
	return f(clause, shared, op)
}

type paramKind int

const (
	kindText paramKind = iota
	kindID
	kindDoctor
	kindDate
	kindEnum
	kindNumber
	kindBoolean
)

func kindOf(p catalog.ParameterSpec) paramKind {
	lower := strings.ToLower(p.Name)
	switch {
	case p.Type == catalog.TypeNumber || p.Type == catalog.TypeInteger:
		return kindNumber
	case p.Type == catalog.TypeBoolean:
		return kindBoolean
	case isIDParam(p.Name):
		return kindID
	case strings.Contains(lower, "doctor") || strings.Contains(lower, "physician"):
		return kindDoctor
	case strings.Contains(lower, "date"):
		return kindDate
	}
	if _, ok := enumValues[lower]; ok {
		return kindEnum
	}
	return kindText
}

func isIDParam(name string) bool {
	return len(name) > 2 && strings.HasSuffix(name, "Id")
}

// idEntity returns the lowercase entity an identifier parameter names:
// "labOrderId" is "laborder".
func idEntity(name string) string {
	return strings.ToLower(strings.TrimSuffix(name, "Id"))
}

var (
	terminator       = regexp.MustCompile(`(?i)\s+(?:for|with|on|at|by|from|due|because|and|then)\s|[,;]`)
	objectTerminator = regexp.MustCompile(`(?i)\s+(?:for|with|on|at|by|from|due|because|and|then|to|of)\s|[,;]`)
	forPhrase        = regexp.MustCompile(`(?i)\bfor\s+`)
	namedPhrase      = regexp.MustCompile(`(?i)\b(?:named|called)\s+`)
	reasonPhrase     = regexp.MustCompile(`(?i)\b(?:because(?:\s+of)?|due\s+to|reason(?:\s+is)?:?)\s+`)
	agePhrase        = regexp.MustCompile(`(?i)\b(\d{1,3})\s*(?:years?|yrs?)(?:\s+old)?\b|\baged?\s*:?\s*(\d{1,3})\b`)
	possessive       = regexp.MustCompile(`(?i)'s\b`)
	spaces           = regexp.MustCompile(`\s+`)
)

var fillerWords = map[string]struct{}{
	"patient": {}, "patients": {}, "id": {}, "a": {}, "an": {}, "the": {},
	"their": {}, "his": {}, "her": {}, "its": {},
}

var edgeWords = map[string]struct{}{
	"of": {}, "for": {}, "with": {}, "on": {}, "at": {}, "to": {}, "and": {},
	"as": {}, "by": {}, "mark": {}, "in": {},
}

// genericNumberWords never label a number on their own.
var genericNumberWords = map[string]struct{}{
	"number": {}, "of": {}, "total": {},
}

// Heuristic is the default SlotFiller. It recognizes identifiers by
// prefix, doctor names, dates, money, labeled numbers, enumerations,
// quoted strings and the "for ..." and object phrases of a clause.
type Heuristic struct{}

// Fill implements SlotFiller.
func (Heuristic) Fill(clause, shared string, op catalog.Operation) map[string]interface{} {
	out := make(map[string]interface{})
	local, lead := extract(clause), extract(shared)
	verbs := verbsOf(op)
	for _, p := range op.Parameters {
		if v, ok := fillParam(p, clause, local, lead, op, verbs); ok {
			out[p.Name] = v
		}
	}
	return out
}

func verbsOf(op catalog.Operation) map[string]struct{} {
	verbs := make(map[string]struct{}, len(baseVerbs)+1)
	for _, v := range baseVerbs {
		verbs[v] = struct{}{}
	}
	if words := nameWords(op.Name); len(words) > 0 {
		verbs[words[0]] = struct{}{}
	}
	return verbs
}

func fillParam(p catalog.ParameterSpec, clause string, local, shared *entities, op catalog.Operation, verbs map[string]struct{}) (interface{}, bool) {
	switch kindOf(p) {
	case kindID:
		prefixes, ok := idPrefixes[idEntity(p.Name)]
		if !ok {
			return nil, false
		}
		if v, ok := local.takeID(prefixes); ok {
			return v, true
		}
		return shared.takeID(prefixes)
	case kindDoctor:
		if v, ok := take(local.doctors); ok {
			return v, true
		}
		return take(shared.doctors)
	case kindDate:
		if v, ok := take(local.dates); ok {
			return v, true
		}
		return take(shared.dates)
	case kindEnum:
		values := enumValues[strings.ToLower(p.Name)]
		if v, ok := local.enum(values); ok {
			return v, true
		}
		return shared.enum(values)
	case kindNumber:
		f, ok := fillNumber(p, clause, local)
		if !ok {
			return nil, false
		}
		if p.Type == catalog.TypeInteger {
			if f != math.Trunc(f) {
				return nil, false
			}
			return int(f), true
		}
		return f, true
	case kindBoolean:
		return nil, false
	default:
		v := fillText(p, clause, local, op, verbs)
		return v, v != ""
	}
}

func fillNumber(p catalog.ParameterSpec, clause string, local *entities) (float64, bool) {
	lower := strings.ToLower(p.Name)
	if strings.Contains(lower, "amount") || strings.Contains(lower, "price") || strings.Contains(lower, "cost") {
		if f, ok := local.takeMoney(); ok {
			return f, true
		}
	}
	if lower == "age" {
		if m := agePhrase.FindStringSubmatch(clause); m != nil {
			raw := m[1]
			if raw == "" {
				raw = m[2]
			}
			return float64(atoi(raw)), true
		}
	}
	var labels []string
	for _, w := range nameWords(p.Name) {
		if _, generic := genericNumberWords[w]; generic {
			continue
		}
		if k := catalog.Normalize(w); k != "" {
			labels = append(labels, k)
		}
	}
	return labeledNumber(moneyPattern.ReplaceAllString(clause, " "), labels)
}

// fillText tries the text extraction strategies in order. Type-like
// parameters prefer the object of the clause, other text parameters
// prefer explicit naming.
func fillText(p catalog.ParameterSpec, clause string, local *entities, op catalog.Operation, verbs map[string]struct{}) string {
	var strategies []func() string
	quoted := func() string { v, _ := take(local.quoted); return v }
	labeled := func() string { return labeledPhrase(clause, p.Name) }
	object := func() string { return objectPhrase(clause, op, verbs) }
	forP := func() string { return firstForPhrase(clause) }
	named := func() string { return phraseAfter(namedPhrase, clause) }
	reason := func() string { return phraseAfter(reasonPhrase, clause) }

	switch lower := strings.ToLower(p.Name); {
	case strings.HasSuffix(p.Name, "Type"):
		strategies = []func() string{quoted, labeled, object, forP}
	case lower == "reason":
		strategies = []func() string{quoted, labeled, reason}
	default:
		strategies = []func() string{quoted, labeled, named, forP, object}
	}
	for _, s := range strategies {
		if v := s(); v != "" {
			return v
		}
	}
	return ""
}

// labeledPhrase finds "<param words> [is|of|:] value".
func labeledPhrase(clause, param string) string {
	words := nameWords(param)
	if len(words) == 0 {
		return ""
	}
	quoted := make([]string, len(words))
	for i, w := range words {
		quoted[i] = regexp.QuoteMeta(w)
	}
	re, err := regexp.Compile(`(?i)\b` + strings.Join(quoted, `\s+`) + `\b\s*(?::|=|\bis\b|\bof\b)?\s*`)
	if err != nil {
		return ""
	}
	return phraseAfter(re, clause)
}

func phraseAfter(re *regexp.Regexp, clause string) string {
	loc := re.FindStringIndex(clause)
	if loc == nil {
		return ""
	}
	return clean(cut(clause[loc[1]:], terminator))
}

// firstForPhrase returns the first "for ..." phrase that still carries
// text once entities and filler words are removed.
func firstForPhrase(clause string) string {
	for _, loc := range forPhrase.FindAllStringIndex(clause, -1) {
		if v := clean(cut(clause[loc[1]:], terminator)); v != "" {
			return v
		}
	}
	return ""
}

// objectPhrase returns what follows the clause's first verb, minus the
// words that merely repeat the operation name.
func objectPhrase(clause string, op catalog.Operation, verbs map[string]struct{}) string {
	loc := firstVerb(clause, verbs)
	if loc == nil {
		return ""
	}
	phrase := clean(cut(clause[loc[1]:], objectTerminator))
	return trimNameWords(phrase, op)
}

func firstVerb(clause string, verbs map[string]struct{}) []int {
	for _, loc := range wordPattern.FindAllStringIndex(clause, -1) {
		if _, ok := verbs[strings.ToLower(clause[loc[0]:loc[1]])]; ok {
			return loc
		}
	}
	return nil
}

var wordPattern = regexp.MustCompile(`[A-Za-z]+`)

func trimNameWords(phrase string, op catalog.Operation) string {
	names := make(map[string]struct{})
	for _, k := range catalog.Keywords(op.Name) {
		names[k] = struct{}{}
	}
	isName := func(w string) bool {
		_, ok := names[catalog.Normalize(w)]
		return ok
	}
	words := strings.Fields(phrase)
	for len(words) > 0 && isName(words[0]) {
		words = words[1:]
	}
	for len(words) > 0 && isName(words[len(words)-1]) {
		words = words[:len(words)-1]
	}
	return strings.Join(words, " ")
}

func cut(s string, re *regexp.Regexp) string {
	if loc := re.FindStringIndex(s); loc != nil {
		return s[:loc[0]]
	}
	return s
}

// clean removes entities and filler words from an extracted phrase.
func clean(s string) string {
	s = stripEntities(s)
	s = possessive.ReplaceAllString(s, "")
	var words []string
	for _, w := range strings.Fields(spaces.ReplaceAllString(s, " ")) {
		if _, filler := fillerWords[strings.ToLower(strings.Trim(w, `.,;:!?"'`))]; filler {
			continue
		}
		words = append(words, w)
	}
	for len(words) > 0 && isEdgeWord(words[0]) {
		words = words[1:]
	}
	for len(words) > 0 && isEdgeWord(words[len(words)-1]) {
		words = words[:len(words)-1]
	}
	return strings.Trim(strings.Join(words, " "), ` .,;:!?"'`)
}

func isEdgeWord(w string) bool {
	_, ok := edgeWords[strings.ToLower(strings.Trim(w, `.,;:!?"'`))]
	return ok
}
