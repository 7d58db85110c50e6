// Copyright 2026 © The Meshwork Authors
// SPDX-License-Identifier: Apache-2.0

package resolver

import (
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"
)

var (
	idPattern     = regexp.MustCompile(`(?i)\b([a-z]{2,5})-(\d+)\b`)
	doctorPattern = regexp.MustCompile(`\b(?:Dr\.?|Doctor)\s+([A-Z][A-Za-z'-]+)`)
	moneyPattern  = regexp.MustCompile(`(?i)\$\s?(\d{1,3}(?:,\d{3})+|\d+)(\.\d+)?|\b(\d+(?:\.\d+)?)\s*(?:dollars|usd)\b`)
	quotedPattern = regexp.MustCompile(`"([^"]+)"|“([^”]+)”`)

	monthExpr      = `(jan(?:uary)?|feb(?:ruary)?|mar(?:ch)?|apr(?:il)?|may|june?|july?|aug(?:ust)?|sep(?:t(?:ember)?)?|oct(?:ober)?|nov(?:ember)?|dec(?:ember)?)`
	dateMonthFirst = regexp.MustCompile(`(?i)\b` + monthExpr + `\.?\s+(\d{1,2})(?:st|nd|rd|th)?,?\s+(\d{4})\b`)
	dateDayFirst   = regexp.MustCompile(`(?i)\b(\d{1,2})(?:st|nd|rd|th)?\s+` + monthExpr + `\.?,?\s+(\d{4})\b`)
	dateISO        = regexp.MustCompile(`\b(\d{4})-(\d{1,2})-(\d{1,2})\b`)
	dateUS         = regexp.MustCompile(`\b(\d{1,2})/(\d{1,2})/(\d{4})\b`)
)

var months = map[string]time.Month{
	"jan": time.January, "feb": time.February, "mar": time.March, "apr": time.April,
	"may": time.May, "jun": time.June, "jul": time.July, "aug": time.August,
	"sep": time.September, "oct": time.October, "nov": time.November, "dec": time.December,
}

// idPrefixes maps identifier parameter names (lowercased, without the
// trailing "id") to the identifier prefixes they accept.
var idPrefixes = map[string][]string{
	"patient":      {"PT"},
	"appointment":  {"APT"},
	"invoice":      {"INV"},
	"claim":        {"CLM"},
	"laborder":     {"LAB"},
	"imagingorder": {"IMG"},
	"payment":      {"PAY"},
	"plan":         {"PLAN"},
	"note":         {"NOTE"},
	"previoustest": {"LAB", "IMG"},
}

// enumValues lists the accepted values of enumerated parameters, longest
// first so multi-word values win.
var enumValues = map[string][]string{
	"urgency":       {"emergency", "routine", "urgent", "stat", "asap"},
	"priority":      {"emergency", "routine", "urgent", "high", "normal", "low"},
	"paymentmethod": {"bank transfer", "credit card", "debit card", "insurance", "cash", "check"},
}

// span is one extracted value and where it sits in the text.
type span struct {
	value string
	start int
	used  bool
}

// entities holds every entity-shaped value found in a piece of text.
type entities struct {
	ids     map[string][]*span
	doctors []*span
	dates   []*span
	money   []*span
	quoted  []*span
	lower   string
}

func extract(text string) *entities {
	e := &entities{ids: map[string][]*span{}, lower: strings.ToLower(text)}
	for _, m := range idPattern.FindAllStringSubmatchIndex(text, -1) {
		prefix := strings.ToUpper(text[m[2]:m[3]])
		e.ids[prefix] = append(e.ids[prefix], &span{value: prefix + "-" + text[m[4]:m[5]], start: m[0]})
	}
	for _, m := range doctorPattern.FindAllStringSubmatchIndex(text, -1) {
		e.doctors = append(e.doctors, &span{value: text[m[2]:m[3]], start: m[0]})
	}
	for _, m := range moneyPattern.FindAllStringSubmatchIndex(text, -1) {
		var raw string
		switch {
		case m[2] >= 0:
			raw = strings.ReplaceAll(text[m[2]:m[3]], ",", "")
			if m[4] >= 0 {
				raw += text[m[4]:m[5]]
			}
		case m[6] >= 0:
			raw = text[m[6]:m[7]]
		}
		e.money = append(e.money, &span{value: raw, start: m[0]})
	}
	for _, m := range quotedPattern.FindAllStringSubmatchIndex(text, -1) {
		for g := 2; g+1 < len(m); g += 2 {
			if m[g] >= 0 {
				e.quoted = append(e.quoted, &span{value: strings.TrimSpace(text[m[g]:m[g+1]]), start: m[0]})
				break
			}
		}
	}
	e.dates = findDates(text)
	return e
}

func findDates(text string) []*span {
	var out []*span
	add := func(start, year int, month time.Month, day int) {
		d := time.Date(year, month, day, 0, 0, 0, 0, time.UTC)
		if d.Day() != day || d.Month() != month {
			return
		}
		out = append(out, &span{value: d.Format("2006-01-02"), start: start})
	}
	for _, m := range dateMonthFirst.FindAllStringSubmatchIndex(text, -1) {
		add(m[0], atoi(text[m[6]:m[7]]), monthOf(text[m[2]:m[3]]), atoi(text[m[4]:m[5]]))
	}
	for _, m := range dateDayFirst.FindAllStringSubmatchIndex(text, -1) {
		add(m[0], atoi(text[m[6]:m[7]]), monthOf(text[m[4]:m[5]]), atoi(text[m[2]:m[3]]))
	}
	for _, m := range dateISO.FindAllStringSubmatchIndex(text, -1) {
		add(m[0], atoi(text[m[2]:m[3]]), time.Month(atoi(text[m[4]:m[5]])), atoi(text[m[6]:m[7]]))
	}
	for _, m := range dateUS.FindAllStringSubmatchIndex(text, -1) {
		add(m[0], atoi(text[m[6]:m[7]]), time.Month(atoi(text[m[2]:m[3]])), atoi(text[m[4]:m[5]]))
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].start < out[j].start })
	return out
}

func monthOf(name string) time.Month {
	name = strings.ToLower(name)
	if len(name) > 3 {
		name = name[:3]
	}
	return months[name]
}

func atoi(s string) int {
	n, _ := strconv.Atoi(s)
	return n
}

// takeID returns the first unused identifier with one of prefixes.
func (e *entities) takeID(prefixes []string) (string, bool) {
	var best *span
	for _, p := range prefixes {
		for _, s := range e.ids[p] {
			if !s.used && (best == nil || s.start < best.start) {
				best = s
			}
		}
	}
	if best == nil {
		return "", false
	}
	best.used = true
	return best.value, true
}

func take(spans []*span) (string, bool) {
	for _, s := range spans {
		if !s.used {
			s.used = true
			return s.value, true
		}
	}
	return "", false
}

func (e *entities) takeMoney() (float64, bool) {
	raw, ok := take(e.money)
	if !ok {
		return 0, false
	}
	f, err := strconv.ParseFloat(raw, 64)
	return f, err == nil
}

// enum returns the first value of values mentioned in the text.
func (e *entities) enum(values []string) (string, bool) {
	best, bestAt := "", -1
	for _, v := range values {
		re := regexp.MustCompile(`\b` + regexp.QuoteMeta(v) + `\b`)
		if loc := re.FindStringIndex(e.lower); loc != nil && (bestAt < 0 || loc[0] < bestAt) {
			best, bestAt = v, loc[0]
		}
	}
	return best, bestAt >= 0
}

// stripEntities blanks out identifiers, doctor names, money and dates.
func stripEntities(text string) string {
	for _, re := range []*regexp.Regexp{idPattern, doctorPattern, moneyPattern, dateMonthFirst, dateDayFirst, dateISO, dateUS, quotedPattern} {
		text = re.ReplaceAllString(text, " ")
	}
	return text
}

// labeledNumber finds "<label> <n>" or "<n> <label>" for any of labels.
func labeledNumber(text string, labels []string) (float64, bool) {
	for _, label := range labels {
		l := regexp.QuoteMeta(label)
		patterns := []string{
			`(?i)\b` + l + `s?\b\s*(?::|=|of|is)?\s*(\d+(?:\.\d+)?)\b`,
			`(?i)\b(\d+(?:\.\d+)?)\s*` + l + `s?\b`,
		}
		for _, p := range patterns {
			if m := regexp.MustCompile(p).FindStringSubmatch(text); m != nil {
				f, err := strconv.ParseFloat(m[1], 64)
				if err == nil {
					return f, true
				}
			}
		}
	}
	return 0, false
}
