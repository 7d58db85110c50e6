// Copyright 2026 © The Meshwork Authors
// SPDX-License-Identifier: Apache-2.0

package pipeline

import (
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/jllopis/meshwork/pkg/errors"
	"github.com/jllopis/meshwork/pkg/plan"
)

var identifierToken = regexp.MustCompile(`\b[A-Z]{2,5}-\d+\b`)

// bindArgs turns a step's arguments into the values sent on the wire.
// References are read from the finished results of earlier steps.
func bindArgs(step plan.Step, results map[int]plan.StepResult) (map[string]interface{}, error) {
	names := make([]string, 0, len(step.Args))
	for name := range step.Args {
		names = append(names, name)
	}
	sort.Strings(names)

	out := make(map[string]interface{}, len(step.Args))
	var missing []string
	for _, name := range names {
		arg := step.Args[name]
		switch {
		case arg.Missing:
			missing = append(missing, name)
		case arg.Ref != nil:
			v, ok := dereference(*arg.Ref, results)
			if !ok {
				return out, errors.New(errors.CodeMissingArgument,
					fmt.Sprintf("reference %s for %s produced no value", arg.Ref, name), nil).
					WithContext("parameter", name).
					WithContext("step", step.Index)
			}
			out[name] = v
		default:
			out[name] = arg.Value
		}
	}
	if len(missing) > 0 {
		return out, errors.New(errors.CodeMissingArgument,
			"missing required arguments: "+strings.Join(missing, ", "), nil).
			WithContext("parameters", missing).
			WithContext("step", step.Index)
	}
	return out, nil
}

// dereference reads ref from the referenced result: the structured
// output field first, then the argument that step was invoked with, then
// an identifier found in its text output.
func dereference(ref plan.Reference, results map[int]plan.StepResult) (interface{}, bool) {
	r, ok := results[ref.Step]
	if !ok || !r.Succeeded() {
		return nil, false
	}
	if v, ok := r.Output.Field(ref.Field); ok {
		return v, true
	}
	if v, ok := r.Args[ref.Field]; ok && v != nil {
		return v, true
	}
	if v := scanIdentifier(r.Output.Text, ref.Field); v != "" {
		return v, true
	}
	return nil, false
}

// scanIdentifier looks for "<Field Words>: VALUE" in text, and otherwise
// accepts the only identifier-shaped token the text contains.
func scanIdentifier(text, field string) string {
	if text == "" {
		return ""
	}
	if words := fieldWords(field); len(words) > 0 {
		label := regexp.MustCompile(`(?i)\b` + strings.Join(words, `\s*`) + `\s*[:=#]\s*([A-Za-z0-9][A-Za-z0-9-]*)`)
		if m := label.FindStringSubmatch(text); m != nil {
			return m[1]
		}
	}
	tokens := identifierToken.FindAllString(text, -1)
	distinct := map[string]struct{}{}
	for _, t := range tokens {
		distinct[t] = struct{}{}
	}
	if len(distinct) == 1 {
		return tokens[0]
	}
	return ""
}

// fieldWords splits a camelCase field name into quoted lowercase words.
func fieldWords(field string) []string {
	var words []string
	start := 0
	for i := 1; i <= len(field); i++ {
		if i == len(field) || (field[i] >= 'A' && field[i] <= 'Z' && field[i-1] >= 'a' && field[i-1] <= 'z') {
			words = append(words, regexp.QuoteMeta(strings.ToLower(field[start:i])))
			start = i
		}
	}
	return words
}
