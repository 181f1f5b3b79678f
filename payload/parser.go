// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package payload

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
)

// strategy attempts to extract a payload from trimmed, non-empty text.
// ok is true only when a non-empty name was extracted. note is an optional
// diagnostic describing why the strategy was skipped.
type strategy struct {
	name string
	try  func(text string) (p ScannedPayload, ok bool, note string)
}

// cascade is evaluated in order; the first strategy yielding a name wins.
var cascade = []strategy{
	{"structured", parseStructured},
	{"pipe", delimited("|")},
	{"comma", delimited(",")},
	{"key-value", parseKeyValue},
	{"whitespace", parseWhitespace},
}

// Synonym keys probed, in order, on decoded structured objects.
var (
	nameKeys     = []string{"name", "medicine_name", "product", "item"}
	quantityKeys = []string{"quantity", "count", "qty", "amount"}
	categoryKeys = []string{"category", "type"}
)

// Substring groups used to classify free-form key-value pairs.
var (
	nameFragments     = []string{"name", "medicine_name", "product", "item", "medicine"}
	quantityFragments = quantityKeys
	categoryFragments = categoryKeys
)

var (
	pairSeparators = regexp.MustCompile(`[,;\n]`)
	digitsOnly     = regexp.MustCompile(`^[0-9]+$`)
)

// Parse converts raw scanner text into a ParseOutcome. It is deterministic
// and never fails for non-empty input.
func Parse(raw string) ParseOutcome {
	outcome, _ := Trace(raw)
	return outcome
}

// Trace is Parse plus the diagnostic notes gathered along the cascade.
func Trace(raw string) (ParseOutcome, []string) {
	text := strings.TrimSpace(raw)
	if text == "" {
		return Unparseable("empty"), nil
	}

	var notes []string
	for _, s := range cascade {
		p, ok, note := s.try(text)
		if note != "" {
			notes = append(notes, fmt.Sprintf("%s: %s", s.name, note))
		}
		if ok {
			notes = append(notes, fmt.Sprintf("%s: matched", s.name))
			return Parsed(p), notes
		}
	}
	// unreachable: the whitespace strategy accepts any non-empty text
	return Unparseable("no strategy matched"), notes
}

func parseStructured(text string) (ScannedPayload, bool, string) {
	var obj map[string]any
	if err := json.Unmarshal([]byte(text), &obj); err != nil {
		return ScannedPayload{}, false, "not structured data"
	}

	medicine, hasMedicine := obj["medicine"]
	quantity, hasQuantity := obj["quantity"]
	if hasMedicine && hasQuantity {
		p := ScannedPayload{
			Name:     coerceString(medicine),
			Count:    coerceCount(quantity),
			Category: firstString(obj, categoryKeys),
		}
		if p.Name != "" {
			return p, true, ""
		}
	}

	p := ScannedPayload{
		Name:     firstString(obj, nameKeys),
		Count:    1,
		Category: firstString(obj, categoryKeys),
	}
	for _, k := range quantityKeys {
		if v, ok := obj[k]; ok {
			p.Count = coerceCount(v)
			break
		}
	}
	if p.Name == "" {
		return ScannedPayload{}, false, "no name key in object"
	}
	return p, true, ""
}

// delimited splits on sep: field 0 is the name, 1 the count, 2 the category.
// Text without sep, or whose name field starts with a recognised key such as
// "name:" or "qty:", is left for later strategies.
func delimited(sep string) func(string) (ScannedPayload, bool, string) {
	return func(text string) (ScannedPayload, bool, string) {
		if !strings.Contains(text, sep) {
			return ScannedPayload{}, false, ""
		}
		fields := strings.Split(text, sep)
		name := strings.TrimSpace(fields[0])
		if name == "" {
			return ScannedPayload{}, false, "empty name field"
		}
		if key, _, found := strings.Cut(name, ":"); found && isFieldKey(key) {
			return ScannedPayload{}, false, "name field looks like a key-value pair"
		}
		p := ScannedPayload{Name: name, Count: 1}
		if len(fields) > 1 {
			p.Count = coerceCount(fields[1])
		}
		if len(fields) > 2 {
			p.Category = strings.TrimSpace(fields[2])
		}
		return p, true, ""
	}
}

func parseKeyValue(text string) (ScannedPayload, bool, string) {
	p := ScannedPayload{Count: 1}
	for _, pair := range pairSeparators.Split(text, -1) {
		key, value, found := strings.Cut(pair, ":")
		if !found {
			continue
		}
		key = strings.ToLower(strings.TrimSpace(key))
		value = strings.TrimSpace(value)
		switch {
		case containsAny(key, nameFragments):
			p.Name = value
		case containsAny(key, quantityFragments):
			p.Count = coerceCount(value)
		case containsAny(key, categoryFragments):
			p.Category = value
		}
	}
	if p.Name == "" {
		return ScannedPayload{}, false, "no name pair"
	}
	return p, true, ""
}

func parseWhitespace(text string) (ScannedPayload, bool, string) {
	tokens := strings.Fields(text)
	if len(tokens) >= 2 && digitsOnly.MatchString(tokens[len(tokens)-1]) {
		return ScannedPayload{
			Name:  strings.Join(tokens[:len(tokens)-1], " "),
			Count: coerceCount(tokens[len(tokens)-1]),
		}, true, ""
	}
	return ScannedPayload{Name: text, Count: 1}, true, ""
}

// isFieldKey reports whether key names one of the payload fields the
// key-value strategy understands.
func isFieldKey(key string) bool {
	key = strings.ToLower(strings.TrimSpace(key))
	return containsAny(key, nameFragments) ||
		containsAny(key, quantityFragments) ||
		containsAny(key, categoryFragments)
}

func containsAny(s string, fragments []string) bool {
	for _, f := range fragments {
		if strings.Contains(s, f) {
			return true
		}
	}
	return false
}

func firstString(obj map[string]any, keys []string) string {
	for _, k := range keys {
		if v, ok := obj[k]; ok {
			return coerceString(v)
		}
	}
	return ""
}
