// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package payload

import (
	"math"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestParse(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  ScannedPayload
	}{
		{"CanonicalJSON", `{"medicine":"Paracetamol","quantity":10}`, ScannedPayload{Name: "Paracetamol", Count: 10}},
		{"CanonicalJSONWithCategory", `{"medicine":" Insulin ","quantity":"3","type":"hormone"}`, ScannedPayload{Name: "Insulin", Count: 3, Category: "hormone"}},
		{"CanonicalJSONBadQuantity", `{"medicine":"Saline","quantity":"lots"}`, ScannedPayload{Name: "Saline", Count: 1}},
		{"CanonicalJSONFractionalQuantity", `{"medicine":"Saline","quantity":10.7}`, ScannedPayload{Name: "Saline", Count: 10}},
		{"CanonicalEmptyNameFallsBackToProbe", `{"medicine":"  ","quantity":2,"name":"Aspirin"}`, ScannedPayload{Name: "Aspirin", Count: 2}},
		{"ProbeSynonyms", `{"product":"Gauze","qty":"4","type":"supply"}`, ScannedPayload{Name: "Gauze", Count: 4, Category: "supply"}},
		{"ProbeFirstKeyWins", `{"name":"A","item":"B","count":0,"amount":7}`, ScannedPayload{Name: "A", Count: 1}},
		{"ProbeNumericName", `{"medicine_name":12345}`, ScannedPayload{Name: "12345", Count: 1}},
		{"Pipe", "Paracetamol|5|analgesic", ScannedPayload{Name: "Paracetamol", Count: 5, Category: "analgesic"}},
		{"PipeBadCount", "Paracetamol|five", ScannedPayload{Name: "Paracetamol", Count: 1}},
		{"PipeNegativeCount", "Paracetamol|-5", ScannedPayload{Name: "Paracetamol", Count: 1}},
		{"PipeNameWithColon", "Vitamin B12: 500mg|5|vitamin", ScannedPayload{Name: "Vitamin B12: 500mg", Count: 5, Category: "vitamin"}},
		{"Comma", " Ibuprofen , 12 , nsaid ", ScannedPayload{Name: "Ibuprofen", Count: 12, Category: "nsaid"}},
		{"CommaBadCount", "Ibuprofen, lots, nsaid", ScannedPayload{Name: "Ibuprofen", Count: 1, Category: "nsaid"}},
		{"CommaNameWithColon", "Cough Syrup 1:10,4,liquid", ScannedPayload{Name: "Cough Syrup 1:10", Count: 4, Category: "liquid"}},
		{"KeyValue", "name: Ibuprofen, qty: 3", ScannedPayload{Name: "Ibuprofen", Count: 3}},
		{"KeyValueBadCount", "name: Ibuprofen, qty: lots", ScannedPayload{Name: "Ibuprofen", Count: 1}},
		{"KeyValueMixedSeparators", "Medicine: Aspirin; Amount: 2\ncategory: analgesic", ScannedPayload{Name: "Aspirin", Count: 2, Category: "analgesic"}},
		{"KeyValueLastPairWins", "name: A; name: B; qty: 1; qty: 9", ScannedPayload{Name: "B", Count: 9}},
		{"KeyValueSubstringCategory", "product: Serum; phenotype: rare", ScannedPayload{Name: "Serum", Count: 1, Category: "rare"}},
		{"KeyValueValueWithColon", "item: Tube 5:1, count: 2", ScannedPayload{Name: "Tube 5:1", Count: 2}},
		{"WhitespaceTrailingCount", "Amoxicillin 20", ScannedPayload{Name: "Amoxicillin", Count: 20}},
		{"WhitespaceMultiWordName", "Vitamin  C   500mg 3", ScannedPayload{Name: "Vitamin C 500mg", Count: 3}},
		{"WhitespaceZeroCount", "Amoxicillin 0", ScannedPayload{Name: "Amoxicillin", Count: 1}},
		{"WhitespaceNameOnly", "Amoxicillin", ScannedPayload{Name: "Amoxicillin", Count: 1}},
		{"WhitespaceVerbatim", "  Vitamin C 500mg  ", ScannedPayload{Name: "Vitamin C 500mg", Count: 1}},
		{"JSONScalarIsText", "42", ScannedPayload{Name: "42", Count: 1}},
		{"JSONWithoutName", `{"foo":"bar"}`, ScannedPayload{Name: `{"foo":"bar"}`, Count: 1}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Parse(tt.input)
			if !got.OK() {
				t.Fatalf("Parse(%q) unparseable: %s", tt.input, got.Reason)
			}
			if diff := cmp.Diff(tt.want, got.Payload); diff != "" {
				t.Errorf("Parse(%q) mismatch (-want +got):\n%s", tt.input, diff)
			}
		})
	}
}

func TestParse_Empty(t *testing.T) {
	for _, input := range []string{"", "   ", "\r\n\t"} {
		got := Parse(input)
		if got.OK() {
			t.Errorf("Parse(%q) = %+v, want Unparseable", input, got.Payload)
		}
		if got.Reason != "empty" {
			t.Errorf("Parse(%q) reason = %q, want %q", input, got.Reason, "empty")
		}
	}
}

func TestParse_Totality(t *testing.T) {
	inputs := []string{
		"x", "|", ",", "|||", ",,,", ":", "::", "a:b", "{", "[]", "null", "{}", `{"medicine":null,"quantity":null}`,
		"name:", "qty: 4", "| 3 | c", "0", "éè", "\x00", "; ; ;", strings.Repeat("a ", 200),
	}
	for _, input := range inputs {
		got := Parse(input)
		if !got.OK() {
			t.Errorf("Parse(%q) unparseable: %s", input, got.Reason)
			continue
		}
		if got.Payload.Name == "" {
			t.Errorf("Parse(%q) produced empty name", input)
		}
		if got.Payload.Count < 1 {
			t.Errorf("Parse(%q) produced count %d", input, got.Payload.Count)
		}
	}
}

func TestTrace_Notes(t *testing.T) {
	outcome, notes := Trace("Paracetamol|5")
	if !outcome.OK() {
		t.Fatalf("unexpected failure: %s", outcome.Reason)
	}
	want := []string{"structured: not structured data", "pipe: matched"}
	if diff := cmp.Diff(want, notes); diff != "" {
		t.Errorf("notes mismatch (-want +got):\n%s", diff)
	}
}

func TestCoerceCount(t *testing.T) {
	tests := []struct {
		in   any
		want int
	}{
		{float64(3), 3},
		{float64(-1), 1},
		{float64(0.5), 1},
		{"7", 7},
		{" 12 boxes", 12},
		{"+4", 4},
		{"abc", 1},
		{"", 1},
		{"2147483647", math.MaxInt32},
		{"3000000000", 1},
		{float64(math.MaxInt32), math.MaxInt32},
		{float64(3000000000), 1},
		{true, 1},
		{nil, 1},
		{map[string]any{}, 1},
	}
	for _, tt := range tests {
		if got := coerceCount(tt.in); got != tt.want {
			t.Errorf("coerceCount(%#v) = %d, want %d", tt.in, got, tt.want)
		}
	}
}
