// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package payload

import (
	"math"
	"strconv"
	"strings"
)

// coerceString renders a decoded JSON scalar as trimmed text. Objects,
// arrays and null carry no usable name and become "".
func coerceString(v any) string {
	switch t := v.(type) {
	case string:
		return strings.TrimSpace(t)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(t)
	default:
		return ""
	}
}

// maxCount is the largest quantity accepted from a scan.
const maxCount = math.MaxInt32

// coerceCount converts v to an integer in [1, maxCount]. Anything else
// becomes 1.
func coerceCount(v any) int {
	var n int
	var ok bool
	switch t := v.(type) {
	case float64:
		if !math.IsNaN(t) && !math.IsInf(t, 0) && math.Abs(t) <= maxCount {
			n, ok = int(math.Trunc(t)), true
		}
	case string:
		n, ok = leadingInt(t)
	case bool:
		// booleans are not quantities
	}
	if !ok || n < 1 || n > maxCount {
		return 1
	}
	return n
}

// leadingInt parses the optional sign and decimal digits at the start of s,
// ignoring any trailing text ("12 boxes" -> 12).
func leadingInt(s string) (int, bool) {
	s = strings.TrimSpace(s)
	end := 0
	if end < len(s) && (s[end] == '+' || s[end] == '-') {
		end++
	}
	start := end
	for end < len(s) && s[end] >= '0' && s[end] <= '9' {
		end++
	}
	if end == start {
		return 0, false
	}
	n, err := strconv.Atoi(s[:end])
	if err != nil {
		return 0, false
	}
	return n, true
}
