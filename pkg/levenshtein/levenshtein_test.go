// Copyright (c) 2015, Arbo von Monkiewitsch All rights reserved.
// Use of this source code is governed by a BSD-style
// license.

package levenshtein

import "testing"

var distanceTestCases = []struct {
	source   string
	target   string
	distance int
}{
	{"", "", 0},
	{"", "abc", 3},
	{"abc", "", 3},
	{"abc", "abc", 0},
	{"total", "totel", 1},
	{"kitten", "sitting", 3},
	{"flaw", "lawn", 2},
	{"order_id", "orderid", 1},
	{"client_id", "client_name", 4},
	{"über", "uber", 1},
}

func TestDistance(t *testing.T) {
	t.Parallel()

	var ctx Context

	for _, tc := range distanceTestCases {
		got := ctx.Distance(tc.source, tc.target)
		if got != tc.distance {
			t.Errorf("Distance(%q, %q) = %d, want %d", tc.source, tc.target, got, tc.distance)
		}
	}
}

func TestDistanceSymmetry(t *testing.T) {
	t.Parallel()

	var ctx Context

	for _, tc := range distanceTestCases {
		forward := ctx.Distance(tc.source, tc.target)
		backward := ctx.Distance(tc.target, tc.source)

		if forward != backward {
			t.Errorf("Distance(%q, %q) = %d but Distance(%q, %q) = %d",
				tc.source, tc.target, forward, tc.target, tc.source, backward)
		}
	}
}
