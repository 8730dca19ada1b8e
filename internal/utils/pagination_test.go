package utils

import "testing"

func TestAtoiDefault(t *testing.T) {
	cases := []struct {
		s    string
		def  int
		want int
	}{
		// absent query param falls back to the handler default
		{"", 20, 20},
		// well-formed values parse, sign included
		{"3", 1, 3},
		{"-1", 1, -1},
		{"0048", 99, 48},
		// garbage and padded input fall back (no trimming)
		{"two", 24, 24},
		{" 3", 24, 24},
		// out-of-range input falls back rather than wrapping
		{"99999999999999999999", 24, 24},
	}

	for _, tc := range cases {
		if got := AtoiDefault(tc.s, tc.def); got != tc.want {
			t.Fatalf("AtoiDefault(%q, %d) = %d; want %d", tc.s, tc.def, got, tc.want)
		}
	}
}
