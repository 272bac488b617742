package main

import (
	"testing"
	"unicode/utf8"
)

func TestTruncateString(t *testing.T) {
	cases := []struct {
		in   string
		max  int
		want string
	}{
		{"Dune", 10, "Dune"},
		{"The Left Hand of Darkness", 10, "The Lef..."},
		{"Cien años de soledad", 8, "Cien ..."},
		{"ПреступлениеИНаказание", 10, "Преступ..."},
		{"日本語のタイトル", 3, "日本語"},
	}
	for _, tc := range cases {
		got := truncateString(tc.in, tc.max)
		if got != tc.want {
			t.Errorf("truncateString(%q, %d) = %q, want %q", tc.in, tc.max, got, tc.want)
		}
		if !utf8.ValidString(got) {
			t.Errorf("truncateString(%q, %d) produced invalid UTF-8", tc.in, tc.max)
		}
	}
}
