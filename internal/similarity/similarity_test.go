package similarity

import (
	"math"
	"testing"
)

func TestLevenshtein(t *testing.T) {
	tests := []struct {
		a, b string
		want int
	}{
		{"", "", 0},
		{"abc", "", 3},
		{"", "abc", 3},
		{"kitten", "sitting", 3},
		{"acme", "acme", 0},
		{"flaw", "lawn", 2},
		{"café", "cafe", 1},
	}

	for _, tt := range tests {
		if got := Levenshtein(tt.a, tt.b); got != tt.want {
			t.Errorf("Levenshtein(%q, %q) = %d, want %d", tt.a, tt.b, got, tt.want)
		}
		if got := Levenshtein(tt.b, tt.a); got != tt.want {
			t.Errorf("Levenshtein(%q, %q) not symmetric: %d", tt.b, tt.a, got)
		}
	}
}

func TestSimilarity(t *testing.T) {
	if got := Similarity("", ""); got != 1 {
		t.Errorf("empty strings: got %v, want 1", got)
	}
	if got := Similarity("acme supplies", "acme supplies"); got != 1 {
		t.Errorf("identical: got %v, want 1", got)
	}
	if got := Similarity("abcd", "wxyz"); got != 0 {
		t.Errorf("disjoint: got %v, want 0", got)
	}

	// one edit in ten runes
	got := Similarity("acme suppl", "acme supp1")
	if math.Abs(got-0.9) > 1e-9 {
		t.Errorf("one edit: got %v, want 0.9", got)
	}
}

func TestCanonical(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"case and whitespace", "  ACME   Supplies ", "acme supplies"},
		{"legal suffix", "Acme Supplies, Inc.", "acme supplies"},
		{"stacked suffixes", "Globex Co. Ltd", "globex"},
		{"only suffix kept", "LLC", "llc"},
		{"full width", "ＡＣＭＥ", "acme"},
		{"hyphen", "Wayne-Enterprises", "wayne enterprises"},
		{"empty", "", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Canonical(tt.in); got != tt.want {
				t.Errorf("Canonical(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}
