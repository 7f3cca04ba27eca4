package stt

import (
	"errors"
	"testing"
)

// TestNewResult checks trimming and the empty-transcript error.
func TestNewResult(t *testing.T) {
	t.Parallel()

	r, err := NewResult("  patient has fever \n")
	if err != nil {
		t.Fatalf("NewResult: %v", err)
	}
	if r.Text != "patient has fever" {
		t.Errorf("Text = %q", r.Text)
	}
	for _, in := range []string{"", "   ", "\n\t"} {
		if _, err := NewResult(in); !errors.Is(err, ErrEmptyTranscript) {
			t.Errorf("NewResult(%q) error = %v, want ErrEmptyTranscript", in, err)
		}
	}
}

// TestKeywordPrompt checks blank keywords are skipped.
func TestKeywordPrompt(t *testing.T) {
	t.Parallel()

	got := KeywordPrompt([]KeywordBoost{{Keyword: "metformin", Boost: 2}, {Keyword: " "}, {Keyword: "lisinopril"}})
	if got != "metformin, lisinopril" {
		t.Errorf("KeywordPrompt = %q", got)
	}
	if KeywordPrompt(nil) != "" {
		t.Error("KeywordPrompt(nil) should be empty")
	}
}

// TestKeywords checks that vocabulary terms become unweighted boosts.
func TestKeywords(t *testing.T) {
	t.Parallel()

	got := Keywords([]string{"metformin", "  ", " lisinopril "})
	want := []KeywordBoost{{Keyword: "metformin"}, {Keyword: "lisinopril"}}
	if len(got) != len(want) {
		t.Fatalf("Keywords = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("Keywords[%d] = %v, want %v", i, got[i], want[i])
		}
	}
	if n := len(Keywords(nil)); n != 0 {
		t.Errorf("Keywords(nil) = %d entries", n)
	}
}
