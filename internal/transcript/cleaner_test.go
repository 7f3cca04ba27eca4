package transcript_test

import (
	"strings"
	"sync"
	"testing"

	"github.com/MrWong99/medscribe/internal/transcript"
	"github.com/MrWong99/medscribe/internal/transcript/phonetic"
)

// TestCleanScenario checks the dictation example end to end.
func TestCleanScenario(t *testing.T) {
	t.Parallel()

	c := transcript.New()
	got := c.Clean("Ptint has feaver and couh for 3 days, bp is high")
	want := "patient has fever and cough for 3 days, blood pressure is high"
	if got != want {
		t.Errorf("Clean = %q, want %q", got, want)
	}
}

// TestCleanWholeWordsOnly checks that keys inside longer words are untouched.
func TestCleanWholeWordsOnly(t *testing.T) {
	t.Parallel()

	c := transcript.New()
	tests := []struct {
		in, want string
	}{
		{"the hart is fine", "the heart is fine"},
		{"hartford hospital", "hartford hospital"},
		{"temperature taken", "temperature taken"},
		{"temp taken", "temperature taken"},
		{"BP/HR stable", "blood pressure/heart rate stable"},
		{"sour throght.", "sore throat."},
		{"  lots \t of \n\n space  ", "lots of space"},
		{"", ""},
	}
	for _, tt := range tests {
		if got := c.Clean(tt.in); got != tt.want {
			t.Errorf("Clean(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

// TestCleanDetailedCorrections checks the reported substitutions.
func TestCleanDetailedCorrections(t *testing.T) {
	t.Parallel()

	c := transcript.New()
	res := c.CleanDetailed("Diaebtes and HX of hipertnsion")
	if res.Original != "Diaebtes and HX of hipertnsion" {
		t.Errorf("Original = %q", res.Original)
	}
	if len(res.Corrections) != 3 {
		t.Fatalf("got %d corrections, want 3: %+v", len(res.Corrections), res.Corrections)
	}
	first := res.Corrections[0]
	if first.Original != "diaebtes" || first.Corrected != "diabetes" || first.Method != transcript.MethodTable || first.Confidence != 1 {
		t.Errorf("first correction = %+v", first)
	}

	none := c.CleanDetailed("nothing to fix")
	if none.Corrections == nil || len(none.Corrections) != 0 {
		t.Errorf("Corrections = %#v, want empty non-nil", none.Corrections)
	}
}

// TestCleanNoChaining checks that a replacement is not rewritten again.
func TestCleanNoChaining(t *testing.T) {
	t.Parallel()

	c := transcript.New(transcript.WithCorrections(map[string]string{
		"pt":      "patient",
		"patient": "client",
	}))
	if got := c.Clean("pt"); got != "patient" {
		t.Errorf("Clean(pt) = %q, want patient", got)
	}
}

// TestCleanLongestMatchFirst checks overlapping multi-word keys.
func TestCleanLongestMatchFirst(t *testing.T) {
	t.Parallel()

	c := transcript.New(transcript.WithCorrections(map[string]string{
		"sob":         "shortness of breath",
		"sob on exer": "shortness of breath on exertion",
	}))
	if got := c.Clean("SOB on exer today"); got != "shortness of breath on exertion today" {
		t.Errorf("Clean = %q", got)
	}
}

// TestWithCorrectionsRemoves checks that an empty replacement disables a
// built-in entry.
func TestWithCorrectionsRemoves(t *testing.T) {
	t.Parallel()

	c := transcript.New(transcript.WithCorrections(map[string]string{"Sour": ""}))
	if got := c.Clean("sour taste"); got != "sour taste" {
		t.Errorf("Clean = %q, want sour taste", got)
	}
	if _, ok := c.Table()["sour"]; ok {
		t.Error("Table still contains sour")
	}
	if _, ok := transcript.New().Table()["sour"]; !ok {
		t.Error("removing from one cleaner affected the defaults")
	}
}

// TestUnicodeNormalization checks NFKC folding of full-width input.
func TestUnicodeNormalization(t *testing.T) {
	t.Parallel()

	in := "ｂｐ high"
	if got := transcript.New().Clean(in); got == "blood pressure high" {
		t.Errorf("without NFKC the full-width abbreviation should not match, got %q", got)
	}
	got := transcript.New(transcript.WithUnicodeNormalization(true)).Clean(in)
	if got != "blood pressure high" {
		t.Errorf("Clean with NFKC = %q, want %q", got, "blood pressure high")
	}
}

// TestPhoneticStage checks vocabulary correction and its guards.
func TestPhoneticStage(t *testing.T) {
	t.Parallel()

	c := transcript.New(transcript.WithPhoneticMatcher(phonetic.New(nil)))
	res := c.CleanDetailed("history of diabetis, feaver.")
	if res.Corrected != "history of diabetes, fever." {
		t.Errorf("Corrected = %q", res.Corrected)
	}
	var methods []string
	for _, corr := range res.Corrections {
		methods = append(methods, corr.Method)
	}
	if strings.Join(methods, ",") != "table,phonetic" {
		t.Errorf("methods = %v, want [table phonetic]", methods)
	}

	// Short words are below the length threshold.
	if got := c.Clean("rash"); got != "rash" {
		t.Errorf("Clean(rash) = %q", got)
	}
}

// TestCleanConcurrent checks that a shared cleaner is safe for concurrent use.
func TestCleanConcurrent(t *testing.T) {
	t.Parallel()

	c := transcript.New(transcript.WithPhoneticMatcher(phonetic.New(nil)))
	var wg sync.WaitGroup
	for range 16 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if got := c.Clean("ptint with couh"); got != "patient with cough" {
				t.Errorf("Clean = %q", got)
			}
		}()
	}
	wg.Wait()
}
