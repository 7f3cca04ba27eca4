// Package transcript cleans doctor–patient conversation text before it is
// sent to a language model.
//
// Raw dictation and speech-to-text output is full of phonetic misspellings
// ("feaver", "diaebtes") and clinical shorthand ("bp", "hx"). The [Cleaner]
// lowercases the text, replaces whole-word matches from a fixed correction
// table, optionally maps remaining unknown words onto a clinical vocabulary
// through a [PhoneticMatcher], and collapses whitespace.
//
// Each [Correction] records which method produced the substitution and its
// confidence, so callers can audit or display the changes.
package transcript

// Correction methods.
const (
	MethodTable    = "table"
	MethodPhonetic = "phonetic"
)

// Correction captures a single substitution made by the cleaner.
type Correction struct {
	// Original is the word as it appeared in the lowercased input.
	Original string `json:"original"`

	// Corrected is the replacement.
	Corrected string `json:"corrected"`

	// Confidence is 1 for table entries and the similarity score for
	// phonetic corrections.
	Confidence float64 `json:"confidence"`

	// Method is [MethodTable] or [MethodPhonetic].
	Method string `json:"method"`
}

// CorrectedTranscript is the output of [Cleaner.CleanDetailed].
type CorrectedTranscript struct {
	// Original is the input text, unmodified.
	Original string `json:"original"`

	// Corrected is the cleaned text.
	Corrected string `json:"corrected"`

	// Corrections lists the substitutions in text order. An empty (non-nil)
	// slice means no corrections were necessary.
	Corrections []Correction `json:"corrections"`
}

// PhoneticMatcher resolves a single word to a vocabulary term based on
// pronunciation similarity. It must not perform I/O.
//
// Implementations must be safe for concurrent use.
type PhoneticMatcher interface {
	// Match returns the best vocabulary term for word. When matched is
	// false, corrected equals word and confidence is 0.
	Match(word string) (corrected string, confidence float64, matched bool)
}
