// Package phonetic implements the [transcript.PhoneticMatcher] interface using
// Double Metaphone phonetic encoding combined with Jaro-Winkler string
// similarity against a fixed clinical vocabulary.
//
// The algorithm proceeds in two stages:
//
//  1. Phonetic candidate filtering: the Double Metaphone codes of the input
//     word are compared with the precomputed codes of each vocabulary term.
//     Terms sharing a code become phonetic candidates.
//
//  2. Jaro-Winkler ranking: among phonetic candidates, the term with the
//     highest Jaro-Winkler similarity is selected, provided its score reaches
//     the phonetic threshold. When no phonetic candidate qualifies, pure
//     Jaro-Winkler similarity is tested against all terms with the higher
//     fuzzy threshold.
package phonetic

import (
	"strings"

	"github.com/antzucaro/matchr"
)

const (
	defaultPhoneticThreshold = 0.85
	defaultFuzzyThreshold    = 0.93
)

// MedicalVocabulary is the default set of terms the matcher corrects
// towards. It favours long, frequently misheard clinical words; short words
// are left to the correction table.
var MedicalVocabulary = []string{
	"abdomen", "abdominal", "allergy", "allergies", "anaemia", "anemia", "antibiotic",
	"antibiotics", "anxiety", "appendicitis", "arthritis", "asthma", "bronchitis",
	"cancer", "cardiac", "chest", "cholesterol", "chronic", "constipation", "coughing",
	"depression", "diabetes", "diagnosis", "diarrhea", "dizziness", "fatigue", "fever",
	"fracture", "gastritis", "headache", "hepatitis", "hypertension", "hypotension",
	"infection", "inflammation", "insulin", "kidney", "medication", "medicine",
	"metformin", "migraine", "nausea", "palpitations", "paracetamol", "pneumonia",
	"prescription", "pressure", "rash", "seizure", "shortness", "stomach", "surgery",
	"swelling", "symptoms", "temperature", "thyroid", "tonsillitis", "tuberculosis",
	"ulcer", "vomiting", "weakness", "wheezing",
}

// Option is a functional option for configuring a [Matcher].
type Option func(*Matcher)

// WithPhoneticThreshold sets the minimum Jaro-Winkler score required for a
// phonetically-matched term to be accepted. Default: 0.85.
func WithPhoneticThreshold(threshold float64) Option {
	return func(m *Matcher) {
		m.phoneticThreshold = threshold
	}
}

// WithFuzzyThreshold sets the minimum Jaro-Winkler score required when no
// phonetic match is found. Default: 0.93.
func WithFuzzyThreshold(threshold float64) Option {
	return func(m *Matcher) {
		m.fuzzyThreshold = threshold
	}
}

type term struct {
	word  string
	codes map[string]struct{}
}

// Matcher corrects single words towards a vocabulary. It is read-only after
// construction and safe for concurrent use.
type Matcher struct {
	phoneticThreshold float64
	fuzzyThreshold    float64
	terms             []term
	known             map[string]struct{}
}

// New returns a [Matcher] for vocabulary. Terms are lowercased; empty and
// duplicate terms are dropped. A nil vocabulary selects [MedicalVocabulary].
func New(vocabulary []string, opts ...Option) *Matcher {
	if vocabulary == nil {
		vocabulary = MedicalVocabulary
	}
	m := &Matcher{
		phoneticThreshold: defaultPhoneticThreshold,
		fuzzyThreshold:    defaultFuzzyThreshold,
		known:             make(map[string]struct{}, len(vocabulary)),
	}
	for _, o := range opts {
		o(m)
	}
	for _, w := range vocabulary {
		w = strings.ToLower(strings.TrimSpace(w))
		if w == "" {
			continue
		}
		if _, dup := m.known[w]; dup {
			continue
		}
		m.known[w] = struct{}{}
		m.terms = append(m.terms, term{word: w, codes: codes(w)})
	}
	return m
}

// Match returns the vocabulary term most similar to word. A word that is
// already a vocabulary term is not a match.
func (m *Matcher) Match(word string) (corrected string, confidence float64, matched bool) {
	w := strings.ToLower(strings.TrimSpace(word))
	if w == "" || len(m.terms) == 0 {
		return word, 0, false
	}
	if _, ok := m.known[w]; ok {
		return word, 0, false
	}

	inputCodes := codes(w)

	var (
		best         string
		bestScore    float64
		bestPhonetic bool
	)
	for _, t := range m.terms {
		score := matchr.JaroWinkler(w, t.word, false)
		if codesOverlap(inputCodes, t.codes) {
			if score >= m.phoneticThreshold && (!bestPhonetic || score > bestScore) {
				best, bestScore, bestPhonetic = t.word, score, true
			}
		} else if !bestPhonetic && score >= m.fuzzyThreshold && score > bestScore {
			best, bestScore = t.word, score
		}
	}
	if best == "" {
		return word, 0, false
	}
	return best, bestScore, true
}

// codes returns the Double Metaphone codes of w. Empty codes (produced when
// the word has no consonants) are excluded.
func codes(w string) map[string]struct{} {
	out := make(map[string]struct{}, 2)
	p, s := matchr.DoubleMetaphone(w)
	if p != "" {
		out[p] = struct{}{}
	}
	if s != "" {
		out[s] = struct{}{}
	}
	return out
}

func codesOverlap(a, b map[string]struct{}) bool {
	if len(a) > len(b) {
		a, b = b, a
	}
	for code := range a {
		if _, ok := b[code]; ok {
			return true
		}
	}
	return false
}
