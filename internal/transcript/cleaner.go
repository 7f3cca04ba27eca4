package transcript

import (
	"cmp"
	"maps"
	"regexp"
	"slices"
	"strings"
	"unicode"
	"unicode/utf8"

	"golang.org/x/text/unicode/norm"
)

const defaultMinPhoneticLength = 5

// Option is a functional option for configuring a [Cleaner].
type Option func(*Cleaner)

// WithCorrections merges extra entries on top of the built-in correction
// table. Keys are lowercased; an entry with an empty replacement removes the
// built-in entry of the same key.
func WithCorrections(extra map[string]string) Option {
	return func(c *Cleaner) {
		for k, v := range extra {
			k = strings.ToLower(strings.TrimSpace(k))
			if k == "" {
				continue
			}
			if v == "" {
				delete(c.table, k)
				continue
			}
			c.table[k] = v
		}
	}
}

// WithUnicodeNormalization applies NFKC normalization before lowercasing, so
// full-width letters and ligatures from some dictation tools match the
// table. Default: off.
func WithUnicodeNormalization(enabled bool) Option {
	return func(c *Cleaner) {
		c.nfkc = enabled
	}
}

// WithPhoneticMatcher enables the phonetic stage, which runs after the table
// and rewrites unknown words towards the matcher's vocabulary. When nil (the
// default), the phonetic stage is skipped.
func WithPhoneticMatcher(m PhoneticMatcher) Option {
	return func(c *Cleaner) {
		c.phonetic = m
	}
}

// WithMinPhoneticLength sets the shortest word the phonetic stage will
// consider. Default: 5.
func WithMinPhoneticLength(n int) Option {
	return func(c *Cleaner) {
		c.minPhoneticLen = n
	}
}

// Cleaner is the lexical pre-cleaner. It is immutable after construction and
// safe for concurrent use; Clean is deterministic and never fails.
type Cleaner struct {
	table          map[string]string
	pattern        *regexp.Regexp
	nfkc           bool
	phonetic       PhoneticMatcher
	minPhoneticLen int

	// protected holds table keys and replacement words, which the phonetic
	// stage must leave alone.
	protected map[string]struct{}
}

// New builds a Cleaner from the built-in table and opts.
func New(opts ...Option) *Cleaner {
	c := &Cleaner{
		table:          DefaultCorrections(),
		minPhoneticLen: defaultMinPhoneticLength,
	}
	for _, o := range opts {
		o(c)
	}

	keys := make([]string, 0, len(c.table))
	c.protected = make(map[string]struct{}, len(c.table)*2)
	for k, v := range c.table {
		keys = append(keys, k)
		c.protected[k] = struct{}{}
		for _, w := range strings.Fields(v) {
			c.protected[strings.ToLower(w)] = struct{}{}
		}
	}
	// Longest first so overlapping keys prefer the longer match; ties sorted
	// for a stable pattern.
	slices.SortFunc(keys, func(a, b string) int {
		if d := cmp.Compare(len(b), len(a)); d != 0 {
			return d
		}
		return strings.Compare(a, b)
	})
	if len(keys) > 0 {
		quoted := make([]string, len(keys))
		for i, k := range keys {
			quoted[i] = regexp.QuoteMeta(k)
		}
		c.pattern = regexp.MustCompile(`\b(?:` + strings.Join(quoted, "|") + `)\b`)
	}
	return c
}

// Table returns a copy of the effective correction table.
func (c *Cleaner) Table() map[string]string {
	return maps.Clone(c.table)
}

// Clean returns the cleaned text.
func (c *Cleaner) Clean(text string) string {
	return c.CleanDetailed(text).Corrected
}

// CleanDetailed cleans text and reports every substitution made.
//
// Steps, in order: optional NFKC normalization, lowercasing, whole-word table
// replacement, optional phonetic correction, whitespace collapsing and
// trimming. Table replacement is a single left-to-right pass, so a
// replacement is never itself rewritten.
func (c *Cleaner) CleanDetailed(text string) *CorrectedTranscript {
	out := text
	if c.nfkc {
		out = norm.NFKC.String(out)
	}
	out = strings.ToLower(out)

	corrections := []Correction{}
	if c.pattern != nil {
		out = c.pattern.ReplaceAllStringFunc(out, func(m string) string {
			to := c.table[m]
			corrections = append(corrections, Correction{
				Original:   m,
				Corrected:  to,
				Confidence: 1,
				Method:     MethodTable,
			})
			return to
		})
	}

	tokens := strings.Fields(out)
	if c.phonetic != nil {
		for i, tok := range tokens {
			if fixed, corr, ok := c.correctToken(tok); ok {
				tokens[i] = fixed
				corrections = append(corrections, corr)
			}
		}
	}

	return &CorrectedTranscript{
		Original:    text,
		Corrected:   strings.Join(tokens, " "),
		Corrections: corrections,
	}
}

// correctToken runs the phonetic matcher on the letters of tok, keeping any
// leading or trailing punctuation.
func (c *Cleaner) correctToken(tok string) (string, Correction, bool) {
	start := strings.IndexFunc(tok, unicode.IsLetter)
	end := strings.LastIndexFunc(tok, unicode.IsLetter)
	if start < 0 {
		return tok, Correction{}, false
	}
	_, size := utf8.DecodeRuneInString(tok[end:])
	word := tok[start : end+size]
	if len([]rune(word)) < c.minPhoneticLen || strings.IndexFunc(word, func(r rune) bool { return !unicode.IsLetter(r) }) >= 0 {
		return tok, Correction{}, false
	}
	if _, ok := c.protected[word]; ok {
		return tok, Correction{}, false
	}
	fixed, conf, ok := c.phonetic.Match(word)
	if !ok || fixed == word {
		return tok, Correction{}, false
	}
	return tok[:start] + fixed + tok[end+size:], Correction{
		Original:   word,
		Corrected:  fixed,
		Confidence: conf,
		Method:     MethodPhonetic,
	}, true
}
