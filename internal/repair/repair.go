// Package repair recovers a JSON object from a model completion that is
// often not quite valid JSON.
//
// Completions routinely arrive wrapped in markdown fences, surrounded by
// prose, split into several concatenated objects or broken by raw newlines.
// [Parse] applies a fixed sequence of textual repairs before decoding and
// reports which ones were needed.
package repair

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/MrWong99/medscribe/pkg/clinical"
)

// PreviewLen bounds the amount of raw completion text carried in errors.
const PreviewLen = 200

// Heuristic names a repair step, for metrics and logs.
type Heuristic string

const (
	Fences   Heuristic = "fences"
	Merge    Heuristic = "merge"
	Commas   Heuristic = "commas"
	Newlines Heuristic = "newlines"
	Extract  Heuristic = "extract"
)

// MalformedError reports a completion that could not be decoded even after
// repair. Preview holds at most [PreviewLen] bytes of the raw text.
type MalformedError struct {
	Preview string
}

func (e *MalformedError) Error() string {
	return fmt.Sprintf("repair: model output not valid JSON: %q", e.Preview)
}

// Preview truncates s to [PreviewLen] bytes without splitting a UTF-8
// sequence.
func Preview(s string) string { return Truncate(s, PreviewLen) }

// Truncate cuts s to at most n bytes without splitting a UTF-8 sequence.
func Truncate(s string, n int) string {
	if n <= 0 {
		return ""
	}
	if len(s) <= n {
		return s
	}
	cut := n
	for cut > 0 && !utf8Start(s[cut]) {
		cut--
	}
	return s[:cut]
}

func utf8Start(b byte) bool { return b&0xC0 != 0x80 }

var (
	fenceRe    = regexp.MustCompile("(?s)^```[a-zA-Z]*\\s*(.*?)\\s*```$")
	boundaryRe = regexp.MustCompile(`}\s*{`)
	commaRunRe = regexp.MustCompile(`,(\s*,)+`)
)

// Parse recovers a JSON value from raw. It returns the value together with
// the heuristics that had to be applied, in order. Valid JSON is returned
// unchanged with no heuristics.
//
// When raw holds several concatenated objects they are merged into one; on
// a key collision the later object's value wins. The merge works on raw
// text, so a "}{" sequence inside a string value is rewritten as well; this
// only happens once the direct parse has already failed. On failure the
// error is a *[MalformedError].
func Parse(raw string) (clinical.Value, []Heuristic, error) {
	text := strings.TrimSpace(raw)
	if v, err := clinical.Parse(text); err == nil {
		return v, nil, nil
	}

	var applied []Heuristic
	step := func(h Heuristic, next string) {
		if next != text {
			applied = append(applied, h)
			text = next
		}
	}

	step(Fences, strings.TrimSpace(stripFences(text)))
	step(Merge, boundaryRe.ReplaceAllString(text, ","))
	step(Commas, commaRunRe.ReplaceAllString(text, ","))
	step(Newlines, strings.NewReplacer("\r", "", "\n", "").Replace(text))

	if v, err := clinical.Parse(text); err == nil {
		return v, applied, nil
	}

	// Prose around the object: keep the outermost braces.
	start, end := strings.IndexByte(text, '{'), strings.LastIndexByte(text, '}')
	if start >= 0 && end > start {
		applied = append(applied, Extract)
		if v, err := clinical.Parse(text[start : end+1]); err == nil {
			return v, applied, nil
		}
	}
	return clinical.Value{}, applied, &MalformedError{Preview: Preview(raw)}
}

func stripFences(s string) string {
	if m := fenceRe.FindStringSubmatch(s); m != nil {
		return m[1]
	}
	if i := strings.Index(s, "```"); i >= 0 {
		// Fenced block embedded in prose.
		rest := s[i+3:]
		if nl := strings.IndexByte(rest, '\n'); nl >= 0 {
			rest = rest[nl+1:]
		}
		if j := strings.Index(rest, "```"); j >= 0 {
			return rest[:j]
		}
	}
	return s
}

// IsMalformed reports whether err is a *MalformedError.
func IsMalformed(err error) bool {
	var me *MalformedError
	return errors.As(err, &me)
}
