// Package report renders a validated clinical record for humans.
//
// Sections appear in record declaration order. Sections with no content are
// skipped, scalar fields render as labelled lines and list fields as
// bullets.
package report

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/MrWong99/medscribe/internal/schema"
	"github.com/MrWong99/medscribe/pkg/clinical"
)

// Format selects the output flavour.
type Format string

const (
	FormatMarkdown Format = "markdown"
	FormatText     Format = "text"
)

// Title is the document heading.
const Title = "Clinical Record"

// ParseFormat maps a query value to a Format. The empty string selects
// Markdown.
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "markdown", "md":
		return FormatMarkdown, nil
	case "text", "txt", "plain":
		return FormatText, nil
	}
	return "", fmt.Errorf("report: unknown format %q", s)
}

// ContentType returns the MIME type for f.
func (f Format) ContentType() string {
	if f == FormatText {
		return "text/plain; charset=utf-8"
	}
	return "text/markdown; charset=utf-8"
}

// Render renders rec in format f.
func Render(rec *clinical.Record, f Format) (string, error) {
	secs, err := collect(rec)
	if err != nil {
		return "", err
	}
	switch f {
	case FormatMarkdown:
		return markdown(secs), nil
	case FormatText:
		return text(secs), nil
	}
	return "", fmt.Errorf("report: unknown format %q", f)
}

// Markdown renders rec as a Markdown document.
func Markdown(rec *clinical.Record) (string, error) { return Render(rec, FormatMarkdown) }

// Text renders rec as indented plain text.
func Text(rec *clinical.Record) (string, error) { return Render(rec, FormatText) }

type entry struct {
	label string
	value string
	items []string
	list  bool
}

type section struct {
	title   string
	entries []entry
}

func collect(rec *clinical.Record) ([]section, error) {
	if rec == nil {
		return nil, nil
	}
	raw, err := json.Marshal(rec)
	if err != nil {
		return nil, fmt.Errorf("report: encode record: %w", err)
	}
	root, err := clinical.Parse(string(raw))
	if err != nil {
		return nil, fmt.Errorf("report: %w", err)
	}

	var out []section
	for _, decl := range schema.Record {
		sv, ok := root.Get(decl.Name)
		if !ok || sv.Kind() != clinical.KindObject {
			continue
		}
		sec := section{title: humanize(decl.Name)}
		for _, f := range decl.Fields {
			fv, _ := sv.Get(f.Name)
			if e, ok := fieldEntry(f, fv); ok {
				sec.entries = append(sec.entries, e)
			}
		}
		if len(sec.entries) > 0 {
			out = append(out, sec)
		}
	}
	return out, nil
}

func fieldEntry(f schema.Field, v clinical.Value) (entry, bool) {
	e := entry{label: humanize(f.Name), list: f.Shape.IsList()}
	if !e.list {
		e.value = scalar(v)
		return e, e.value != ""
	}
	for _, item := range v.Elems() {
		var s string
		if item.Kind() == clinical.KindObject {
			s = medication(item)
		} else {
			s = scalar(item)
		}
		if s != "" {
			e.items = append(e.items, s)
		}
	}
	return e, len(e.items) > 0
}

func scalar(v clinical.Value) string {
	switch v.Kind() {
	case clinical.KindString:
		s, _ := v.AsString()
		return strings.Join(strings.Fields(s), " ")
	case clinical.KindNumber:
		n, _ := v.AsNumber()
		return strconv.FormatFloat(n, 'f', -1, 64)
	case clinical.KindBool:
		if b, _ := v.AsBool(); b {
			return "yes"
		}
		return "no"
	}
	return ""
}

// medication renders "name (dose, frequency)".
func medication(v clinical.Value) string {
	name, _ := v.Get("name")
	s := scalar(name)
	var extra []string
	for _, k := range []string{"dose", "frequency"} {
		if fv, ok := v.Get(k); ok {
			if t := scalar(fv); t != "" {
				extra = append(extra, t)
			}
		}
	}
	if len(extra) > 0 {
		s += " (" + strings.Join(extra, ", ") + ")"
	}
	return s
}

// humanize turns a camelCase key into a heading: "historyOfPresentIllness"
// becomes "History of Present Illness".
func humanize(key string) string {
	// Casers are stateful and must not be shared between goroutines.
	title := cases.Title(language.English)
	var words []string
	start := 0
	for i, r := range key {
		if i > 0 && r >= 'A' && r <= 'Z' {
			words = append(words, key[start:i])
			start = i
		}
	}
	words = append(words, key[start:])
	for i, w := range words {
		w = strings.ToLower(w)
		if i > 0 && (w == "of" || w == "and") {
			words[i] = w
			continue
		}
		words[i] = title.String(w)
	}
	return strings.Join(words, " ")
}

var mdEscaper = strings.NewReplacer(`\`, `\\`, `*`, `\*`, `_`, `\_`, "`", "\\`", `#`, `\#`, `[`, `\[`, `]`, `\]`)

func markdown(secs []section) string {
	var b strings.Builder
	b.WriteString("# " + Title + "\n")
	for _, sec := range secs {
		b.WriteString("\n## " + sec.title + "\n\n")
		for _, e := range sec.entries {
			if !e.list {
				fmt.Fprintf(&b, "- **%s:** %s\n", e.label, mdEscaper.Replace(e.value))
				continue
			}
			fmt.Fprintf(&b, "- **%s:**\n", e.label)
			for _, it := range e.items {
				b.WriteString("  - " + mdEscaper.Replace(it) + "\n")
			}
		}
	}
	return b.String()
}

func text(secs []section) string {
	upper := cases.Upper(language.English)
	var b strings.Builder
	b.WriteString(upper.String(Title) + "\n")
	for _, sec := range secs {
		b.WriteString("\n" + upper.String(sec.title) + "\n")
		for _, e := range sec.entries {
			if !e.list {
				fmt.Fprintf(&b, "  %s: %s\n", e.label, e.value)
				continue
			}
			fmt.Fprintf(&b, "  %s:\n", e.label)
			for _, it := range e.items {
				b.WriteString("    - " + it + "\n")
			}
		}
	}
	return b.String()
}
