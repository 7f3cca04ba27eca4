// Package normalize rewrites parsed model output into the canonical clinical
// vocabulary before validation.
//
// Normalization runs in two passes. The generic pass visits every node:
// booleans become "yes"/"no", age-like strings become integers, negation
// tokens become null and comma lists become arrays. Which string rules apply
// depends on the declared shape at the node's path: free-text fields are never
// split on commas, only age fields are coerced to numbers so durations such as
// "2 years" keep their unit, and lifestyle answers keep a literal "no". Paths that are
// not declared get every rule. The post-pass then forces every declared list
// field of a present section into an array. The post-pass always has the last
// word over the generic pass.
//
// Normalize is pure and idempotent: Normalize(Normalize(v)) equals
// Normalize(v).
package normalize

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/MrWong99/medscribe/internal/schema"
	"github.com/MrWong99/medscribe/pkg/clinical"
)

var ageRe = regexp.MustCompile(`(?i)^(\d{1,3})\s*(?:years?)?\s*(?:old)?$`)

var negations = map[string]struct{}{
	"none": {},
	"n/a":  {},
	"no":   {},
	"nil":  {},
}

// Normalize runs the generic pass followed by [PostPass].
func Normalize(v clinical.Value) clinical.Value {
	return PostPass(visit(nil, v))
}

type rules struct {
	split  bool
	keepNo bool
	list   bool
	age    bool
}

func rulesAt(path []string) rules {
	f, ok := schema.Lookup(path...)
	if !ok {
		return rules{split: true, age: true}
	}
	return rules{
		split:  f.Shape.IsList(),
		keepNo: f.KeepNo,
		list:   f.Shape.IsList(),
		age:    f.Shape == schema.Age,
	}
}

func visit(path []string, v clinical.Value) clinical.Value {
	switch v.Kind() {
	case clinical.KindBool:
		b, _ := v.AsBool()
		return yesNo(b)
	case clinical.KindString:
		s, _ := v.AsString()
		return normalizeString(rulesAt(path), s)
	case clinical.KindArray:
		r := rulesAt(path)
		out := make([]clinical.Value, 0, len(v.Elems()))
		for _, e := range v.Elems() {
			ne := visit(path, e)
			if r.list && ne.Kind() == clinical.KindArray && e.Kind() == clinical.KindString {
				out = append(out, ne.Elems()...)
				continue
			}
			out = append(out, ne)
		}
		return clinical.Array(out...)
	case clinical.KindObject:
		ms := v.Members()
		out := make([]clinical.Member, len(ms))
		for i, m := range ms {
			child := append(path[:len(path):len(path)], m.Key)
			out[i] = clinical.Field(m.Key, visit(child, m.Value))
		}
		return clinical.Object(out...)
	}
	// Numbers and null pass through.
	return v
}

func normalizeString(r rules, s string) clinical.Value {
	t := strings.TrimSpace(s)
	if n, ok := parseAge(t); ok && r.age {
		return clinical.Number(float64(n))
	}
	if isNegation(r, t) {
		return clinical.Null()
	}
	if r.split && strings.Contains(t, ",") {
		segs := splitList(t)
		out := make([]clinical.Value, 0, len(segs))
		for _, seg := range segs {
			if sv := scalar(r, seg); !sv.IsNull() {
				out = append(out, sv)
			}
		}
		return clinical.Array(out...)
	}
	return scalar(r, t)
}

// scalar applies the string rules that never change the kind to an array.
func scalar(r rules, t string) clinical.Value {
	if n, ok := parseAge(t); ok && r.age {
		return clinical.Number(float64(n))
	}
	if isNegation(r, t) {
		return clinical.Null()
	}
	switch strings.ToLower(t) {
	case "true":
		return clinical.String("yes")
	case "false":
		return clinical.String("no")
	case "yes", "no":
		if r.keepNo {
			return clinical.String(strings.ToLower(t))
		}
	}
	return clinical.String(t)
}

func isNegation(r rules, t string) bool {
	lower := strings.ToLower(t)
	if r.keepNo && lower == "no" {
		return false
	}
	_, ok := negations[lower]
	return ok
}

func parseAge(t string) (int, bool) {
	m := ageRe.FindStringSubmatch(t)
	if m == nil {
		return 0, false
	}
	n, err := strconv.Atoi(m[1])
	if err != nil {
		return 0, false
	}
	return n, true
}

func splitList(s string) []string {
	parts := strings.Split(s, ",")
	out := parts[:0]
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func yesNo(b bool) clinical.Value {
	if b {
		return clinical.String("yes")
	}
	return clinical.String("no")
}

// PostPass forces every declared list field of each present section into an
// array. A string is split on commas (a string without commas becomes a
// one-element list), any other scalar is wrapped, null or a missing field
// becomes an empty list and null elements are dropped. Sections that are
// absent or not objects are left alone, as are undeclared keys.
func PostPass(v clinical.Value) clinical.Value {
	if v.Kind() != clinical.KindObject {
		return v
	}
	out := v
	for _, sec := range schema.Record {
		sv, ok := v.Get(sec.Name)
		if !ok || sv.Kind() != clinical.KindObject {
			continue
		}
		for _, f := range sec.Fields {
			if !f.Shape.IsList() {
				continue
			}
			fv, _ := sv.Get(f.Name)
			sv = sv.With(f.Name, toList(fv))
		}
		out = out.With(sec.Name, sv)
	}
	return out
}

func toList(v clinical.Value) clinical.Value {
	switch v.Kind() {
	case clinical.KindNull:
		return clinical.Array()
	case clinical.KindString:
		s, _ := v.AsString()
		return clinical.Strings(splitList(s)...)
	case clinical.KindArray:
		elems := make([]clinical.Value, 0, len(v.Elems()))
		for _, e := range v.Elems() {
			if !e.IsNull() {
				elems = append(elems, e)
			}
		}
		return clinical.Array(elems...)
	case clinical.KindObject:
		// Structurally wrong; leave it for the validator to report.
		return v
	}
	return clinical.Array(v)
}
