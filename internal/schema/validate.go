package schema

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"

	"github.com/MrWong99/medscribe/pkg/clinical"
)

// Issue is a single field that does not conform to the declared shape.
type Issue struct {
	// Path locates the field, e.g. "medications.current[1].name". The root
	// value is reported as "(root)".
	Path string `json:"path"`

	// Expected describes the accepted shape.
	Expected string `json:"expected"`

	// Received is the JSON type found, or "undefined" when the field was
	// missing.
	Received string `json:"received"`
}

// String formats the issue as "path: expected X, received Y".
func (i Issue) String() string {
	return fmt.Sprintf("%s: expected %s, received %s", i.Path, i.Expected, i.Received)
}

// Validate checks v against [Record] and converts it into a typed record.
//
// Every field is checked; all non-conforming fields are reported together.
// When issues is non-empty the returned record is nil. Keys that are not
// declared are ignored, and optional sections that are missing or null are
// left nil in the record. Validate does not modify v.
func Validate(v clinical.Value) (*clinical.Record, []Issue) {
	var vd validator
	if v.Kind() != clinical.KindObject {
		vd.add("(root)", "object", v, true)
		return nil, vd.issues
	}

	out := make([]clinical.Member, 0, len(Record))
	for _, sec := range Record {
		sv, ok := v.Get(sec.Name)
		if !ok || sv.IsNull() {
			if sec.Required {
				vd.add(sec.Name, "object", sv, ok)
			}
			continue
		}
		if sv.Kind() != clinical.KindObject {
			vd.add(sec.Name, "object | null", sv, true)
			continue
		}
		out = append(out, clinical.Field(sec.Name, vd.object(sec.Name, sec.Fields, sv)))
	}
	if len(vd.issues) > 0 {
		return nil, vd.issues
	}

	raw, err := clinical.Object(out...).MarshalJSON()
	if err != nil {
		return nil, []Issue{{Path: "(root)", Expected: "encodable record", Received: err.Error()}}
	}
	var rec clinical.Record
	if err := json.Unmarshal(raw, &rec); err != nil {
		return nil, []Issue{{Path: "(root)", Expected: "record", Received: err.Error()}}
	}
	return &rec, nil
}

type validator struct {
	issues []Issue
}

func (vd *validator) add(path, expected string, got clinical.Value, present bool) {
	received := "undefined"
	if present {
		received = got.Kind().String()
	}
	vd.issues = append(vd.issues, Issue{Path: path, Expected: expected, Received: received})
}

// object canonicalizes the declared fields of obj. Absent fields become null
// or an empty list.
func (vd *validator) object(path string, fields []Field, obj clinical.Value) clinical.Value {
	ms := make([]clinical.Member, 0, len(fields))
	for _, f := range fields {
		fv, ok := obj.Get(f.Name)
		if !ok {
			fv = clinical.Null()
		}
		ms = append(ms, clinical.Field(f.Name, vd.field(path+"."+f.Name, f.Shape, fv)))
	}
	return clinical.Object(ms...)
}

func (vd *validator) field(path string, shape Shape, v clinical.Value) clinical.Value {
	switch shape {
	case Text:
		s, ok := scalarText(v)
		if !ok {
			vd.add(path, shape.String(), v, true)
			return clinical.Null()
		}
		return s
	case Age:
		return vd.age(path, v)
	case StringList:
		return vd.stringList(path, v)
	case MedicationList:
		return vd.medications(path, v)
	}
	return clinical.Null()
}

// scalarText coerces any scalar to a nullable string value.
func scalarText(v clinical.Value) (clinical.Value, bool) {
	switch v.Kind() {
	case clinical.KindNull, clinical.KindString:
		return v, true
	case clinical.KindNumber:
		n, _ := v.AsNumber()
		return clinical.String(strconv.FormatFloat(n, 'f', -1, 64)), true
	case clinical.KindBool:
		if b, _ := v.AsBool(); b {
			return clinical.String("yes"), true
		}
		return clinical.String("no"), true
	}
	return clinical.Null(), false
}

func (vd *validator) age(path string, v clinical.Value) clinical.Value {
	switch v.Kind() {
	case clinical.KindNull:
		return v
	case clinical.KindNumber:
		n, _ := v.AsNumber()
		if n >= 0 && n == math.Trunc(n) && n <= math.MaxInt32 {
			return v
		}
	}
	vd.add(path, Age.String(), v, true)
	return clinical.Null()
}

func (vd *validator) stringList(path string, v clinical.Value) clinical.Value {
	switch v.Kind() {
	case clinical.KindNull:
		return clinical.Array()
	case clinical.KindArray:
	default:
		vd.add(path, StringList.String(), v, true)
		return clinical.Array()
	}
	out := make([]clinical.Value, 0, len(v.Elems()))
	for i, e := range v.Elems() {
		if e.IsNull() {
			continue
		}
		s, ok := scalarText(e)
		if !ok {
			vd.add(fmt.Sprintf("%s[%d]", path, i), "string", e, true)
			continue
		}
		out = append(out, s)
	}
	return clinical.Array(out...)
}

func (vd *validator) medications(path string, v clinical.Value) clinical.Value {
	switch v.Kind() {
	case clinical.KindNull:
		return clinical.Array()
	case clinical.KindArray:
	default:
		vd.add(path, MedicationList.String(), v, true)
		return clinical.Array()
	}
	out := make([]clinical.Value, 0, len(v.Elems()))
	for i, e := range v.Elems() {
		itemPath := fmt.Sprintf("%s[%d]", path, i)
		switch e.Kind() {
		case clinical.KindNull:
			continue
		case clinical.KindString:
			out = append(out, clinical.Object(
				clinical.Field("name", e),
				clinical.Field("dose", clinical.Null()),
				clinical.Field("frequency", clinical.Null()),
			))
			continue
		case clinical.KindObject:
		default:
			vd.add(itemPath, "medication object | string", e, true)
			continue
		}
		item := vd.object(itemPath, MedicationFields, e)
		if name, _ := item.Get("name"); name.IsNull() {
			// A non-scalar name was already reported by object.
			if got, present := e.Get("name"); !present || got.IsNull() {
				vd.add(itemPath+".name", "string", got, present)
			}
			continue
		}
		out = append(out, item)
	}
	return clinical.Array(out...)
}
