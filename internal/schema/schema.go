// Package schema declares the shape of a clinical record and validates
// normalized model output against it.
//
// The declaration in this package is the single source of truth for field
// names and shapes. The structural normalizer reads it to decide which rules
// apply at a path, the prompt builder renders it into the system prompt, and
// [Validate] checks model output against it while building a
// [clinical.Record].
package schema

// Shape is the accepted form of a leaf field.
type Shape uint8

const (
	// Text is a nullable free-text value. Any scalar is accepted and coerced
	// to a string; arrays and objects are rejected.
	Text Shape = iota

	// Age is a nullable non-negative integer.
	Age

	// StringList is an array of strings. Null is accepted and becomes an
	// empty list.
	StringList

	// MedicationList is an array of medication objects. Bare strings are
	// accepted as medication names.
	MedicationList
)

// String returns the shape as it appears in validation issues.
func (s Shape) String() string {
	switch s {
	case Text:
		return "string | number | boolean | null"
	case Age:
		return "non-negative integer | null"
	case StringList:
		return "array of strings | null"
	case MedicationList:
		return "array of medications | null"
	default:
		return "unknown"
	}
}

// IsList reports whether fields of this shape hold arrays.
func (s Shape) IsList() bool { return s == StringList || s == MedicationList }

// Field is one leaf of a section.
type Field struct {
	Name  string
	Shape Shape

	// Hint replaces the default type text when the field is rendered into
	// the prompt.
	Hint string

	// KeepNo keeps a literal "no" answer instead of treating it as a
	// negation token. Used for yes/no style lifestyle answers.
	KeepNo bool
}

// Section is a named group of fields at the top level of a record.
type Section struct {
	Name     string
	Required bool
	Fields   []Field
}

// Field returns the field called name.
func (s Section) Field(name string) (Field, bool) {
	for _, f := range s.Fields {
		if f.Name == name {
			return f, true
		}
	}
	return Field{}, false
}

// MedicationFields are the members of a single medications.current entry.
// Name is required.
var MedicationFields = []Field{
	{Name: "name", Shape: Text},
	{Name: "dose", Shape: Text},
	{Name: "frequency", Shape: Text},
}

func text(names ...string) []Field {
	fs := make([]Field, len(names))
	for i, n := range names {
		fs[i] = Field{Name: n, Shape: Text}
	}
	return fs
}

func lists(names ...string) []Field {
	fs := make([]Field, len(names))
	for i, n := range names {
		fs[i] = Field{Name: n, Shape: StringList}
	}
	return fs
}

func lifestyle(names ...string) []Field {
	fs := text(names...)
	for i := range fs {
		fs[i].KeepNo = true
	}
	return fs
}

// Record is the clinical record declaration, in rendering order.
var Record = []Section{
	{
		Name:     "patient",
		Required: true,
		Fields: []Field{
			{Name: "fullName", Shape: Text},
			{Name: "age", Shape: Age},
			{Name: "gender", Shape: Text},
			{Name: "occupation", Shape: Text},
			{Name: "maritalStatus", Shape: Text},
			{Name: "dateOfVisit", Shape: Text, Hint: `"string (ISO date)"`},
			{Name: "sourceOfHistory", Shape: Text},
		},
	},
	{
		Name:     "chiefComplaint",
		Required: true,
		Fields:   text("complaint", "duration"),
	},
	{
		Name: "historyOfPresentIllness",
		Fields: []Field{
			{Name: "onset", Shape: Text},
			{Name: "site", Shape: Text},
			{Name: "character", Shape: Text},
			{Name: "radiation", Shape: Text},
			{Name: "associatedSymptoms", Shape: StringList},
			{Name: "timing", Shape: Text},
			{Name: "exacerbatingFactors", Shape: StringList},
			{Name: "relievingFactors", Shape: StringList},
			{Name: "severity", Shape: Text},
			{Name: "chronologicalNarrative", Shape: Text},
		},
	},
	{
		Name: "reviewOfSystems",
		Fields: lists("general", "cardiovascular", "respiratory", "gastrointestinal",
			"genitourinary", "neurological", "musculoskeletal", "endocrine", "psychiatric", "skin"),
	},
	{
		Name: "pastMedicalHistory",
		Fields: lists("chronicDiseases", "surgeries", "hospitalizations", "allergies",
			"immunizations", "transfusions"),
	},
	{
		Name: "medications",
		Fields: []Field{
			{Name: "current", Shape: MedicationList},
			{Name: "past", Shape: StringList},
			{Name: "supplements", Shape: StringList},
		},
	},
	{
		Name:   "familyHistory",
		Fields: lists("diseases", "relativesAffected", "hereditaryConditions"),
	},
	{
		Name: "socialHistory",
		Fields: lifestyle("smoking", "alcohol", "drugs", "diet", "exercise",
			"occupationHazards", "livingConditions", "sexualHistory"),
	},
	{
		Name:   "preventiveCare",
		Fields: lists("immunizations", "screeningTests"),
	},
	{
		Name: "assessment",
		Fields: []Field{
			{Name: "summary", Shape: Text},
			{Name: "differentialDiagnoses", Shape: StringList},
		},
	},
	{
		Name: "plan",
		Fields: []Field{
			{Name: "investigations", Shape: StringList},
			{Name: "treatment", Shape: StringList},
			{Name: "followUp", Shape: Text},
		},
	},
}

// LookupSection returns the declared section called name.
func LookupSection(name string) (Section, bool) {
	for _, s := range Record {
		if s.Name == name {
			return s, true
		}
	}
	return Section{}, false
}

// Lookup resolves a key path to its declared field. Array positions are not
// part of the path, so the dose of any current medication is
// ("medications", "current", "dose").
func Lookup(path ...string) (Field, bool) {
	if len(path) < 2 {
		return Field{}, false
	}
	sec, ok := LookupSection(path[0])
	if !ok {
		return Field{}, false
	}
	f, ok := sec.Field(path[1])
	if !ok {
		return Field{}, false
	}
	switch {
	case len(path) == 2:
		return f, true
	case len(path) == 3 && f.Shape == MedicationList:
		for _, mf := range MedicationFields {
			if mf.Name == path[2] {
				return mf, true
			}
		}
	}
	return Field{}, false
}
