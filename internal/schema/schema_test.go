package schema

import (
	"slices"
	"strings"
	"testing"

	"github.com/MrWong99/medscribe/pkg/clinical"
)

func mustParse(t *testing.T, s string) clinical.Value {
	t.Helper()
	v, err := clinical.Parse(s)
	if err != nil {
		t.Fatalf("Parse(%s): %v", s, err)
	}
	return v
}

// TestValidateMinimal checks that only patient and chiefComplaint are needed.
func TestValidateMinimal(t *testing.T) {
	t.Parallel()

	rec, issues := Validate(mustParse(t, `{"chiefComplaint":{"complaint":"fever and cough","duration":"3 days"},"patient":{}}`))
	if len(issues) > 0 {
		t.Fatalf("unexpected issues: %v", issues)
	}
	if got := clinical.Deref(rec.ChiefComplaint.Complaint); got != "fever and cough" {
		t.Errorf("complaint = %q, want %q", got, "fever and cough")
	}
	if got := clinical.Deref(rec.ChiefComplaint.Duration); got != "3 days" {
		t.Errorf("duration = %q, want %q", got, "3 days")
	}
	if rec.Patient.Age != nil {
		t.Errorf("age = %d, want nil", *rec.Patient.Age)
	}
	if rec.Medications != nil || rec.PastMedicalHistory != nil {
		t.Error("optional sections should stay nil when absent")
	}
}

// TestValidateAccumulates checks that every failure is reported in one call.
func TestValidateAccumulates(t *testing.T) {
	t.Parallel()

	_, issues := Validate(mustParse(t, `{"extra":true}`))
	if len(issues) != 2 {
		t.Fatalf("got %d issues, want 2: %v", len(issues), issues)
	}
	paths := []string{issues[0].Path, issues[1].Path}
	for _, want := range []string{"patient", "chiefComplaint"} {
		if !slices.Contains(paths, want) {
			t.Errorf("missing issue for %q in %v", want, paths)
		}
	}
	for _, is := range issues {
		if is.Received != "undefined" {
			t.Errorf("%s received = %q, want undefined", is.Path, is.Received)
		}
	}
}

// TestValidateIssues checks paths and received types for structurally wrong
// fields.
func TestValidateIssues(t *testing.T) {
	t.Parallel()

	in := `{
		"patient": {"age": "forty", "fullName": {"first": "A"}},
		"chiefComplaint": {"complaint": "pain"},
		"pastMedicalHistory": {"allergies": ["dust", {"x": 1}]},
		"medications": {"current": [{"dose": "5mg"}, 7]},
		"plan": "tomorrow"
	}`
	_, issues := Validate(mustParse(t, in))

	want := map[string]string{
		"patient.age":                     "string",
		"patient.fullName":                "object",
		"pastMedicalHistory.allergies[1]": "object",
		"medications.current[0].name":     "undefined",
		"medications.current[1]":          "number",
		"plan":                            "string",
	}
	got := make(map[string]string, len(issues))
	for _, is := range issues {
		got[is.Path] = is.Received
	}
	for path, recv := range want {
		if got[path] != recv {
			t.Errorf("issue %s: received = %q, want %q (all: %v)", path, got[path], recv, issues)
		}
	}
	if len(issues) != len(want) {
		t.Errorf("got %d issues, want %d: %v", len(issues), len(want), issues)
	}
}

// TestValidateCoercions checks scalar coercion into text and list shapes.
func TestValidateCoercions(t *testing.T) {
	t.Parallel()

	in := `{
		"patient": {"age": 45, "gender": 1},
		"chiefComplaint": {"complaint": null},
		"socialHistory": {"smoking": false, "alcohol": "occasionally"},
		"assessment": {"summary": 12.5, "differentialDiagnoses": null},
		"pastMedicalHistory": {"chronicDiseases": ["diabetes", null, 2]},
		"medications": {"current": ["aspirin", {"name": "metformin", "dose": "500mg"}]}
	}`
	rec, issues := Validate(mustParse(t, in))
	if len(issues) > 0 {
		t.Fatalf("unexpected issues: %v", issues)
	}
	if rec.Patient.Age == nil || *rec.Patient.Age != 45 {
		t.Errorf("age = %v, want 45", rec.Patient.Age)
	}
	if got := clinical.Deref(rec.Patient.Gender); got != "1" {
		t.Errorf("gender = %q, want 1", got)
	}
	if got := clinical.Deref(rec.SocialHistory.Smoking); got != "no" {
		t.Errorf("smoking = %q, want no", got)
	}
	if got := clinical.Deref(rec.Assessment.Summary); got != "12.5" {
		t.Errorf("summary = %q, want 12.5", got)
	}
	if rec.Assessment.DifferentialDiagnoses == nil || len(rec.Assessment.DifferentialDiagnoses) != 0 {
		t.Errorf("differentialDiagnoses = %#v, want empty non-nil", rec.Assessment.DifferentialDiagnoses)
	}
	if got := rec.PastMedicalHistory.ChronicDiseases; !slices.Equal(got, []string{"diabetes", "2"}) {
		t.Errorf("chronicDiseases = %v", got)
	}
	if got := rec.PastMedicalHistory.Surgeries; got == nil {
		t.Error("absent list field in present section should be empty, not nil")
	}
	meds := rec.Medications.Current
	if len(meds) != 2 || meds[0].Name != "aspirin" || meds[1].Name != "metformin" {
		t.Fatalf("current = %+v", meds)
	}
	if clinical.Deref(meds[1].Dose) != "500mg" {
		t.Errorf("dose = %q, want 500mg", clinical.Deref(meds[1].Dose))
	}
}

// TestValidateRootNotObject checks the root type check.
func TestValidateRootNotObject(t *testing.T) {
	t.Parallel()

	_, issues := Validate(clinical.Strings("a"))
	if len(issues) != 1 || issues[0].Path != "(root)" || issues[0].Received != "array" {
		t.Errorf("issues = %v", issues)
	}
}

// TestLookup checks path resolution into the declaration.
func TestLookup(t *testing.T) {
	t.Parallel()

	tests := []struct {
		path  []string
		shape Shape
		ok    bool
	}{
		{[]string{"patient", "age"}, Age, true},
		{[]string{"historyOfPresentIllness", "chronologicalNarrative"}, Text, true},
		{[]string{"pastMedicalHistory", "allergies"}, StringList, true},
		{[]string{"medications", "current"}, MedicationList, true},
		{[]string{"medications", "current", "dose"}, Text, true},
		{[]string{"medications", "past", "dose"}, Text, false},
		{[]string{"unknown", "x"}, Text, false},
		{[]string{"patient"}, Text, false},
	}
	for _, tt := range tests {
		f, ok := Lookup(tt.path...)
		if ok != tt.ok {
			t.Errorf("Lookup(%v) ok = %v, want %v", tt.path, ok, tt.ok)
			continue
		}
		if ok && f.Shape != tt.shape {
			t.Errorf("Lookup(%v) shape = %v, want %v", tt.path, f.Shape, tt.shape)
		}
	}
	if f, _ := Lookup("socialHistory", "smoking"); !f.KeepNo {
		t.Error("socialHistory.smoking should keep literal no")
	}
}

// TestDescribe checks the prompt rendering of the declaration.
func TestDescribe(t *testing.T) {
	t.Parallel()

	d := Describe()
	for _, want := range []string{
		`"age": number | null,`,
		`"dateOfVisit": "string (ISO date)",`,
		`"associatedSymptoms": ["string"],`,
		`"current": [{"name": "string", "dose": "string", "frequency": "string"}],`,
		`"followUp": "string"`,
	} {
		if !strings.Contains(d, want) {
			t.Errorf("Describe() missing %q", want)
		}
	}
	if !strings.HasPrefix(d, "{") || !strings.HasSuffix(d, "}") {
		t.Error("Describe() should be a brace-delimited skeleton")
	}
}

// TestJSONSchemaStrict checks the structured-output schema form.
func TestJSONSchemaStrict(t *testing.T) {
	t.Parallel()

	s, err := JSONSchema()
	if err != nil {
		t.Fatalf("JSONSchema: %v", err)
	}
	if s["additionalProperties"] != false {
		t.Error("root additionalProperties should be false")
	}
	props, ok := s["properties"].(map[string]any)
	if !ok {
		t.Fatal("root has no properties")
	}
	for _, sec := range Record {
		if _, ok := props[sec.Name]; !ok {
			t.Errorf("schema missing section %q", sec.Name)
		}
	}
	req, _ := s["required"].([]string)
	if len(req) != len(Record) {
		t.Errorf("required has %d entries, want %d", len(req), len(Record))
	}
	patient, _ := props["patient"].(map[string]any)
	pprops, _ := patient["properties"].(map[string]any)
	age, _ := pprops["age"].(map[string]any)
	types, _ := age["type"].([]any)
	if !slices.Contains(types, any("null")) {
		t.Errorf("patient.age type = %v, want nullable", age["type"])
	}
}
