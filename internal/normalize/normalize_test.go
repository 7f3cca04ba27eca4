package normalize

import (
	"reflect"
	"testing"

	"github.com/MrWong99/medscribe/internal/schema"
	"github.com/MrWong99/medscribe/pkg/clinical"
)

func parse(t *testing.T, s string) clinical.Value {
	t.Helper()
	v, err := clinical.Parse(s)
	if err != nil {
		t.Fatalf("Parse(%s): %v", s, err)
	}
	return v
}

// TestNormalizeScalars checks the generic rules on bare values.
func TestNormalizeScalars(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in   string
		want string
	}{
		{`"45 years old"`, `45`},
		{`"45"`, `45`},
		{`" 7 Years "`, `7`},
		{`"12 year"`, `12`},
		{`"forty-five"`, `"forty-five"`},
		{`"1234"`, `"1234"`},
		{`"none"`, `null`},
		{`" N/A "`, `null`},
		{`"No"`, `null`},
		{`"NIL"`, `null`},
		{`"True"`, `"yes"`},
		{`"false"`, `"no"`},
		{`true`, `"yes"`},
		{`false`, `"no"`},
		{`3.5`, `3.5`},
		{`null`, `null`},
		{`"  Headache  "`, `"Headache"`},
		{`"a, b ,, c"`, `["a","b","c"]`},
		{`"x, none, 30"`, `["x",30]`},
		{`[true, "none", "a,b"]`, `["yes",null,["a","b"]]`},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			t.Parallel()
			if got := Normalize(parse(t, tt.in)).String(); got != tt.want {
				t.Errorf("Normalize(%s) = %s, want %s", tt.in, got, tt.want)
			}
		})
	}
}

// TestNormalizeFieldAware checks that declared fields change which string
// rules apply.
func TestNormalizeFieldAware(t *testing.T) {
	t.Parallel()

	in := `{
		"patient": {"age": "45 years old", "fullName": "Doe, Jane"},
		"historyOfPresentIllness": {
			"chronologicalNarrative": "Started Monday, worsened Tuesday, better today",
			"associatedSymptoms": "nausea, vomiting"
		},
		"socialHistory": {"smoking": "No", "alcohol": "none", "drugs": false, "diet": "rice, beans"},
		"medications": {"current": ["aspirin, metformin", {"name": "insulin", "dose": "10 units, nightly"}]},
		"unknown": {"thing": "a, b"}
	}`
	got := Normalize(parse(t, in))

	checks := []struct {
		path []string
		want string
	}{
		{[]string{"patient", "age"}, `45`},
		{[]string{"patient", "fullName"}, `"Doe, Jane"`},
		{[]string{"historyOfPresentIllness", "chronologicalNarrative"}, `"Started Monday, worsened Tuesday, better today"`},
		{[]string{"historyOfPresentIllness", "associatedSymptoms"}, `["nausea","vomiting"]`},
		{[]string{"historyOfPresentIllness", "exacerbatingFactors"}, `[]`},
		{[]string{"socialHistory", "smoking"}, `"no"`},
		{[]string{"socialHistory", "alcohol"}, `null`},
		{[]string{"socialHistory", "drugs"}, `"no"`},
		{[]string{"socialHistory", "diet"}, `"rice, beans"`},
		{[]string{"medications", "current"}, `["aspirin","metformin",{"name":"insulin","dose":"10 units, nightly"}]`},
		{[]string{"medications", "past"}, `[]`},
		{[]string{"unknown", "thing"}, `["a","b"]`},
	}
	for _, c := range checks {
		v := got
		for _, k := range c.path {
			var ok bool
			if v, ok = v.Get(k); !ok {
				t.Fatalf("path %v: key %q missing in %s", c.path, k, got)
			}
		}
		if v.String() != c.want {
			t.Errorf("%v = %s, want %s", c.path, v, c.want)
		}
	}
}

// TestNormalizeKeepsUnits checks that numeric coercion is limited to the
// age field, so durations in free-text fields survive validation intact.
func TestNormalizeKeepsUnits(t *testing.T) {
	t.Parallel()

	in := `{
		"patient": {"age": "45 years old"},
		"chiefComplaint": {"complaint": "cough", "duration": "2 years"},
		"historyOfPresentIllness": {"timing": "3"},
		"socialHistory": {"smoking": "20 years"}
	}`
	rec, issues := schema.Validate(Normalize(parse(t, in)))
	if len(issues) != 0 {
		t.Fatalf("issues = %v", issues)
	}
	if rec.Patient.Age == nil || *rec.Patient.Age != 45 {
		t.Errorf("age = %v, want 45", rec.Patient.Age)
	}
	if rec.HistoryOfPresentIllness == nil || rec.SocialHistory == nil {
		t.Fatalf("sections missing: %+v", rec)
	}
	tests := []struct {
		name string
		got  *string
		want string
	}{
		{"chiefComplaint.duration", rec.ChiefComplaint.Duration, "2 years"},
		{"historyOfPresentIllness.timing", rec.HistoryOfPresentIllness.Timing, "3"},
		{"socialHistory.smoking", rec.SocialHistory.Smoking, "20 years"},
	}
	for _, tt := range tests {
		if got := clinical.Deref(tt.got); got != tt.want {
			t.Errorf("%s = %q, want %q", tt.name, got, tt.want)
		}
	}
}

// TestPostPassChronicDiseases checks list coercion of pastMedicalHistory.
func TestPostPassChronicDiseases(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in   string
		want string
	}{
		{`"diabetes, hypertension"`, `["diabetes","hypertension"]`},
		{`"diabetes"`, `["diabetes"]`},
		{`null`, `[]`},
		{`["diabetes","hypertension"]`, `["diabetes","hypertension"]`},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			t.Parallel()
			out := Normalize(parse(t, `{"pastMedicalHistory":{"chronicDiseases":`+tt.in+`}}`))
			pmh, _ := out.Get("pastMedicalHistory")
			got, _ := pmh.Get("chronicDiseases")
			if got.String() != tt.want {
				t.Errorf("chronicDiseases = %s, want %s", got, tt.want)
			}
		})
	}
}

// TestPostPassLeavesAbsentSections checks that missing sections are not
// created.
func TestPostPassLeavesAbsentSections(t *testing.T) {
	t.Parallel()

	out := Normalize(parse(t, `{"patient":{}}`))
	if _, ok := out.Get("medications"); ok {
		t.Error("post-pass created an absent section")
	}
}

// TestNormalizeIdempotent checks that a second pass changes nothing.
func TestNormalizeIdempotent(t *testing.T) {
	t.Parallel()

	inputs := []string{
		`{"patient":{"age":"45 years old","gender":"Female","fullName":"none"},"chiefComplaint":{"complaint":"fever, cough","duration":"3 days"}}`,
		`{"socialHistory":{"smoking":"No","alcohol":true,"exercise":"Yes"},"assessment":{"summary":"viral, likely","differentialDiagnoses":"flu, covid, none"}}`,
		`{"medications":{"current":"aspirin, metformin","supplements":null,"past":["a, b",null,"c"]}}`,
		`{"pastMedicalHistory":{"allergies":5,"surgeries":""},"plan":{"treatment":[true,"rest"],"followUp":"n/a"}}`,
		`["x, y", {"k": "no"}, "22"]`,
		`"  nil "`,
	}
	for _, in := range inputs {
		once := Normalize(parse(t, in))
		twice := Normalize(once)
		if !once.Equal(twice) {
			t.Errorf("not idempotent for %s:\n once  = %s\n twice = %s", in, once, twice)
		}
	}
}

// TestNormalizeDoesNotMutate checks that the input value is left untouched.
func TestNormalizeDoesNotMutate(t *testing.T) {
	t.Parallel()

	in := parse(t, `{"pastMedicalHistory":{"allergies":"dust, pollen"}}`)
	before := in.String()
	Normalize(in)
	if after := in.String(); after != before {
		t.Errorf("input changed: %s -> %s", before, after)
	}
}

// TestFinalize checks the typed post-pass on a validated record.
func TestFinalize(t *testing.T) {
	t.Parallel()

	rec, issues := schema.Validate(parse(t, `{"patient":{},"chiefComplaint":{},"plan":{"treatment":["rest"," "]},"medications":{}}`))
	if len(issues) > 0 {
		t.Fatalf("issues: %v", issues)
	}
	rec.Plan.Investigations = nil
	Finalize(rec)

	if rec.Plan.Investigations == nil {
		t.Error("investigations is nil after Finalize")
	}
	if !reflect.DeepEqual(rec.Plan.Treatment, []string{"rest"}) {
		t.Errorf("treatment = %q, want [rest]", rec.Plan.Treatment)
	}
	if rec.Medications.Current == nil {
		t.Error("current is nil after Finalize")
	}

	before := *rec.Plan
	Finalize(rec)
	if !reflect.DeepEqual(before, *rec.Plan) {
		t.Error("second Finalize changed the record")
	}
	Finalize(nil)
}
