package report

import (
	"strings"
	"testing"

	"github.com/MrWong99/medscribe/pkg/clinical"
)

func sampleRecord() *clinical.Record {
	age := 45
	return &clinical.Record{
		Patient: clinical.Patient{FullName: clinical.Text("Jane Doe"), Age: &age},
		ChiefComplaint: clinical.ChiefComplaint{
			Complaint: clinical.Text("fever and cough"),
			Duration:  clinical.Text("3 days"),
		},
		PastMedicalHistory: &clinical.PastMedicalHistory{
			ChronicDiseases: []string{"diabetes", "hypertension"},
			Surgeries:       []string{},
		},
		Medications: &clinical.Medications{
			Current: []clinical.Medication{
				{Name: "metformin", Dose: clinical.Text("500 mg"), Frequency: clinical.Text("twice daily")},
				{Name: "aspirin"},
			},
		},
		FamilyHistory: &clinical.FamilyHistory{},
		Assessment: &clinical.Assessment{
			Summary: clinical.Text("likely *viral* infection"),
		},
	}
}

// TestMarkdown checks section order, skipping and list rendering.
func TestMarkdown(t *testing.T) {
	t.Parallel()

	got, err := Markdown(sampleRecord())
	if err != nil {
		t.Fatalf("Markdown: %v", err)
	}
	want := `# Clinical Record

## Patient

- **Full Name:** Jane Doe
- **Age:** 45

## Chief Complaint

- **Complaint:** fever and cough
- **Duration:** 3 days

## Past Medical History

- **Chronic Diseases:**
  - diabetes
  - hypertension

## Medications

- **Current:**
  - metformin (500 mg, twice daily)
  - aspirin

## Assessment

- **Summary:** likely \*viral\* infection
`
	if got != want {
		t.Errorf("Markdown =\n%s\nwant\n%s", got, want)
	}
}

// TestText checks the plain-text layout.
func TestText(t *testing.T) {
	t.Parallel()

	got, err := Text(sampleRecord())
	if err != nil {
		t.Fatalf("Text: %v", err)
	}
	for _, want := range []string{
		"CLINICAL RECORD\n",
		"\nPATIENT\n  Full Name: Jane Doe\n  Age: 45\n",
		"\nPAST MEDICAL HISTORY\n  Chronic Diseases:\n    - diabetes\n    - hypertension\n",
		"  Summary: likely *viral* infection\n",
	} {
		if !strings.Contains(got, want) {
			t.Errorf("Text missing %q in\n%s", want, got)
		}
	}
	if strings.Contains(got, "FAMILY HISTORY") {
		t.Error("empty section rendered")
	}
	if strings.Index(got, "CHIEF COMPLAINT") > strings.Index(got, "ASSESSMENT") {
		t.Error("sections out of order")
	}
}

// TestRenderEmpty checks that a record without content renders only the
// title.
func TestRenderEmpty(t *testing.T) {
	t.Parallel()

	got, err := Markdown(&clinical.Record{})
	if err != nil {
		t.Fatalf("Markdown: %v", err)
	}
	if got != "# Clinical Record\n" {
		t.Errorf("Markdown = %q", got)
	}
	if got, _ := Text(nil); got != "CLINICAL RECORD\n" {
		t.Errorf("Text(nil) = %q", got)
	}
}

// TestParseFormat checks accepted format names.
func TestParseFormat(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in      string
		want    Format
		wantErr bool
	}{
		{"", FormatMarkdown, false},
		{"markdown", FormatMarkdown, false},
		{"MD", FormatMarkdown, false},
		{"text", FormatText, false},
		{" plain ", FormatText, false},
		{"pdf", "", true},
	}
	for _, tt := range tests {
		got, err := ParseFormat(tt.in)
		if (err != nil) != tt.wantErr || got != tt.want {
			t.Errorf("ParseFormat(%q) = %q, %v", tt.in, got, err)
		}
	}
	if _, err := Render(sampleRecord(), "pdf"); err == nil {
		t.Error("Render with unknown format should fail")
	}
}

// TestHumanize checks heading conversion.
func TestHumanize(t *testing.T) {
	t.Parallel()

	tests := map[string]string{
		"patient":                 "Patient",
		"historyOfPresentIllness": "History of Present Illness",
		"followUp":                "Follow Up",
		"occupationHazards":       "Occupation Hazards",
	}
	for in, want := range tests {
		if got := humanize(in); got != want {
			t.Errorf("humanize(%q) = %q, want %q", in, got, want)
		}
	}
}
