package normalize

import (
	"strings"

	"github.com/MrWong99/medscribe/pkg/clinical"
)

// Finalize applies the post-pass to a validated record in place: every list
// of a present section becomes non-nil and blank entries are removed.
// Calling it more than once has no further effect.
func Finalize(rec *clinical.Record) {
	if rec == nil {
		return
	}
	if h := rec.HistoryOfPresentIllness; h != nil {
		lists(&h.AssociatedSymptoms, &h.ExacerbatingFactors, &h.RelievingFactors)
	}
	if r := rec.ReviewOfSystems; r != nil {
		lists(&r.General, &r.Cardiovascular, &r.Respiratory, &r.Gastrointestinal, &r.Genitourinary,
			&r.Neurological, &r.Musculoskeletal, &r.Endocrine, &r.Psychiatric, &r.Skin)
	}
	if p := rec.PastMedicalHistory; p != nil {
		lists(&p.ChronicDiseases, &p.Surgeries, &p.Hospitalizations, &p.Allergies, &p.Immunizations, &p.Transfusions)
	}
	if m := rec.Medications; m != nil {
		lists(&m.Past, &m.Supplements)
		current := make([]clinical.Medication, 0, len(m.Current))
		for _, med := range m.Current {
			if strings.TrimSpace(med.Name) != "" {
				current = append(current, med)
			}
		}
		m.Current = current
	}
	if f := rec.FamilyHistory; f != nil {
		lists(&f.Diseases, &f.RelativesAffected, &f.HereditaryConditions)
	}
	if p := rec.PreventiveCare; p != nil {
		lists(&p.Immunizations, &p.ScreeningTests)
	}
	if a := rec.Assessment; a != nil {
		lists(&a.DifferentialDiagnoses)
	}
	if p := rec.Plan; p != nil {
		lists(&p.Investigations, &p.Treatment)
	}
}

func lists(ps ...*[]string) {
	for _, p := range ps {
		out := make([]string, 0, len(*p))
		for _, s := range *p {
			if s = strings.TrimSpace(s); s != "" {
				out = append(out, s)
			}
		}
		*p = out
	}
}
