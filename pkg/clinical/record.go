package clinical

// Record is a validated clinical record for one documented patient encounter.
//
// Patient and ChiefComplaint are always present. Every other section is nil
// when the model did not return it. Nullable scalars are pointers; list
// fields are never nil once a Record has passed validation.
type Record struct {
	Patient                 Patient                  `json:"patient"`
	ChiefComplaint          ChiefComplaint           `json:"chiefComplaint"`
	HistoryOfPresentIllness *HistoryOfPresentIllness `json:"historyOfPresentIllness,omitempty"`
	ReviewOfSystems         *ReviewOfSystems         `json:"reviewOfSystems,omitempty"`
	PastMedicalHistory      *PastMedicalHistory      `json:"pastMedicalHistory,omitempty"`
	Medications             *Medications             `json:"medications,omitempty"`
	FamilyHistory           *FamilyHistory           `json:"familyHistory,omitempty"`
	SocialHistory           *SocialHistory           `json:"socialHistory,omitempty"`
	PreventiveCare          *PreventiveCare          `json:"preventiveCare,omitempty"`
	Assessment              *Assessment              `json:"assessment,omitempty"`
	Plan                    *Plan                    `json:"plan,omitempty"`
}

// Patient holds demographics. DateOfVisit is an ISO 8601 date string when known.
type Patient struct {
	FullName        *string `json:"fullName"`
	Age             *int    `json:"age"`
	Gender          *string `json:"gender"`
	Occupation      *string `json:"occupation"`
	MaritalStatus   *string `json:"maritalStatus"`
	DateOfVisit     *string `json:"dateOfVisit"`
	SourceOfHistory *string `json:"sourceOfHistory"`
}

type ChiefComplaint struct {
	Complaint *string `json:"complaint"`
	Duration  *string `json:"duration"`
}

type HistoryOfPresentIllness struct {
	Onset                  *string  `json:"onset"`
	Site                   *string  `json:"site"`
	Character              *string  `json:"character"`
	Radiation              *string  `json:"radiation"`
	AssociatedSymptoms     []string `json:"associatedSymptoms"`
	Timing                 *string  `json:"timing"`
	ExacerbatingFactors    []string `json:"exacerbatingFactors"`
	RelievingFactors       []string `json:"relievingFactors"`
	Severity               *string  `json:"severity"`
	ChronologicalNarrative *string  `json:"chronologicalNarrative"`
}

type ReviewOfSystems struct {
	General          []string `json:"general"`
	Cardiovascular   []string `json:"cardiovascular"`
	Respiratory      []string `json:"respiratory"`
	Gastrointestinal []string `json:"gastrointestinal"`
	Genitourinary    []string `json:"genitourinary"`
	Neurological     []string `json:"neurological"`
	Musculoskeletal  []string `json:"musculoskeletal"`
	Endocrine        []string `json:"endocrine"`
	Psychiatric      []string `json:"psychiatric"`
	Skin             []string `json:"skin"`
}

type PastMedicalHistory struct {
	ChronicDiseases  []string `json:"chronicDiseases"`
	Surgeries        []string `json:"surgeries"`
	Hospitalizations []string `json:"hospitalizations"`
	Allergies        []string `json:"allergies"`
	Immunizations    []string `json:"immunizations"`
	Transfusions     []string `json:"transfusions"`
}

// Medication is a currently taken drug. Name is always set.
type Medication struct {
	Name      string  `json:"name"`
	Dose      *string `json:"dose"`
	Frequency *string `json:"frequency"`
}

type Medications struct {
	Current     []Medication `json:"current"`
	Past        []string     `json:"past"`
	Supplements []string     `json:"supplements"`
}

type FamilyHistory struct {
	Diseases             []string `json:"diseases"`
	RelativesAffected    []string `json:"relativesAffected"`
	HereditaryConditions []string `json:"hereditaryConditions"`
}

// SocialHistory holds free-text lifestyle answers. Yes/no answers are kept
// as the strings "yes" and "no".
type SocialHistory struct {
	Smoking           *string `json:"smoking"`
	Alcohol           *string `json:"alcohol"`
	Drugs             *string `json:"drugs"`
	Diet              *string `json:"diet"`
	Exercise          *string `json:"exercise"`
	OccupationHazards *string `json:"occupationHazards"`
	LivingConditions  *string `json:"livingConditions"`
	SexualHistory     *string `json:"sexualHistory"`
}

type PreventiveCare struct {
	Immunizations  []string `json:"immunizations"`
	ScreeningTests []string `json:"screeningTests"`
}

type Assessment struct {
	Summary               *string  `json:"summary"`
	DifferentialDiagnoses []string `json:"differentialDiagnoses"`
}

type Plan struct {
	Investigations []string `json:"investigations"`
	Treatment      []string `json:"treatment"`
	FollowUp       *string  `json:"followUp"`
}

// Text returns a pointer to s, for building records in code.
func Text(s string) *string { return &s }

// Deref returns the string p points to, or "" when p is nil.
func Deref(p *string) string {
	if p == nil {
		return ""
	}
	return *p
}
