package transcript

import "maps"

// defaultCorrections maps common dictation misspellings and clinical
// abbreviations to their canonical lowercase form. Keys are whole words.
var defaultCorrections = map[string]string{
	// misspellings
	"ptint":        "patient",
	"patent":       "patient",
	"pationt":      "patient",
	"docter":       "doctor",
	"temparature":  "temperature",
	"temprature":   "temperature",
	"inflamation":  "inflammation",
	"diaebtes":     "diabetes",
	"diabetus":     "diabetes",
	"hipertnsion":  "hypertension",
	"hipertenion":  "hypertension",
	"hypertention": "hypertension",
	"presure":      "pressure",
	"feaver":       "fever",
	"faver":        "fever",
	"couh":         "cough",
	"sour":         "sore",
	"throght":      "throat",
	"breth":        "breath",
	"shorntess":    "shortness",
	"hart":         "heart",
	"stomac":       "stomach",
	"liverd":       "liver",
	"kidny":        "kidney",
	"alergie":      "allergy",
	"medicne":      "medicine",
	"injction":     "injection",
	"opertion":     "operation",
	"surgury":      "surgery",
	"abdomnal":     "abdominal",
	"painfull":     "painful",
	"ankel":        "ankle",
	"chiken":       "chicken",
	"diareah":      "diarrhea",
	"vomting":      "vomiting",
	"constpation":  "constipation",

	// abbreviations
	"bp":   "blood pressure",
	"hr":   "heart rate",
	"rr":   "respiratory rate",
	"temp": "temperature",
	"hx":   "history",
	"dx":   "diagnosis",
	"tx":   "treatment",
	"sx":   "symptoms",
	"rx":   "prescription",
}

// DefaultCorrections returns a copy of the built-in correction table.
func DefaultCorrections() map[string]string {
	return maps.Clone(defaultCorrections)
}
