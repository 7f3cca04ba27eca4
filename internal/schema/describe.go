package schema

import (
	"strings"
	"sync"
)

var describeOnce = sync.OnceValue(func() string {
	var b strings.Builder
	b.WriteString("{\n")
	for i, sec := range Record {
		b.WriteString(`  "` + sec.Name + `": {` + "\n")
		for j, f := range sec.Fields {
			b.WriteString(`    "` + f.Name + `": ` + fieldHint(f))
			if j < len(sec.Fields)-1 {
				b.WriteByte(',')
			}
			b.WriteByte('\n')
		}
		b.WriteString("  }")
		if i < len(Record)-1 {
			b.WriteByte(',')
		}
		b.WriteByte('\n')
	}
	b.WriteString("}")
	return b.String()
})

// Describe renders the record declaration as an annotated JSON skeleton for
// use in model prompts, e.g. `"age": number | null`.
func Describe() string { return describeOnce() }

func fieldHint(f Field) string {
	if f.Hint != "" {
		return f.Hint
	}
	switch f.Shape {
	case Age:
		return "number | null"
	case StringList:
		return `["string"]`
	case MedicationList:
		parts := make([]string, len(MedicationFields))
		for i, mf := range MedicationFields {
			parts[i] = `"` + mf.Name + `": "string"`
		}
		return "[{" + strings.Join(parts, ", ") + "}]"
	default:
		return `"string"`
	}
}
