package prompt

import (
	"strings"
	"testing"

	"github.com/MrWong99/medscribe/internal/schema"
)

// TestBuild checks that the schema and rules are embedded and the transcript
// lands in the user message only.
func TestBuild(t *testing.T) {
	t.Parallel()

	p := Build("patient has fever")

	if !strings.Contains(p.System, schema.Describe()) {
		t.Error("system prompt does not embed the schema skeleton")
	}
	for _, rule := range []string{"JSON only", "start with { and end with }", "set it to null", "empty array []", "no code fences"} {
		if !strings.Contains(p.System, rule) {
			t.Errorf("system prompt missing rule %q", rule)
		}
	}
	if strings.Contains(p.System, "patient has fever") {
		t.Error("transcript leaked into system prompt")
	}
	if p.User != "Doctor–patient conversation:\npatient has fever" {
		t.Errorf("User = %q", p.User)
	}
	if strings.Contains(p.System, "%!") {
		t.Error("system prompt has a formatting error")
	}
}
