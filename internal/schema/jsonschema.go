package schema

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/invopop/jsonschema"

	"github.com/MrWong99/medscribe/pkg/clinical"
)

// JSONSchemaName is the schema name sent with structured-output requests.
const JSONSchemaName = "clinical_record"

var jsonSchemaOnce = sync.OnceValues(func() (map[string]any, error) {
	r := jsonschema.Reflector{
		AllowAdditionalProperties: false,
		DoNotReference:            true,
		ExpandedStruct:            true,
	}
	m, err := schemaToMap(r.Reflect(&clinical.Record{}))
	if err != nil {
		return nil, err
	}
	delete(m, "$schema")
	delete(m, "$id")
	makeStrict(m, true)
	return m, nil
})

// JSONSchema returns a JSON Schema for [clinical.Record] in the strict form
// accepted by OpenAI-compatible structured output: every property is listed
// as required, additional properties are forbidden and every non-root
// property admits null. Callers must not modify the returned map.
func JSONSchema() (map[string]any, error) {
	return jsonSchemaOnce()
}

func schemaToMap(s *jsonschema.Schema) (map[string]any, error) {
	b, err := s.MarshalJSON()
	if err != nil {
		return nil, fmt.Errorf("schema: marshal json schema: %w", err)
	}
	var m map[string]any
	if err := json.Unmarshal(b, &m); err != nil {
		return nil, fmt.Errorf("schema: decode json schema: %w", err)
	}
	return m, nil
}

func makeStrict(s map[string]any, root bool) {
	if !root {
		nullable(s)
	}
	if props, ok := s["properties"].(map[string]any); ok {
		s["additionalProperties"] = false
		required := make([]string, 0, len(props))
		for name, p := range props {
			required = append(required, name)
			if pm, ok := p.(map[string]any); ok {
				makeStrict(pm, false)
			}
		}
		s["required"] = required
	}
	if items, ok := s["items"].(map[string]any); ok {
		makeStrict(items, true)
	}
}

func nullable(s map[string]any) {
	switch t := s["type"].(type) {
	case string:
		if t != "null" {
			s["type"] = []any{t, "null"}
		}
	case []any:
		for _, e := range t {
			if e == "null" {
				return
			}
		}
		s["type"] = append(t, "null")
	}
}
