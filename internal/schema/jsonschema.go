package schema

import (
	"encoding/json"

	"github.com/campusiq/opsgovernor/models"
)

// IntentSchema returns the JSON Schema (draft 2020-12) that a structured
// extraction for the module hint must satisfy. Field names are not enumerated
// here; they are resolved per entity by the normalizer.
func (r *Registry) IntentSchema(hint string) ([]byte, error) {
	var entities []string
	for _, e := range r.ForModule(hint) {
		entities = append(entities, e.Name)
	}
	ops := make([]string, len(models.AllOpKinds))
	for i, op := range models.AllOpKinds {
		ops[i] = string(op)
	}

	doc := map[string]any{
		"$schema":  "https://json-schema.org/draft/2020-12/schema",
		"type":     "object",
		"required": []string{"entity", "operation", "confidence"},
		"properties": map[string]any{
			"entity":    map[string]any{"type": "string", "enum": entities},
			"operation": map[string]any{"type": "string", "enum": ops},
			"filters": map[string]any{
				"type": "array",
				"items": map[string]any{
					"type":     "object",
					"required": []string{"field", "op", "value"},
					"properties": map[string]any{
						"field": map[string]any{"type": "string", "minLength": 1},
						"op":    map[string]any{"type": "string", "minLength": 1},
						"value": map[string]any{},
					},
				},
			},
			"values":     map[string]any{"type": "object"},
			"confidence": map[string]any{"type": "number", "minimum": 0, "maximum": 1},
			"question":   map[string]any{"type": "string"},
		},
	}
	return json.Marshal(doc)
}

// Vocabulary describes the entities of a module hint for a prompt
type Vocabulary struct {
	Entity string   `json:"entity"`
	Fields []string `json:"fields"`
}

// Vocabulary returns entity and field names for the module hint
func (r *Registry) Vocabulary(hint string) []Vocabulary {
	var out []Vocabulary
	for _, e := range r.ForModule(hint) {
		out = append(out, Vocabulary{Entity: e.Name, Fields: e.FieldNames()})
	}
	return out
}
