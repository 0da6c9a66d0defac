package tools

import "github.com/quorumkit/agentcore/internal/domain"

// ToolSchema is the provider-neutral JSON Schema representation emitted to
// an LLM backend (spec §6): {name, description, input_schema}.
type ToolSchema struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	InputSchema map[string]any `json:"input_schema"`
}

// ToJSONSchema builds the {type: "object", properties, required} body for
// one tool definition (spec §4.B, §6). path parameters map to "string".
func ToJSONSchema(def domain.Definition) map[string]any {
	properties := make(map[string]any, len(def.Params))
	required := make([]string, 0, len(def.Params))
	for _, p := range def.Params {
		properties[p.Name] = map[string]any{
			"type":        p.Type.JSONSchemaType(),
			"description": p.Description,
		}
		if p.Required {
			required = append(required, p.Name)
		}
	}
	return map[string]any{
		"type":       "object",
		"properties": properties,
		"required":   required,
	}
}

// Schemas returns every registered tool's ToolSchema, sorted
// lexicographically by name (spec §6).
func (r *Registry) Schemas() []ToolSchema {
	defs := r.All()
	out := make([]ToolSchema, len(defs))
	for i, d := range defs {
		out[i] = ToolSchema{
			Name:        d.Name,
			Description: d.Description,
			InputSchema: ToJSONSchema(d),
		}
	}
	return out
}
