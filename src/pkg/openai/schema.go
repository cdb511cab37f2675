package openai

import "sort"

// TextOptions configures output formatting in Responses API.
// "text": { "format": { "type": "json_schema", "name": "...", "schema": {...}, "strict": true } }
type TextOptions struct {
	Format    TextFormat    `json:"format"`
	Verbosity TextVerbosity `json:"verbosity,omitempty"`
}

// For type == "json_schema", Name and Schema are required.
type TextFormat struct {
	Type   TextFormatType `json:"type"`
	Name   string         `json:"name,omitempty"`
	Schema map[string]any `json:"schema,omitempty"`
	Strict *bool          `json:"strict,omitempty"`
}

func TextAsJSONSchema(name string, schema map[string]any, strict bool) TextOptions {
	return TextOptions{
		Format: TextFormat{
			Type:   TextFormatTypeJSONSchema,
			Name:   name,
			Schema: schema,
			Strict: &strict,
		},
	}
}

// StrictObj builds a strict JSON Schema "object" where:
// - "properties" = props
// - "additionalProperties" = false
// - "required" = all keys from props (sorted for determinism)
func StrictObj(props map[string]any) map[string]any {
	if props == nil {
		props = map[string]any{}
	}
	keys := make([]string, 0, len(props))
	for k := range props {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	return map[string]any{
		"type":                 "object",
		"properties":           props,
		"additionalProperties": false,
		"required":             keys,
	}
}

// StrictArray is an array schema whose items are a StrictObj.
func StrictArray(description string, itemProps map[string]any) map[string]any {
	return map[string]any{
		"type":        "array",
		"description": description,
		"items":       StrictObj(itemProps),
	}
}

// Field is a scalar schema property.
func Field(kind string, description string) map[string]any {
	return map[string]any{"type": kind, "description": description}
}

// Enum is a string property restricted to values.
func Enum(description string, values ...string) map[string]any {
	return map[string]any{"type": "string", "description": description, "enum": values}
}

// StringList is an array of strings.
func StringList(description string) map[string]any {
	return map[string]any{"type": "array", "description": description, "items": map[string]any{"type": "string"}}
}
