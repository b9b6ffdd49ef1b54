package llm

import "encoding/json"

// Schema is the subset of JSON Schema the providers share for structured
// output. The top-level Name labels the tool or function that carries it.
type Schema struct {
	Name        string
	Description string
	Type        string
	Properties  map[string]*Schema
	Items       *Schema
	Enum        []string
	Required    []string
}

// Object builds an object schema requiring every listed property.
func Object(props map[string]*Schema, required ...string) *Schema {
	return &Schema{Type: "object", Properties: props, Required: required}
}

// ArrayOf builds an array schema.
func ArrayOf(items *Schema) *Schema {
	return &Schema{Type: "array", Items: items}
}

// String builds a string schema, optionally limited to enum values.
func String(description string, enum ...string) *Schema {
	return &Schema{Type: "string", Description: description, Enum: enum}
}

// JSONSchema renders s as a JSON Schema document.
func (s *Schema) JSONSchema() map[string]any {
	if s == nil {
		return nil
	}
	out := map[string]any{"type": s.Type}
	if s.Description != "" {
		out["description"] = s.Description
	}
	if len(s.Enum) > 0 {
		out["enum"] = s.Enum
	}
	if s.Items != nil {
		out["items"] = s.Items.JSONSchema()
	}
	if len(s.Properties) > 0 {
		props := make(map[string]any, len(s.Properties))
		for name, p := range s.Properties {
			props[name] = p.JSONSchema()
		}
		out["properties"] = props
	}
	if len(s.Required) > 0 {
		out["required"] = s.Required
	}
	return out
}

// toolName is the name structured output is requested under.
func (s *Schema) toolName() string {
	if s.Name != "" {
		return s.Name
	}
	return "respond"
}

func (s *Schema) toolDescription() string {
	if s.Description != "" {
		return s.Description
	}
	return "Return the response in this structure."
}

// rawJSON normalizes a provider's tool input to compact JSON text.
func rawJSON(v any) (string, error) {
	switch in := v.(type) {
	case json.RawMessage:
		return string(in), nil
	case []byte:
		return string(in), nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(b), nil
}
