package dispatch

import "strings"

// Schema helpers for building JSON Schema definitions.

func objectSchema(properties map[string]any, required ...string) map[string]any {
	schema := map[string]any{
		"type":       "object",
		"properties": properties,
	}
	if len(required) > 0 {
		schema["required"] = required
	}
	return schema
}

func property(typ, description string) map[string]any {
	return map[string]any{
		"type":        typ,
		"description": description,
	}
}

// InputSchema renders the tool's parameters as a JSON Schema object. Aliases
// are listed in each property's description; they are not separate
// properties.
func (s Spec) InputSchema() map[string]any {
	props := make(map[string]any, len(s.Params))
	var required []string
	for _, p := range s.Params {
		desc := p.Description
		if al := AliasesOf(p.Name); len(al) > 0 {
			desc += " (aliases: " + strings.Join(al, ", ") + ")"
		}

		var prop map[string]any
		switch p.Type {
		case StringList:
			prop = property("array", desc)
			prop["items"] = map[string]any{"type": "string"}
		default:
			prop = property(string(p.Type), desc)
			if len(p.Enum) > 0 {
				prop["enum"] = p.Enum
			}
		}
		props[p.Name] = prop
		if p.Required {
			required = append(required, p.Name)
		}
	}
	return objectSchema(props, required...)
}
