package dispatch

// BaseSchema creates the JSON schema object for an operation's arguments.
func BaseSchema(properties map[string]any, required []string) map[string]any {
	schema := map[string]any{
		"type":       "object",
		"properties": properties,
	}
	if len(required) > 0 {
		schema["required"] = required
	}
	return schema
}

func stringProp(desc string) map[string]any {
	return map[string]any{"type": "string", "description": desc}
}

func enumProp(desc string, values ...string) map[string]any {
	return map[string]any{"type": "string", "description": desc, "enum": values}
}

func boolProp(desc string) map[string]any {
	return map[string]any{"type": "boolean", "description": desc}
}

func intProp(desc string) map[string]any {
	return map[string]any{"type": "integer", "description": desc}
}

func stringsProp(desc string) map[string]any {
	return map[string]any{"type": "array", "description": desc, "items": map[string]any{"type": "string"}}
}

func arrayProp(desc string) map[string]any {
	return map[string]any{"type": "array", "description": desc}
}

func objectProp(desc string) map[string]any {
	return map[string]any{
		"type":                 "object",
		"description":          desc,
		"additionalProperties": map[string]any{"type": "string"},
	}
}

var (
	sessionIDProp = stringProp("Session id returned by launch")
	surfaceIDProp = stringProp("Tab or window id; the active surface when omitted")
	selectorProp  = stringProp("CSS or engine selector, or a ref such as 'e3' from the latest snapshot")
)
