package models

// Identifier is one identifiedBy entry.
type Identifier struct {
	Source string `json:"source,omitempty"`
	Type   string `json:"type"`
	Value  string `json:"value"`
}

// Map renders the identifier as JSON-native data.
func (i Identifier) Map() map[string]any {
	m := map[string]any{"type": i.Type, "value": i.Value}
	if i.Source != "" {
		m["source"] = i.Source
	}
	return m
}

// IdentifiersOf reads identifiedBy from record data.
func IdentifiersOf(data map[string]any) []Identifier {
	return identifierList(data[FieldIdentifiedBy])
}

// MatchIdentifiers reads the identifiedBy entries nested in closeMatch/exactMatch.
func MatchIdentifiers(data map[string]any, field string) []Identifier {
	matches, _ := data[field].([]any)
	var out []Identifier
	for _, m := range matches {
		entry, ok := m.(map[string]any)
		if !ok {
			continue
		}
		out = append(out, identifierList(entry[FieldIdentifiedBy])...)
	}
	return out
}

func identifierList(v any) []Identifier {
	list, _ := v.([]any)
	out := make([]Identifier, 0, len(list))
	for _, e := range list {
		m, ok := e.(map[string]any)
		if !ok {
			continue
		}
		id := Identifier{}
		id.Source, _ = m["source"].(string)
		id.Type, _ = m["type"].(string)
		id.Value, _ = m["value"].(string)
		if id.Value != "" {
			out = append(out, id)
		}
	}
	return out
}
