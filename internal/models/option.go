package models

import (
	"bytes"
	"encoding/json"
	"strings"

	"gopkg.in/yaml.v3"
)

// OptionInput is an option as it arrives from a client or a file: either a
// bare display string (label and value are the same text) or a structured
// option whose value may be missing. It is converted to Option by the schema
// package and never stored.
type OptionInput struct {
	Label        string
	Value        string
	HasValue     bool
	DisplayOrder int
	Bare         bool
}

// BareOption returns the legacy string form of an option.
func BareOption(label string) OptionInput {
	return OptionInput{Label: label, Bare: true}
}

// StructuredOption returns a structured option with an explicit value.
func StructuredOption(name, value string, displayOrder int) OptionInput {
	return OptionInput{Label: name, Value: value, HasValue: true, DisplayOrder: displayOrder}
}

type structuredOptionWire struct {
	Name         string          `json:"option_name"`
	Value        json.RawMessage `json:"option_value"`
	DisplayOrder json.RawMessage `json:"display_order"`
}

func (o *OptionInput) UnmarshalJSON(data []byte) error {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) > 0 && trimmed[0] == '"' {
		var s string
		if err := json.Unmarshal(trimmed, &s); err != nil {
			return &UnmarshalError{Type: "Option", Data: data, Reason: err.Error()}
		}
		*o = BareOption(s)
		return nil
	}

	var w structuredOptionWire
	if err := json.Unmarshal(trimmed, &w); err != nil {
		return &UnmarshalError{Type: "Option", Data: data, Reason: err.Error()}
	}

	out := OptionInput{Label: w.Name}
	var value string
	if len(w.Value) > 0 && json.Unmarshal(w.Value, &value) == nil {
		out.Value = value
		out.HasValue = true
	}
	out.DisplayOrder = decodeDisplayOrder(w.DisplayOrder)
	*o = out
	return nil
}

// decodeDisplayOrder accepts an integer, or a boolean that older clients
// sent in place of a rank (treated as 1). Anything else is 0, meaning "use
// the position".
func decodeDisplayOrder(raw json.RawMessage) int {
	if len(raw) == 0 {
		return 0
	}
	var n float64
	if err := json.Unmarshal(raw, &n); err == nil {
		return int(n)
	}
	var b bool
	if err := json.Unmarshal(raw, &b); err == nil {
		return 1
	}
	return 0
}

func (o OptionInput) MarshalJSON() ([]byte, error) {
	if o.Bare {
		return json.Marshal(o.Label)
	}
	w := struct {
		Name         string  `json:"option_name"`
		Value        *string `json:"option_value,omitempty"`
		DisplayOrder int     `json:"display_order,omitempty"`
	}{Name: o.Label, DisplayOrder: o.DisplayOrder}
	if o.HasValue {
		w.Value = &o.Value
	}
	return json.Marshal(w)
}

func (o *OptionInput) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind == yaml.ScalarNode {
		*o = BareOption(node.Value)
		return nil
	}

	var w struct {
		Name         string    `yaml:"option_name"`
		Value        yaml.Node `yaml:"option_value"`
		DisplayOrder yaml.Node `yaml:"display_order"`
	}
	if err := node.Decode(&w); err != nil {
		return &UnmarshalError{Type: "Option", Data: []byte(node.Value), Reason: err.Error()}
	}

	out := OptionInput{Label: w.Name}
	if w.Value.Kind == yaml.ScalarNode && w.Value.Tag == "!!str" {
		out.Value = w.Value.Value
		out.HasValue = true
	}
	if w.DisplayOrder.Kind == yaml.ScalarNode {
		var n int
		var b bool
		switch {
		case w.DisplayOrder.Decode(&n) == nil:
			out.DisplayOrder = n
		case w.DisplayOrder.Decode(&b) == nil:
			out.DisplayOrder = 1
		}
	}
	*o = out
	return nil
}

func (o OptionInput) MarshalYAML() (interface{}, error) {
	if o.Bare {
		return o.Label, nil
	}
	out := map[string]interface{}{"option_name": o.Label}
	if o.HasValue {
		out["option_value"] = o.Value
	}
	if o.DisplayOrder > 0 {
		out["display_order"] = o.DisplayOrder
	}
	return out, nil
}

// UsableValue reports whether a structured option carries a value that can
// be stored as-is.
func (o OptionInput) UsableValue() bool {
	return !o.Bare && o.HasValue && strings.TrimSpace(o.Value) != ""
}
