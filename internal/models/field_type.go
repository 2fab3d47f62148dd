package models

import (
	"encoding/json"
	"strings"

	"gopkg.in/yaml.v3"
)

// FieldType is the closed set of input kinds a template field can have.
//
// The zero value is FieldTypeUnknown and is never valid on a saved field.
// JSON and YAML use the lowercase names ("text", "number", ...).
type FieldType uint8

const (
	FieldTypeUnknown FieldType = iota
	FieldTypeText
	FieldTypeNumber
	FieldTypeDate
	FieldTypeSelect
	FieldTypeRadio
	FieldTypeCheckbox
	FieldTypeBoolean
)

var fieldTypeNames = [...]string{
	FieldTypeUnknown:  "unknown",
	FieldTypeText:     "text",
	FieldTypeNumber:   "number",
	FieldTypeDate:     "date",
	FieldTypeSelect:   "select",
	FieldTypeRadio:    "radio",
	FieldTypeCheckbox: "checkbox",
	FieldTypeBoolean:  "boolean",
}

// FieldTypes lists every valid field type in display order.
func FieldTypes() []FieldType {
	return []FieldType{
		FieldTypeText,
		FieldTypeNumber,
		FieldTypeDate,
		FieldTypeSelect,
		FieldTypeRadio,
		FieldTypeCheckbox,
		FieldTypeBoolean,
	}
}

// ParseFieldType parses a type name. Matching ignores case and surrounding
// whitespace; "unknown" is not accepted.
func ParseFieldType(s string) (FieldType, error) {
	normalized := strings.ToLower(strings.TrimSpace(s))
	for _, ft := range FieldTypes() {
		if fieldTypeNames[ft] == normalized {
			return ft, nil
		}
	}
	return FieldTypeUnknown, &ParseError{Type: "FieldType", Value: s}
}

func (ft FieldType) String() string {
	if int(ft) < len(fieldTypeNames) {
		return fieldTypeNames[ft]
	}
	return fieldTypeNames[FieldTypeUnknown]
}

// Valid reports whether ft is one of the known, non-zero types.
func (ft FieldType) Valid() bool {
	return ft > FieldTypeUnknown && int(ft) < len(fieldTypeNames)
}

// HasOptions reports whether fields of this type carry a choice list.
func (ft FieldType) HasOptions() bool {
	return ft == FieldTypeSelect || ft == FieldTypeRadio
}

// IsBoolean reports whether values of this type are booleans.
func (ft FieldType) IsBoolean() bool {
	return ft == FieldTypeCheckbox || ft == FieldTypeBoolean
}

func (ft FieldType) MarshalJSON() ([]byte, error) {
	if !ft.Valid() {
		return nil, &MarshalError{Type: "FieldType", Value: int(ft)}
	}
	return json.Marshal(ft.String())
}

func (ft *FieldType) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return &UnmarshalError{Type: "FieldType", Data: data, Reason: err.Error()}
	}
	parsed, err := ParseFieldType(s)
	if err != nil {
		return &UnmarshalError{Type: "FieldType", Data: data, Reason: err.Error()}
	}
	*ft = parsed
	return nil
}

func (ft FieldType) MarshalYAML() (interface{}, error) {
	if !ft.Valid() {
		return nil, &MarshalError{Type: "FieldType", Value: int(ft)}
	}
	return ft.String(), nil
}

func (ft *FieldType) UnmarshalYAML(node *yaml.Node) error {
	var s string
	if err := node.Decode(&s); err != nil {
		return &UnmarshalError{Type: "FieldType", Data: []byte(node.Value), Reason: err.Error()}
	}
	parsed, err := ParseFieldType(s)
	if err != nil {
		return &UnmarshalError{Type: "FieldType", Data: []byte(node.Value), Reason: err.Error()}
	}
	*ft = parsed
	return nil
}
