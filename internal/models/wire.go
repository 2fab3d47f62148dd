package models

import (
	"bytes"
	"encoding/json"
	"strconv"
	"strings"
	"time"
)

// FlexID is an identifier that may travel as a JSON number or a string. It
// is always held as its decimal text and written back as a number when it
// is numeric.
type FlexID string

func (id *FlexID) UnmarshalJSON(data []byte) error {
	trimmed := bytes.TrimSpace(data)
	switch {
	case bytes.Equal(trimmed, []byte("null")):
		*id = ""
	case len(trimmed) > 0 && trimmed[0] == '"':
		var s string
		if err := json.Unmarshal(trimmed, &s); err != nil {
			return &UnmarshalError{Type: "ID", Data: data, Reason: err.Error()}
		}
		*id = FlexID(s)
	default:
		var n json.Number
		if err := json.Unmarshal(trimmed, &n); err != nil {
			return &UnmarshalError{Type: "ID", Data: data, Reason: err.Error()}
		}
		*id = FlexID(n.String())
	}
	return nil
}

func (id FlexID) MarshalJSON() ([]byte, error) {
	if id == "" {
		return []byte("null"), nil
	}
	if n, err := strconv.ParseInt(string(id), 10, 64); err == nil {
		return []byte(strconv.FormatInt(n, 10)), nil
	}
	return json.Marshal(string(id))
}

// Flag is a boolean that accepts true/false, 0/1 or their string forms on
// input and is written as 0 or 1.
type Flag bool

func (f *Flag) UnmarshalJSON(data []byte) error {
	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		return &UnmarshalError{Type: "Flag", Data: data, Reason: err.Error()}
	}
	*f = Flag(Truthy(v))
	return nil
}

func (f Flag) MarshalJSON() ([]byte, error) {
	if f {
		return []byte("1"), nil
	}
	return []byte("0"), nil
}

// Truthy coerces a decoded JSON scalar to a boolean the way loosely typed
// clients do: false, 0, "" and null are false. The strings "0" and "false"
// (any case) are also false, since form encoders send them for an unchecked
// box; everything else is true.
func Truthy(v any) bool {
	switch t := v.(type) {
	case nil:
		return false
	case bool:
		return t
	case float64:
		return t != 0
	case json.Number:
		f, err := t.Float64()
		return err == nil && f != 0
	case string:
		s := strings.TrimSpace(strings.ToLower(t))
		return s != "" && s != "0" && s != "false"
	default:
		return true
	}
}

// FieldWire is the API representation of a field.
type FieldWire struct {
	ID           FlexID        `json:"id,omitempty"`
	Name         string        `json:"field_name"`
	Type         string        `json:"field_type"`
	IsRequired   Flag          `json:"is_required"`
	DisplayOrder int           `json:"display_order"`
	Options      []OptionInput `json:"options,omitempty"`
}

// TemplateWire is the API representation of a template.
type TemplateWire struct {
	ID           FlexID      `json:"id,omitempty"`
	Name         string      `json:"name"`
	Description  string      `json:"description"`
	Fields       []FieldWire `json:"fields"`
	CreatedAt    *time.Time  `json:"created_at,omitempty"`
	UpdatedAt    *time.Time  `json:"updated_at,omitempty"`
	RecordsCount int         `json:"records_count"`
}

// RecordWire is the API representation of a stored record. Values holds
// either a row list or a keyed mapping depending on the API revision that
// produced it.
type RecordWire struct {
	ID         FlexID          `json:"id,omitempty"`
	TemplateID FlexID          `json:"template_id"`
	Values     json.RawMessage `json:"values,omitempty"`
	CreatedAt  *time.Time      `json:"created_at,omitempty"`
	UpdatedAt  *time.Time      `json:"updated_at,omitempty"`
}

// RecordPayload is the body sent to create or update a record.
type RecordPayload struct {
	TemplateID int64 `json:"template_id"`
	Fields     []Row `json:"fields"`
}
