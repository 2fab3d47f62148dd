package models

import "time"

// Template is a named, ordered set of typed fields. Records are filled in
// against a template.
type Template struct {
	ID          string    `json:"id" yaml:"id"`
	Name        string    `json:"name" yaml:"name"`
	Description string    `json:"description" yaml:"description"`
	Fields      []Field   `json:"fields" yaml:"fields"`
	RecordCount int       `json:"recordCount" yaml:"-"` // Derived from stored records, never persisted
	CreatedAt   time.Time `json:"createdAt" yaml:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt" yaml:"updatedAt"`
}

// FieldByID returns the field with the given id.
func (t *Template) FieldByID(id string) (Field, bool) {
	for _, f := range t.Fields {
		if f.ID == id {
			return f, true
		}
	}
	return Field{}, false
}

// Field is one input slot of a template. Options is only populated for
// select and radio fields.
type Field struct {
	ID       string    `json:"id" yaml:"id"`
	Name     string    `json:"name" yaml:"name"`
	Type     FieldType `json:"type" yaml:"type"`
	Required bool      `json:"required" yaml:"required"`
	Options  []Option  `json:"options,omitempty" yaml:"options,omitempty"`
}

// Input converts a canonical field back into its ingestion form.
func (f Field) Input() FieldInput {
	in := FieldInput{ID: f.ID, Name: f.Name, Type: f.Type, Required: f.Required}
	for _, o := range f.Options {
		in.Options = append(in.Options, StructuredOption(o.Name, o.Value, o.DisplayOrder))
	}
	return in
}

// OptionByValue returns the option whose stored value is v.
func (f Field) OptionByValue(v string) (Option, bool) {
	for _, o := range f.Options {
		if o.Value == v {
			return o, true
		}
	}
	return Option{}, false
}

// Option is one choice of a select or radio field. Value is unique within
// its field; DisplayOrder is 1-based.
type Option struct {
	Name         string `json:"option_name" yaml:"option_name"`
	Value        string `json:"option_value" yaml:"option_value"`
	DisplayOrder int    `json:"display_order" yaml:"display_order"`
}

// FieldInput is a field as received from a client, before its options have
// been normalized.
type FieldInput struct {
	ID       string
	Name     string
	Type     FieldType
	Required bool
	Options  []OptionInput
}

// Inputs converts canonical fields back into their ingestion form.
func Inputs(fields []Field) []FieldInput {
	out := make([]FieldInput, len(fields))
	for i, f := range fields {
		out[i] = f.Input()
	}
	return out
}

// Record is one instance of data filled in against a template.
type Record struct {
	ID         string    `json:"id" yaml:"id"`
	TemplateID string    `json:"templateId" yaml:"templateId"`
	Values     Values    `json:"values" yaml:"values"`
	CreatedAt  time.Time `json:"createdAt" yaml:"createdAt"`
	UpdatedAt  time.Time `json:"updatedAt" yaml:"updatedAt"`
}

// Values maps a field id to the scalar stored for it: string for text, date,
// select and radio; number for number; bool for checkbox and boolean.
type Values map[string]any

// Clone returns a shallow copy of v.
func (v Values) Clone() Values {
	out := make(Values, len(v))
	for k, val := range v {
		out[k] = val
	}
	return out
}

// Row is the denormalized form of a single value at the serialization
// boundary.
type Row struct {
	FieldID int64 `json:"field_id"`
	Value   any   `json:"value"`
}
