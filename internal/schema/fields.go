package schema

import (
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"formkeep/internal/models"

	"go.uber.org/multierr"
)

var (
	ErrFieldNameRequired   = errors.New("field name is required")
	ErrInvalidFieldType    = errors.New("invalid field type")
	ErrTooFewOptions       = errors.New("select and radio fields require at least two options")
	ErrNameTooShort        = errors.New("template name must be at least 3 characters")
	ErrDescriptionTooShort = errors.New("description must be at least 10 characters")
	ErrNoFields            = errors.New("at least one field is required")
)

const (
	minNameLength        = 3
	minDescriptionLength = 10
)

// CheckField reports every schema violation of a single field.
func CheckField(f models.Field) error {
	var err error
	if strings.TrimSpace(f.Name) == "" {
		err = multierr.Append(err, ErrFieldNameRequired)
	}
	if !f.Type.Valid() {
		err = multierr.Append(err, ErrInvalidFieldType)
	}
	if f.Type.HasOptions() {
		if distinctValues(f.Options) < 2 {
			err = multierr.Append(err, ErrTooFewOptions)
		} else if distinctValues(f.Options) != len(f.Options) {
			err = multierr.Append(err, ErrDuplicateOption)
		}
	}
	return err
}

// AddField appends f to fields after checking it. Options are dropped from
// fields whose type has no choices. On rejection the original slice is
// returned untouched.
func AddField(fields []models.Field, f models.Field) ([]models.Field, error) {
	if !f.Type.HasOptions() {
		f.Options = nil
	}
	if err := CheckField(f); err != nil {
		return fields, err
	}

	out := make([]models.Field, len(fields), len(fields)+1)
	copy(out, fields)
	return append(out, f), nil
}

// RemoveField drops the field with the given id.
func RemoveField(fields []models.Field, id string) []models.Field {
	out := make([]models.Field, 0, len(fields))
	for _, f := range fields {
		if f.ID != id {
			out = append(out, f)
		}
	}
	return out
}

// MoveField moves the field at index from to index to, shifting the fields
// in between. Out of range indexes leave the order unchanged.
func MoveField(fields []models.Field, from, to int) []models.Field {
	out := make([]models.Field, len(fields))
	copy(out, fields)
	if from < 0 || from >= len(out) || to < 0 || to >= len(out) || from == to {
		return out
	}

	moved := out[from]
	if from < to {
		copy(out[from:to], out[from+1:to+1])
	} else {
		copy(out[to+1:from+1], out[to:from])
	}
	out[to] = moved
	return out
}

// ValidateTemplate checks everything a template must satisfy before it is
// saved and returns all violations combined.
func ValidateTemplate(t *models.Template) error {
	var err error
	if utf8.RuneCountInString(strings.TrimSpace(t.Name)) < minNameLength {
		err = multierr.Append(err, ErrNameTooShort)
	}
	if utf8.RuneCountInString(strings.TrimSpace(t.Description)) < minDescriptionLength {
		err = multierr.Append(err, ErrDescriptionTooShort)
	}
	if len(t.Fields) == 0 {
		err = multierr.Append(err, ErrNoFields)
	}
	for i, f := range t.Fields {
		for _, fe := range multierr.Errors(CheckField(f)) {
			err = multierr.Append(err, fmt.Errorf("field %d (%q): %w", i+1, f.Name, fe))
		}
	}
	return err
}
