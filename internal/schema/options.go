package schema

import (
	"errors"
	"regexp"
	"strconv"
	"strings"

	"formkeep/internal/models"
)

var (
	ErrOptionIncomplete = errors.New("both option name and value are required")
	ErrDuplicateOption  = errors.New("an option with this value already exists")
)

var whitespaceRun = regexp.MustCompile(`\s+`)

// Slugify lower-cases s and replaces each run of whitespace with "_".
func Slugify(s string) string {
	return whitespaceRun.ReplaceAllString(strings.ToLower(s), "_")
}

// NormalizeOptionsForSave converts every field's options into structured
// form. Fields whose type carries no choices come back without options.
func NormalizeOptionsForSave(fields []models.FieldInput) []models.Field {
	out := make([]models.Field, len(fields))
	for i, in := range fields {
		f := models.Field{ID: in.ID, Name: in.Name, Type: in.Type, Required: in.Required}
		if in.Type.HasOptions() {
			f.Options = NormalizeOptions(in.Options)
		}
		out[i] = f
	}
	return out
}

// NormalizeOptions converts one field's option list. A bare string s at
// position i becomes {s, Slugify(s)-i, i+1}; a structured option without a
// usable value gets Slugify(name)-i. The positional suffix keeps values
// distinct even when labels repeat.
func NormalizeOptions(in []models.OptionInput) []models.Option {
	if len(in) == 0 {
		return nil
	}
	out := make([]models.Option, len(in))
	for i, o := range in {
		suffix := "-" + strconv.Itoa(i)
		switch {
		case o.Bare:
			out[i] = models.Option{Name: o.Label, Value: Slugify(o.Label) + suffix, DisplayOrder: i + 1}
		case o.UsableValue():
			out[i] = models.Option{Name: o.Label, Value: o.Value, DisplayOrder: o.DisplayOrder}
		default:
			out[i] = models.Option{Name: o.Label, Value: Slugify(o.Label) + suffix, DisplayOrder: o.DisplayOrder}
		}
		if out[i].DisplayOrder < 1 {
			out[i].DisplayOrder = i + 1
		}
	}
	return out
}

// AddOption appends a new option while a field is being built. A value that
// collides with an existing option is rejected rather than renamed. The
// input slice is not modified.
func AddOption(options []models.Option, name, value string) ([]models.Option, error) {
	if strings.TrimSpace(name) == "" || strings.TrimSpace(value) == "" {
		return options, ErrOptionIncomplete
	}
	for _, o := range options {
		if o.Value == value {
			return options, ErrDuplicateOption
		}
	}

	out := make([]models.Option, len(options), len(options)+1)
	copy(out, options)
	return append(out, models.Option{Name: name, Value: value, DisplayOrder: len(options) + 1}), nil
}

// RemoveOption drops the option with the given value and renumbers the rest.
func RemoveOption(options []models.Option, value string) []models.Option {
	out := make([]models.Option, 0, len(options))
	for _, o := range options {
		if o.Value == value {
			continue
		}
		o.DisplayOrder = len(out) + 1
		out = append(out, o)
	}
	return out
}

func distinctValues(options []models.Option) int {
	seen := make(map[string]struct{}, len(options))
	for _, o := range options {
		seen[o.Value] = struct{}{}
	}
	return len(seen)
}
