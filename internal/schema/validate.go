package schema

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"formkeep/internal/models"
)

// Mode selects how much a Validator checks.
type Mode int

const (
	// ModePresence only checks that required fields have a value.
	ModePresence Mode = iota
	// ModeStrict also checks that non-empty values have the shape their
	// field type implies.
	ModeStrict
)

// ParseMode parses "presence" or "strict". The empty string is presence.
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "presence":
		return ModePresence, nil
	case "strict":
		return ModeStrict, nil
	default:
		return ModePresence, &models.ParseError{Type: "ValidationMode", Value: s}
	}
}

func (m Mode) String() string {
	if m == ModeStrict {
		return "strict"
	}
	return "presence"
}

// Result is the outcome of validating a record's values. Errors holds one
// message per failing field id; Valid is true when Errors is empty.
type Result struct {
	Errors map[string]string
	Valid  bool
}

// Err returns the result as an error, or nil when the values are valid.
func (r Result) Err() error {
	if r.Valid {
		return nil
	}
	return &ValidationError{Fields: r.Errors}
}

// ValidationError carries the per-field messages of a failed validation.
type ValidationError struct {
	Fields map[string]string
}

func (e *ValidationError) Error() string {
	ids := make([]string, 0, len(e.Fields))
	for id := range e.Fields {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	msgs := make([]string, len(ids))
	for i, id := range ids {
		msgs[i] = e.Fields[id]
	}
	return "invalid record: " + strings.Join(msgs, "; ")
}

// Validator checks record values against a template's fields.
type Validator struct {
	Mode Mode
}

// Validate checks values with presence-only rules.
func Validate(fields []models.Field, values models.Values) Result {
	return Validator{}.Validate(fields, values)
}

// Validate returns the failing fields. A required field fails when its value
// is missing, nil or the empty string. Values for ids that are not fields of
// the template are ignored.
func (v Validator) Validate(fields []models.Field, values models.Values) Result {
	errs := make(map[string]string)
	for _, f := range fields {
		val, ok := values[f.ID]
		if !ok || isEmpty(val) {
			if f.Required {
				errs[f.ID] = f.Name + " is required"
			}
			continue
		}
		if v.Mode != ModeStrict {
			continue
		}
		if check, ok := shapeChecks[f.Type]; ok {
			if msg := check(f, val); msg != "" {
				errs[f.ID] = f.Name + " " + msg
			}
		}
	}
	return Result{Errors: errs, Valid: len(errs) == 0}
}

func isEmpty(v any) bool {
	if v == nil {
		return true
	}
	s, ok := v.(string)
	return ok && s == ""
}

// shapeChecks returns an empty string when val fits the field, or the tail
// of a message such as "must be a number".
var shapeChecks = map[models.FieldType]func(models.Field, any) string{
	models.FieldTypeText: func(_ models.Field, val any) string {
		if _, ok := val.(string); !ok {
			return "must be text"
		}
		return ""
	},
	models.FieldTypeNumber: func(_ models.Field, val any) string {
		if !isNumber(val) {
			return "must be a number"
		}
		return ""
	},
	models.FieldTypeDate: func(_ models.Field, val any) string {
		if !isDate(val) {
			return "must be a valid date"
		}
		return ""
	},
	models.FieldTypeSelect:   checkChoice,
	models.FieldTypeRadio:    checkChoice,
	models.FieldTypeCheckbox: checkBool,
	models.FieldTypeBoolean:  checkBool,
}

func checkChoice(f models.Field, val any) string {
	s, ok := val.(string)
	if !ok {
		return "must be one of the listed options"
	}
	if len(f.Options) == 0 {
		return ""
	}
	if _, ok := f.OptionByValue(s); !ok {
		return "must be one of the listed options"
	}
	return ""
}

func checkBool(_ models.Field, val any) string {
	if _, ok := val.(bool); !ok {
		return "must be true or false"
	}
	return ""
}

func isNumber(val any) bool {
	switch t := val.(type) {
	case float64, float32, int, int32, int64:
		return true
	case json.Number:
		_, err := t.Float64()
		return err == nil
	case string:
		_, err := strconv.ParseFloat(strings.TrimSpace(t), 64)
		return err == nil
	default:
		return false
	}
}

var dateLayouts = []string{"2006-01-02", time.RFC3339, time.RFC3339Nano}

func isDate(val any) bool {
	switch t := val.(type) {
	case time.Time:
		return !t.IsZero()
	case string:
		for _, layout := range dateLayouts {
			if _, err := time.Parse(layout, t); err == nil {
				return true
			}
		}
		return false
	default:
		return false
	}
}

// String renders a result for logs.
func (r Result) String() string {
	if r.Valid {
		return "valid"
	}
	return fmt.Sprintf("%d invalid field(s)", len(r.Errors))
}
