// Package schema derives the input contract of a template: default values,
// record validation, option normalization and field list editing.
package schema

import "formkeep/internal/models"

// DeriveDefaults returns the initial value of every field for a record form.
// An existing non-nil value wins; otherwise checkbox and boolean fields start
// false, date fields are left absent and everything else starts as "".
func DeriveDefaults(fields []models.Field, existing models.Values) models.Values {
	out := make(models.Values, len(fields))
	for _, f := range fields {
		if v, ok := existing[f.ID]; ok && v != nil {
			out[f.ID] = v
			continue
		}
		switch {
		case f.Type.IsBoolean():
			out[f.ID] = false
		case f.Type == models.FieldTypeDate:
			// no key: the form shows an empty date picker
		default:
			out[f.ID] = ""
		}
	}
	return out
}
