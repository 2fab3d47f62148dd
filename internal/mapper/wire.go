package mapper

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"formkeep/internal/models"
	"formkeep/internal/schema"

	"go.uber.org/multierr"
)

var ErrNonNumericTemplateID = errors.New("template id is not numeric")

// TemplateFromWire converts an API template into the canonical model. Fields
// are ordered by display_order (falling back to list position), field types
// are parsed, is_required is already coerced by truthiness and options are
// normalized.
func TemplateFromWire(w models.TemplateWire) (*models.Template, error) {
	type ordered struct {
		rank int
		in   models.FieldInput
	}

	var err error
	fields := make([]ordered, 0, len(w.Fields))
	for i, fw := range w.Fields {
		ft, perr := models.ParseFieldType(fw.Type)
		if perr != nil {
			err = multierr.Append(err, fmt.Errorf("field %d (%q): %w", i+1, fw.Name, perr))
		}
		rank := fw.DisplayOrder
		if rank <= 0 {
			rank = i + 1
		}
		fields = append(fields, ordered{rank: rank, in: models.FieldInput{
			ID:       string(fw.ID),
			Name:     strings.TrimSpace(fw.Name),
			Type:     ft,
			Required: bool(fw.IsRequired),
			Options:  fw.Options,
		}})
	}
	if err != nil {
		return nil, err
	}

	sort.SliceStable(fields, func(i, j int) bool { return fields[i].rank < fields[j].rank })
	inputs := make([]models.FieldInput, len(fields))
	for i, f := range fields {
		inputs[i] = f.in
	}

	t := &models.Template{
		ID:          string(w.ID),
		Name:        strings.TrimSpace(w.Name),
		Description: strings.TrimSpace(w.Description),
		Fields:      schema.NormalizeOptionsForSave(inputs),
		RecordCount: w.RecordsCount,
	}
	if w.CreatedAt != nil {
		t.CreatedAt = *w.CreatedAt
	}
	if w.UpdatedAt != nil {
		t.UpdatedAt = *w.UpdatedAt
	}
	return t, nil
}

// TemplateToWire converts a template to its API shape.
func TemplateToWire(t *models.Template) models.TemplateWire {
	w := models.TemplateWire{
		ID:           models.FlexID(t.ID),
		Name:         t.Name,
		Description:  t.Description,
		Fields:       FieldsToWire(t.Fields),
		RecordsCount: t.RecordCount,
	}
	if !t.CreatedAt.IsZero() {
		createdAt := t.CreatedAt
		w.CreatedAt = &createdAt
	}
	if !t.UpdatedAt.IsZero() {
		updatedAt := t.UpdatedAt
		w.UpdatedAt = &updatedAt
	}
	return w
}

// FieldsToWire converts fields to the outbound field schema. display_order
// follows list position.
func FieldsToWire(fields []models.Field) []models.FieldWire {
	out := make([]models.FieldWire, len(fields))
	for i, f := range fields {
		fw := models.FieldWire{
			ID:           models.FlexID(f.ID),
			Name:         f.Name,
			Type:         f.Type.String(),
			IsRequired:   models.Flag(f.Required),
			DisplayOrder: i + 1,
		}
		for _, o := range f.Options {
			fw.Options = append(fw.Options, models.StructuredOption(o.Name, o.Value, o.DisplayOrder))
		}
		out[i] = fw
	}
	return out
}

// RecordToWire converts a record to its API shape with values as rows.
func RecordToWire(r *models.Record) (models.RecordWire, error) {
	rows, err := ToRows(r.Values)
	if err != nil {
		return models.RecordWire{}, err
	}
	raw, err := json.Marshal(rows)
	if err != nil {
		return models.RecordWire{}, err
	}

	w := models.RecordWire{
		ID:         models.FlexID(r.ID),
		TemplateID: models.FlexID(r.TemplateID),
		Values:     raw,
	}
	if !r.CreatedAt.IsZero() {
		createdAt := r.CreatedAt
		w.CreatedAt = &createdAt
	}
	if !r.UpdatedAt.IsZero() {
		updatedAt := r.UpdatedAt
		w.UpdatedAt = &updatedAt
	}
	return w, nil
}

// RecordFromWire converts an API record into the model, accepting values in
// either row or keyed form.
func RecordFromWire(w models.RecordWire) (*models.Record, error) {
	values, err := DecodeValues(w.Values)
	if err != nil {
		return nil, err
	}
	r := &models.Record{
		ID:         string(w.ID),
		TemplateID: string(w.TemplateID),
		Values:     values,
	}
	if w.CreatedAt != nil {
		r.CreatedAt = *w.CreatedAt
	}
	if w.UpdatedAt != nil {
		r.UpdatedAt = *w.UpdatedAt
	}
	return r, nil
}

// RecordPayload builds the body for creating or updating a record.
func RecordPayload(r *models.Record) (models.RecordPayload, error) {
	templateID, err := strconv.ParseInt(strings.TrimSpace(r.TemplateID), 10, 64)
	if err != nil {
		return models.RecordPayload{}, fmt.Errorf("%w: %q", ErrNonNumericTemplateID, r.TemplateID)
	}
	rows, err := ToRows(r.Values)
	if err != nil {
		return models.RecordPayload{}, err
	}
	return models.RecordPayload{TemplateID: templateID, Fields: rows}, nil
}
