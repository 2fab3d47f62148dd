// Package mapper converts record values and templates between their
// in-memory shapes and the shapes used on the wire.
package mapper

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"

	"formkeep/internal/models"
)

var (
	ErrNonNumericFieldID = errors.New("field id is not numeric")
	ErrMalformedValues   = errors.New("values must be a row list or an object")
)

// ToRows flattens keyed values into one row per entry, ordered by field id.
// Every key must be a decimal integer in canonical form, so "01" or " 1"
// cannot alias the field keyed "1".
func ToRows(values models.Values) ([]models.Row, error) {
	rows := make([]models.Row, 0, len(values))
	for key, v := range values {
		id, err := strconv.ParseInt(key, 10, 64)
		if err != nil || strconv.FormatInt(id, 10) != key {
			return nil, fmt.Errorf("%w: %q", ErrNonNumericFieldID, key)
		}
		rows = append(rows, models.Row{FieldID: id, Value: v})
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].FieldID < rows[j].FieldID })
	return rows, nil
}

// FromRowSlice builds keyed values from decoded rows. A later row for the
// same field id replaces an earlier one.
func FromRowSlice(rows []models.Row) models.Values {
	out := make(models.Values, len(rows))
	for _, r := range rows {
		out[strconv.FormatInt(r.FieldID, 10)] = r.Value
	}
	return out
}

type rawRow struct {
	FieldID json.RawMessage `json:"field_id"`
	Value   any             `json:"value"`
}

// FromRows builds keyed values from a JSON row list. Input that is not a JSON
// array (for example a payload that is already keyed) yields an empty
// mapping; the caller decides how to treat it.
func FromRows(raw json.RawMessage) models.Values {
	out := make(models.Values)
	rows, ok := decodeRows(raw)
	if !ok {
		return out
	}
	for _, r := range rows {
		out[fieldIDString(r.FieldID)] = r.Value
	}
	return out
}

// LookupRow returns the value of the first row whose field id matches, or ""
// when there is none or raw is not a row list.
func LookupRow(raw json.RawMessage, fieldID string) any {
	rows, ok := decodeRows(raw)
	if !ok {
		return ""
	}
	for _, r := range rows {
		if fieldIDString(r.FieldID) == fieldID {
			return r.Value
		}
	}
	return ""
}

// DecodeValues accepts record values in either wire shape and returns the
// keyed form. null or empty input is an empty mapping.
func DecodeValues(raw json.RawMessage) (models.Values, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return models.Values{}, nil
	}
	switch trimmed[0] {
	case '[':
		if _, ok := decodeRows(trimmed); !ok {
			return nil, ErrMalformedValues
		}
		return FromRows(trimmed), nil
	case '{':
		var keyed models.Values
		if err := json.Unmarshal(trimmed, &keyed); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformedValues, err)
		}
		if keyed == nil {
			keyed = models.Values{}
		}
		return keyed, nil
	default:
		return nil, ErrMalformedValues
	}
}

func decodeRows(raw json.RawMessage) ([]rawRow, bool) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || trimmed[0] != '[' {
		return nil, false
	}
	var rows []rawRow
	if err := json.Unmarshal(trimmed, &rows); err != nil {
		return nil, false
	}
	return rows, true
}

// fieldIDString renders a row's field_id the way it is keyed in memory: a
// JSON string is used verbatim, a number by its shortest decimal form, so
// 1, 1.0 and 1e0 all key "1".
func fieldIDString(raw json.RawMessage) string {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) > 0 && trimmed[0] == '"' {
		var s string
		if err := json.Unmarshal(trimmed, &s); err == nil {
			return s
		}
	}

	var n json.Number
	if err := json.Unmarshal(trimmed, &n); err != nil {
		return string(trimmed)
	}
	if i, err := n.Int64(); err == nil {
		return strconv.FormatInt(i, 10)
	}
	if f, err := n.Float64(); err == nil {
		return strconv.FormatFloat(f, 'f', -1, 64)
	}
	return n.String()
}
