// Package export renders templates and their records into portable files: an
// XLSX sheet of records and a YAML template definition.
package export

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"formkeep/internal/models"

	"github.com/xuri/excelize/v2"
)

const recordsSheet = "Records"

var unsafeFilename = regexp.MustCompile(`[^a-z0-9]+`)

// Records writes one row per record under a bold header of field names, in
// template order. Values for fields the template no longer has are dropped.
func Records(t *models.Template, records []models.Record) (*excelize.File, string, error) {
	f := excelize.NewFile()
	if err := f.SetSheetName("Sheet1", recordsSheet); err != nil {
		return nil, "", err
	}

	boldStyle, err := f.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true, Size: 11},
		Fill: excelize.Fill{Type: "pattern", Pattern: 1, Color: []string{"#D9E1F2"}},
		Border: []excelize.Border{
			{Type: "bottom", Color: "000000", Style: 1},
		},
	})
	if err != nil {
		return nil, "", err
	}

	for i, field := range t.Fields {
		cell, err := excelize.CoordinatesToCellName(i+1, 1)
		if err != nil {
			return nil, "", err
		}
		if err := f.SetCellValue(recordsSheet, cell, field.Name); err != nil {
			return nil, "", err
		}
		if err := f.SetCellStyle(recordsSheet, cell, cell, boldStyle); err != nil {
			return nil, "", err
		}
	}

	for rowIdx, r := range records {
		for colIdx, field := range t.Fields {
			v := CellValue(field, r.Values[field.ID])
			if v == "" {
				continue
			}
			cell, err := excelize.CoordinatesToCellName(colIdx+1, rowIdx+2)
			if err != nil {
				return nil, "", err
			}
			if err := f.SetCellValue(recordsSheet, cell, v); err != nil {
				return nil, "", err
			}
		}
	}

	for i, field := range t.Fields {
		col, _ := excelize.ColumnNumberToName(i + 1)
		width := float64(len(field.Name)) + 4
		if width < 12 {
			width = 12
		}
		if err := f.SetColWidth(recordsSheet, col, col, width); err != nil {
			return nil, "", err
		}
	}

	return f, Filename(t.Name, "records", ".xlsx"), nil
}

// CellValue formats a stored value for display: numbers stay numeric,
// booleans become Yes/No and choice values are shown by option name.
// Missing values are "".
func CellValue(field models.Field, v any) any {
	if v == nil {
		return ""
	}
	switch {
	case field.Type == models.FieldTypeNumber:
		switch n := v.(type) {
		case float64:
			return n
		case string:
			if f, err := strconv.ParseFloat(strings.TrimSpace(n), 64); err == nil {
				return f
			}
		}
	case field.Type.IsBoolean():
		if models.Truthy(v) {
			return "Yes"
		}
		return "No"
	case field.Type.HasOptions():
		if s, ok := v.(string); ok {
			if o, found := field.OptionByValue(s); found {
				return o.Name
			}
		}
	}
	return fmt.Sprint(v)
}

// Filename builds a download name like "site_visit_records.xlsx".
func Filename(name, suffix, ext string) string {
	base := strings.Join(strings.Fields(unsafeFilename.ReplaceAllString(strings.ToLower(name), " ")), "_")
	if base == "" {
		base = "template"
	}
	if suffix != "" {
		base += "_" + suffix
	}
	return base + ext
}
