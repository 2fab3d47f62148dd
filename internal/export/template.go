package export

import (
	"bytes"
	"fmt"
	"strings"

	"formkeep/internal/models"
	"formkeep/internal/schema"

	"gopkg.in/yaml.v3"
)

type templateDocument struct {
	Name        string          `yaml:"name"`
	Description string          `yaml:"description,omitempty"`
	Fields      []fieldDocument `yaml:"fields"`
}

type fieldDocument struct {
	Name     string               `yaml:"name"`
	Type     models.FieldType     `yaml:"type"`
	Required bool                 `yaml:"required,omitempty"`
	Options  []models.OptionInput `yaml:"options,omitempty"`
}

// TemplateYAML renders a template definition without ids or timestamps, so
// it can be imported elsewhere.
func TemplateYAML(t *models.Template) ([]byte, error) {
	doc := templateDocument{Name: t.Name, Description: t.Description, Fields: []fieldDocument{}}
	for _, f := range t.Fields {
		fd := fieldDocument{Name: f.Name, Type: f.Type, Required: f.Required}
		for _, o := range f.Options {
			fd.Options = append(fd.Options, models.StructuredOption(o.Name, o.Value, o.DisplayOrder))
		}
		doc.Fields = append(doc.Fields, fd)
	}

	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(&doc); err != nil {
		return nil, err
	}
	if err := enc.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// ParseTemplateYAML reads a template definition. Options may be bare strings
// or structured and are normalized the same way as API input. The result has
// no ids and is not validated.
func ParseTemplateYAML(data []byte) (*models.Template, error) {
	var doc templateDocument
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse template: %w", err)
	}

	inputs := make([]models.FieldInput, len(doc.Fields))
	for i, fd := range doc.Fields {
		inputs[i] = models.FieldInput{
			Name:     strings.TrimSpace(fd.Name),
			Type:     fd.Type,
			Required: fd.Required,
			Options:  fd.Options,
		}
	}

	return &models.Template{
		Name:        strings.TrimSpace(doc.Name),
		Description: strings.TrimSpace(doc.Description),
		Fields:      schema.NormalizeOptionsForSave(inputs),
	}, nil
}
