package store

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"formkeep/internal/models"
)

var (
	ErrNotFound      = errors.New("not found")
	ErrTemplateInUse = errors.New("template has records")
)

// RecordFilter narrows ListRecords. Zero values mean "no restriction";
// Limit 0 returns every match.
type RecordFilter struct {
	TemplateID string
	Query      string
	Limit      int
	Offset     int
}

// Repository is the persistence capability the API is built on. The SQL
// store, the YAML file store and the remote API client all implement it.
//
// Create methods assign ids and timestamps on the passed value. Template
// reads always carry a RecordCount computed from stored records.
type Repository interface {
	ListTemplates(ctx context.Context, query string) ([]models.Template, error)
	GetTemplate(ctx context.Context, id string) (*models.Template, error)
	CreateTemplate(ctx context.Context, t *models.Template) error
	UpdateTemplate(ctx context.Context, t *models.Template) error
	// DeleteTemplate fails with ErrTemplateInUse when records reference the
	// template, unless cascade is set, in which case they are deleted too.
	DeleteTemplate(ctx context.Context, id string, cascade bool) error

	ListRecords(ctx context.Context, filter RecordFilter) ([]models.Record, error)
	GetRecord(ctx context.Context, id string) (*models.Record, error)
	CreateRecord(ctx context.Context, r *models.Record) error
	// UpdateRecord replaces a record's values. The template id of the stored
	// record is kept and copied back into r.
	UpdateRecord(ctx context.Context, r *models.Record) error
	DeleteRecord(ctx context.Context, id string) error

	Close() error
}

// parseID converts a public id into a row id. Anything that is not a
// positive integer cannot exist.
func parseID(kind, id string) (int64, error) {
	n, err := strconv.ParseInt(strings.TrimSpace(id), 10, 64)
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("%s %q: %w", kind, id, ErrNotFound)
	}
	return n, nil
}

func formatID(id int64) string {
	return strconv.FormatInt(id, 10)
}

// matchesValues reports whether any value's text contains query, ignoring
// case.
func matchesValues(values models.Values, query string) bool {
	q := strings.ToLower(query)
	for _, v := range values {
		if v == nil {
			continue
		}
		if strings.Contains(strings.ToLower(fmt.Sprint(v)), q) {
			return true
		}
	}
	return false
}

func matchesTemplate(t *models.Template, query string) bool {
	q := strings.ToLower(query)
	return strings.Contains(strings.ToLower(t.Name), q) || strings.Contains(strings.ToLower(t.Description), q)
}

// paginate applies offset and limit to an already filtered list.
func paginate[T any](items []T, limit, offset int) []T {
	if offset > 0 {
		if offset >= len(items) {
			return items[:0]
		}
		items = items[offset:]
	}
	if limit > 0 && limit < len(items) {
		items = items[:limit]
	}
	return items
}
