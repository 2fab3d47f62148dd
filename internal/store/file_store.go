package store

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"formkeep/internal/mapper"
	"formkeep/internal/models"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

// fileDocument is the on-disk layout of a FileStore. Ids of templates,
// fields and records share one counter.
type fileDocument struct {
	NextID    int64             `yaml:"nextId"`
	Templates []models.Template `yaml:"templates"`
	Records   []models.Record   `yaml:"records"`
}

// FileStore is a Repository kept in a single YAML document. The whole
// document is held in memory and rewritten atomically on every change.
type FileStore struct {
	mu     sync.RWMutex
	path   string
	doc    fileDocument
	logger *zap.Logger
}

// OpenFileStore loads the document at path. A missing file is an empty
// store; it is created on the first write.
func OpenFileStore(path string, logger *zap.Logger) (*FileStore, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if path == "" {
		path = "formkeep.yaml"
	}

	s := &FileStore{path: path, logger: logger}

	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
	case err != nil:
		return nil, err
	default:
		if err := yaml.Unmarshal(data, &s.doc); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
	}
	s.doc.repair()

	logger.Info("database opened",
		zap.String("backend", fmt.Sprintf("YAML file (%s)", path)),
		zap.Int("templates", len(s.doc.Templates)),
		zap.Int("records", len(s.doc.Records)),
	)
	return s, nil
}

// repair restores what YAML cannot carry: JSON number semantics for values
// and a counter ahead of every id in use.
func (d *fileDocument) repair() {
	bump := func(id string) {
		if n, err := strconv.ParseInt(id, 10, 64); err == nil && n > d.NextID {
			d.NextID = n
		}
	}
	for _, t := range d.Templates {
		bump(t.ID)
		for _, f := range t.Fields {
			bump(f.ID)
		}
	}
	for i := range d.Records {
		bump(d.Records[i].ID)
		d.Records[i].Values = normalizeValues(d.Records[i].Values)
	}
}

func (d *fileDocument) newID() string {
	d.NextID++
	return formatID(d.NextID)
}

// clone copies the top-level slices. Elements are replaced, never mutated,
// so sharing nested data with the committed document is safe.
func (d *fileDocument) clone() fileDocument {
	return fileDocument{
		NextID:    d.NextID,
		Templates: append([]models.Template(nil), d.Templates...),
		Records:   append([]models.Record(nil), d.Records...),
	}
}

func (d *fileDocument) templateIndex(id string) int {
	for i, t := range d.Templates {
		if t.ID == id {
			return i
		}
	}
	return -1
}

func (d *fileDocument) recordIndex(id string) int {
	for i, r := range d.Records {
		if r.ID == id {
			return i
		}
	}
	return -1
}

func (d *fileDocument) recordCount(templateID string) int {
	n := 0
	for _, r := range d.Records {
		if r.TemplateID == templateID {
			n++
		}
	}
	return n
}

// commit writes next to disk and, once that succeeds, makes it current.
func (s *FileStore) commit(next fileDocument) error {
	data, err := yaml.Marshal(&next)
	if err != nil {
		return err
	}

	dir := filepath.Dir(s.path)
	tmp, err := os.CreateTemp(dir, ".formkeep-*.yaml")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmp.Name(), s.path); err != nil {
		return err
	}

	s.doc = next
	return nil
}

func (s *FileStore) Close() error {
	return nil
}

func cloneTemplate(t models.Template) models.Template {
	out := t
	out.Fields = make([]models.Field, len(t.Fields))
	for i, f := range t.Fields {
		f.Options = append([]models.Option(nil), f.Options...)
		out.Fields[i] = f
	}
	return out
}

func cloneRecord(r models.Record) models.Record {
	out := r
	out.Values = r.Values.Clone()
	return out
}

// canonicalValues rekeys values the way the SQL store persists them and
// gives numbers JSON semantics.
func canonicalValues(values models.Values) (models.Values, error) {
	rows, err := mapper.ToRows(values)
	if err != nil {
		return nil, err
	}
	return normalizeValues(mapper.FromRowSlice(rows)), nil
}

func normalizeValues(values models.Values) models.Values {
	if values == nil {
		return models.Values{}
	}
	for k, v := range values {
		switch n := v.(type) {
		case int:
			values[k] = float64(n)
		case int64:
			values[k] = float64(n)
		case uint64:
			values[k] = float64(n)
		case float32:
			values[k] = float64(n)
		}
	}
	return values
}

// Template operations

func (s *FileStore) ListTemplates(_ context.Context, search string) ([]models.Template, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	q := strings.TrimSpace(search)
	templates := []models.Template{}
	for i := len(s.doc.Templates) - 1; i >= 0; i-- {
		t := cloneTemplate(s.doc.Templates[i])
		if q != "" && !matchesTemplate(&t, q) {
			continue
		}
		t.RecordCount = s.doc.recordCount(t.ID)
		templates = append(templates, t)
	}
	return templates, nil
}

func (s *FileStore) GetTemplate(_ context.Context, id string) (*models.Template, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	i := s.doc.templateIndex(id)
	if i < 0 {
		return nil, fmt.Errorf("template %s: %w", id, ErrNotFound)
	}
	t := cloneTemplate(s.doc.Templates[i])
	t.RecordCount = s.doc.recordCount(id)
	return &t, nil
}

func (s *FileStore) CreateTemplate(_ context.Context, t *models.Template) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	next := s.doc.clone()
	tpl := cloneTemplate(*t)
	tpl.ID = next.newID()
	for i := range tpl.Fields {
		tpl.Fields[i].ID = next.newID()
	}
	tpl.CreatedAt = time.Now().UTC()
	tpl.UpdatedAt = tpl.CreatedAt
	tpl.RecordCount = 0
	next.Templates = append(next.Templates, tpl)

	if err := s.commit(next); err != nil {
		return err
	}
	*t = cloneTemplate(tpl)
	return nil
}

func (s *FileStore) UpdateTemplate(_ context.Context, t *models.Template) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	i := s.doc.templateIndex(t.ID)
	if i < 0 {
		return fmt.Errorf("template %s: %w", t.ID, ErrNotFound)
	}

	next := s.doc.clone()
	current := next.Templates[i]
	existing := make(map[string]bool, len(current.Fields))
	for _, f := range current.Fields {
		existing[f.ID] = true
	}

	tpl := cloneTemplate(*t)
	kept := make(map[string]bool)
	for j := range tpl.Fields {
		id := tpl.Fields[j].ID
		if existing[id] && !kept[id] {
			kept[id] = true
			continue
		}
		tpl.Fields[j].ID = next.newID()
	}
	tpl.CreatedAt = current.CreatedAt
	tpl.UpdatedAt = time.Now().UTC()
	tpl.RecordCount = 0
	next.Templates[i] = tpl

	if err := s.commit(next); err != nil {
		return err
	}
	*t = cloneTemplate(tpl)
	t.RecordCount = s.doc.recordCount(t.ID)
	return nil
}

func (s *FileStore) DeleteTemplate(_ context.Context, id string, cascade bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	i := s.doc.templateIndex(id)
	if i < 0 {
		return fmt.Errorf("template %s: %w", id, ErrNotFound)
	}
	count := s.doc.recordCount(id)
	if count > 0 && !cascade {
		return fmt.Errorf("template %s is used by %d records: %w", id, count, ErrTemplateInUse)
	}

	next := s.doc.clone()
	next.Templates = append(next.Templates[:i], next.Templates[i+1:]...)
	records := next.Records[:0]
	for _, r := range next.Records {
		if r.TemplateID != id {
			records = append(records, r)
		}
	}
	next.Records = records

	if err := s.commit(next); err != nil {
		return err
	}
	if count > 0 {
		s.logger.Info("template deleted with records", zap.String("template_id", id), zap.Int("records", count))
	}
	return nil
}

// Record operations

func (s *FileStore) ListRecords(_ context.Context, filter RecordFilter) ([]models.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	q := strings.TrimSpace(filter.Query)
	records := []models.Record{}
	for i := len(s.doc.Records) - 1; i >= 0; i-- {
		r := s.doc.Records[i]
		if filter.TemplateID != "" && r.TemplateID != filter.TemplateID {
			continue
		}
		if q != "" && !matchesValues(r.Values, q) {
			continue
		}
		records = append(records, cloneRecord(r))
	}
	return paginate(records, filter.Limit, filter.Offset), nil
}

func (s *FileStore) GetRecord(_ context.Context, id string) (*models.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	i := s.doc.recordIndex(id)
	if i < 0 {
		return nil, fmt.Errorf("record %s: %w", id, ErrNotFound)
	}
	r := cloneRecord(s.doc.Records[i])
	return &r, nil
}

func (s *FileStore) CreateRecord(_ context.Context, r *models.Record) error {
	values, err := canonicalValues(r.Values)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.doc.templateIndex(r.TemplateID) < 0 {
		return fmt.Errorf("template %s: %w", r.TemplateID, ErrNotFound)
	}

	next := s.doc.clone()
	now := time.Now().UTC()
	rec := models.Record{
		ID:         next.newID(),
		TemplateID: r.TemplateID,
		Values:     values,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	next.Records = append(next.Records, rec)

	if err := s.commit(next); err != nil {
		return err
	}
	*r = cloneRecord(rec)
	return nil
}

func (s *FileStore) UpdateRecord(_ context.Context, r *models.Record) error {
	values, err := canonicalValues(r.Values)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	i := s.doc.recordIndex(r.ID)
	if i < 0 {
		return fmt.Errorf("record %s: %w", r.ID, ErrNotFound)
	}

	next := s.doc.clone()
	rec := next.Records[i]
	rec.Values = values
	rec.UpdatedAt = time.Now().UTC()
	next.Records[i] = rec

	if err := s.commit(next); err != nil {
		return err
	}
	*r = cloneRecord(rec)
	return nil
}

func (s *FileStore) DeleteRecord(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	i := s.doc.recordIndex(id)
	if i < 0 {
		return fmt.Errorf("record %s: %w", id, ErrNotFound)
	}

	next := s.doc.clone()
	next.Records = append(next.Records[:i], next.Records[i+1:]...)
	return s.commit(next)
}
