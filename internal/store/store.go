package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"formkeep/internal/mapper"
	"formkeep/internal/models"

	"go.uber.org/zap"
)

var (
	_ Repository = (*Store)(nil)
	_ Repository = (*FileStore)(nil)
)

// Store is the SQL Repository. Templates, their fields and options, and
// record values each live in their own table; record values are stored one
// row per field as JSON-encoded scalars.
type Store struct {
	db     *sql.DB
	logger *zap.Logger
}

// New creates a new Store from a Config. Only the sqlite and turso backends
// are SQL; use Open to pick any backend.
func New(cfg Config, logger *zap.Logger) (*Store, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	backend, err := NewDataBackend(cfg)
	if err != nil {
		return nil, err
	}

	db, err := backend.Connect()
	if err != nil {
		return nil, err
	}

	logger.Info("database opened", zap.String("backend", backend.Description()))

	store := &Store{db: db, logger: logger}
	if err := store.migrate(context.Background()); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	return store, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS templates (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		name TEXT NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS template_fields (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		template_id INTEGER NOT NULL,
		field_name TEXT NOT NULL,
		field_type TEXT NOT NULL,
		is_required INTEGER NOT NULL DEFAULT 0,
		display_order INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS field_options (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		field_id INTEGER NOT NULL,
		option_name TEXT NOT NULL,
		option_value TEXT NOT NULL,
		display_order INTEGER NOT NULL,
		UNIQUE (field_id, option_value)
	);

	CREATE TABLE IF NOT EXISTS records (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		template_id INTEGER NOT NULL,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS record_values (
		record_id INTEGER NOT NULL,
		field_id INTEGER NOT NULL,
		value TEXT NOT NULL,
		PRIMARY KEY (record_id, field_id)
	);

	CREATE INDEX IF NOT EXISTS idx_template_fields_template_id ON template_fields(template_id);
	CREATE INDEX IF NOT EXISTS idx_field_options_field_id ON field_options(field_id);
	CREATE INDEX IF NOT EXISTS idx_records_template_id ON records(template_id);
	`

	_, err := s.db.ExecContext(ctx, schema)
	return err
}

type scanner interface {
	Scan(dest ...any) error
}

type queryer interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (s *Store) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

func likePattern(q string) string {
	escape := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return "%" + escape.Replace(strings.ToLower(q)) + "%"
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// Template operations

const templateColumns = `t.id, t.name, t.description, t.created_at, t.updated_at,
	(SELECT COUNT(*) FROM records r WHERE r.template_id = t.id)`

func scanTemplate(sc scanner) (models.Template, error) {
	var t models.Template
	var id int64
	if err := sc.Scan(&id, &t.Name, &t.Description, &t.CreatedAt, &t.UpdatedAt, &t.RecordCount); err != nil {
		return t, err
	}
	t.ID = formatID(id)
	return t, nil
}

func (s *Store) ListTemplates(ctx context.Context, search string) ([]models.Template, error) {
	query := `SELECT ` + templateColumns + ` FROM templates t`
	var args []any
	if q := strings.TrimSpace(search); q != "" {
		query += ` WHERE LOWER(t.name) LIKE ? ESCAPE '\' OR LOWER(t.description) LIKE ? ESCAPE '\'`
		args = append(args, likePattern(q), likePattern(q))
	}
	query += ` ORDER BY t.id DESC`

	templates, err := s.queryTemplates(ctx, query, args...)
	if err != nil {
		return nil, err
	}

	// Fields are loaded after the listing rows are closed; the SQLite pool
	// holds a single connection.
	for i := range templates {
		id, _ := strconv.ParseInt(templates[i].ID, 10, 64)
		fields, err := loadFields(ctx, s.db, id)
		if err != nil {
			return nil, err
		}
		templates[i].Fields = fields
	}
	return templates, nil
}

func (s *Store) queryTemplates(ctx context.Context, query string, args ...any) ([]models.Template, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	templates := []models.Template{}
	for rows.Next() {
		t, err := scanTemplate(rows)
		if err != nil {
			return nil, err
		}
		templates = append(templates, t)
	}
	return templates, rows.Err()
}

func (s *Store) GetTemplate(ctx context.Context, id string) (*models.Template, error) {
	tid, err := parseID("template", id)
	if err != nil {
		return nil, err
	}

	t, err := scanTemplate(s.db.QueryRowContext(ctx,
		`SELECT `+templateColumns+` FROM templates t WHERE t.id = ?`, tid))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("template %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}

	if t.Fields, err = loadFields(ctx, s.db, tid); err != nil {
		return nil, err
	}
	return &t, nil
}

// loadFields returns a template's fields in display order with their
// options attached.
func loadFields(ctx context.Context, q queryer, templateID int64) ([]models.Field, error) {
	rows, err := q.QueryContext(ctx,
		`SELECT id, field_name, field_type, is_required FROM template_fields WHERE template_id = ? ORDER BY display_order, id`,
		templateID,
	)
	if err != nil {
		return nil, err
	}

	fields := []models.Field{}
	index := make(map[int64]int)
	for rows.Next() {
		var id int64
		var name, fieldType string
		var required int
		if err := rows.Scan(&id, &name, &fieldType, &required); err != nil {
			rows.Close()
			return nil, err
		}
		ft, err := models.ParseFieldType(fieldType)
		if err != nil {
			rows.Close()
			return nil, err
		}
		index[id] = len(fields)
		fields = append(fields, models.Field{ID: formatID(id), Name: name, Type: ft, Required: required != 0})
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, err
	}
	rows.Close()

	if len(fields) == 0 {
		return fields, nil
	}

	optRows, err := q.QueryContext(ctx,
		`SELECT o.field_id, o.option_name, o.option_value, o.display_order
		FROM field_options o JOIN template_fields f ON f.id = o.field_id
		WHERE f.template_id = ? ORDER BY o.field_id, o.display_order, o.id`,
		templateID,
	)
	if err != nil {
		return nil, err
	}
	defer optRows.Close()

	for optRows.Next() {
		var fieldID int64
		var o models.Option
		if err := optRows.Scan(&fieldID, &o.Name, &o.Value, &o.DisplayOrder); err != nil {
			return nil, err
		}
		if i, ok := index[fieldID]; ok {
			fields[i].Options = append(fields[i].Options, o)
		}
	}
	return fields, optRows.Err()
}

func insertField(ctx context.Context, tx *sql.Tx, templateID int64, order int, f models.Field) error {
	var id int64
	err := tx.QueryRowContext(ctx,
		`INSERT INTO template_fields (template_id, field_name, field_type, is_required, display_order) VALUES (?, ?, ?, ?, ?) RETURNING id`,
		templateID, f.Name, f.Type.String(), boolInt(f.Required), order,
	).Scan(&id)
	if err != nil {
		return err
	}
	return insertOptions(ctx, tx, id, f.Options)
}

func insertOptions(ctx context.Context, tx *sql.Tx, fieldID int64, options []models.Option) error {
	for _, o := range options {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO field_options (field_id, option_name, option_value, display_order) VALUES (?, ?, ?, ?)`,
			fieldID, o.Name, o.Value, o.DisplayOrder,
		)
		if err != nil {
			return fmt.Errorf("option %q: %w", o.Value, err)
		}
	}
	return nil
}

func (s *Store) CreateTemplate(ctx context.Context, t *models.Template) error {
	now := time.Now().UTC()
	var id int64

	err := s.withTx(ctx, func(tx *sql.Tx) error {
		err := tx.QueryRowContext(ctx,
			`INSERT INTO templates (name, description, created_at, updated_at) VALUES (?, ?, ?, ?) RETURNING id`,
			t.Name, t.Description, now, now,
		).Scan(&id)
		if err != nil {
			return err
		}
		for i, f := range t.Fields {
			if err := insertField(ctx, tx, id, i+1, f); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	return s.reloadTemplate(ctx, formatID(id), t)
}

// UpdateTemplate rewrites a template's name, description and fields. Fields
// whose id already belongs to the template are updated in place so record
// values keyed by them stay attached; other fields are inserted and missing
// ones removed.
func (s *Store) UpdateTemplate(ctx context.Context, t *models.Template) error {
	tid, err := parseID("template", t.ID)
	if err != nil {
		return err
	}
	now := time.Now().UTC()

	err = s.withTx(ctx, func(tx *sql.Tx) error {
		var found int
		if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM templates WHERE id = ?`, tid).Scan(&found); err != nil {
			return err
		}
		if found == 0 {
			return fmt.Errorf("template %s: %w", t.ID, ErrNotFound)
		}

		if _, err := tx.ExecContext(ctx,
			`UPDATE templates SET name = ?, description = ?, updated_at = ? WHERE id = ?`,
			t.Name, t.Description, now, tid,
		); err != nil {
			return err
		}

		existing, err := fieldIDs(ctx, tx, tid)
		if err != nil {
			return err
		}

		kept := make(map[int64]bool)
		for i, f := range t.Fields {
			fid, perr := strconv.ParseInt(f.ID, 10, 64)
			if perr != nil || !existing[fid] || kept[fid] {
				if err := insertField(ctx, tx, tid, i+1, f); err != nil {
					return err
				}
				continue
			}
			kept[fid] = true
			if _, err := tx.ExecContext(ctx,
				`UPDATE template_fields SET field_name = ?, field_type = ?, is_required = ?, display_order = ? WHERE id = ?`,
				f.Name, f.Type.String(), boolInt(f.Required), i+1, fid,
			); err != nil {
				return err
			}
			if _, err := tx.ExecContext(ctx, `DELETE FROM field_options WHERE field_id = ?`, fid); err != nil {
				return err
			}
			if err := insertOptions(ctx, tx, fid, f.Options); err != nil {
				return err
			}
		}

		for fid := range existing {
			if kept[fid] {
				continue
			}
			if _, err := tx.ExecContext(ctx, `DELETE FROM field_options WHERE field_id = ?`, fid); err != nil {
				return err
			}
			if _, err := tx.ExecContext(ctx, `DELETE FROM template_fields WHERE id = ?`, fid); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	return s.reloadTemplate(ctx, t.ID, t)
}

func fieldIDs(ctx context.Context, tx *sql.Tx, templateID int64) (map[int64]bool, error) {
	rows, err := tx.QueryContext(ctx, `SELECT id FROM template_fields WHERE template_id = ?`, templateID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	ids := make(map[int64]bool)
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids[id] = true
	}
	return ids, rows.Err()
}

func (s *Store) reloadTemplate(ctx context.Context, id string, t *models.Template) error {
	got, err := s.GetTemplate(ctx, id)
	if err != nil {
		return err
	}
	*t = *got
	return nil
}

func (s *Store) DeleteTemplate(ctx context.Context, id string, cascade bool) error {
	tid, err := parseID("template", id)
	if err != nil {
		return err
	}

	var count int
	err = s.withTx(ctx, func(tx *sql.Tx) error {
		err := tx.QueryRowContext(ctx,
			`SELECT (SELECT COUNT(*) FROM records WHERE template_id = t.id) FROM templates t WHERE t.id = ?`, tid,
		).Scan(&count)
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("template %s: %w", id, ErrNotFound)
		}
		if err != nil {
			return err
		}
		if count > 0 && !cascade {
			return fmt.Errorf("template %s is used by %d records: %w", id, count, ErrTemplateInUse)
		}

		for _, stmt := range []string{
			`DELETE FROM record_values WHERE record_id IN (SELECT id FROM records WHERE template_id = ?)`,
			`DELETE FROM records WHERE template_id = ?`,
			`DELETE FROM field_options WHERE field_id IN (SELECT id FROM template_fields WHERE template_id = ?)`,
			`DELETE FROM template_fields WHERE template_id = ?`,
			`DELETE FROM templates WHERE id = ?`,
		} {
			if _, err := tx.ExecContext(ctx, stmt, tid); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	if count > 0 {
		s.logger.Info("template deleted with records", zap.String("template_id", id), zap.Int("records", count))
	}
	return nil
}

// Record operations

func (s *Store) ListRecords(ctx context.Context, filter RecordFilter) ([]models.Record, error) {
	query := `SELECT id, template_id, created_at, updated_at FROM records`
	var args []any
	if filter.TemplateID != "" {
		tid, err := parseID("template", filter.TemplateID)
		if err != nil {
			return []models.Record{}, nil
		}
		query += ` WHERE template_id = ?`
		args = append(args, tid)
	}
	query += ` ORDER BY id DESC`

	search := strings.TrimSpace(filter.Query)
	// Searching matches decoded values, so paging happens after the filter.
	if search == "" && (filter.Limit > 0 || filter.Offset > 0) {
		limit := filter.Limit
		if limit <= 0 {
			limit = -1
		}
		query += ` LIMIT ? OFFSET ?`
		args = append(args, limit, max(filter.Offset, 0))
	}

	records, err := s.queryRecords(ctx, query, args...)
	if err != nil {
		return nil, err
	}

	out := records[:0]
	for _, r := range records {
		rid, _ := strconv.ParseInt(r.ID, 10, 64)
		if r.Values, err = loadValues(ctx, s.db, rid); err != nil {
			return nil, err
		}
		if search != "" && !matchesValues(r.Values, search) {
			continue
		}
		out = append(out, r)
	}

	if search != "" {
		out = paginate(out, filter.Limit, filter.Offset)
	}
	return out, nil
}

func (s *Store) queryRecords(ctx context.Context, query string, args ...any) ([]models.Record, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	records := []models.Record{}
	for rows.Next() {
		r, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, r)
	}
	return records, rows.Err()
}

func scanRecord(sc scanner) (models.Record, error) {
	var r models.Record
	var id, templateID int64
	if err := sc.Scan(&id, &templateID, &r.CreatedAt, &r.UpdatedAt); err != nil {
		return r, err
	}
	r.ID = formatID(id)
	r.TemplateID = formatID(templateID)
	return r, nil
}

func loadValues(ctx context.Context, q queryer, recordID int64) (models.Values, error) {
	rows, err := q.QueryContext(ctx, `SELECT field_id, value FROM record_values WHERE record_id = ?`, recordID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	values := make(models.Values)
	for rows.Next() {
		var fieldID int64
		var raw string
		if err := rows.Scan(&fieldID, &raw); err != nil {
			return nil, err
		}
		var v any
		if err := json.Unmarshal([]byte(raw), &v); err != nil {
			return nil, fmt.Errorf("record %d field %d: %w", recordID, fieldID, err)
		}
		values[formatID(fieldID)] = v
	}
	return values, rows.Err()
}

func insertValues(ctx context.Context, tx *sql.Tx, recordID int64, rows []models.Row) error {
	for _, row := range rows {
		data, err := json.Marshal(row.Value)
		if err != nil {
			return fmt.Errorf("field %d: %w", row.FieldID, err)
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO record_values (record_id, field_id, value) VALUES (?, ?, ?)`,
			recordID, row.FieldID, string(data),
		); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) GetRecord(ctx context.Context, id string) (*models.Record, error) {
	rid, err := parseID("record", id)
	if err != nil {
		return nil, err
	}

	r, err := scanRecord(s.db.QueryRowContext(ctx,
		`SELECT id, template_id, created_at, updated_at FROM records WHERE id = ?`, rid))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("record %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}

	if r.Values, err = loadValues(ctx, s.db, rid); err != nil {
		return nil, err
	}
	return &r, nil
}

func (s *Store) CreateRecord(ctx context.Context, r *models.Record) error {
	tid, err := parseID("template", r.TemplateID)
	if err != nil {
		return err
	}
	rows, err := mapper.ToRows(r.Values)
	if err != nil {
		return err
	}
	now := time.Now().UTC()

	var id int64
	err = s.withTx(ctx, func(tx *sql.Tx) error {
		var found int
		if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM templates WHERE id = ?`, tid).Scan(&found); err != nil {
			return err
		}
		if found == 0 {
			return fmt.Errorf("template %s: %w", r.TemplateID, ErrNotFound)
		}

		err := tx.QueryRowContext(ctx,
			`INSERT INTO records (template_id, created_at, updated_at) VALUES (?, ?, ?) RETURNING id`,
			tid, now, now,
		).Scan(&id)
		if err != nil {
			return err
		}
		return insertValues(ctx, tx, id, rows)
	})
	if err != nil {
		return err
	}

	return s.reloadRecord(ctx, formatID(id), r)
}

func (s *Store) UpdateRecord(ctx context.Context, r *models.Record) error {
	rid, err := parseID("record", r.ID)
	if err != nil {
		return err
	}
	rows, err := mapper.ToRows(r.Values)
	if err != nil {
		return err
	}
	now := time.Now().UTC()

	err = s.withTx(ctx, func(tx *sql.Tx) error {
		var found int
		if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM records WHERE id = ?`, rid).Scan(&found); err != nil {
			return err
		}
		if found == 0 {
			return fmt.Errorf("record %s: %w", r.ID, ErrNotFound)
		}
		if _, err := tx.ExecContext(ctx, `UPDATE records SET updated_at = ? WHERE id = ?`, now, rid); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM record_values WHERE record_id = ?`, rid); err != nil {
			return err
		}
		return insertValues(ctx, tx, rid, rows)
	})
	if err != nil {
		return err
	}

	return s.reloadRecord(ctx, r.ID, r)
}

func (s *Store) reloadRecord(ctx context.Context, id string, r *models.Record) error {
	got, err := s.GetRecord(ctx, id)
	if err != nil {
		return err
	}
	*r = *got
	return nil
}

func (s *Store) DeleteRecord(ctx context.Context, id string) error {
	rid, err := parseID("record", id)
	if err != nil {
		return err
	}

	return s.withTx(ctx, func(tx *sql.Tx) error {
		var found int
		if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM records WHERE id = ?`, rid).Scan(&found); err != nil {
			return err
		}
		if found == 0 {
			return fmt.Errorf("record %s: %w", id, ErrNotFound)
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM record_values WHERE record_id = ?`, rid); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx, `DELETE FROM records WHERE id = ?`, rid)
		return err
	})
}
