package store

import (
	"database/sql"
	"fmt"
	"slices"

	_ "github.com/tursodatabase/libsql-client-go/libsql"
	"go.uber.org/zap"
	_ "modernc.org/sqlite"
)

// DataBackendType identifies the storage backend
type DataBackendType string

const (
	BackendSQLite DataBackendType = "sqlite"
	BackendTurso  DataBackendType = "turso"
	BackendFile   DataBackendType = "file"
)

// DataBackend defines the interface for SQL database backends
type DataBackend interface {
	// Type returns the backend type
	Type() DataBackendType

	// Connect establishes a database connection
	Connect() (*sql.DB, error)

	// Description returns a human-readable description
	Description() string
}

// Config holds the storage configuration
type Config struct {
	Backend DataBackendType `json:"backend" mapstructure:"backend"`

	// SQLite-specific
	SQLitePath string `json:"sqlitePath,omitempty" mapstructure:"sqlite_path"` // e.g., "./formkeep.db" or ":memory:"

	// Turso-specific
	TursoURL   string `json:"tursoUrl,omitempty" mapstructure:"turso_url"`     // e.g., "libsql://mydb.turso.io"
	TursoToken string `json:"tursoToken,omitempty" mapstructure:"turso_token"` // Auth token

	// File-specific
	FilePath string `json:"filePath,omitempty" mapstructure:"file_path"` // YAML document, e.g. "./formkeep.yaml"
}

// Validate reports a backend that is not one of SupportedBackends, or one
// missing the settings it cannot default.
func (c Config) Validate() error {
	if !slices.Contains(SupportedBackends(), c.Backend) {
		return fmt.Errorf("unsupported backend %q (want one of %v)", c.Backend, SupportedBackends())
	}
	if c.Backend == BackendTurso && c.TursoURL == "" {
		return fmt.Errorf("turso backend requires TURSO_DATABASE_URL")
	}
	return nil
}

// WithDefaults fills in the default path of the selected local backend.
func (c Config) WithDefaults() Config {
	if c.Backend == "" {
		c.Backend = BackendSQLite
	}
	if c.Backend == BackendSQLite && c.SQLitePath == "" {
		c.SQLitePath = "formkeep.db"
	}
	if c.Backend == BackendFile && c.FilePath == "" {
		c.FilePath = "formkeep.yaml"
	}
	return c
}

// NewDataBackend creates a DataBackend from Config
func NewDataBackend(cfg Config) (DataBackend, error) {
	switch cfg.Backend {
	case BackendSQLite:
		return &SQLiteBackend{Path: cfg.SQLitePath}, nil
	case BackendTurso:
		return &TursoBackend{URL: cfg.TursoURL, Token: cfg.TursoToken}, nil
	default:
		return nil, fmt.Errorf("unsupported SQL backend: %s", cfg.Backend)
	}
}

// Open returns the Repository for cfg: the YAML file store for the file
// backend, the SQL store otherwise.
func Open(cfg Config, logger *zap.Logger) (Repository, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.Backend == BackendFile {
		fs, err := OpenFileStore(cfg.FilePath, logger)
		if err != nil {
			return nil, err
		}
		return fs, nil
	}
	s, err := New(cfg, logger)
	if err != nil {
		return nil, err
	}
	return s, nil
}

// SQLiteBackend implements DataBackend for local SQLite
type SQLiteBackend struct {
	Path string // File path or ":memory:" for in-memory
}

func (b *SQLiteBackend) Type() DataBackendType {
	return BackendSQLite
}

func (b *SQLiteBackend) Connect() (*sql.DB, error) {
	path := b.Path
	if path == "" {
		path = "formkeep.db"
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// One connection: every ":memory:" connection is a separate database,
	// and SQLite serializes writers anyway.
	db.SetMaxOpenConns(1)
	return db, nil
}

func (b *SQLiteBackend) Description() string {
	if b.Path == ":memory:" || b.Path == "file::memory:" {
		return "SQLite (in-memory)"
	}
	return fmt.Sprintf("SQLite (%s)", b.Path)
}

// TursoBackend implements DataBackend for Turso cloud database
type TursoBackend struct {
	URL   string // libsql://mydb.turso.io
	Token string // Auth token
}

func (b *TursoBackend) Type() DataBackendType {
	return BackendTurso
}

func (b *TursoBackend) Connect() (*sql.DB, error) {
	if b.URL == "" {
		return nil, fmt.Errorf("turso URL is required")
	}

	connStr := b.URL
	if b.Token != "" {
		connStr = b.URL + "?authToken=" + b.Token
	}

	return sql.Open("libsql", connStr)
}

func (b *TursoBackend) Description() string {
	return fmt.Sprintf("Turso (%s)", b.URL)
}

// SupportedBackends returns a list of all supported backend types
func SupportedBackends() []DataBackendType {
	return []DataBackendType{
		BackendSQLite,
		BackendTurso,
		BackendFile,
	}
}
