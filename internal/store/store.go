// Package store persists trained models, evaluations, and figures: payloads
// go to a content-addressed file tree, metadata goes to a SQLite catalog
// whose hyperparameter columns grow at runtime as new names appear.
package store

import (
	"database/sql"
	"errors"
	"fmt"
	"regexp"
	"time"

	_ "modernc.org/sqlite"
)

// ErrAmbiguousRecord is returned when a uniqueness query matches more than
// one row; the caller must narrow the filter.
var ErrAmbiguousRecord = errors.New("store: more than one record matches")

// ErrSchemaConflict is returned when a hyperparameter value's inferred
// column type disagrees with an existing column.
var ErrSchemaConflict = errors.New("store: column type conflict")

const (
	modelsTable      = "models"
	evaluationsTable = "evaluations"
	figuresTable     = "figures"
)

// Store is the artifact catalog. All writes are per-call transactions;
// schema migration and the row write it enables commit or roll back as one
// unit.
type Store struct {
	db *sql.DB
}

// Open opens or creates the catalog database at path.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open catalog %s: %w", path, err)
	}
	// Single connection: the pipeline is single-writer, and in-memory
	// databases exist per connection.
	db.SetMaxOpenConns(1)
	s := &Store{db: db}
	if err := s.createBaseTables(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// OpenMemory opens an in-memory catalog for testing.
func OpenMemory() (*Store, error) {
	return Open(":memory:")
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) createBaseTables() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS ` + modelsTable + ` (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			hash TEXT UNIQUE NOT NULL,
			created_at TEXT NOT NULL,
			run_id TEXT NOT NULL,
			model_path TEXT,
			train_history_path TEXT,
			replicate_info_path TEXT
		)`,
		`CREATE TABLE IF NOT EXISTS ` + evaluationsTable + ` (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			hash TEXT UNIQUE NOT NULL,
			created_at TEXT NOT NULL,
			run_id TEXT NOT NULL,
			model_id INTEGER REFERENCES ` + modelsTable + `(id),
			eval_parameters TEXT,
			output_dir TEXT
		)`,
		`CREATE TABLE IF NOT EXISTS ` + figuresTable + ` (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			hash TEXT UNIQUE NOT NULL,
			created_at TEXT NOT NULL,
			evaluation_id INTEGER REFERENCES ` + evaluationsTable + `(id),
			identifier TEXT,
			file_path TEXT,
			parameters TEXT
		)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("create base tables: %w", err)
		}
	}
	return nil
}

func nowUTC() string { return time.Now().UTC().Format(time.RFC3339) }

var columnNameRe = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// validColumnName guards dynamically supplied column names before they are
// interpolated into DDL or WHERE clauses.
func validColumnName(name string) error {
	if !columnNameRe.MatchString(name) {
		return fmt.Errorf("invalid column name %q", name)
	}
	return nil
}

func nullStr(ns sql.NullString) string {
	if ns.Valid {
		return ns.String
	}
	return ""
}
