package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	_ "github.com/tursodatabase/go-libsql"

	"github.com/martinemde/roast-sub000/pkg/schema"
)

// LibSQLStore implements Repository using libSQL (embedded SQLite fork).
type LibSQLStore struct {
	sqlSnapshots
}

// NewLibSQLStore opens a libSQL database at the given path. Plain paths are
// turned into file URIs and their parent directory is created.
func NewLibSQLStore(dbPath string) (*LibSQLStore, error) {
	if dbPath == "" {
		return nil, schema.ConfigurationError("libsql store requires a database path")
	}
	if !strings.Contains(dbPath, ":") {
		if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
			return nil, fmt.Errorf("create db dir: %w", err)
		}
		dbPath = "file:" + dbPath
	}

	db, err := sql.Open("libsql", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open libsql: %w", err)
	}
	db.SetMaxOpenConns(1)

	// Some PRAGMAs return rows so we use QueryRow.
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA temp_store=MEMORY",
	}
	for _, p := range pragmas {
		var result string
		_ = db.QueryRow(p).Scan(&result)
	}

	return &LibSQLStore{sqlSnapshots{db: db}}, nil
}

// Close closes the database.
func (s *LibSQLStore) Close() error { return s.db.Close() }

// Migrate runs all pending database migrations.
func (s *LibSQLStore) Migrate(ctx context.Context) error {
	return runMigrations(ctx, s.db, libsqlMigrationDir)
}

func (s *LibSQLStore) Save(ctx context.Context, rec *schema.StateRecord) error {
	return s.save(ctx, rec)
}

func (s *LibSQLStore) LoadBefore(ctx context.Context, sessionID, step, timestamp string) (*schema.StateRecord, error) {
	return s.loadBefore(ctx, sessionID, step, timestamp)
}

func (s *LibSQLStore) List(ctx context.Context, sessionID, timestamp string) ([]*schema.StateRecord, error) {
	return s.list(ctx, sessionID, timestamp)
}

var _ Repository = (*LibSQLStore)(nil)
