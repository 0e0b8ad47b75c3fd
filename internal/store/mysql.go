package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/go-sql-driver/mysql"

	"github.com/martinemde/roast-sub000/pkg/schema"
)

// MySQLStore implements Repository on MySQL or MariaDB, for snapshots shared
// between machines.
//
// The DSN format is the driver's:
//
//	user:password@tcp(localhost:3306)/roast
type MySQLStore struct {
	sqlSnapshots
}

// NewMySQLStore opens and pings a MySQL database.
func NewMySQLStore(ctx context.Context, dsn string) (*MySQLStore, error) {
	if dsn == "" {
		return nil, schema.ConfigurationError("mysql store requires a DSN")
	}
	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, fmt.Errorf("open mysql: %w", err)
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping mysql: %w", err)
	}
	return &MySQLStore{sqlSnapshots{db: db}}, nil
}

// Close closes the connection pool.
func (s *MySQLStore) Close() error { return s.db.Close() }

// Migrate runs all pending database migrations.
func (s *MySQLStore) Migrate(ctx context.Context) error {
	return runMigrations(ctx, s.db, mysqlMigrationDir)
}

func (s *MySQLStore) Save(ctx context.Context, rec *schema.StateRecord) error {
	return s.save(ctx, rec)
}

func (s *MySQLStore) LoadBefore(ctx context.Context, sessionID, step, timestamp string) (*schema.StateRecord, error) {
	return s.loadBefore(ctx, sessionID, step, timestamp)
}

func (s *MySQLStore) List(ctx context.Context, sessionID, timestamp string) ([]*schema.StateRecord, error) {
	return s.list(ctx, sessionID, timestamp)
}

var _ Repository = (*MySQLStore)(nil)
