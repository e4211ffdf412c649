// Package conf
package conf

import (
	"database/sql"
	"fmt"
	"path/filepath"
	"strings"
	"testing"

	"github.com/lib/pq"
	log "github.com/sirupsen/logrus"
	_ "modernc.org/sqlite"
)

const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

// Config holds an open database handle and its connection metadata.
type Config struct {
	Driver  string
	ConnStr string
	DB      *sql.DB
}

// NewConfig opens and pings a database. sqlite is limited to one open
// connection since it serializes writers anyway.
func NewConfig(driver, connStr string, maxOpen, maxIdle int) (*Config, error) {
	switch driver {
	case DriverPostgres, DriverSQLite:
	default:
		return nil, fmt.Errorf("unsupported database driver %q", driver)
	}

	db, err := sql.Open(driver, connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s database: %w", driver, err)
	}

	if driver == DriverSQLite {
		maxOpen, maxIdle = 1, 1
	}
	if maxOpen > 0 {
		db.SetMaxOpenConns(maxOpen)
	}
	if maxIdle > 0 {
		db.SetMaxIdleConns(maxIdle)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to %s database: %w", driver, err)
	}

	log.WithField("driver", driver).Debug("database connection established")
	return &Config{Driver: driver, ConnStr: connStr, DB: db}, nil
}

// EnsurePostgresDatabase creates dbName through the admin connection if it
// does not exist yet.
func EnsurePostgresDatabase(adminConnStr, dbName string) error {
	admin, err := sql.Open(DriverPostgres, adminConnStr)
	if err != nil {
		return fmt.Errorf("failed to connect to postgres: %w", err)
	}
	defer admin.Close()

	var exists bool
	err = admin.QueryRow(`SELECT EXISTS (SELECT 1 FROM pg_database WHERE datname = $1)`, dbName).Scan(&exists)
	if err != nil {
		return fmt.Errorf("failed to check database %s: %w", dbName, err)
	}
	if exists {
		return nil
	}

	if _, err := admin.Exec("CREATE DATABASE " + pq.QuoteIdentifier(dbName)); err != nil {
		return fmt.Errorf("failed to create database %s: %w", dbName, err)
	}
	log.WithField("database", dbName).Info("created postgres database")
	return nil
}

// NewTestConfig opens a fresh sqlite database in the test's temp dir.
// The caller applies the schema.
func NewTestConfig(t *testing.T) (*Config, func()) {
	t.Helper()

	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	path := filepath.Join(t.TempDir(), name+".db")

	cfg, err := NewConfig(DriverSQLite, path, 0, 0)
	if err != nil {
		t.Fatalf("Failed to open test database: %v", err)
	}

	cleanup := func() {
		if err := cfg.DB.Close(); err != nil {
			t.Logf("Warning: Failed to close test database %s: %v", path, err)
		}
	}
	return cfg, cleanup
}
