// Package sqlite provides a SQLite-backed graph driver.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"github.com/papercomputeco/engram/pkg/graph/sqldriver"
)

// Driver implements graph.Driver using SQLite via the shared sql driver.
type Driver struct {
	*sqldriver.Driver
}

// Config holds configuration for the SQLite graph driver.
type Config struct {
	// DBPath is the path to the SQLite database file.
	// Use ":memory:" for an in-memory database.
	DBPath string
}

// NewDriver creates a SQLite graph driver and applies the schema.
func NewDriver(ctx context.Context, c Config, logger *zap.Logger) (*Driver, error) {
	if c.DBPath == "" {
		return nil, fmt.Errorf("database path is required")
	}

	db, err := sql.Open("sqlite3", c.DBPath)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// A pooled :memory: handle would give each connection its own database.
	if c.DBPath == ":memory:" {
		db.SetMaxOpenConns(1)
	}

	inner, err := sqldriver.New(ctx, db, sqldriver.DialectSQLite, logger)
	if err != nil {
		db.Close()
		return nil, err
	}

	logger.Info("sqlite graph driver initialized", zap.String("db_path", c.DBPath))

	return &Driver{Driver: inner}, nil
}
