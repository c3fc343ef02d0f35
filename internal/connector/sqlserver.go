// Package connector implements the pool's Connector interface for SQL
// Server backends via go-mssqldb.
package connector

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/joao-brasil/adaptive-pool/internal/pool"
	"github.com/joao-brasil/adaptive-pool/pkg/target"
	_ "github.com/microsoft/go-mssqldb"
)

// SQLServer opens physical SQL Server connections for one target.
type SQLServer struct {
	target *target.Target
}

// NewSQLServer builds a connector for the given target.
func NewSQLServer(t *target.Target) *SQLServer {
	return &SQLServer{target: t}
}

// Open establishes one physical connection and verifies it is reachable.
func (c *SQLServer) Open(ctx context.Context) (pool.Conn, error) {
	db, err := sql.Open("sqlserver", c.target.DSN())
	if err != nil {
		return nil, fmt.Errorf("sql.Open: %w", err)
	}

	// One sql.DB per pooled connection (MaxOpenConns=1) so each handle maps
	// 1:1 to a physical SQL Server connection; lifetime is managed by the
	// pool, not the driver.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping: %w", err)
	}

	return &sqlConn{db: db}, nil
}

// sqlConn is one physical SQL Server connection.
type sqlConn struct {
	db *sql.DB
}

// DB exposes the underlying handle to the query layer above the pool.
func (c *sqlConn) DB() *sql.DB { return c.db }

// Validate runs the cheap round-trip check.
func (c *sqlConn) Validate(ctx context.Context) error {
	var one int
	if err := c.db.QueryRowContext(ctx, "SELECT 1").Scan(&one); err != nil {
		return fmt.Errorf("SELECT 1: %w", err)
	}
	return nil
}

// Reset clears session state so the connection is safe for reuse.
func (c *sqlConn) Reset(ctx context.Context) error {
	_, err := c.db.ExecContext(ctx, "EXEC sp_reset_connection")
	return err
}

func (c *sqlConn) Close() error {
	return c.db.Close()
}
