package db

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
)

const pingTimeout = 5 * time.Second

// OpenPostgres opens a pgx-backed pool and verifies the connection. Zero
// limits default to 10 open and 2 idle connections.
func OpenPostgres(dsn string, maxConns, minConns int) (*sql.DB, error) {
	if dsn == "" {
		return nil, fmt.Errorf("postgres: empty DSN")
	}
	conn, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres: open: %w", err)
	}
	if maxConns <= 0 {
		maxConns = 10
	}
	if minConns <= 0 {
		minConns = 2
	}
	conn.SetMaxOpenConns(maxConns)
	conn.SetMaxIdleConns(minConns)

	ctx, cancel := context.WithTimeout(context.Background(), pingTimeout)
	defer cancel()
	if err := conn.PingContext(ctx); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("postgres: ping: %w", err)
	}
	return conn, nil
}
