package db

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

const (
	busyTimeout      = 5 * time.Second
	sqliteReaderConn = 4
)

var memoryDBSeq atomic.Int64

// OpenSQLite opens the single writer connection, creating the file and its
// directory when missing. WAL is enabled here since it is a database-level
// setting.
func OpenSQLite(path string) (*sql.DB, error) {
	path = absPath(path)
	if path == "" {
		return nil, fmt.Errorf("sqlite: empty database path")
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("sqlite: create directory: %w", err)
		}
	}

	dsn := fmt.Sprintf("file:%s?mode=rwc&_busy_timeout=%d&_journal_mode=WAL&_synchronous=NORMAL",
		path, busyTimeout.Milliseconds())
	conn, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("sqlite: open: %w", err)
	}
	conn.SetMaxOpenConns(1)
	conn.SetMaxIdleConns(1)
	if err := conn.Ping(); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("sqlite: open %s: %w", path, err)
	}
	return conn, nil
}

// OpenSQLiteReader opens a read-only pool on a database created by OpenSQLite.
func OpenSQLiteReader(path string) (*sql.DB, error) {
	dsn := fmt.Sprintf("file:%s?mode=ro&_query_only=1&_busy_timeout=%d", absPath(path), busyTimeout.Milliseconds())
	conn, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("sqlite: open reader: %w", err)
	}
	conn.SetMaxOpenConns(sqliteReaderConn)
	conn.SetMaxIdleConns(sqliteReaderConn)
	return conn, nil
}

// OpenSQLiteMemory opens a private in-memory database on one connection.
func OpenSQLiteMemory() (*sql.DB, error) {
	name := fmt.Sprintf("file:acpadapter-mem-%d?mode=memory&cache=shared", memoryDBSeq.Add(1))
	conn, err := sql.Open("sqlite3", name)
	if err != nil {
		return nil, fmt.Errorf("sqlite: open memory database: %w", err)
	}
	conn.SetMaxOpenConns(1)
	return conn, nil
}

func absPath(path string) string {
	if path == "" {
		return ""
	}
	if abs, err := filepath.Abs(path); err == nil {
		return abs
	}
	return path
}
