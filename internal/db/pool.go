// Package db opens the transcript database and hands out separate writer and
// reader handles.
package db

import (
	"errors"
	"fmt"
	"strings"

	"github.com/jmoiron/sqlx"

	"github.com/kandev/acpadapter/internal/common/config"
	"github.com/kandev/acpadapter/internal/db/dialect"
)

// ErrDisabled is returned by Open when no database is configured.
var ErrDisabled = errors.New("db: persistence disabled")

// Pool pairs a writer with a reader. SQLite gets a single-connection writer
// and a small read-only pool over WAL; Postgres shares one handle for both.
type Pool struct {
	writer *sqlx.DB
	reader *sqlx.DB
}

// NewPool wraps existing handles. reader may equal writer.
func NewPool(writer, reader *sqlx.DB) *Pool {
	return &Pool{writer: writer, reader: reader}
}

// Writer is used for inserts, updates and transactions.
func (p *Pool) Writer() *sqlx.DB { return p.writer }

// Reader is used for SELECTs.
func (p *Pool) Reader() *sqlx.DB { return p.reader }

// Driver returns the sqlx driver name of the pool.
func (p *Pool) Driver() string { return p.writer.DriverName() }

// Close closes both handles once.
func (p *Pool) Close() error {
	err := p.writer.Close()
	if p.reader != p.writer {
		if rErr := p.reader.Close(); rErr != nil && err == nil {
			err = rErr
		}
	}
	return err
}

// Open connects to the configured database.
func Open(cfg config.DatabaseConfig) (*Pool, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Driver)) {
	case "", "none":
		return nil, ErrDisabled
	case "sqlite", "sqlite3":
		if cfg.Path == ":memory:" {
			w, err := OpenSQLiteMemory()
			if err != nil {
				return nil, err
			}
			x := sqlx.NewDb(w, dialect.SQLite3)
			return NewPool(x, x), nil
		}
		w, err := OpenSQLite(cfg.Path)
		if err != nil {
			return nil, err
		}
		r, err := OpenSQLiteReader(cfg.Path)
		if err != nil {
			_ = w.Close()
			return nil, err
		}
		return NewPool(sqlx.NewDb(w, dialect.SQLite3), sqlx.NewDb(r, dialect.SQLite3)), nil
	case "postgres", "pgx":
		conn, err := OpenPostgres(cfg.DSN, cfg.MaxConns, cfg.MinConns)
		if err != nil {
			return nil, err
		}
		x := sqlx.NewDb(conn, dialect.PGX)
		return NewPool(x, x), nil
	default:
		return nil, fmt.Errorf("db: unsupported driver %q", cfg.Driver)
	}
}
