package db

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kandev/acpadapter/internal/common/config"
	"github.com/kandev/acpadapter/internal/db/dialect"
)

func TestOpen_Disabled(t *testing.T) {
	_, err := Open(config.DatabaseConfig{Driver: "none"})
	assert.ErrorIs(t, err, ErrDisabled)
	_, err = Open(config.DatabaseConfig{})
	assert.ErrorIs(t, err, ErrDisabled)
}

func TestOpen_UnknownDriver(t *testing.T) {
	_, err := Open(config.DatabaseConfig{Driver: "oracle"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "oracle")
}

func TestOpen_SQLiteFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "transcript.db")
	pool, err := Open(config.DatabaseConfig{Driver: "sqlite", Path: path})
	require.NoError(t, err)
	defer func() { _ = pool.Close() }()

	assert.Equal(t, dialect.SQLite3, pool.Driver())
	assert.NotSame(t, pool.Writer(), pool.Reader())

	_, err = pool.Writer().Exec(`CREATE TABLE t (v INTEGER)`)
	require.NoError(t, err)
	_, err = pool.Writer().Exec(`INSERT INTO t (v) VALUES (?)`, 7)
	require.NoError(t, err)

	var v int
	require.NoError(t, pool.Reader().Get(&v, `SELECT v FROM t`))
	assert.Equal(t, 7, v)

	_, err = pool.Reader().Exec(`INSERT INTO t (v) VALUES (1)`)
	assert.Error(t, err, "reader must be read-only")
	_, err = pool.Reader().Exec(`CREATE TABLE u (v INTEGER)`)
	assert.Error(t, err)
}

func TestOpen_SQLiteMemoryIsPrivate(t *testing.T) {
	a, err := Open(config.DatabaseConfig{Driver: "sqlite", Path: ":memory:"})
	require.NoError(t, err)
	defer func() { _ = a.Close() }()
	b, err := Open(config.DatabaseConfig{Driver: "sqlite", Path: ":memory:"})
	require.NoError(t, err)
	defer func() { _ = b.Close() }()

	_, err = a.Writer().Exec(`CREATE TABLE only_in_a (v INTEGER)`)
	require.NoError(t, err)
	_, err = b.Reader().Exec(`SELECT * FROM only_in_a`)
	assert.Error(t, err)
}

func TestDialectColumns(t *testing.T) {
	assert.Equal(t, "JSONB", dialect.JSONColumn(dialect.PGX))
	assert.Equal(t, "TEXT", dialect.JSONColumn(dialect.SQLite3))
	assert.Equal(t, "TIMESTAMPTZ", dialect.TimestampColumn(dialect.PGX))
	assert.Equal(t, "INTEGER", dialect.BigIntColumn(dialect.SQLite3))
}
