// Package dialect holds the few SQL differences between SQLite and Postgres
// that the schema depends on.
package dialect

const (
	SQLite3 = "sqlite3"
	PGX     = "pgx"
)

// IsPostgres reports whether driver is the pgx driver.
func IsPostgres(driver string) bool {
	return driver == PGX
}

// JSONColumn is the column type used for JSON documents.
func JSONColumn(driver string) string {
	if IsPostgres(driver) {
		return "JSONB"
	}
	return "TEXT"
}

// TimestampColumn is the column type used for timestamps.
func TimestampColumn(driver string) string {
	if IsPostgres(driver) {
		return "TIMESTAMPTZ"
	}
	return "TIMESTAMP"
}

// BigIntColumn is the column type used for 64-bit counters.
func BigIntColumn(driver string) string {
	if IsPostgres(driver) {
		return "BIGINT"
	}
	return "INTEGER"
}
