package gateway

import (
	"database/sql"
	"fmt"

	_ "github.com/duckdb/duckdb-go/v2"
	_ "github.com/mattn/go-sqlite3"

	"github.com/sumaris-net/sumaris-pod-sub009/internal/domain"
)

// Driver names accepted by Open.
const (
	DriverDuckDB   = "duckdb"
	DriverSQLite   = "sqlite3"
	DriverPostgres = "postgres"
)

// Open opens an embedded operational database. An empty DuckDB DSN opens
// an in-memory database.
func Open(driver, dsn string) (*sql.DB, error) {
	switch driver {
	case DriverDuckDB:
	case DriverSQLite:
		if dsn == "" {
			return nil, fmt.Errorf("sqlite gateway requires a DSN")
		}
	default:
		return nil, fmt.Errorf("unsupported gateway driver %q", driver)
	}
	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", driver, err)
	}
	if driver == DriverSQLite {
		db.SetMaxOpenConns(1)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping %s: %w", driver, err)
	}
	return db, nil
}

// Collect drains it into a slice of rows and closes it.
func Collect(it domain.RowIterator) ([][]any, error) {
	defer func() { _ = it.Close() }()
	var out [][]any
	for it.Next() {
		row := append([]any(nil), it.Values()...)
		out = append(out, row)
	}
	return out, it.Err()
}
