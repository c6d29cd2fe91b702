// ABOUTME: Embedded dialect implementation using modernc.org/sqlite
// ABOUTME: Booleans as 0/1 integers, JSON as text blobs, application-generated ids

package store

import (
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// sqliteDialect is the embedded single-file backend. The caller supplies a
// pre-generated text id on every insert.
type sqliteDialect struct{}

func (sqliteDialect) Name() string { return "sqlite" }

// Rebind is the identity: sqlite uses ?-style placeholders natively.
func (sqliteDialect) Rebind(query string) string { return query }

func (sqliteDialect) NextID() string { return uuid.NewString() }

func (sqliteDialect) BoolValue(b bool) any {
	if b {
		return 1
	}
	return 0
}

func (sqliteDialect) JSONValue(v any) (any, error) {
	raw, err := marshalJSON(v)
	if err != nil {
		return nil, err
	}
	return string(raw), nil
}

func (sqliteDialect) RawJSONValue(raw []byte) any { return string(raw) }

// IsDuplicate matches sqlite unique-constraint errors by message; the driver
// does not expose structured error codes through database/sql. Only the
// UNIQUE form qualifies — other constraint failures (foreign key, check) are
// not duplicates.
func (sqliteDialect) IsDuplicate(err error) bool {
	if err == nil {
		return false
	}
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}

func (sqliteDialect) IsUnavailable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, driver.ErrBadConn) {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "database is locked") ||
		strings.Contains(msg, "unable to open database")
}

func (sqliteDialect) SupportsSoftDelete() bool { return false }

func (sqliteDialect) DDL() string { return sqliteSchema }

// OpenSQLite opens (or creates) the embedded store at the given path.
// Parent directories are created if needed. The schema is not created here;
// call EnsureSchema once during startup.
func OpenSQLite(path string) (*SQLStore, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("creating database directory: %w", err)
	}

	// Pragmas go in the DSN so every pooled connection gets them: WAL for
	// concurrent readers while a writer streams step updates, foreign keys
	// for the cascade deletes, busy_timeout so concurrent writers queue
	// instead of failing with a lock error.
	dsn := path + "?_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	s := NewSQLStore(db, sqliteDialect{})
	s.logger.Info("sqlite store opened", "path", path)
	return s, nil
}
