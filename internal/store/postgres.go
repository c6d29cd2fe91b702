// ABOUTME: Client-server dialect implementation using lib/pq
// ABOUTME: Native booleans and JSONB, soft-delete marker, pq error classification

package store

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"net"
	"strings"

	"github.com/google/uuid"
	"github.com/lib/pq"
)

// Postgres error codes classified into the store taxonomy.
const (
	pgUniqueViolation  = "23505"
	pgConnectionClass  = "08" // connection exceptions
	pgShutdownClass    = "57" // operator intervention (server shutdown)
	pgInsufficientRsrc = "53" // too many connections, out of memory
)

// postgresDialect is the client-server backend. Identifiers are UUIDs
// generated client-side; the server would accept its own defaults, but a
// uniform NextID keeps the repository dialect-agnostic.
type postgresDialect struct{}

func (postgresDialect) Name() string { return "postgres" }

func (postgresDialect) Rebind(query string) string { return rebindPositional(query) }

func (postgresDialect) NextID() string { return uuid.NewString() }

func (postgresDialect) BoolValue(b bool) any { return b }

func (postgresDialect) JSONValue(v any) (any, error) {
	return marshalJSON(v)
}

func (postgresDialect) RawJSONValue(raw []byte) any { return raw }

func (postgresDialect) IsDuplicate(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return string(pqErr.Code) == pgUniqueViolation
	}
	return false
}

func (postgresDialect) IsUnavailable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, driver.ErrBadConn) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		class := string(pqErr.Code.Class())
		return class == pgConnectionClass ||
			class == pgShutdownClass ||
			class == pgInsufficientRsrc
	}
	return strings.Contains(err.Error(), "connection refused")
}

func (postgresDialect) SupportsSoftDelete() bool { return true }

func (postgresDialect) DDL() string { return postgresSchema }

// OpenPostgres connects to the client-server store at the given URL and
// verifies connectivity. The schema is not created here; call EnsureSchema
// once during startup.
func OpenPostgres(ctx context.Context, url string) (*SQLStore, error) {
	db, err := sql.Open("postgres", url)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging database: %w (%v)", ErrBackendUnavailable, err)
	}

	s := NewSQLStore(db, postgresDialect{})
	s.logger.Info("postgres store opened")
	return s, nil
}
