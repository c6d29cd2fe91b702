package store

import (
	"errors"
	"testing"
	"time"

	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustParseTime(t *testing.T, s string) time.Time {
	t.Helper()
	parsed, err := time.Parse(time.RFC3339Nano, s)
	require.NoError(t, err)
	return parsed
}

func TestRebindPositional(t *testing.T) {
	tests := []struct {
		name  string
		query string
		want  string
	}{
		{
			name:  "no placeholders",
			query: "SELECT 1",
			want:  "SELECT 1",
		},
		{
			name:  "single placeholder",
			query: "SELECT id FROM users WHERE id = ?",
			want:  "SELECT id FROM users WHERE id = $1",
		},
		{
			name:  "many placeholders numbered in order",
			query: "INSERT INTO feedbacks (id, step_id, thread_id, value, comment) VALUES (?, ?, ?, ?, ?)",
			want:  "INSERT INTO feedbacks (id, step_id, thread_id, value, comment) VALUES ($1, $2, $3, $4, $5)",
		},
		{
			name:  "double digit placeholders",
			query: "VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)",
			want:  "VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, rebindPositional(tt.query))
		})
	}
}

func TestBoolColumn_Scan(t *testing.T) {
	var b boolColumn

	require.NoError(t, b.Scan(int64(1)))
	assert.True(t, bool(b))
	require.NoError(t, b.Scan(int64(0)))
	assert.False(t, bool(b))
	require.NoError(t, b.Scan(true))
	assert.True(t, bool(b))
	require.NoError(t, b.Scan(nil))
	assert.False(t, bool(b))

	err := b.Scan("yes")
	assert.ErrorIs(t, err, ErrCorruptRecord)
}

func TestJSONMap_Scan(t *testing.T) {
	var m jsonMap

	require.NoError(t, m.Scan(`{"a":1}`))
	assert.Equal(t, map[string]any{"a": float64(1)}, map[string]any(m))

	require.NoError(t, m.Scan(nil))
	assert.NotNil(t, map[string]any(m))
	assert.Empty(t, m)

	require.NoError(t, m.Scan(""))
	assert.Empty(t, m)

	err := m.Scan(`{broken`)
	assert.ErrorIs(t, err, ErrCorruptRecord)
}

func TestJSONStrings_Scan(t *testing.T) {
	var l jsonStrings

	require.NoError(t, l.Scan(`["a","b"]`))
	assert.Equal(t, []string{"a", "b"}, []string(l))

	require.NoError(t, l.Scan(nil))
	assert.NotNil(t, []string(l))
	assert.Empty(t, l)

	err := l.Scan(`[1,2]`)
	assert.ErrorIs(t, err, ErrCorruptRecord)
}

func TestMarshalJSON_NormalizesNil(t *testing.T) {
	raw, err := marshalJSON(map[string]any(nil))
	require.NoError(t, err)
	assert.Equal(t, "{}", string(raw))

	raw, err = marshalJSON([]string(nil))
	require.NoError(t, err)
	assert.Equal(t, "[]", string(raw))

	raw, err = marshalJSON(nil)
	require.NoError(t, err)
	assert.Equal(t, "{}", string(raw))

	raw, err = marshalJSON(map[string]any{"k": "v"})
	require.NoError(t, err)
	assert.JSONEq(t, `{"k":"v"}`, string(raw))
}

func TestFormatTime_FixedWidth(t *testing.T) {
	// The fractional part never trims trailing zeros, so text ordering on
	// timestamp columns matches chronological ordering.
	a := mustParseTime(t, "2026-01-02T15:04:05.5Z")
	b := mustParseTime(t, "2026-01-02T15:04:05.5000001Z")

	fa := formatTime(a)
	fb := formatTime(b)
	assert.Len(t, fa, len(fb))
	assert.Less(t, fa, fb)

	roundTrip, err := parseTime(fa)
	require.NoError(t, err)
	assert.True(t, a.Equal(roundTrip))
}

func TestParseTime_Invalid(t *testing.T) {
	_, err := parseTime("yesterday")
	assert.Error(t, err)
}

func TestSQLiteDialect_Classification(t *testing.T) {
	d := sqliteDialect{}

	assert.True(t, d.IsDuplicate(errors.New("constraint failed: UNIQUE constraint failed: users.identifier")))
	assert.False(t, d.IsDuplicate(errors.New("constraint failed: FOREIGN KEY constraint failed (787)")), "only unique violations are duplicates")
	assert.False(t, d.IsDuplicate(errors.New("constraint failed: CHECK constraint failed: value")))
	assert.False(t, d.IsDuplicate(errors.New("no such table: users")))
	assert.False(t, d.IsDuplicate(nil))

	assert.True(t, d.IsUnavailable(errors.New("database is locked (5) (SQLITE_BUSY)")))
	assert.False(t, d.IsUnavailable(errors.New("no such table: users")))

	assert.False(t, d.SupportsSoftDelete())
	assert.Equal(t, "sqlite", d.Name())
	assert.Equal(t, "SELECT ?", d.Rebind("SELECT ?"))
}

func TestPostgresDialect_Classification(t *testing.T) {
	d := postgresDialect{}

	assert.True(t, d.IsDuplicate(&pq.Error{Code: "23505"}))
	assert.False(t, d.IsDuplicate(&pq.Error{Code: "23503"}))
	assert.False(t, d.IsDuplicate(errors.New("some other failure")))

	assert.True(t, d.IsUnavailable(&pq.Error{Code: "08006"}), "connection failure class")
	assert.True(t, d.IsUnavailable(&pq.Error{Code: "57P01"}), "admin shutdown")
	assert.True(t, d.IsUnavailable(&pq.Error{Code: "53300"}), "too many connections")
	assert.False(t, d.IsUnavailable(&pq.Error{Code: "23505"}))

	assert.True(t, d.SupportsSoftDelete())
	assert.Equal(t, "postgres", d.Name())
	assert.Equal(t, "SELECT $1", d.Rebind("SELECT ?"))
}

func TestDialect_IDsAreUnique(t *testing.T) {
	d := sqliteDialect{}
	seen := map[string]bool{}
	for i := 0; i < 100; i++ {
		id := d.NextID()
		require.NotEmpty(t, id)
		require.False(t, seen[id])
		seen[id] = true
	}
}
