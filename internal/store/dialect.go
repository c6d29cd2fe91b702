// ABOUTME: Dialect adapter interface and shared column codecs for both backends
// ABOUTME: Normalizes bool/JSON/time encodings so repository code stays dialect-agnostic

package store

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Dialect translates the logical schema into backend-specific SQL and value
// encodings. Repository code goes through this interface exclusively; nothing
// else may branch on which backend is active.
type Dialect interface {
	// Name identifies the dialect: "sqlite" or "postgres".
	Name() string

	// Rebind rewrites ?-style placeholders into the dialect's native form.
	Rebind(query string) string

	// NextID generates a new opaque unique identifier for an insert.
	// Callers never assume a numeric or sequential form.
	NextID() string

	// BoolValue encodes a bool for storage (0/1 integer vs native boolean).
	BoolValue(b bool) any

	// JSONValue encodes a structured value for a JSON column
	// (text blob vs native JSON).
	JSONValue(v any) (any, error)

	// RawJSONValue encodes an already-serialized JSON payload.
	RawJSONValue(raw []byte) any

	// IsDuplicate reports whether err is a unique-constraint violation.
	IsDuplicate(err error) bool

	// IsUnavailable reports whether err indicates the backend is unreachable.
	IsUnavailable(err error) bool

	// SupportsSoftDelete reports whether threads carry a deleted_at marker.
	SupportsSoftDelete() bool

	// DDL returns the idempotent schema-creation script for this dialect.
	DDL() string
}

// Timestamps are stored as UTC text in both dialects. The fractional part is
// fixed-width (no trailing-zero trimming) so lexicographic range scans on
// the (thread_id, start_time, end_time) index match chronological order.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parsing timestamp %q: %w", s, err)
	}
	return t, nil
}

// rebindPositional rewrites each ? into $1..$n. Queries in this package never
// contain a literal question mark, so no quote tracking is needed.
func rebindPositional(query string) string {
	if !strings.ContainsRune(query, '?') {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// boolColumn scans a boolean stored either natively or as a 0/1 integer.
type boolColumn bool

func (b *boolColumn) Scan(src any) error {
	switch v := src.(type) {
	case nil:
		*b = false
	case bool:
		*b = boolColumn(v)
	case int64:
		*b = v != 0
	default:
		return fmt.Errorf("%w: boolean column holds %T", ErrCorruptRecord, src)
	}
	return nil
}

// jsonMap scans a JSON object column into a map. An empty or absent value
// normalizes to an empty map, never nil, so callers stay branch-free.
// Malformed JSON surfaces as ErrCorruptRecord rather than silently
// defaulting.
type jsonMap map[string]any

func (m *jsonMap) Scan(src any) error {
	raw, err := jsonBytes(src)
	if err != nil {
		return err
	}
	if len(raw) == 0 {
		*m = map[string]any{}
		return nil
	}
	out := map[string]any{}
	if err := json.Unmarshal(raw, &out); err != nil {
		return fmt.Errorf("%w: %v", ErrCorruptRecord, err)
	}
	*m = out
	return nil
}

// jsonStrings scans a JSON array column of strings. Empty normalizes to an
// empty slice.
type jsonStrings []string

func (l *jsonStrings) Scan(src any) error {
	raw, err := jsonBytes(src)
	if err != nil {
		return err
	}
	if len(raw) == 0 {
		*l = []string{}
		return nil
	}
	out := []string{}
	if err := json.Unmarshal(raw, &out); err != nil {
		return fmt.Errorf("%w: %v", ErrCorruptRecord, err)
	}
	*l = out
	return nil
}

// jsonText scans a JSON column as its raw serialized bytes.
type jsonText []byte

func (j *jsonText) Scan(src any) error {
	raw, err := jsonBytes(src)
	if err != nil {
		return err
	}
	*j = raw
	return nil
}

func jsonBytes(src any) ([]byte, error) {
	switch v := src.(type) {
	case nil:
		return nil, nil
	case string:
		return []byte(v), nil
	case []byte:
		// Copy: the driver may reuse the buffer after Scan returns.
		out := make([]byte, len(v))
		copy(out, v)
		return out, nil
	default:
		return nil, fmt.Errorf("%w: JSON column holds %T", ErrCorruptRecord, src)
	}
}

// marshalJSON encodes a value for storage, normalizing nil maps and slices
// to their empty JSON forms.
func marshalJSON(v any) ([]byte, error) {
	switch t := v.(type) {
	case map[string]any:
		if t == nil {
			return []byte("{}"), nil
		}
	case []string:
		if t == nil {
			return []byte("[]"), nil
		}
	case nil:
		return []byte("{}"), nil
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encoding JSON column: %w", err)
	}
	return raw, nil
}
