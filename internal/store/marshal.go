package store

import (
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/roach88/vmstate/internal/value"
)

// marshalPath converts path segments to canonical JSON TEXT.
// The same path always produces the same bytes, so the path column can be
// matched with plain equality.
func marshalPath(path []string) (string, error) {
	if path == nil {
		path = []string{}
	}
	data, err := value.MarshalCanonical(path)
	if err != nil {
		return "", fmt.Errorf("marshal path: %w", err)
	}
	return string(data), nil
}

// unmarshalPath parses a path column.
func unmarshalPath(data string) ([]string, error) {
	var path []string
	if err := json.Unmarshal([]byte(data), &path); err != nil {
		return nil, fmt.Errorf("unmarshal path: %w", err)
	}
	return path, nil
}

// encodeValue splits a state value into the kind, int_value and text_value
// columns.
func encodeValue(v value.Value) (string, sql.NullInt64, sql.NullString) {
	switch val := v.(type) {
	case value.Int:
		return string(value.KindInt), sql.NullInt64{Int64: int64(val), Valid: true}, sql.NullString{}
	case value.Text:
		return string(value.KindText), sql.NullInt64{}, sql.NullString{String: string(val), Valid: true}
	default:
		return string(value.KindAbsent), sql.NullInt64{}, sql.NullString{}
	}
}

// decodeValue is the inverse of encodeValue.
func decodeValue(kind string, i sql.NullInt64, s sql.NullString) (value.Value, error) {
	switch value.Kind(kind) {
	case value.KindAbsent:
		return value.Absent{}, nil
	case value.KindInt:
		if !i.Valid {
			return nil, fmt.Errorf("decode value: int row without int_value")
		}
		return value.Int(i.Int64), nil
	case value.KindText:
		if !s.Valid {
			return nil, fmt.Errorf("decode value: text row without text_value")
		}
		return value.Text(s.String), nil
	default:
		return nil, fmt.Errorf("decode value: unknown kind %q", kind)
	}
}
