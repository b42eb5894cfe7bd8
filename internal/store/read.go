package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"slices"

	"github.com/roach88/vmstate/internal/attrtree"
	"github.com/roach88/vmstate/internal/history"
	"github.com/roach88/vmstate/internal/value"
)

// Attribute is one stored attribute node.
type Attribute struct {
	Handle attrtree.Handle `json:"handle"`
	Path   []string        `json:"path"`
}

// AttributeHistory is an attribute with all of its intervals.
type AttributeHistory struct {
	Attribute
	Intervals []history.Interval `json:"-"`
}

const sessionColumns = `id, source, engine_version, fingerprint, events, ignored, dropped, malformed,
	skipped_stops, mutations, attributes, threads, first_ts, last_ts`

func scanSession(row interface{ Scan(...any) error }) (SessionRecord, error) {
	var r SessionRecord
	err := row.Scan(&r.ID, &r.Source, &r.EngineVersion, &r.Fingerprint, &r.Events, &r.Ignored,
		&r.Dropped, &r.Malformed, &r.SkippedStops, &r.Mutations, &r.Attributes, &r.Threads,
		&r.FirstTimestamp, &r.LastTimestamp)
	return r, err
}

// ListSessions returns every stored session ordered by id.
// Returns an empty slice (not nil) for an empty database.
func (s *Store) ListSessions(ctx context.Context) ([]SessionRecord, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+sessionColumns+` FROM sessions ORDER BY id COLLATE BINARY ASC`)
	if err != nil {
		return nil, fmt.Errorf("query sessions: %w", err)
	}
	defer rows.Close()

	sessions := []SessionRecord{}
	for rows.Next() {
		r, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		sessions = append(sessions, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate sessions: %w", err)
	}
	return sessions, nil
}

// ReadSession returns one session header.
func (s *Store) ReadSession(ctx context.Context, id string) (SessionRecord, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+sessionColumns+` FROM sessions WHERE id = ?`, id)
	r, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return SessionRecord{}, fmt.Errorf("session %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return SessionRecord{}, fmt.Errorf("read session %s: %w", id, err)
	}
	return r, nil
}

// LookupPath returns the handle stored for path in a session.
func (s *Store) LookupPath(ctx context.Context, sessionID string, path []string) (attrtree.Handle, error) {
	key, err := marshalPath(path)
	if err != nil {
		return attrtree.Root, err
	}

	var h int
	err = s.db.QueryRowContext(ctx, `
		SELECT handle FROM attributes WHERE session_id = ? AND path = ?
	`, sessionID, key).Scan(&h)
	if errors.Is(err, sql.ErrNoRows) {
		return attrtree.Root, fmt.Errorf("attribute %s in session %s: %w", key, sessionID, ErrNotFound)
	}
	if err != nil {
		return attrtree.Root, fmt.Errorf("lookup attribute %s: %w", key, err)
	}
	return attrtree.Handle(h), nil
}

// QueryAt returns the value of the attribute at path at time ts. An
// attribute that exists but holds no interval covering ts is Absent.
func (s *Store) QueryAt(ctx context.Context, sessionID string, path []string, ts int64) (value.Value, error) {
	h, err := s.LookupPath(ctx, sessionID, path)
	if err != nil {
		return nil, err
	}

	var (
		kind string
		i    sql.NullInt64
		str  sql.NullString
	)
	err = s.db.QueryRowContext(ctx, `
		SELECT kind, int_value, text_value
		FROM intervals
		WHERE session_id = ? AND handle = ? AND start_ts <= ? AND (end_ts IS NULL OR end_ts > ?)
		ORDER BY start_ts DESC
		LIMIT 1
	`, sessionID, int(h), ts, ts).Scan(&kind, &i, &str)
	if errors.Is(err, sql.ErrNoRows) {
		return value.Absent{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query state at %d: %w", ts, err)
	}
	return decodeValue(kind, i, str)
}

// ReadIntervals returns the intervals of the attribute at path in start
// order. Open intervals have End == history.Open.
func (s *Store) ReadIntervals(ctx context.Context, sessionID string, path []string) ([]history.Interval, error) {
	h, err := s.LookupPath(ctx, sessionID, path)
	if err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT handle, start_ts, end_ts, kind, int_value, text_value
		FROM intervals
		WHERE session_id = ? AND handle = ?
		ORDER BY start_ts ASC
	`, sessionID, int(h))
	if err != nil {
		return nil, fmt.Errorf("query intervals: %w", err)
	}
	defer rows.Close()

	ivs := []history.Interval{}
	for rows.Next() {
		iv, err := scanInterval(rows)
		if err != nil {
			return nil, err
		}
		ivs = append(ivs, iv)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate intervals: %w", err)
	}
	return ivs, nil
}

func scanInterval(rows *sql.Rows) (history.Interval, error) {
	var (
		h     int
		start int64
		end   sql.NullInt64
		kind  string
		i     sql.NullInt64
		str   sql.NullString
	)
	if err := rows.Scan(&h, &start, &end, &kind, &i, &str); err != nil {
		return history.Interval{}, fmt.Errorf("scan interval: %w", err)
	}
	v, err := decodeValue(kind, i, str)
	if err != nil {
		return history.Interval{}, err
	}
	iv := history.Interval{Handle: attrtree.Handle(h), Start: start, End: history.Open, Value: v}
	if end.Valid {
		iv.End = end.Int64
	}
	return iv, nil
}

// ReadAttributes returns the attributes of a session whose path starts with
// prefix, ordered by handle. A nil prefix returns all of them.
func (s *Store) ReadAttributes(ctx context.Context, sessionID string, prefix []string) ([]Attribute, error) {
	if _, err := s.ReadSession(ctx, sessionID); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT handle, path FROM attributes
		WHERE session_id = ?
		ORDER BY handle ASC
	`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("query attributes: %w", err)
	}
	defer rows.Close()

	attrs := []Attribute{}
	for rows.Next() {
		var (
			h   int
			raw string
		)
		if err := rows.Scan(&h, &raw); err != nil {
			return nil, fmt.Errorf("scan attribute: %w", err)
		}
		path, err := unmarshalPath(raw)
		if err != nil {
			return nil, err
		}
		if len(path) < len(prefix) || !slices.Equal(path[:len(prefix)], prefix) {
			continue
		}
		attrs = append(attrs, Attribute{Handle: attrtree.Handle(h), Path: path})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate attributes: %w", err)
	}
	return attrs, nil
}

// ReadHistory returns every attribute of a session that holds at least one
// interval, ordered by handle, with its intervals in start order.
func (s *Store) ReadHistory(ctx context.Context, sessionID string) ([]AttributeHistory, error) {
	attrs, err := s.ReadAttributes(ctx, sessionID, nil)
	if err != nil {
		return nil, err
	}
	byHandle := make(map[attrtree.Handle]int, len(attrs))
	for i, a := range attrs {
		byHandle[a.Handle] = i
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT handle, start_ts, end_ts, kind, int_value, text_value
		FROM intervals
		WHERE session_id = ?
		ORDER BY handle ASC, start_ts ASC
	`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("query history: %w", err)
	}
	defer rows.Close()

	out := []AttributeHistory{}
	for rows.Next() {
		iv, err := scanInterval(rows)
		if err != nil {
			return nil, err
		}
		if n := len(out); n == 0 || out[n-1].Handle != iv.Handle {
			idx, ok := byHandle[iv.Handle]
			if !ok {
				return nil, fmt.Errorf("interval for unknown handle %d", iv.Handle)
			}
			out = append(out, AttributeHistory{Attribute: attrs[idx]})
		}
		last := &out[len(out)-1]
		last.Intervals = append(last.Intervals, iv)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate history: %w", err)
	}
	return out, nil
}

// Snapshot renders a stored session in the same canonical document form as
// a live replay session, so fingerprints can be recomputed from disk.
func Snapshot(hist []AttributeHistory) []any {
	doc := make([]any, 0, len(hist))
	for _, a := range hist {
		doc = append(doc, history.Document(a.Path, a.Intervals))
	}
	return doc
}

// VerifySession recomputes the fingerprint of a stored session and
// compares it with the recorded one.
func (s *Store) VerifySession(ctx context.Context, sessionID string) (recorded, computed string, err error) {
	rec, err := s.ReadSession(ctx, sessionID)
	if err != nil {
		return "", "", err
	}
	hist, err := s.ReadHistory(ctx, sessionID)
	if err != nil {
		return "", "", err
	}
	computed, err = value.Fingerprint(value.DomainHistory, Snapshot(hist))
	if err != nil {
		return "", "", fmt.Errorf("verify session %s: %w", sessionID, err)
	}
	return rec.Fingerprint, computed, nil
}
