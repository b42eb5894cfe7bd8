package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/roach88/vmstate/internal/attrtree"
	"github.com/roach88/vmstate/internal/engine"
	"github.com/roach88/vmstate/internal/history"
)

// SessionRecord is the persisted header of one replay.
type SessionRecord struct {
	ID            string `json:"id"`
	Source        string `json:"source"`
	EngineVersion int    `json:"engine_version"`
	Fingerprint   string `json:"fingerprint"`

	Events       int64 `json:"events"`
	Ignored      int64 `json:"ignored"`
	Dropped      int64 `json:"dropped"`
	Malformed    int64 `json:"malformed"`
	SkippedStops int64 `json:"skipped_stops"`
	Mutations    int64 `json:"mutations"`
	Attributes   int   `json:"attributes"`
	Threads      int   `json:"threads"`

	FirstTimestamp int64 `json:"first_ts"`
	LastTimestamp  int64 `json:"last_ts"`
}

// NewSessionRecord builds a header from a finished session's summary.
func NewSessionRecord(source, fingerprint string, sum engine.Summary) SessionRecord {
	return SessionRecord{
		ID:             sum.SessionID,
		Source:         source,
		EngineVersion:  engine.Version,
		Fingerprint:    fingerprint,
		Events:         sum.Events,
		Ignored:        sum.Ignored,
		Dropped:        sum.Dropped,
		Malformed:      sum.Malformed,
		SkippedStops:   sum.SkippedStops,
		Mutations:      sum.Mutations,
		Attributes:     sum.Attributes,
		Threads:        sum.Threads,
		FirstTimestamp: sum.FirstTimestamp,
		LastTimestamp:  sum.LastTimestamp,
	}
}

// WriteSession stores a session header together with its attribute tree
// and interval history in one transaction. Writing an id twice fails.
func (s *Store) WriteSession(ctx context.Context, rec SessionRecord, tree *attrtree.Tree, hist *history.Store) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("write session: begin: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO sessions
		(id, source, engine_version, fingerprint, events, ignored, dropped, malformed,
		 skipped_stops, mutations, attributes, threads, first_ts, last_ts)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		rec.ID,
		rec.Source,
		rec.EngineVersion,
		rec.Fingerprint,
		rec.Events,
		rec.Ignored,
		rec.Dropped,
		rec.Malformed,
		rec.SkippedStops,
		rec.Mutations,
		rec.Attributes,
		rec.Threads,
		rec.FirstTimestamp,
		rec.LastTimestamp,
	)
	if err != nil {
		return fmt.Errorf("write session %s: %w", rec.ID, err)
	}

	if err := writeAttributes(ctx, tx, rec.ID, tree); err != nil {
		return err
	}
	if err := writeIntervals(ctx, tx, rec.ID, hist); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("write session %s: commit: %w", rec.ID, err)
	}
	return nil
}

func writeAttributes(ctx context.Context, tx *sql.Tx, sessionID string, tree *attrtree.Tree) error {
	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO attributes (session_id, handle, parent, name, path)
		VALUES (?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("write attributes: prepare: %w", err)
	}
	defer stmt.Close()

	var walkErr error
	tree.Walk(attrtree.Root, func(h attrtree.Handle) bool {
		path, err := marshalPath(tree.Path(h))
		if err != nil {
			walkErr = err
			return false
		}
		if _, err := stmt.ExecContext(ctx, sessionID, int(h), int(tree.Parent(h)), tree.Name(h), path); err != nil {
			walkErr = fmt.Errorf("write attribute %s: %w", tree.PathString(h), err)
			return false
		}
		return true
	})
	return walkErr
}

func writeIntervals(ctx context.Context, tx *sql.Tx, sessionID string, hist *history.Store) error {
	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO intervals (session_id, handle, start_ts, end_ts, kind, int_value, text_value)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("write intervals: prepare: %w", err)
	}
	defer stmt.Close()

	for _, h := range hist.Handles() {
		for _, iv := range hist.Intervals(h) {
			var end sql.NullInt64
			if !iv.IsOpen() {
				end = sql.NullInt64{Int64: iv.End, Valid: true}
			}
			kind, i, s := encodeValue(iv.Value)
			if _, err := stmt.ExecContext(ctx, sessionID, int(h), iv.Start, end, kind, i, s); err != nil {
				return fmt.Errorf("write interval handle=%d start=%d: %w", h, iv.Start, err)
			}
		}
	}
	return nil
}

// DeleteSession removes a session and everything stored under it.
// Returns ErrNotFound if no such session exists.
func (s *Store) DeleteSession(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete session %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete session %s: %w", id, err)
	}
	if n == 0 {
		return fmt.Errorf("delete session %s: %w", id, ErrNotFound)
	}
	return nil
}
