package store

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/vmstate/internal/engine"
	"github.com/roach88/vmstate/internal/event"
	"github.com/roach88/vmstate/internal/history"
	"github.com/roach88/vmstate/internal/testutil"
	"github.com/roach88/vmstate/internal/value"
)

func TestOpenAppliesPragmas(t *testing.T) {
	s := createTestStore(t)

	assert.NoError(t, s.verifyPragma("journal_mode", "wal"))
	assert.NoError(t, s.verifyPragma("foreign_keys", "1"))
	assert.NoError(t, s.verifyPragma("busy_timeout", "5000"))
	assert.NoError(t, s.verifyPragma("synchronous", "1"))
	assert.NoError(t, s.verifyPragma("user_version", "1"))
	assert.False(t, s.ReadOnly())
}

func TestOpenReadOnly(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ro.db")
	ctx := context.Background()

	w, err := Open(path)
	require.NoError(t, err)
	tree, hist := buildTestHistory(t)
	require.NoError(t, w.WriteSession(ctx, testRecord("s1"), tree, hist))
	require.NoError(t, w.Close())

	r, err := Open(path, ReadOnly())
	require.NoError(t, err)
	defer r.Close()
	assert.True(t, r.ReadOnly())

	sessions, err := r.ListSessions(ctx)
	require.NoError(t, err)
	require.Len(t, sessions, 1)

	tree, hist = buildTestHistory(t)
	assert.Error(t, r.WriteSession(ctx, testRecord("s2"), tree, hist))
}

func TestOpenReadOnlyMissingFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "missing.db")
	_, err := Open(path, ReadOnly())
	require.ErrorIs(t, err, os.ErrNotExist)

	_, statErr := os.Stat(path)
	assert.True(t, os.IsNotExist(statErr))
}

func TestOpenReadOnlyRequiresMigratedSchema(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bare.db")
	db, err := sql.Open("sqlite3", path)
	require.NoError(t, err)
	_, err = db.Exec("CREATE TABLE unrelated (id INTEGER)")
	require.NoError(t, err)
	require.NoError(t, db.Close())

	_, err = Open(path, ReadOnly())
	require.ErrorIs(t, err, ErrSchemaVersion)
}

func TestOpenRejectsNewerSchema(t *testing.T) {
	path := filepath.Join(t.TempDir(), "future.db")
	s, err := Open(path)
	require.NoError(t, err)
	_, err = s.DB().Exec("PRAGMA user_version = 99")
	require.NoError(t, err)
	require.NoError(t, s.Close())

	_, err = Open(path)
	require.ErrorIs(t, err, ErrSchemaVersion)
}

func TestOpenIsIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "twice.db")

	s1, err := Open(path)
	require.NoError(t, err)
	tree, hist := buildTestHistory(t)
	require.NoError(t, s1.WriteSession(context.Background(), testRecord("s1"), tree, hist))
	require.NoError(t, s1.Close())

	s2, err := Open(path)
	require.NoError(t, err)
	defer s2.Close()

	sessions, err := s2.ListSessions(context.Background())
	require.NoError(t, err)
	require.Len(t, sessions, 1)
	assert.Equal(t, "s1", sessions[0].ID)
}

func TestCloseNilDB(t *testing.T) {
	var s Store
	assert.NoError(t, s.Close())
}

func TestWriteAndReadSession(t *testing.T) {
	ctx := context.Background()
	s := createTestStore(t)
	tree, hist := buildTestHistory(t)

	rec := testRecord("abc")
	require.NoError(t, s.WriteSession(ctx, rec, tree, hist))

	got, err := s.ReadSession(ctx, "abc")
	require.NoError(t, err)
	assert.Equal(t, rec, got)
}

func TestWriteSessionDuplicateID(t *testing.T) {
	ctx := context.Background()
	s := createTestStore(t)
	tree, hist := buildTestHistory(t)

	require.NoError(t, s.WriteSession(ctx, testRecord("dup"), tree, hist))
	err := s.WriteSession(ctx, testRecord("dup"), tree, hist)
	require.Error(t, err)

	// The failed write must not leave partial rows behind.
	sessions, err := s.ListSessions(ctx)
	require.NoError(t, err)
	assert.Len(t, sessions, 1)
}

func TestReadSessionNotFound(t *testing.T) {
	s := createTestStore(t)
	_, err := s.ReadSession(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestListSessionsOrderedAndNonNil(t *testing.T) {
	ctx := context.Background()
	s := createTestStore(t)

	empty, err := s.ListSessions(ctx)
	require.NoError(t, err)
	assert.NotNil(t, empty)
	assert.Empty(t, empty)

	for _, id := range []string{"c", "a", "b"} {
		tree, hist := buildTestHistory(t)
		require.NoError(t, s.WriteSession(ctx, testRecord(id), tree, hist))
	}

	sessions, err := s.ListSessions(ctx)
	require.NoError(t, err)
	ids := make([]string, len(sessions))
	for i, r := range sessions {
		ids[i] = r.ID
	}
	assert.Equal(t, []string{"a", "b", "c"}, ids)
}

func TestQueryAt(t *testing.T) {
	ctx := context.Background()
	s := createTestStore(t)
	tree, hist := buildTestHistory(t)
	require.NoError(t, s.WriteSession(ctx, testRecord("q"), tree, hist))

	status := []string{"1", "Threads", "7", "status"}
	cpu := []string{"CPUs", "0", "status"}

	tests := []struct {
		name string
		path []string
		at   int64
		want value.Value
	}{
		{"before first mutation", status, 9, value.Absent{}},
		{"at start", status, 10, value.Int(5)},
		{"inside closed interval", status, 19, value.Int(5)},
		{"at boundary", status, 20, value.Int(4)},
		{"open interval", status, 1 << 40, value.Int(4)},
		{"text value", []string{"1", "Threads", "7", "name"}, 12, value.Text("main")},
		{"cleared", cpu, 30, value.Absent{}},
		{"before clear", cpu, 29, value.Int(1001)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := s.QueryAt(ctx, "q", tt.path, tt.at)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestQueryAtMatchesLiveHistory(t *testing.T) {
	ctx := context.Background()
	s := createTestStore(t)
	tree, hist := buildTestHistory(t)
	require.NoError(t, s.WriteSession(ctx, testRecord("live"), tree, hist))

	for _, h := range hist.Handles() {
		for at := int64(0); at <= 40; at++ {
			got, err := s.QueryAt(ctx, "live", tree.Path(h), at)
			require.NoError(t, err)
			assert.Equal(t, hist.QueryAt(h, at), got, "%s @ %d", tree.PathString(h), at)
		}
	}
}

func TestQueryAtUnknownPath(t *testing.T) {
	ctx := context.Background()
	s := createTestStore(t)
	tree, hist := buildTestHistory(t)
	require.NoError(t, s.WriteSession(ctx, testRecord("q"), tree, hist))

	_, err := s.QueryAt(ctx, "q", []string{"nope"}, 10)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestQueryAtIntermediateNodeIsAbsent(t *testing.T) {
	ctx := context.Background()
	s := createTestStore(t)
	tree, hist := buildTestHistory(t)
	require.NoError(t, s.WriteSession(ctx, testRecord("q"), tree, hist))

	got, err := s.QueryAt(ctx, "q", []string{"1", "Threads"}, 15)
	require.NoError(t, err)
	assert.Equal(t, value.Absent{}, got)
}

func TestReadIntervals(t *testing.T) {
	ctx := context.Background()
	s := createTestStore(t)
	tree, hist := buildTestHistory(t)
	require.NoError(t, s.WriteSession(ctx, testRecord("iv"), tree, hist))

	path := []string{"1", "Threads", "7", "status"}
	ivs, err := s.ReadIntervals(ctx, "iv", path)
	require.NoError(t, err)

	h, ok := tree.LookupAbsolute(path...)
	require.True(t, ok)
	assert.Equal(t, hist.Intervals(h), ivs)
	require.Len(t, ivs, 2)
	assert.True(t, ivs[1].IsOpen())
	assert.Equal(t, history.Open, ivs[1].End)
}

func TestReadIntervalsAfterClose(t *testing.T) {
	ctx := context.Background()
	s := createTestStore(t)
	tree, hist := buildTestHistory(t)
	hist.Close(50)
	require.NoError(t, s.WriteSession(ctx, testRecord("closed"), tree, hist))

	ivs, err := s.ReadIntervals(ctx, "closed", []string{"1", "Threads", "7", "name"})
	require.NoError(t, err)
	require.Len(t, ivs, 1)
	assert.Equal(t, int64(50), ivs[0].End)
	assert.False(t, ivs[0].IsOpen())
}

func TestReadAttributesPrefix(t *testing.T) {
	ctx := context.Background()
	s := createTestStore(t)
	tree, hist := buildTestHistory(t)
	require.NoError(t, s.WriteSession(ctx, testRecord("a"), tree, hist))

	all, err := s.ReadAttributes(ctx, "a", nil)
	require.NoError(t, err)
	assert.Len(t, all, tree.Len())
	for i := 1; i < len(all); i++ {
		assert.Less(t, all[i-1].Handle, all[i].Handle)
	}

	cpus, err := s.ReadAttributes(ctx, "a", []string{"CPUs"})
	require.NoError(t, err)
	paths := make([][]string, len(cpus))
	for i, a := range cpus {
		paths[i] = a.Path
	}
	assert.Equal(t, [][]string{
		{"CPUs"},
		{"CPUs", "0"},
		{"CPUs", "0", "status"},
	}, paths)

	_, err = s.ReadAttributes(ctx, "missing", nil)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestVerifySessionMatchesLiveFingerprint(t *testing.T) {
	ctx := context.Background()
	s := createTestStore(t)
	tree, hist := buildTestHistory(t)

	live := make([]any, 0)
	for _, h := range hist.Handles() {
		live = append(live, history.Document(tree.Path(h), hist.Intervals(h)))
	}
	want, err := value.Fingerprint(value.DomainHistory, live)
	require.NoError(t, err)

	rec := testRecord("fp")
	rec.Fingerprint = want
	require.NoError(t, s.WriteSession(ctx, rec, tree, hist))

	recorded, computed, err := s.VerifySession(ctx, "fp")
	require.NoError(t, err)
	assert.Equal(t, want, recorded)
	assert.Equal(t, want, computed)
}

func TestVerifySessionDetectsTampering(t *testing.T) {
	ctx := context.Background()
	s := createTestStore(t)
	tree, hist := buildTestHistory(t)
	require.NoError(t, s.WriteSession(ctx, testRecord("t"), tree, hist))

	_, before, err := s.VerifySession(ctx, "t")
	require.NoError(t, err)

	_, err = s.DB().ExecContext(ctx, `UPDATE intervals SET int_value = 99 WHERE session_id = 't' AND kind = 'int'`)
	require.NoError(t, err)

	_, after, err := s.VerifySession(ctx, "t")
	require.NoError(t, err)
	assert.NotEqual(t, before, after)
}

func TestDeleteSessionCascades(t *testing.T) {
	ctx := context.Background()
	s := createTestStore(t)
	tree, hist := buildTestHistory(t)
	require.NoError(t, s.WriteSession(ctx, testRecord("gone"), tree, hist))

	require.NoError(t, s.DeleteSession(ctx, "gone"))

	var n int
	require.NoError(t, s.DB().QueryRow(`SELECT COUNT(*) FROM attributes`).Scan(&n))
	assert.Zero(t, n)
	require.NoError(t, s.DB().QueryRow(`SELECT COUNT(*) FROM intervals`).Scan(&n))
	assert.Zero(t, n)

	assert.ErrorIs(t, s.DeleteSession(ctx, "gone"), ErrNotFound)
}

func TestNewSessionRecord(t *testing.T) {
	sum := engine.Summary{
		SessionID:      "s",
		Events:         4,
		Dropped:        1,
		Mutations:      6,
		Attributes:     8,
		Threads:        2,
		FirstTimestamp: 100,
		LastTimestamp:  200,
	}
	rec := NewSessionRecord("trace.jsonl", "fp", sum)
	assert.Equal(t, "s", rec.ID)
	assert.Equal(t, "trace.jsonl", rec.Source)
	assert.Equal(t, engine.Version, rec.EngineVersion)
	assert.Equal(t, "fp", rec.Fingerprint)
	assert.Equal(t, int64(1), rec.Dropped)
	assert.Equal(t, int64(200), rec.LastTimestamp)
}

func TestWriteSessionNormalizationEquivalentNames(t *testing.T) {
	ctx := context.Background()
	st := createTestStore(t)

	composed, decomposed := "caf\u00e9", "cafe\u0301"
	sess := engine.NewSession(engine.WithLogger(testutil.DiscardLogger()))
	for _, ev := range []event.Event{
		testutil.ThreadStart(10, 10, 100, composed),
		testutil.ThreadStart(11, 11, 100, decomposed),
		testutil.MethodCompile("method_compile_begin", 20, 10, 100, "C1", "A", "run"),
		testutil.MethodCompile("method_compile_end", 21, 10, 100, "C1", "", ""),
		testutil.MethodCompile("method_compile_begin", 22, 11, 100, "C1", "B", "run"),
	} {
		require.NoError(t, sess.HandleEvent(ev))
	}

	fp, err := sess.Fingerprint()
	require.NoError(t, err)
	rec := NewSessionRecord("nfc.jsonl", fp, sess.Summary())
	require.NoError(t, st.WriteSession(ctx, rec, sess.Tree(), sess.History()))

	attrs, err := st.ReadAttributes(ctx, rec.ID, []string{"100", "JIT Compilation", "C1"})
	require.NoError(t, err)
	var threads []string
	for _, a := range attrs {
		if len(a.Path) == 4 {
			threads = append(threads, a.Path[3])
		}
	}
	assert.Equal(t, []string{composed}, threads)

	v, err := st.QueryAt(ctx, rec.ID, []string{"100", "JIT Compilation", "C1", decomposed, "functionName"}, 22)
	require.NoError(t, err)
	assert.Equal(t, value.Text("B:run"), v)

	recorded, computed, err := st.VerifySession(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, recorded, computed)
}
