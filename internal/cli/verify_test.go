package cli

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/vmstate/internal/store"
	"github.com/roach88/vmstate/internal/testutil"
)

type verifyResponse struct {
	Status string       `json:"status"`
	Data   VerifyResult `json:"data"`
	Error  *CLIError    `json:"error"`
}

func TestVerifyTrace(t *testing.T) {
	trace := testutil.WriteTrace(t, t.TempDir(), "sample.jsonl", sampleEvents()...)

	out, err := executeRoot(t, "verify", trace)
	require.NoError(t, err)
	assert.Contains(t, out, "Source: "+trace)
	assert.Contains(t, out, "✓ History verified deterministic")
}

func TestVerifyTraceJSON(t *testing.T) {
	trace := testutil.WriteTrace(t, t.TempDir(), "sample.jsonl.sz", sampleEvents()...)

	out, err := executeRoot(t, "verify", "--format", "json", trace)
	require.NoError(t, err)

	var resp verifyResponse
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.True(t, resp.Data.Match)
	assert.NotEmpty(t, resp.Data.Expected)
	assert.Equal(t, resp.Data.Expected, resp.Data.Actual)
}

func TestVerifyFatalTrace(t *testing.T) {
	trace := testutil.WriteTrace(t, t.TempDir(), "bad.jsonl", fatalEvents()...)

	_, err := executeRoot(t, "verify", trace)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, err.Error(), "replay aborted")
}

func TestVerifyStoredSession(t *testing.T) {
	dbPath := seedDatabase(t, false)

	out, err := executeRoot(t, "verify", "--db", dbPath, "--session", "s1")
	require.NoError(t, err)
	assert.Contains(t, out, "Source: s1")
	assert.Contains(t, out, "✓ History verified deterministic")
}

func TestVerifyStoredSessionTampered(t *testing.T) {
	dbPath := seedDatabase(t, false)

	st, err := store.Open(dbPath)
	require.NoError(t, err)
	_, err = st.DB().ExecContext(context.Background(),
		`UPDATE intervals SET text_value = 'other' WHERE text_value = 'main'`)
	require.NoError(t, err)
	require.NoError(t, st.Close())

	out, err := executeRoot(t, "verify", "--format", "json", "--db", dbPath, "--session", "s1")
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))

	var resp verifyResponse
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "error", resp.Status)
	require.NotNil(t, resp.Error)
	assert.Equal(t, ErrCodeMismatch, resp.Error.Code)
	assert.False(t, resp.Data.Match)
	assert.NotEqual(t, resp.Data.Expected, resp.Data.Actual)
}

func TestVerifyUnknownSession(t *testing.T) {
	dbPath := seedDatabase(t, false)

	_, err := executeRoot(t, "verify", "--db", dbPath, "--session", "nope")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestVerifyNeedsInput(t *testing.T) {
	tests := []struct {
		name string
		args []string
	}{
		{"nothing", []string{"verify"}},
		{"session_without_db", []string{"verify", "--session", "s1"}},
		{"trace_and_session", []string{"verify", "--db", "x.db", "--session", "s1", "trace.jsonl"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := executeRoot(t, tt.args...)
			require.Error(t, err)
			assert.Equal(t, ExitCommandError, GetExitCode(err))
		})
	}
}
