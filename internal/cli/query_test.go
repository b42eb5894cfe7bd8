package cli

import (
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQueryCommand(t *testing.T) {
	dbPath := seedDatabase(t, false)

	tests := []struct {
		name string
		path string
		at   string
		want string
	}{
		{"running", "100/Threads/1/status", "15", "100/Threads/1/status @ 15 = 5"},
		{"stopped", "100/Threads/1/status", "45", "100/Threads/1/status @ 45 = <absent>"},
		{"before_start", "100/Threads/1/status", "5", "100/Threads/1/status @ 5 = <absent>"},
		{"name", "100/Threads/1/name", "40", `100/Threads/1/name @ 40 = "main"`},
		{"collection", `["100","Garbage Collection","Collections","NewGen"]`, "20",
			`100/Garbage Collection/Collections/NewGen @ 20 = "ParallelScavenge"`},
		{"collection_over", "100/Garbage Collection/Collections/NewGen", "30",
			"100/Garbage Collection/Collections/NewGen @ 30 = <absent>"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := executeRoot(t, "query", "--db", dbPath, "--session", "s1", "--path", tt.path, "--at", tt.at)
			require.NoError(t, err)
			assert.Equal(t, tt.want+"\n", out)
		})
	}
}

func TestQueryCommandJSON(t *testing.T) {
	dbPath := seedDatabase(t, false)

	out, err := executeRoot(t, "query", "--format", "json", "--db", dbPath, "--session", "s1",
		"--path", "100/Threads/1/status", "--at", "15")
	require.NoError(t, err)

	var resp struct {
		Status    string         `json:"status"`
		SessionID string         `json:"session_id"`
		Data      map[string]any `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, "s1", resp.SessionID)
	assert.Equal(t, "int", resp.Data["kind"])
	assert.Equal(t, float64(5), resp.Data["value"])
	assert.Equal(t, []any{"100", "Threads", "1", "status"}, resp.Data["path"])
}

func TestQueryUnknownSession(t *testing.T) {
	dbPath := seedDatabase(t, false)

	out, err := executeRoot(t, "query", "--db", dbPath, "--session", "nope", "--path", "100/Threads/1/status")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, out, "Error [E_NOT_FOUND]")
}

func TestQueryUnknownPath(t *testing.T) {
	dbPath := seedDatabase(t, false)

	_, err := executeRoot(t, "query", "--db", dbPath, "--session", "s1", "--path", "100/Threads/7/status")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestQueryInvalidPath(t *testing.T) {
	dbPath := seedDatabase(t, false)

	_, err := executeRoot(t, "query", "--db", dbPath, "--session", "s1", "--path", `["unterminated`)
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestQueryMissingDatabase(t *testing.T) {
	_, err := executeRoot(t, "query", "--db", filepath.Join(t.TempDir(), "missing.db"),
		"--session", "s1", "--path", "100/Threads/1/status")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestQueryRequiredFlags(t *testing.T) {
	_, err := executeRoot(t, "query", "--db", "x.db")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "required flag")
}
