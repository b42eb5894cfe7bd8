package cli

import (
	"bytes"
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestServeMissingDatabase(t *testing.T) {
	_, err := executeRoot(t, "serve", "--db", filepath.Join(t.TempDir(), "missing.db"))
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestServeStopsOnCancel(t *testing.T) {
	dbPath := seedDatabase(t, false)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	cmd := NewRootCommand()
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs([]string{"serve", "--db", dbPath, "--addr", "127.0.0.1:0"})
	require.NoError(t, cmd.ExecuteContext(ctx))
}
