package cli

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/roach88/elara/internal/frame"
	"github.com/roach88/elara/internal/store"
	"github.com/roach88/elara/internal/testutil"
)

// execute runs the root command with args and returns stdout and the error.
func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := NewRootCommand()
	var out, errOut bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

// writeFile writes content under dir and returns its path.
func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

// seedStore creates a database with two committed transactions, one
// rollback and their commands.
func seedStore(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "elara.db")
	st, err := store.Open(path)
	require.NoError(t, err)
	defer st.Close()

	commands := st.Log("commands")
	testutil.AppendCommand(t, commands, 1, 1, 7, "a")
	testutil.AppendCommand(t, commands, 1, 2, 7, "b")
	testutil.AppendCommand(t, commands, 2, 1, 3, "\x00\x01")

	events := st.Log("events")
	testutil.AppendEvent(t, events, 1, 1, 0, 7, frame.FlagCommit, "a")
	testutil.AppendEvent(t, events, 1, 1, 1, frame.TypeCommit, 0, "")
	testutil.AppendEvent(t, events, 1, 2, 0, frame.TypeRollback, 0, "")
	testutil.AppendEvent(t, events, 2, 1, 0, 3, frame.FlagCommit, "\x00\x01")
	testutil.AppendEvent(t, events, 2, 1, 1, frame.TypeCommit, 0, "")
	return path
}
