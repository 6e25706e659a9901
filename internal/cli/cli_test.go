package cli

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"shiftsync/internal/schedule"
)

func TestCommandPresence(t *testing.T) {
	cmd := NewRootCommand()
	for _, path := range [][]string{
		{"run"}, {"provision"}, {"tick"}, {"reset"},
		{"connection", "set"}, {"connection", "list"}, {"connection", "disable"}, {"connection", "enable"},
	} {
		sub, _, err := cmd.Find(path)
		require.NoError(t, err, "%v", path)
		assert.Equal(t, path[len(path)-1], sub.Name())
	}
}

// sqliteConfig writes a config whose state survives between commands.
func sqliteConfig(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	fixture, err := filepath.Abs("../../fixtures/sandbox.yaml")
	require.NoError(t, err)
	body := fmt.Sprintf(`
logging: {level: error, console: false}
storage: {driver: sqlite, path: %q}
platform: {driver: memory, fixture: %q}
`, filepath.Join(dir, "state.db"), fixture)
	path := filepath.Join(dir, "shiftsync.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := NewRootCommand()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(t.Context())
	return out.String(), err
}

func TestConnectionLifecycle(t *testing.T) {
	cfg := sqliteConfig(t)

	_, err := execute(t, "-c", cfg, "connection", "set", "--team", "team-north", "--business-unit", "bu-north", "--time-zone", "Europe/Lisbon")
	require.NoError(t, err)

	out, err := execute(t, "-c", cfg, "--format", "json", "connection", "list")
	require.NoError(t, err)
	var conns []schedule.Connection
	require.NoError(t, json.Unmarshal([]byte(out), &conns))
	require.Len(t, conns, 1)
	assert.Equal(t, "Europe/Lisbon", conns[0].TimeZone)
	assert.True(t, conns[0].Enabled)

	out, err = execute(t, "-c", cfg, "connection", "disable", "--team", "team-north")
	require.NoError(t, err)
	assert.Contains(t, out, "false")
}

func TestTickAndReset(t *testing.T) {
	cfg := sqliteConfig(t)
	_, err := execute(t, "-c", cfg, "connection", "set", "--team", "team-north", "--business-unit", "bu-north")
	require.NoError(t, err)

	out, err := execute(t, "-c", cfg, "--format", "json", "tick")
	require.NoError(t, err)
	var rep struct{ Started, Deferred int }
	require.NoError(t, json.Unmarshal([]byte(out), &rep))
	assert.Equal(t, 1, rep.Started)
	assert.Equal(t, 4, rep.Deferred)

	out, err = execute(t, "-c", cfg, "reset", "--team", "team-north", "--kind", "availability")
	require.NoError(t, err)
	assert.Contains(t, out, "reset team-north availability standing")
}

func TestResetRejectsBadInput(t *testing.T) {
	cfg := sqliteConfig(t)
	_, err := execute(t, "-c", cfg, "reset", "--team", "x", "--kind", "meetings")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))

	_, err = execute(t, "--format", "xml", "provision")
	require.Error(t, err)
}

func TestMissingConfigIsCommandError(t *testing.T) {
	_, err := execute(t, "-c", filepath.Join(t.TempDir(), "absent.yaml"), "provision")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}
