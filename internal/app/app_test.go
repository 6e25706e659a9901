package app

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"shiftsync/internal/config"
	"shiftsync/internal/schedule"
)

func writeConfig(t *testing.T, extra string) string {
	t.Helper()
	fixture, err := filepath.Abs("../../fixtures/sandbox.yaml")
	require.NoError(t, err)
	body := fmt.Sprintf(`
logging: {level: warn, console: false}
storage: {driver: memory}
scheduler: {enabled: false}
platform: {driver: memory, fixture: %q}
%s`, fixture, extra)
	path := filepath.Join(t.TempDir(), "shiftsync.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func newApp(t *testing.T, extra string) *App {
	t.Helper()
	a, err := New(writeConfig(t, extra))
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close() })
	return a
}

func TestNewRejectsInvalidConfig(t *testing.T) {
	_, err := New(writeConfig(t, "sync: {lease_duration: 5m}"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "sync.lease_duration")
}

func TestRunTickSequencesRosterFirst(t *testing.T) {
	a := newApp(t, "")
	ctx := t.Context()
	require.NoError(t, a.Provision(ctx))
	_, err := a.Connections().Put(ctx, schedule.Connection{TeamID: "team-north", BusinessUnitID: "bu-north", Enabled: true})
	require.NoError(t, err)

	rep, err := a.RunTick(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, rep.Started)
	assert.Equal(t, 4, rep.Deferred)

	rep, err = a.RunTick(ctx)
	require.NoError(t, err)
	assert.Equal(t, 4, rep.Started)

	got, err := a.Platform().Destination().ListAvailability(ctx, "team-north")
	require.NoError(t, err)
	assert.Len(t, got, 2)
}

func TestApplyConfigUpdatesLiveSections(t *testing.T) {
	a := newApp(t, "")
	prev := a.ConfigManager().Get()

	next := *prev
	next.Sync.MaxDelta = 7
	next.Storage.Path = "./elsewhere.db"
	a.applyConfig(context.Background(), prev, &next)
	assert.Equal(t, 7, a.Settings().Sync.MaxDelta)

	bad := next
	bad.Sync.WeekStart = "someday"
	a.applyConfig(context.Background(), &next, &bad)
	assert.Equal(t, 7, a.Settings().Sync.MaxDelta)
	assert.Equal(t, config.DefaultMaxDelta, mapSync(mustResolve(t, prev).Sync).MaxDelta)
}

func mustResolve(t *testing.T, cfg *config.Config) config.Settings {
	t.Helper()
	s, err := config.Resolve(cfg)
	require.NoError(t, err)
	return s
}
