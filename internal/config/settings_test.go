package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleYAML = `
logging:
  level: debug
  console: true
  file: {enabled: false, path: ""}
storage:
  driver: sqlite
  path: ./data/shiftsync.db
scheduler:
  enabled: true
  hung_threshold: 45m
  frequencies:
    shifts: 10m
sync:
  abort_on_zero: {availability: true}
  max_delta: 25
  max_item_failures: 3
  lease_duration: 20s
  week_start: sun
platform:
  driver: memory
  fixture: ./fixtures/sandbox.yaml
`

func TestDecodeYAMLAndResolve(t *testing.T) {
	t.Parallel()
	cfg, err := Decode("shiftsync.yaml", []byte(sampleYAML))
	require.NoError(t, err)

	s, err := Resolve(cfg)
	require.NoError(t, err)

	assert.Equal(t, "sqlite", s.Storage.Driver)
	assert.Equal(t, DefaultBusyTimeout, s.Storage.BusyTimeout)
	assert.Equal(t, DefaultTick, s.Scheduler.Tick)
	assert.Equal(t, 45*time.Minute, s.Scheduler.HungThreshold)
	assert.Equal(t, 10*time.Minute, s.Scheduler.Frequency("shifts"))
	assert.Equal(t, 60*time.Minute, s.Scheduler.Frequency("employees"))
	assert.True(t, s.Sync.AbortOnZero["shifts"])
	assert.True(t, s.Sync.AbortOnZero["availability"])
	assert.Equal(t, 25, s.Sync.MaxDelta)
	assert.Equal(t, 3, s.Sync.MaxItemFailures)
	assert.Equal(t, 20*time.Second, s.Sync.LeaseDuration)
	assert.Equal(t, time.Sunday, s.Sync.WeekStart)
	assert.Equal(t, DefaultWorkers, s.Host.Workers)
	assert.Equal(t, DefaultMetricsPath, s.Metrics.Path)
}

func TestDecodeRejectsUnknownFields(t *testing.T) {
	t.Parallel()
	_, err := Decode("cfg.json", []byte(`{"storage":{"driver":"memory"},"telegram":{}}`))
	require.Error(t, err)

	_, err = Decode("cfg.json", []byte(`{"storage":{"driver":"memory"}}{}`))
	require.Error(t, err)
}

func TestResolveCollectsErrors(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		cfg  Config
	}{
		{name: "sqlite without path", cfg: Config{Storage: StorageConfig{Driver: "sqlite"}}},
		{name: "unknown storage", cfg: Config{Storage: StorageConfig{Driver: "redis"}}},
		{name: "lease too short", cfg: Config{Sync: SyncConfig{LeaseDuration: "5s"}}},
		{name: "lease too long", cfg: Config{Sync: SyncConfig{LeaseDuration: "2m"}}},
		{name: "unknown frequency", cfg: Config{Scheduler: SchedulerConfig{Frequencies: map[string]string{"payroll": "5m"}}}},
		{name: "sub-minute frequency", cfg: Config{Scheduler: SchedulerConfig{Frequencies: map[string]string{"shifts": "30s"}}}},
		{name: "bad level", cfg: Config{Logging: LoggingConfig{Level: "loud"}}},
		{name: "bad weekday", cfg: Config{Sync: SyncConfig{WeekStart: "funday"}}},
		{name: "unknown abort kind", cfg: Config{Sync: SyncConfig{AbortOnZero: map[string]bool{"payroll": true}}}},
		{name: "bad platform", cfg: Config{Platform: PlatformConfig{Driver: "graph"}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := tt.cfg
			_, err := Resolve(&cfg)
			require.Error(t, err)
		})
	}
}

func TestSummarizeConfigChange(t *testing.T) {
	t.Parallel()
	oldCfg := &Config{Storage: StorageConfig{Driver: "memory"}, Sync: SyncConfig{MaxDelta: 10}}
	newCfg := &Config{Storage: StorageConfig{Driver: "sqlite", Path: "x.db"}, Sync: SyncConfig{MaxDelta: 20}}

	changed, attrs, restart := SummarizeConfigChange(oldCfg, newCfg)
	assert.Equal(t, []string{"storage", "sync"}, changed)
	assert.Equal(t, []string{"storage"}, restart)
	assert.NotEmpty(t, attrs)

	changed, _, restart = SummarizeConfigChange(newCfg, newCfg)
	assert.Empty(t, changed)
	assert.Empty(t, restart)
}

func TestConfigManagerWatchPublishesChanges(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "shiftsync.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"sync":{"max_delta":5}}`), 0o644))

	m := NewConfigManager(path)
	m.SetValidator(Validate)
	cfg, err := m.Load()
	require.NoError(t, err)
	require.Equal(t, 5, cfg.Sync.MaxDelta)

	sub := m.Subscribe(1)
	defer m.Unsubscribe(sub)

	ctx := t.Context()
	go func() { _ = m.Watch(ctx) }()

	// the watcher needs a moment to register the directory
	require.Eventually(t, func() bool {
		_ = os.WriteFile(path, []byte(`{"sync":{"max_delta":7}}`), 0o644)
		select {
		case got := <-sub:
			return got.Sync.MaxDelta == 7
		case <-time.After(400 * time.Millisecond):
			return false
		}
	}, 5*time.Second, 50*time.Millisecond)
	assert.Equal(t, 7, m.Get().Sync.MaxDelta)
}

func TestConfigManagerRejectsInvalidReload(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "shiftsync.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"sync":{"max_delta":5}}`), 0o644))

	m := NewConfigManager(path)
	m.SetValidator(Validate)
	_, err := m.Load()
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(path, []byte(`{"storage":{"driver":"redis"}}`), 0o644))
	m.reload(t.Context())
	assert.Equal(t, 5, m.Get().Sync.MaxDelta)
}

func TestParseWeekday(t *testing.T) {
	t.Parallel()
	d, err := ParseWeekday("x", "")
	require.NoError(t, err)
	assert.Equal(t, time.Monday, d)

	d, err = ParseWeekday("x", "Saturday")
	require.NoError(t, err)
	assert.Equal(t, time.Saturday, d)
}
