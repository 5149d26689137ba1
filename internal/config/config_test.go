package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func newTestManager(t *testing.T) (*Manager, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "twoverlay", "config.yaml")
	m, err := NewManager(path)
	require.NoError(t, err)
	return m, path
}

func readConfig(t *testing.T, path string) *Config {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	var cfg Config
	require.NoError(t, yaml.Unmarshal(data, &cfg))
	return &cfg
}

func TestNewManager_CreatesDefaultFile(t *testing.T) {
	m, path := newTestManager(t)

	assert.Equal(t, path, m.GetConfigPath())
	assert.FileExists(t, path)

	onDisk := readConfig(t, path)
	assert.Equal(t, 8765, onDisk.ServerPort)
	assert.Equal(t, "InphaseNXD", onDisk.Target.ProcessName)
	assert.Equal(t, WindowPosition{OffsetX: 10, OffsetY: 10}, onDisk.Positions[KeyOverlay])
}

func TestNewManager_MergesPartialFileOntoDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	partial := "server_port: 9000\npolling:\n  fast_ms: 50\npositions:\n  overlay:\n    offset_x: 30\n    offset_y: 40\n"
	require.NoError(t, os.WriteFile(path, []byte(partial), 0644))

	m, err := NewManager(path)
	require.NoError(t, err)

	cfg := m.Get()
	assert.Equal(t, 9000, cfg.ServerPort)
	assert.Equal(t, 50*time.Millisecond, cfg.Polling.Fast())
	assert.Equal(t, time.Second, cfg.Polling.Stable())
	assert.Equal(t, "Talesweaver", cfg.Target.TitleFragment)

	pos, ok := m.Position(KeyOverlay)
	require.True(t, ok)
	assert.Equal(t, WindowPosition{OffsetX: 30, OffsetY: 40}, pos)
}

func TestNewManager_InvalidYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("server_port: [nope"), 0644))

	_, err := NewManager(path)
	assert.Error(t, err)
}

func TestGet_ReturnsCopy(t *testing.T) {
	m, _ := newTestManager(t)

	cfg := m.Get()
	cfg.Positions[KeyOverlay] = WindowPosition{OffsetX: 999}
	cfg.Satellites[0].Width = 1

	pos, _ := m.Position(KeyOverlay)
	assert.Equal(t, 10, pos.OffsetX)
	assert.Equal(t, 1000, m.Get().Satellites[0].Width)
}

func TestApplyOverrides_NotPersisted(t *testing.T) {
	m, path := newTestManager(t)

	m.ApplyOverrides(Overrides{ServerPort: 9999, ProcessName: "notepad"})

	assert.Equal(t, 9999, m.Get().ServerPort)
	assert.Equal(t, "notepad", m.Get().Target.ProcessName)
	assert.Equal(t, "Talesweaver", m.Get().Target.TitleFragment)
	assert.Equal(t, 8765, readConfig(t, path).ServerPort)
}

func TestApplyOverrides_NotWrittenByLaterSaves(t *testing.T) {
	m, path := newTestManager(t)
	m.ApplyOverrides(Overrides{ServerPort: 9999, ProcessName: "notepad", LogLevel: "debug"})

	m.SavePosition(KeyOverlay, WindowPosition{OffsetX: 50, OffsetY: 30})
	m.SetOverlayVisible(false)
	require.NoError(t, m.SaveImmediate())

	onDisk := readConfig(t, path)
	assert.Equal(t, 8765, onDisk.ServerPort)
	assert.Equal(t, "InphaseNXD", onDisk.Target.ProcessName)
	assert.Equal(t, "info", onDisk.LogLevel)
	assert.Equal(t, WindowPosition{OffsetX: 50, OffsetY: 30}, onDisk.Positions[KeyOverlay])
	assert.False(t, onDisk.Overlay.Visible)

	cfg := m.Get()
	cfg.Polling.StableThreshold = 4
	require.NoError(t, m.Update(cfg))
	require.NoError(t, m.SetKey("polling.fast_ms", "80"))

	onDisk = readConfig(t, path)
	assert.Equal(t, 8765, onDisk.ServerPort)
	assert.Equal(t, "InphaseNXD", onDisk.Target.ProcessName)
	assert.Equal(t, 4, onDisk.Polling.StableThreshold)
	assert.Equal(t, 80, onDisk.Polling.FastMs)

	assert.Equal(t, 9999, m.Get().ServerPort, "overrides still apply in memory")
	assert.Equal(t, "notepad", m.Get().Target.ProcessName)
}

func TestUpdate_ChangesOverriddenField(t *testing.T) {
	m, path := newTestManager(t)
	m.ApplyOverrides(Overrides{ServerPort: 9999})

	cfg := m.Get()
	cfg.ServerPort = 9100
	require.NoError(t, m.Update(cfg))

	assert.Equal(t, 9100, readConfig(t, path).ServerPort)
	assert.Equal(t, 9999, m.Get().ServerPort)
}

func TestSavePosition_Debounced(t *testing.T) {
	m, path := newTestManager(t)

	m.SavePosition("gallery", WindowPosition{OffsetX: 5, OffsetY: 6})
	m.SavePosition("gallery", WindowPosition{OffsetX: 7, OffsetY: 8})

	pos, ok := m.Position("gallery")
	require.True(t, ok)
	assert.Equal(t, WindowPosition{OffsetX: 7, OffsetY: 8}, pos)
	assert.True(t, m.HasPending())
	assert.Equal(t, -320, readConfig(t, path).Positions["gallery"].OffsetX)

	require.Eventually(t, func() bool {
		return !m.HasPending() && readConfig(t, path).Positions["gallery"].OffsetX == 7
	}, 2*time.Second, 20*time.Millisecond)
}

func TestSaveImmediate_FlushesPending(t *testing.T) {
	m, path := newTestManager(t)

	m.SavePosition(KeyOverlay, WindowPosition{OffsetX: 1, OffsetY: 2})
	require.NoError(t, m.SaveImmediate())

	assert.False(t, m.HasPending())
	assert.Equal(t, WindowPosition{OffsetX: 1, OffsetY: 2}, readConfig(t, path).Positions[KeyOverlay])
}

func TestUpdate(t *testing.T) {
	m, path := newTestManager(t)

	cfg := m.Get()
	cfg.Overlay.Visible = false
	cfg.Polling.StableThreshold = 3
	require.NoError(t, m.Update(cfg))

	onDisk := readConfig(t, path)
	assert.False(t, onDisk.Overlay.Visible)
	assert.Equal(t, 3, onDisk.Polling.StableThreshold)
}

func TestWatch_ReloadsExternalEdit(t *testing.T) {
	m, path := newTestManager(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	changes := make(chan *Config, 4)
	go m.Watch(ctx, func(c *Config) { changes <- c })

	// Give the watcher time to register.
	time.Sleep(100 * time.Millisecond)

	cfg := m.Get()
	cfg.Target.TitleFragment = "Notepad"
	data, err := yaml.Marshal(cfg)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, data, 0644))

	select {
	case c := <-changes:
		assert.Equal(t, "Notepad", c.Target.TitleFragment)
	case <-time.After(3 * time.Second):
		t.Fatal("no reload after external edit")
	}
	assert.Equal(t, "Notepad", m.Get().Target.TitleFragment)
}

func TestPollingDurations(t *testing.T) {
	p := Defaults().Polling
	assert.Equal(t, 100*time.Millisecond, p.Fast())
	assert.Equal(t, time.Second, p.Stable())
	assert.Equal(t, 2*time.Second, p.Minimized())
	assert.Equal(t, 3*time.Second, p.Idle())
	assert.Equal(t, 16*time.Millisecond, p.Debounce())
}
