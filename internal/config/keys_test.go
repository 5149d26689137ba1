package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetKey(t *testing.T) {
	m, _ := newTestManager(t)

	tests := []struct {
		key  string
		want interface{}
	}{
		{"server_port", 8765},
		{"target.process_name", "InphaseNXD"},
		{"polling.fast_ms", 100},
		{"overlay.exit_with_target", true},
		{"positions.bossSettings.offset_x", -320},
		{"satellites.0.key", "settings"},
	}
	for _, tt := range tests {
		t.Run(tt.key, func(t *testing.T) {
			got, err := m.GetKey(tt.key)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	_, err := m.GetKey("polling.nope")
	assert.Error(t, err)
	_, err = m.GetKey("satellites.99")
	assert.Error(t, err)
}

func TestSetKey(t *testing.T) {
	m, path := newTestManager(t)

	require.NoError(t, m.SetKey("polling.stable_ms", "1500"))
	require.NoError(t, m.SetKey("target.title_fragment", "1234"))
	require.NoError(t, m.SetKey("overlay.visible", "false"))
	require.NoError(t, m.SetKey("satellites.1.width", "400"))
	require.NoError(t, m.SetKey("log_level", "debug"))

	onDisk := readConfig(t, path)
	assert.Equal(t, 1500, onDisk.Polling.StableMs)
	assert.Equal(t, "1234", onDisk.Target.TitleFragment)
	assert.False(t, onDisk.Overlay.Visible)
	assert.Equal(t, 400, onDisk.Satellites[1].Width)
	assert.Equal(t, "debug", onDisk.LogLevel)
	assert.Equal(t, 100, onDisk.Polling.FastMs, "other keys are preserved")
}

func TestSetKey_Rejects(t *testing.T) {
	m, _ := newTestManager(t)

	assert.Error(t, m.SetKey("polling.fast_ms", "fast"))
	assert.Error(t, m.SetKey("log_level", "verbose"))
	assert.Error(t, m.SetKey("polling", "1"), "not a scalar")
	assert.Error(t, m.SetKey("missing.key", "1"))
	assert.Equal(t, 100, m.Get().Polling.FastMs)
}
