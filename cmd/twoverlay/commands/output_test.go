package commands

import (
	"bytes"
	"testing"

	"github.com/filbertlab/twoverlay/internal/config"
	"github.com/filbertlab/twoverlay/internal/window"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPrintWindowsTable(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, printWindowsTable(&buf, []window.WindowInfo{{
		Handle:  65812,
		Title:   "Talesweaver",
		PID:     42,
		Image:   "InphaseNXD.exe",
		Visible: true,
		Bounds:  window.Bounds{X: 100, Y: 50, Width: 800, Height: 600},
	}}))

	out := buf.String()
	assert.Contains(t, out, "HWND")
	assert.Contains(t, out, "65812")
	assert.Contains(t, out, "InphaseNXD.exe")
	assert.Contains(t, out, "800x600 at (100, 50)")
}

func TestPrintQueryResult(t *testing.T) {
	var buf bytes.Buffer
	res := window.QueryResult{Kind: window.KindRect, Rect: window.Rect{
		Bounds: window.Bounds{X: 1, Y: 2, Width: 3, Height: 4},
		Handle: 7,
	}}
	require.NoError(t, printQueryResult(&buf, res, "table"))
	assert.Contains(t, buf.String(), "rect")
	assert.Contains(t, buf.String(), "3x4 at (1, 2)")

	buf.Reset()
	require.NoError(t, printQueryResult(&buf, window.QueryResult{Kind: window.KindNotRunning}, "json"))
	assert.Contains(t, buf.String(), `"kind": "not_running"`)
}

func TestEncodeAs(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, encodeAs(&buf, config.Defaults(), "yaml"))
	assert.Contains(t, buf.String(), "title_fragment: Talesweaver")

	buf.Reset()
	require.NoError(t, encodeAs(&buf, config.Defaults(), "json"))
	assert.Contains(t, buf.String(), `"server_port": 8765`)

	assert.Error(t, encodeAs(&buf, nil, "xml"))
}
