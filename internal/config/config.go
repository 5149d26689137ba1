package config

import (
	"time"
)

// WindowPosition is a managed window's offset from the target window.
// Primary overlay offsets are relative to the target's top-left corner,
// satellite offsets to its top-right corner.
type WindowPosition struct {
	OffsetX int `json:"offset_x" yaml:"offset_x"`
	OffsetY int `json:"offset_y" yaml:"offset_y"`
}

// TargetConfig identifies the tracked application window
type TargetConfig struct {
	TitleFragment string `json:"title_fragment" yaml:"title_fragment"`
	ProcessName   string `json:"process_name" yaml:"process_name"`
}

// PollingConfig holds the adaptive polling cadences and thresholds
type PollingConfig struct {
	FastMs             int `json:"fast_ms" yaml:"fast_ms"`
	StableMs           int `json:"stable_ms" yaml:"stable_ms"`
	MinimizedMs        int `json:"minimized_ms" yaml:"minimized_ms"`
	IdleMs             int `json:"idle_ms" yaml:"idle_ms"`
	StableThreshold    int `json:"stable_threshold" yaml:"stable_threshold"`
	EventDebounceMs    int `json:"event_debounce_ms" yaml:"event_debounce_ms"`
	MinimizedThreshold int `json:"minimized_threshold" yaml:"minimized_threshold"` // x at or below this means minimized/off-screen
}

func (p PollingConfig) Fast() time.Duration      { return ms(p.FastMs) }
func (p PollingConfig) Stable() time.Duration    { return ms(p.StableMs) }
func (p PollingConfig) Minimized() time.Duration { return ms(p.MinimizedMs) }
func (p PollingConfig) Idle() time.Duration      { return ms(p.IdleMs) }
func (p PollingConfig) Debounce() time.Duration  { return ms(p.EventDebounceMs) }

// OverlayConfig holds overlay placement settings
type OverlayConfig struct {
	Visible           bool `json:"visible" yaml:"visible"`
	PositionThreshold int  `json:"position_threshold" yaml:"position_threshold"`
	SidebarWidth      int  `json:"sidebar_width" yaml:"sidebar_width"`
	SidebarHeight     int  `json:"sidebar_height" yaml:"sidebar_height"`
	SidebarOffsetY    int  `json:"sidebar_offset_y" yaml:"sidebar_offset_y"`
	ExitWithTarget    bool `json:"exit_with_target" yaml:"exit_with_target"`
	SaveDebounceMs    int  `json:"save_debounce_ms" yaml:"save_debounce_ms"`
}

// SatelliteConfig describes a secondary window anchored to the target's right edge
type SatelliteConfig struct {
	Key             string `json:"key" yaml:"key"`
	Width           int    `json:"width" yaml:"width"`
	Height          int    `json:"height" yaml:"height"`
	ClampToWorkArea bool   `json:"clamp_to_work_area" yaml:"clamp_to_work_area"`
}

// Config represents the application configuration
type Config struct {
	ServerPort  int    `json:"server_port" yaml:"server_port"`
	LogLevel    string `json:"log_level" yaml:"log_level"`
	LogFile     string `json:"log_file" yaml:"log_file"`
	LogMaxBytes int64  `json:"log_max_bytes" yaml:"log_max_bytes"`

	Target     TargetConfig              `json:"target" yaml:"target"`
	Polling    PollingConfig             `json:"polling" yaml:"polling"`
	Overlay    OverlayConfig             `json:"overlay" yaml:"overlay"`
	Positions  map[string]WindowPosition `json:"positions" yaml:"positions"`
	Satellites []SatelliteConfig         `json:"satellites" yaml:"satellites"`
}

// Keys of the windows every installation has.
const (
	KeyOverlay = "overlay"
	KeyMain    = "main"
)

// Defaults returns the default configuration
func Defaults() *Config {
	return &Config{
		ServerPort:  8765,
		LogLevel:    "info",
		LogMaxBytes: 1 << 20,
		Target: TargetConfig{
			TitleFragment: "Talesweaver",
			ProcessName:   "InphaseNXD",
		},
		Polling: PollingConfig{
			FastMs:             100,
			StableMs:           1000,
			MinimizedMs:        2000,
			IdleMs:             3000,
			StableThreshold:    10,
			EventDebounceMs:    16,
			MinimizedThreshold: -10000,
		},
		Overlay: OverlayConfig{
			Visible:           true,
			PositionThreshold: 2,
			SidebarWidth:      200,
			SidebarHeight:     800,
			SidebarOffsetY:    40,
			ExitWithTarget:    true,
			SaveDebounceMs:    300,
		},
		Positions: map[string]WindowPosition{
			KeyOverlay:     {OffsetX: 10, OffsetY: 10},
			"settings":     {OffsetX: -1010, OffsetY: 40},
			"gallery":      {OffsetX: -320, OffsetY: 40},
			"abbreviation": {OffsetX: -320, OffsetY: 40},
			"buffs":        {OffsetX: -1000, OffsetY: 40},
			"bossSettings": {OffsetX: -320, OffsetY: 40},
			"etaRanking":   {OffsetX: -380, OffsetY: 40},
			"trade":        {OffsetX: -380, OffsetY: 40},
		},
		Satellites: []SatelliteConfig{
			{Key: "settings", Width: 1000, Height: 650, ClampToWorkArea: true},
			{Key: "gallery", Width: 380, Height: 600},
			{Key: "abbreviation", Width: 320, Height: 500},
			{Key: "buffs", Width: 1000, Height: 700},
			{Key: "bossSettings", Width: 320, Height: 600},
			{Key: "etaRanking", Width: 380, Height: 600},
			{Key: "trade", Width: 380, Height: 600},
		},
	}
}

// clone returns a copy that shares no maps or slices with c
func (c *Config) clone() *Config {
	out := *c
	out.Positions = make(map[string]WindowPosition, len(c.Positions))
	for k, v := range c.Positions {
		out.Positions[k] = v
	}
	out.Satellites = append([]SatelliteConfig(nil), c.Satellites...)
	return &out
}

func ms(n int) time.Duration {
	return time.Duration(n) * time.Millisecond
}
