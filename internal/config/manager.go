package config

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/bep/debounce"
	"github.com/filbertlab/twoverlay/internal/logger"
	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"
)

// Manager handles configuration
type Manager struct {
	configPath string
	config     *Config // as stored on disk
	overrides  Overrides
	mu         sync.RWMutex

	// debounced position writes
	debounced   func(f func())
	pending     bool
	lastWritten []byte
	writeMu     sync.Mutex
}

// Overrides are command-line values applied on top of the file without
// being persisted.
type Overrides struct {
	ServerPort    int
	LogLevel      string
	TitleFragment string
	ProcessName   string
}

// DefaultPath returns $HOME/.config/twoverlay/config.yaml
func DefaultPath() (string, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	return filepath.Join(homeDir, ".config", "twoverlay", "config.yaml"), nil
}

// NewManager creates a new configuration manager
func NewManager(configFile string) (*Manager, error) {
	actualConfigPath := configFile
	if actualConfigPath == "" {
		p, err := DefaultPath()
		if err != nil {
			return nil, err
		}
		actualConfigPath = p
	}

	// Create config directory if it doesn't exist
	if err := os.MkdirAll(filepath.Dir(actualConfigPath), 0755); err != nil {
		return nil, fmt.Errorf("failed to create config directory: %w", err)
	}

	m := &Manager{
		configPath: actualConfigPath,
	}

	// Try to read config file
	if err := m.load(); err != nil {
		if os.IsNotExist(err) {
			logger.WithComponent("config").Info().
				Str("path", m.configPath).
				Msg("Config file not found, creating new config")
			m.config = Defaults()
			if err := m.Save(); err != nil {
				return nil, fmt.Errorf("failed to create default config: %w", err)
			}
		} else {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	m.debounced = debounce.New(time.Duration(m.config.Overlay.SaveDebounceMs) * time.Millisecond)

	logger.WithComponent("config").Info().
		Str("path", m.configPath).
		Str("target", m.config.Target.ProcessName).
		Int("positions", len(m.config.Positions)).
		Msg("Config loaded")

	return m, nil
}

// load reads the configuration from disk, filling missing keys from defaults
func (m *Manager) load() error {
	data, err := os.ReadFile(m.configPath)
	if err != nil {
		return err
	}
	return m.apply(data)
}

func (m *Manager) apply(data []byte) error {
	cfg := Defaults()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("failed to parse config: %w", err)
	}
	if cfg.Positions == nil {
		cfg.Positions = map[string]WindowPosition{}
	}

	m.mu.Lock()
	m.config = cfg
	m.mu.Unlock()
	return nil
}

// Get returns a copy of the current configuration with overrides applied
func (m *Manager) Get() *Config {
	m.mu.RLock()
	defer m.mu.RUnlock()

	cfg := Defaults()
	if m.config != nil {
		cfg = m.config.clone()
	}
	m.overrides.applyTo(cfg)
	return cfg
}

// stored returns a copy of the configuration as saved, without overrides
func (m *Manager) stored() *Config {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.config.clone()
}

// ApplyOverrides sets command-line values that Get reports on top of the
// file. They are never written back.
func (m *Manager) ApplyOverrides(o Overrides) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.overrides = o
}

func (o Overrides) applyTo(cfg *Config) {
	if o.ServerPort > 0 {
		cfg.ServerPort = o.ServerPort
	}
	if o.LogLevel != "" {
		cfg.LogLevel = o.LogLevel
	}
	if o.TitleFragment != "" {
		cfg.Target.TitleFragment = o.TitleFragment
	}
	if o.ProcessName != "" {
		cfg.Target.ProcessName = o.ProcessName
	}
}

// restore puts back the stored value of every field cfg still carries an
// override for.
func (o Overrides) restore(cfg, stored *Config) {
	if o.ServerPort > 0 && cfg.ServerPort == o.ServerPort {
		cfg.ServerPort = stored.ServerPort
	}
	if o.LogLevel != "" && cfg.LogLevel == o.LogLevel {
		cfg.LogLevel = stored.LogLevel
	}
	if o.TitleFragment != "" && cfg.Target.TitleFragment == o.TitleFragment {
		cfg.Target.TitleFragment = stored.Target.TitleFragment
	}
	if o.ProcessName != "" && cfg.Target.ProcessName == o.ProcessName {
		cfg.Target.ProcessName = stored.Target.ProcessName
	}
}

// Save saves the current configuration to disk
func (m *Manager) Save() error {
	m.writeMu.Lock()
	defer m.writeMu.Unlock()

	m.mu.Lock()
	cfg := m.config
	if cfg == nil {
		cfg = Defaults()
	}
	// Marshal to YAML
	data, err := yaml.Marshal(cfg)
	m.pending = false
	if err == nil {
		// Recorded before the write so the watcher never mistakes it for an
		// external edit.
		m.lastWritten = data
	}
	m.mu.Unlock()
	if err != nil {
		logger.WithComponent("config").Error().
			Err(err).
			Msg("Failed to marshal config")
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	// Ensure the directory exists
	configDir := filepath.Dir(m.configPath)
	if err := os.MkdirAll(configDir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	if err := os.WriteFile(m.configPath, data, 0644); err != nil {
		logger.WithComponent("config").Error().
			Err(err).
			Str("path", m.configPath).
			Msg("Failed to write config")
		return err
	}

	logger.WithComponent("config").Debug().
		Str("path", m.configPath).
		Msg("Config saved")
	return nil
}

// Update replaces the entire configuration and saves it. cfg usually comes
// from Get, so fields still equal to their override keep the stored value.
func (m *Manager) Update(cfg *Config) error {
	m.mu.Lock()
	next := cfg.clone()
	if m.config != nil {
		m.overrides.restore(next, m.config)
	}
	m.config = next
	m.mu.Unlock()
	return m.Save()
}

// replace stores cfg as is and saves it
func (m *Manager) replace(cfg *Config) error {
	m.mu.Lock()
	m.config = cfg.clone()
	m.mu.Unlock()
	return m.Save()
}

// Position returns the stored offset of a managed window
func (m *Manager) Position(key string) (WindowPosition, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	pos, ok := m.config.Positions[key]
	return pos, ok
}

// SavePosition records a window offset immediately in memory and writes it
// to disk once position updates have been quiet for the save debounce.
func (m *Manager) SavePosition(key string, pos WindowPosition) {
	m.mu.Lock()
	m.config.Positions[key] = pos
	m.pending = true
	m.mu.Unlock()

	m.debounced(m.flushPending)
}

// SetOverlayVisible records the primary overlay toggle
func (m *Manager) SetOverlayVisible(visible bool) {
	m.mu.Lock()
	m.config.Overlay.Visible = visible
	m.pending = true
	m.mu.Unlock()

	m.debounced(m.flushPending)
}

func (m *Manager) flushPending() {
	if !m.HasPending() {
		return
	}
	if err := m.Save(); err != nil {
		logger.WithComponent("config").Warn().Err(err).Msg("Debounced save failed")
	}
}

// SaveImmediate flushes pending changes now; a debounced write that fires
// afterwards finds nothing pending.
func (m *Manager) SaveImmediate() error {
	return m.Save()
}

// HasPending reports whether there are changes not yet written to disk
func (m *Manager) HasPending() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.pending
}

// GetConfigPath returns the path to the config file
func (m *Manager) GetConfigPath() string {
	return m.configPath
}

// Watch reloads the configuration when another process edits the file and
// passes the new configuration to onChange. Writes made by this manager are
// ignored. It blocks until ctx is done.
func (m *Manager) Watch(ctx context.Context, onChange func(*Config)) error {
	log := logger.WithComponent("config")

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	defer watcher.Close()

	// Editors often replace the file, so watch the directory.
	if err := watcher.Add(filepath.Dir(m.configPath)); err != nil {
		return fmt.Errorf("failed to watch config directory: %w", err)
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != filepath.Clean(m.configPath) {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}
			data, err := os.ReadFile(m.configPath)
			if err != nil || len(data) == 0 {
				continue
			}
			m.mu.RLock()
			own := bytes.Equal(data, m.lastWritten)
			m.mu.RUnlock()
			if own {
				continue
			}
			if err := m.apply(data); err != nil {
				log.Warn().Err(err).Msg("Ignoring invalid external config edit")
				continue
			}
			m.mu.Lock()
			m.lastWritten = data
			m.mu.Unlock()
			log.Info().Str("path", m.configPath).Msg("Config reloaded after external edit")
			if onChange != nil {
				onChange(m.Get())
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			log.Warn().Err(err).Msg("Config watcher error")
		}
	}
}
