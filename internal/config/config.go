// Package config handles daemon configuration file management.
package config

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// Store backends
const (
	BackendJSON   = "json"
	BackendSQLite = "sqlite"
)

// ErrInvalid is returned when a loaded configuration fails validation
var ErrInvalid = errors.New("invalid config")

// Config represents the daemon configuration
type Config struct {
	Identity IdentityConfig `json:"identity"`
	Server   ServerConfig   `json:"server"`

	// DataDir holds persisted playback state and the media cache
	DataDir string `json:"dataDir"`

	Store    StoreConfig    `json:"store"`
	Audio    AudioConfig    `json:"audio"`
	Playback PlaybackConfig `json:"playback"`
	Sync     SyncConfig     `json:"sync"`
	History  HistoryConfig  `json:"history"`
}

// IdentityConfig names the local user and device
type IdentityConfig struct {
	UserID     string `json:"userId"`
	Username   string `json:"username"`
	DeviceName string `json:"deviceName"`
}

// ServerConfig locates the relay and the REST backend
type ServerConfig struct {
	SocketURL  string `json:"socketUrl"`
	APIBaseURL string `json:"apiBaseUrl"`
	Token      string `json:"token,omitempty"`
}

// StoreConfig selects the persistence backend
type StoreConfig struct {
	Backend string `json:"backend"`
}

// AudioConfig contains audio-related settings
type AudioConfig struct {
	// SampleRate for audio output (default: 44100)
	SampleRate int `json:"sampleRate"`

	// Volume level 0.0 - 1.0 (default: 1.0)
	DefaultVolume float64 `json:"defaultVolume"`
}

// PlaybackConfig contains state machine timings
type PlaybackConfig struct {
	DefaultRate         float64 `json:"defaultRate"`
	AutosaveSeconds     int     `json:"autosaveSeconds"`
	SleepCheckSeconds   int     `json:"sleepCheckSeconds"`
	OutroEpsilonSeconds float64 `json:"outroEpsilonSeconds"`
}

// SyncConfig contains session settings
type SyncConfig struct {
	RejectUnsolicited    bool `json:"rejectUnsolicited"`
	InviteTimeoutSeconds int  `json:"inviteTimeoutSeconds"`
	GuardMillis          int  `json:"guardMillis"`
	HandshakeDelayMillis int  `json:"handshakeDelayMillis"`
}

// HistoryConfig contains history reporting settings
type HistoryConfig struct {
	Enabled         bool `json:"enabled"`
	IntervalSeconds int  `json:"intervalSeconds"`
}

// DefaultConfig returns the default configuration
func DefaultConfig() *Config {
	host, _ := os.Hostname()
	return &Config{
		Identity: IdentityConfig{DeviceName: host},
		Server: ServerConfig{
			SocketURL:  "ws://localhost:7300/ws",
			APIBaseURL: "http://localhost:8080/api",
		},
		Store: StoreConfig{Backend: BackendJSON},
		Audio: AudioConfig{
			SampleRate:    44100,
			DefaultVolume: 1.0,
		},
		Playback: PlaybackConfig{
			DefaultRate:         1.0,
			AutosaveSeconds:     10,
			SleepCheckSeconds:   1,
			OutroEpsilonSeconds: 1,
		},
		Sync: SyncConfig{
			InviteTimeoutSeconds: 60,
			GuardMillis:          100,
			HandshakeDelayMillis: 200,
		},
		History: HistoryConfig{
			Enabled:         true,
			IntervalSeconds: 30,
		},
	}
}

// Validate checks value ranges
func (c *Config) Validate() error {
	switch c.Store.Backend {
	case BackendJSON, BackendSQLite:
	default:
		return fmt.Errorf("%w: store.backend %q", ErrInvalid, c.Store.Backend)
	}
	if c.Audio.DefaultVolume < 0 || c.Audio.DefaultVolume > 1 {
		return fmt.Errorf("%w: audio.defaultVolume %v", ErrInvalid, c.Audio.DefaultVolume)
	}
	if c.Playback.DefaultRate < 0.5 || c.Playback.DefaultRate > 3 {
		return fmt.Errorf("%w: playback.defaultRate %v", ErrInvalid, c.Playback.DefaultRate)
	}
	if c.Playback.AutosaveSeconds <= 0 || c.Playback.SleepCheckSeconds <= 0 || c.History.IntervalSeconds <= 0 {
		return fmt.Errorf("%w: intervals must be positive", ErrInvalid)
	}
	if c.Sync.InviteTimeoutSeconds <= 0 {
		return fmt.Errorf("%w: sync.inviteTimeoutSeconds %d", ErrInvalid, c.Sync.InviteTimeoutSeconds)
	}
	return nil
}

// InviteTimeout returns how long an outbound invite stays pending
func (c *Config) InviteTimeout() time.Duration {
	return time.Duration(c.Sync.InviteTimeoutSeconds) * time.Second
}

// Guard returns the echo-suppression window
func (c *Config) Guard() time.Duration {
	return time.Duration(c.Sync.GuardMillis) * time.Millisecond
}

// HandshakeDelay returns the gap between initial track and transport state
func (c *Config) HandshakeDelay() time.Duration {
	return time.Duration(c.Sync.HandshakeDelayMillis) * time.Millisecond
}

// AutosaveInterval returns the autosave period while playing
func (c *Config) AutosaveInterval() time.Duration {
	return time.Duration(c.Playback.AutosaveSeconds) * time.Second
}

// SleepCheckInterval returns how often the sleep timer is checked
func (c *Config) SleepCheckInterval() time.Duration {
	return time.Duration(c.Playback.SleepCheckSeconds) * time.Second
}

// HistoryInterval returns the periodic history report period
func (c *Config) HistoryInterval() time.Duration {
	return time.Duration(c.History.IntervalSeconds) * time.Second
}

// Manager handles loading and saving configuration
type Manager struct {
	configDir  string
	configPath string
	log        *zap.Logger

	mu     sync.RWMutex
	config *Config
}

// NewManager creates a new configuration manager
func NewManager(configDir string, log *zap.Logger) *Manager {
	if log == nil {
		log = zap.NewNop()
	}
	return &Manager{
		configDir:  configDir,
		configPath: filepath.Join(configDir, "config.json"),
		log:        log.Named("config"),
		config:     DefaultConfig(),
	}
}

// Load reads the configuration from disk, writing defaults on first run
func (m *Manager) Load() error {
	if err := os.MkdirAll(m.configDir, 0700); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	if _, err := os.Stat(m.configPath); os.IsNotExist(err) {
		m.mu.Lock()
		m.config = m.withDerived(DefaultConfig())
		m.mu.Unlock()
		return m.Save()
	}

	config, err := m.read()
	if err != nil {
		return err
	}

	m.mu.Lock()
	m.config = config
	m.mu.Unlock()
	return nil
}

func (m *Manager) read() (*Config, error) {
	data, err := os.ReadFile(m.configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	config := DefaultConfig() // missing keys keep their defaults
	if err := json.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return m.withDerived(config), nil
}

func (m *Manager) withDerived(c *Config) *Config {
	if c.DataDir == "" {
		c.DataDir = filepath.Join(m.configDir, "data")
	}
	return c
}

// Save writes the configuration to disk
func (m *Manager) Save() error {
	if err := os.MkdirAll(m.configDir, 0700); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	m.mu.RLock()
	data, err := json.MarshalIndent(m.config, "", "  ")
	m.mu.RUnlock()
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(m.configPath, data, 0600); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

// Get returns a copy of the current configuration
func (m *Manager) Get() Config {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return *m.config
}

// GetPath returns the config file path
func (m *Manager) GetPath() string {
	return m.configPath
}

// Update replaces the configuration and saves it
func (m *Manager) Update(config Config) error {
	if err := config.Validate(); err != nil {
		return err
	}
	m.mu.Lock()
	m.config = m.withDerived(&config)
	m.mu.Unlock()
	return m.Save()
}

// Watch re-reads the file whenever it changes and calls fn with the new
// configuration. Invalid edits are logged and ignored. Watch blocks until
// ctx is done.
func (m *Manager) Watch(ctx context.Context, fn func(Config)) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create fsnotify watcher: %w", err)
	}
	defer watcher.Close()

	// Editors replace the file, so watch the directory
	if err := watcher.Add(m.configDir); err != nil {
		return fmt.Errorf("watch %s: %w", m.configDir, err)
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
			if event.Op&(fsnotify.Create|fsnotify.Write) == 0 {
				continue
			}
			config, err := m.read()
			if err != nil {
				m.log.Warn("config reload failed", zap.Error(err))
				continue
			}
			m.mu.Lock()
			m.config = config
			m.mu.Unlock()
			m.log.Info("config reloaded")
			fn(*config)
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			m.log.Warn("config watcher error", zap.Error(err))
		}
	}
}
