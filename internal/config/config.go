// Package config handles configuration loading, validation and hot reload for
// touchbridge, and exposes the user preferences section to the engine as a
// change-notifying store.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/BurntSushi/toml"

	"touchbridge/internal/bridge"
)

// Version is the current configuration schema version.
const Version = 1

// Config holds the complete daemon configuration.
type Config struct {
	// Version is the configuration schema version.
	Version int `toml:"version" json:"version" yaml:"version"`

	// Bridge tunes the decision engine.
	Bridge BridgeConfig `toml:"bridge" json:"bridge" yaml:"bridge"`

	// Preferences are the user settings written by the settings UI and read
	// by the engine.
	Preferences PreferencesConfig `toml:"preferences" json:"preferences" yaml:"preferences"`

	// Logging configuration.
	Logging LoggingConfig `toml:"logging" json:"logging" yaml:"logging"`

	// Journal configuration for the transition history database.
	Journal JournalConfig `toml:"journal" json:"journal" yaml:"journal"`

	// Host configuration for the platform adapters.
	Host HostConfig `toml:"host" json:"host" yaml:"host"`

	// mu protects concurrent access to the config.
	mu sync.RWMutex `toml:"-" json:"-" yaml:"-"`
}

// BridgeConfig holds decision engine settings.
type BridgeConfig struct {
	// DebounceMs is the quiet window in milliseconds before a decision pass.
	DebounceMs int `toml:"debounce_ms" json:"debounce_ms" yaml:"debounce_ms"`

	// ScanDepth bounds the UI-tree scan.
	ScanDepth int `toml:"scan_depth" json:"scan_depth" yaml:"scan_depth"`

	// IgnoredApplications are glob patterns for shell/system identifiers.
	IgnoredApplications []string `toml:"ignored_applications" json:"ignored_applications" yaml:"ignored_applications"`

	// DialogPatterns, EditablePatterns and ButtonPatterns are class-name globs.
	DialogPatterns   []string `toml:"dialog_patterns" json:"dialog_patterns" yaml:"dialog_patterns"`
	EditablePatterns []string `toml:"editable_patterns" json:"editable_patterns" yaml:"editable_patterns"`
	ButtonPatterns   []string `toml:"button_patterns" json:"button_patterns" yaml:"button_patterns"`

	// ButtonLabels are texts of clickable elements treated as dialog buttons.
	ButtonLabels []string `toml:"button_labels" json:"button_labels" yaml:"button_labels"`

	// OverlayBlockingRatio is the screen height fraction an active system
	// window must exceed to block passthrough.
	OverlayBlockingRatio float64 `toml:"overlay_blocking_ratio" json:"overlay_blocking_ratio" yaml:"overlay_blocking_ratio"`

	// CapabilityKey is the metadata flag applications declare.
	CapabilityKey string `toml:"capability_key" json:"capability_key" yaml:"capability_key"`
}

// PreferencesConfig holds the user preferences.
type PreferencesConfig struct {
	// MasterSwitch enables the bridge as a whole.
	MasterSwitch bool `toml:"master_switch" json:"master_switch" yaml:"master_switch"`

	// HapticsEnabled enables vibration on passthrough edges.
	HapticsEnabled bool `toml:"haptics_enabled" json:"haptics_enabled" yaml:"haptics_enabled"`

	// EnabledApps are application identifiers the user opted in.
	EnabledApps []string `toml:"enabled_app_packages" json:"enabled_app_packages" yaml:"enabled_app_packages"`

	// DirectTyping maps application identifiers to their direct-typing
	// override. Absent means false.
	DirectTyping map[string]bool `toml:"direct_typing" json:"direct_typing" yaml:"direct_typing"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	// Level is the minimum log level: "debug", "info", "warn", "error".
	Level string `toml:"level" json:"level" yaml:"level"`

	// Format is the log format: "text" or "json".
	Format string `toml:"format" json:"format" yaml:"format"`

	// Output is where logs go: "stdout", "stderr", "file", or "both".
	Output string `toml:"output" json:"output" yaml:"output"`

	// FilePath is the path to the log file.
	FilePath string `toml:"file_path" json:"file_path" yaml:"file_path"`

	// MaxSizeMB is the maximum log file size before rotation.
	MaxSizeMB int `toml:"max_size_mb" json:"max_size_mb" yaml:"max_size_mb"`

	// MaxBackups is the number of rotated files to keep.
	MaxBackups int `toml:"max_backups" json:"max_backups" yaml:"max_backups"`

	// MaxAgeDays is how long to keep rotated files.
	MaxAgeDays int `toml:"max_age_days" json:"max_age_days" yaml:"max_age_days"`
}

// JournalConfig holds transition journal configuration.
type JournalConfig struct {
	// Enabled turns transition recording on.
	Enabled bool `toml:"enabled" json:"enabled" yaml:"enabled"`

	// Path is the SQLite database path.
	Path string `toml:"path" json:"path" yaml:"path"`

	// RetentionDays prunes older transitions at startup (0 = keep all).
	RetentionDays int `toml:"retention_days" json:"retention_days" yaml:"retention_days"`
}

// HostConfig holds platform adapter configuration.
type HostConfig struct {
	// Events is the replay event source: "-" for stdin or a file path.
	Events string `toml:"events" json:"events" yaml:"events"`

	// MetadataManifest is a YAML file of application metadata.
	MetadataManifest string `toml:"metadata_manifest" json:"metadata_manifest" yaml:"metadata_manifest"`

	// ScreenWidth and ScreenHeight are the display size in pixels.
	ScreenWidth  int `toml:"screen_width" json:"screen_width" yaml:"screen_width"`
	ScreenHeight int `toml:"screen_height" json:"screen_height" yaml:"screen_height"`

	// PassthroughSupported reports whether the host can apply regions.
	PassthroughSupported bool `toml:"passthrough_supported" json:"passthrough_supported" yaml:"passthrough_supported"`

	// SessionBus enables the D-Bus screen-saver and screen reader watchers.
	SessionBus bool `toml:"session_bus" json:"session_bus" yaml:"session_bus"`
}

// DefaultConfig returns a configuration with sensible defaults.
func DefaultConfig() *Config {
	dir := DataDir()
	engine := bridge.DefaultConfig()

	return &Config{
		Version: Version,
		Bridge: BridgeConfig{
			DebounceMs:           int(engine.DebounceDuration / time.Millisecond),
			ScanDepth:            engine.ScanDepth,
			IgnoredApplications:  engine.IgnoredApplications,
			DialogPatterns:       engine.DialogPatterns,
			EditablePatterns:     engine.EditablePatterns,
			ButtonPatterns:       engine.ButtonPatterns,
			ButtonLabels:         engine.ButtonLabels,
			OverlayBlockingRatio: engine.OverlayBlockingRatio,
			CapabilityKey:        engine.CapabilityKey,
		},
		Preferences: PreferencesConfig{
			MasterSwitch:   true,
			HapticsEnabled: true,
			EnabledApps:    []string{},
			DirectTyping:   map[string]bool{},
		},
		Logging: LoggingConfig{
			Level:      "info",
			Format:     "text",
			Output:     "stderr",
			FilePath:   filepath.Join(PlatformLogDir(), "touchbridged.log"),
			MaxSizeMB:  10,
			MaxBackups: 3,
			MaxAgeDays: 14,
		},
		Journal: JournalConfig{
			Enabled:       true,
			Path:          filepath.Join(dir, "journal.db"),
			RetentionDays: 30,
		},
		Host: HostConfig{
			Events:               "-",
			ScreenWidth:          1080,
			ScreenHeight:         1920,
			PassthroughSupported: true,
		},
	}
}

// ConfigPath returns the default configuration file path.
func ConfigPath() string {
	return filepath.Join(PlatformConfigDir(), "config.toml")
}

// DataDir returns the touchbridge data directory.
// Uses platform-specific paths or the TOUCHBRIDGE_DATA_DIR override.
func DataDir() string {
	if envDir := os.Getenv("TOUCHBRIDGE_DATA_DIR"); envDir != "" {
		return envDir
	}
	return PlatformDataDir()
}

// Load reads configuration from the specified path.
// If the file doesn't exist, returns default configuration.
// Supports TOML, JSON, and YAML formats based on file extension.
func Load(path string) (*Config, error) {
	if path == "" {
		path = ConfigPath()
	}
	cfg, err := loadConfigFromFile(path)
	if err != nil {
		return nil, err
	}
	cfg.ApplyEnvOverrides()
	return cfg, nil
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	return ValidateConfig(c)
}

// EnsureDirectories creates the directories the daemon writes to.
func (c *Config) EnsureDirectories() error {
	dirs := []string{DataDir()}
	if c.Journal.Enabled && c.Journal.Path != "" {
		dirs = append(dirs, filepath.Dir(c.Journal.Path))
	}
	if c.Logging.Output == "file" || c.Logging.Output == "both" {
		dirs = append(dirs, filepath.Dir(c.Logging.FilePath))
	}
	for _, dir := range dirs {
		if dir == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0700); err != nil {
			return fmt.Errorf("create directory %s: %w", dir, err)
		}
	}
	return nil
}

// ApplyEnvOverrides applies environment variable overrides to the configuration.
// Environment variables are prefixed with TOUCHBRIDGE_.
func (c *Config) ApplyEnvOverrides() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if v := os.Getenv("TOUCHBRIDGE_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
	if v := os.Getenv("TOUCHBRIDGE_LOG_PATH"); v != "" {
		c.Logging.FilePath = v
	}
	if v := os.Getenv("TOUCHBRIDGE_JOURNAL_PATH"); v != "" {
		c.Journal.Path = v
	}
	if v := os.Getenv("TOUCHBRIDGE_DEBOUNCE_MS"); v != "" {
		if ms, err := strconv.Atoi(v); err == nil {
			c.Bridge.DebounceMs = ms
		}
	}
	if v := os.Getenv("TOUCHBRIDGE_MASTER_SWITCH"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			c.Preferences.MasterSwitch = b
		}
	}
}

// Clone returns a deep copy of the configuration.
func (c *Config) Clone() *Config {
	c.mu.RLock()
	defer c.mu.RUnlock()

	clone := &Config{
		Version:     c.Version,
		Bridge:      c.Bridge,
		Preferences: c.Preferences,
		Logging:     c.Logging,
		Journal:     c.Journal,
		Host:        c.Host,
	}
	clone.Bridge.IgnoredApplications = append([]string(nil), c.Bridge.IgnoredApplications...)
	clone.Bridge.DialogPatterns = append([]string(nil), c.Bridge.DialogPatterns...)
	clone.Bridge.EditablePatterns = append([]string(nil), c.Bridge.EditablePatterns...)
	clone.Bridge.ButtonPatterns = append([]string(nil), c.Bridge.ButtonPatterns...)
	clone.Bridge.ButtonLabels = append([]string(nil), c.Bridge.ButtonLabels...)
	clone.Preferences.EnabledApps = append([]string(nil), c.Preferences.EnabledApps...)
	clone.Preferences.DirectTyping = make(map[string]bool, len(c.Preferences.DirectTyping))
	for k, v := range c.Preferences.DirectTyping {
		clone.Preferences.DirectTyping[k] = v
	}
	return clone
}

// EngineConfig converts the bridge section into the engine's configuration.
func (c *Config) EngineConfig() *bridge.Config {
	c.mu.RLock()
	defer c.mu.RUnlock()

	cfg := bridge.DefaultConfig()
	cfg.DebounceDuration = time.Duration(c.Bridge.DebounceMs) * time.Millisecond
	cfg.ScanDepth = c.Bridge.ScanDepth
	cfg.OverlayBlockingRatio = c.Bridge.OverlayBlockingRatio
	cfg.CapabilityKey = c.Bridge.CapabilityKey
	if len(c.Bridge.IgnoredApplications) > 0 {
		cfg.IgnoredApplications = c.Bridge.IgnoredApplications
	}
	if len(c.Bridge.DialogPatterns) > 0 {
		cfg.DialogPatterns = c.Bridge.DialogPatterns
	}
	if len(c.Bridge.EditablePatterns) > 0 {
		cfg.EditablePatterns = c.Bridge.EditablePatterns
	}
	if len(c.Bridge.ButtonPatterns) > 0 {
		cfg.ButtonPatterns = c.Bridge.ButtonPatterns
	}
	if c.Bridge.ButtonLabels != nil {
		cfg.ButtonLabels = c.Bridge.ButtonLabels
	}
	return cfg
}

// SaveConfig writes the configuration as TOML.
func SaveConfig(c *Config, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return fmt.Errorf("create config file: %w", err)
	}
	defer f.Close()

	c.mu.RLock()
	defer c.mu.RUnlock()
	if err := toml.NewEncoder(f).Encode(c); err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	return nil
}
