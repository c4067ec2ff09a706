package bridge

import (
	"time"

	"touchbridge/internal/capability"
	"touchbridge/internal/uitree"
)

// Config configures the decision engine.
type Config struct {
	// DebounceDuration is the quiet window after the last qualifying window
	// event before a decision pass runs.
	// Default: 150ms
	DebounceDuration time.Duration

	// ScanDepth bounds the UI-tree scan; the root is depth 1.
	ScanDepth int

	// IgnoredApplications are glob patterns for shell, system UI, input
	// method and launcher identifiers. A foreground application matching one
	// suppresses passthrough, and their windows are never scanned.
	IgnoredApplications []string

	// Class-name globs and button labels that identify native interactive UI.
	DialogPatterns   []string
	EditablePatterns []string
	ButtonPatterns   []string
	ButtonLabels     []string

	// OverlayBlockingRatio is the fraction of the screen height an active
	// system window must exceed to block passthrough.
	OverlayBlockingRatio float64

	// CapabilityKey is the metadata flag applications declare to opt in.
	CapabilityKey string

	// QueueSize is the capacity of the engine's inbound event queue.
	QueueSize int
}

// DefaultConfig returns the engine defaults.
func DefaultConfig() *Config {
	return &Config{
		DebounceDuration:     150 * time.Millisecond,
		ScanDepth:            uitree.DefaultMaxDepth,
		IgnoredApplications:  append([]string(nil), uitree.DefaultIgnoredOwners...),
		DialogPatterns:       append([]string(nil), uitree.DefaultDialogPatterns...),
		EditablePatterns:     append([]string(nil), uitree.DefaultEditablePatterns...),
		ButtonPatterns:       append([]string(nil), uitree.DefaultButtonPatterns...),
		ButtonLabels:         append([]string(nil), uitree.DefaultButtonLabels...),
		OverlayBlockingRatio: 0.5,
		CapabilityKey:        capability.DefaultCapabilityKey,
		QueueSize:            256,
	}
}

// WithDebounceDuration sets the debounce window.
func (c *Config) WithDebounceDuration(d time.Duration) *Config {
	c.DebounceDuration = d
	return c
}

// WithScanDepth sets the UI-tree depth bound.
func (c *Config) WithScanDepth(depth int) *Config {
	c.ScanDepth = depth
	return c
}

// WithIgnoredApplications replaces the ignore-set.
func (c *Config) WithIgnoredApplications(patterns []string) *Config {
	c.IgnoredApplications = patterns
	return c
}

// WithCapabilityKey sets the metadata flag name.
func (c *Config) WithCapabilityKey(key string) *Config {
	c.CapabilityKey = key
	return c
}

// WithOverlayBlockingRatio sets the blocking overlay height fraction.
func (c *Config) WithOverlayBlockingRatio(ratio float64) *Config {
	c.OverlayBlockingRatio = ratio
	return c
}

// AddIgnoredApplication adds a pattern to the ignore-set.
func (c *Config) AddIgnoredApplication(pattern string) *Config {
	for _, p := range c.IgnoredApplications {
		if p == pattern {
			return c
		}
	}
	c.IgnoredApplications = append(c.IgnoredApplications, pattern)
	return c
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	if c.DebounceDuration < 0 {
		return ErrInvalidConfig{"debounce duration cannot be negative"}
	}
	if c.ScanDepth < 1 {
		return ErrInvalidConfig{"scan depth must be at least 1"}
	}
	if c.OverlayBlockingRatio <= 0 || c.OverlayBlockingRatio > 1 {
		return ErrInvalidConfig{"overlay blocking ratio must be in (0, 1]"}
	}
	if c.CapabilityKey == "" {
		return ErrInvalidConfig{"capability key is required"}
	}
	if c.QueueSize < 1 {
		return ErrInvalidConfig{"queue size must be positive"}
	}
	return nil
}

func (c *Config) scannerConfig() uitree.Config {
	return uitree.Config{
		MaxDepth:         c.ScanDepth,
		DialogPatterns:   c.DialogPatterns,
		EditablePatterns: c.EditablePatterns,
		ButtonPatterns:   c.ButtonPatterns,
		ButtonLabels:     c.ButtonLabels,
		IgnoredOwners:    c.IgnoredApplications,
	}
}

// ErrInvalidConfig represents a configuration error.
type ErrInvalidConfig struct {
	Message string
}

func (e ErrInvalidConfig) Error() string {
	return "bridge: invalid config: " + e.Message
}
