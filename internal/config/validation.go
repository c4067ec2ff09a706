package config

import (
	"fmt"
	"strings"

	"github.com/gobwas/glob"
)

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("config: %s: %s", e.Field, e.Message)
}

// ValidationErrors is a collection of validation errors.
type ValidationErrors []ValidationError

func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return ""
	}
	var msgs []string
	for _, err := range e {
		msgs = append(msgs, err.Error())
	}
	return strings.Join(msgs, "; ")
}

// ValidateConfig performs comprehensive validation of the configuration.
func ValidateConfig(c *Config) error {
	var errs ValidationErrors

	if c.Version < 1 || c.Version > Version {
		errs = append(errs, ValidationError{
			Field:   "version",
			Message: fmt.Sprintf("unsupported version %d (current: %d)", c.Version, Version),
		})
	}

	errs = append(errs, validateBridge(&c.Bridge)...)
	errs = append(errs, validatePreferences(&c.Preferences)...)
	errs = append(errs, validateLogging(&c.Logging)...)
	errs = append(errs, validateJournal(&c.Journal)...)
	errs = append(errs, validateHost(&c.Host)...)

	if len(errs) > 0 {
		return errs
	}
	return nil
}

func validateBridge(b *BridgeConfig) ValidationErrors {
	var errs ValidationErrors

	if b.DebounceMs < 10 || b.DebounceMs > 5000 {
		errs = append(errs, *RangeError("bridge.debounce_ms", 10, 5000))
	}
	if b.ScanDepth < 1 || b.ScanDepth > 64 {
		errs = append(errs, *RangeError("bridge.scan_depth", 1, 64))
	}
	if b.OverlayBlockingRatio < 0 || b.OverlayBlockingRatio > 1 {
		errs = append(errs, *RangeError("bridge.overlay_blocking_ratio", 0, 1))
	}
	if strings.TrimSpace(b.CapabilityKey) == "" {
		errs = append(errs, *RequiredFieldError("bridge.capability_key"))
	}

	patterns := map[string][]string{
		"bridge.ignored_applications": b.IgnoredApplications,
		"bridge.dialog_patterns":      b.DialogPatterns,
		"bridge.editable_patterns":    b.EditablePatterns,
		"bridge.button_patterns":      b.ButtonPatterns,
	}
	for _, field := range []string{
		"bridge.ignored_applications",
		"bridge.dialog_patterns",
		"bridge.editable_patterns",
		"bridge.button_patterns",
	} {
		for i, p := range patterns[field] {
			if !isValidGlobPattern(p) {
				errs = append(errs, ValidationError{
					Field:   fmt.Sprintf("%s[%d]", field, i),
					Message: fmt.Sprintf("invalid glob pattern: %s", p),
				})
			}
		}
	}

	return errs
}

func validatePreferences(p *PreferencesConfig) ValidationErrors {
	var errs ValidationErrors

	seen := make(map[string]bool, len(p.EnabledApps))
	for i, app := range p.EnabledApps {
		if strings.TrimSpace(app) == "" {
			errs = append(errs, ValidationError{
				Field:   fmt.Sprintf("preferences.enabled_app_packages[%d]", i),
				Message: "application identifier cannot be empty",
			})
			continue
		}
		if seen[app] {
			errs = append(errs, ValidationError{
				Field:   fmt.Sprintf("preferences.enabled_app_packages[%d]", i),
				Message: fmt.Sprintf("duplicate application identifier: %s", app),
			})
		}
		seen[app] = true
	}
	for app := range p.DirectTyping {
		if strings.TrimSpace(app) == "" {
			errs = append(errs, ValidationError{
				Field:   "preferences.direct_typing",
				Message: "application identifier cannot be empty",
			})
		}
	}

	return errs
}

func validateLogging(l *LoggingConfig) ValidationErrors {
	var errs ValidationErrors

	switch l.Level {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, ValidationError{
			Field:   "logging.level",
			Message: fmt.Sprintf("invalid log level: %s (valid: debug, info, warn, error)", l.Level),
		})
	}

	switch l.Format {
	case "text", "json":
	default:
		errs = append(errs, ValidationError{
			Field:   "logging.format",
			Message: fmt.Sprintf("invalid log format: %s (valid: text, json)", l.Format),
		})
	}

	switch l.Output {
	case "stdout", "stderr":
	case "file", "both":
		if l.FilePath == "" {
			errs = append(errs, ValidationError{
				Field:   "logging.file_path",
				Message: fmt.Sprintf("file path is required when output is '%s'", l.Output),
			})
		}
	default:
		errs = append(errs, ValidationError{
			Field:   "logging.output",
			Message: fmt.Sprintf("invalid log output: %s (valid: stdout, stderr, file, both)", l.Output),
		})
	}

	if l.MaxSizeMB < 0 {
		errs = append(errs, ValidationError{
			Field:   "logging.max_size_mb",
			Message: "must not be negative",
		})
	}

	return errs
}

func validateJournal(j *JournalConfig) ValidationErrors {
	var errs ValidationErrors

	if j.Enabled && j.Path == "" {
		errs = append(errs, ValidationError{
			Field:   "journal.path",
			Message: "path is required when the journal is enabled",
		})
	}
	if j.RetentionDays < 0 {
		errs = append(errs, ValidationError{
			Field:   "journal.retention_days",
			Message: "must not be negative",
		})
	}

	return errs
}

func validateHost(h *HostConfig) ValidationErrors {
	var errs ValidationErrors

	if h.ScreenWidth <= 0 {
		errs = append(errs, ValidationError{
			Field:   "host.screen_width",
			Message: "must be positive",
		})
	}
	if h.ScreenHeight <= 0 {
		errs = append(errs, ValidationError{
			Field:   "host.screen_height",
			Message: "must be positive",
		})
	}

	return errs
}

func isValidGlobPattern(pattern string) bool {
	if pattern == "" {
		return false
	}
	_, err := glob.Compile(pattern)
	return err == nil
}

// RequiredFieldError creates an error for a missing required field.
func RequiredFieldError(field string) *ValidationError {
	return &ValidationError{
		Field:   field,
		Message: "required field is missing",
	}
}

// RangeError creates an error for a value outside the valid range.
func RangeError(field string, min, max interface{}) *ValidationError {
	return &ValidationError{
		Field:   field,
		Message: fmt.Sprintf("value must be between %v and %v", min, max),
	}
}
