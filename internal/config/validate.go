package config

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"
)

// Validation errors.
var (
	ErrEmptyPluginName    = errors.New("plugin name cannot be empty")
	ErrInvalidPluginName  = errors.New("plugin name contains invalid characters")
	ErrPluginNameTooLong  = errors.New("plugin name exceeds maximum length")
	ErrInvalidLogLevel    = errors.New("log level must be 'debug', 'info', 'warn', or 'error'")
	ErrInvalidDuration    = errors.New("duration must be positive")
	ErrEmptyAddr          = errors.New("listen address cannot be empty")
	ErrInvalidMinLength   = errors.New("analysis_min_length cannot be negative")
	ErrEmptyMarkerElement = errors.New("continuation_markers contains empty element")
)

// MaxPluginNameLength is the maximum plugin name length.
const MaxPluginNameLength = 64

// validPluginNameRegex matches valid plugin names:
// alphanumeric, dash, underscore, dot, no path separators.
var validPluginNameRegex = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9._-]*$`)

var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// ValidationError wraps a validation error with context.
type ValidationError struct {
	Field   string
	Value   string
	Message string
	Err     error
}

func (e *ValidationError) Error() string {
	if e.Value != "" {
		return fmt.Sprintf("%s: %s (got %q)", e.Field, e.Message, e.Value)
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

func (e *ValidationError) Unwrap() error {
	return e.Err
}

// ValidatePluginName validates a plugin name. Plugin names double as
// directory names and settings keys, so path separators are rejected.
func ValidatePluginName(name string) error {
	if name == "" {
		return &ValidationError{
			Field:   "plugin.name",
			Message: "cannot be empty",
			Err:     ErrEmptyPluginName,
		}
	}

	if len(name) > MaxPluginNameLength {
		return &ValidationError{
			Field:   "plugin.name",
			Value:   name,
			Message: fmt.Sprintf("exceeds maximum length of %d characters", MaxPluginNameLength),
			Err:     ErrPluginNameTooLong,
		}
	}

	if !validPluginNameRegex.MatchString(name) {
		return &ValidationError{
			Field:   "plugin.name",
			Value:   name,
			Message: "must start with alphanumeric and contain only alphanumeric, dash, underscore, or dot",
			Err:     ErrInvalidPluginName,
		}
	}

	return nil
}

// ValidateLogLevel validates a log level string.
func ValidateLogLevel(level string) error {
	if !validLogLevels[strings.ToLower(level)] {
		return &ValidationError{
			Field:   "log_level",
			Value:   level,
			Message: "must be one of debug, info, warn, error",
			Err:     ErrInvalidLogLevel,
		}
	}
	return nil
}

// ValidatePositiveDuration validates that d is greater than zero.
func ValidatePositiveDuration(field string, d time.Duration) error {
	if d <= 0 {
		return &ValidationError{
			Field:   field,
			Value:   d.String(),
			Message: "must be greater than zero",
			Err:     ErrInvalidDuration,
		}
	}
	return nil
}

// Validate checks the loaded configuration and reports every problem
// found, joined.
func (c *Config) Validate() error {
	errs := []error{
		ValidateLogLevel(c.LogLevel),
		ValidatePositiveDuration("init_timeout", c.InitTimeout),
		ValidatePositiveDuration("kill_grace", c.KillGrace),
		ValidatePositiveDuration("serve.poll_interval", c.Serve.PollInterval),
	}
	if strings.TrimSpace(c.Serve.Addr) == "" {
		errs = append(errs, &ValidationError{Field: "serve.addr", Message: "cannot be empty", Err: ErrEmptyAddr})
	}
	if n := c.History.AnalysisMinLength; n < 0 {
		errs = append(errs, &ValidationError{
			Field:   "history.analysis_min_length",
			Value:   fmt.Sprint(n),
			Message: "cannot be negative",
			Err:     ErrInvalidMinLength,
		})
	}
	for i, m := range c.History.ContinuationMarkers {
		if strings.TrimSpace(m) == "" {
			errs = append(errs, &ValidationError{
				Field:   fmt.Sprintf("history.continuation_markers[%d]", i),
				Message: "cannot be empty",
				Err:     ErrEmptyMarkerElement,
			})
		}
	}
	return errors.Join(errs...)
}
