package config

import (
	"fmt"
	"slices"
	"strings"
)

// ValidationError represents a single validation failure
type ValidationError struct {
	Field   string // The config field path (e.g., "compression.max_input_tokens")
	Value   any    // The invalid value
	Message string // Human-readable error description
}

// Error implements the error interface for ValidationError
func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s (got: %v)", e.Field, e.Message, e.Value)
}

// ValidationErrors is a collection of validation errors
type ValidationErrors []ValidationError

// Error implements the error interface for ValidationErrors
func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return ""
	}
	if len(e) == 1 {
		return e[0].Error()
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("%d validation errors:\n", len(e)))
	for i, err := range e {
		sb.WriteString(fmt.Sprintf("  %d. %s\n", i+1, err.Error()))
	}
	return sb.String()
}

// ValidLogLevels returns the list of valid log levels
func ValidLogLevels() []string {
	return []string{"debug", "info", "warn", "error"}
}

// Validate checks the Config for invalid values and returns all validation
// errors found
func (c *Config) Validate() []ValidationError {
	var errors []ValidationError
	errors = append(errors, c.validateCompression()...)
	errors = append(errors, c.validateGenerator()...)
	errors = append(errors, c.validateLoop()...)
	errors = append(errors, c.validateDashboard()...)
	errors = append(errors, c.validateTrace()...)
	errors = append(errors, c.validateLogging()...)
	return errors
}

func (c *Config) validateCompression() []ValidationError {
	var errors []ValidationError
	if c.Compression.MaxInputTokens < 1 {
		errors = append(errors, ValidationError{
			Field:   "compression.max_input_tokens",
			Value:   c.Compression.MaxInputTokens,
			Message: "must be at least 1",
		})
	}
	if c.Compression.TargetChunkTokens < 1 {
		errors = append(errors, ValidationError{
			Field:   "compression.target_chunk_tokens",
			Value:   c.Compression.TargetChunkTokens,
			Message: "must be at least 1",
		})
	}
	if c.Compression.TargetTotalTokens < 1 {
		errors = append(errors, ValidationError{
			Field:   "compression.target_total_tokens",
			Value:   c.Compression.TargetTotalTokens,
			Message: "must be at least 1",
		})
	}
	if c.Compression.MaxFileBytes < 0 {
		errors = append(errors, ValidationError{
			Field:   "compression.max_file_bytes",
			Value:   c.Compression.MaxFileBytes,
			Message: "must not be negative",
		})
	}
	return errors
}

func (c *Config) validateGenerator() []ValidationError {
	var errors []ValidationError
	if c.Generator.BaseURL == "" {
		errors = append(errors, ValidationError{
			Field:   "generator.base_url",
			Value:   c.Generator.BaseURL,
			Message: "must not be empty",
		})
	}
	if c.Generator.Temperature < 0 || c.Generator.Temperature > 2 {
		errors = append(errors, ValidationError{
			Field:   "generator.temperature",
			Value:   c.Generator.Temperature,
			Message: "must be between 0 and 2",
		})
	}
	if c.Generator.TimeoutSeconds < 1 {
		errors = append(errors, ValidationError{
			Field:   "generator.timeout_seconds",
			Value:   c.Generator.TimeoutSeconds,
			Message: "must be at least 1",
		})
	}
	return errors
}

func (c *Config) validateLoop() []ValidationError {
	var errors []ValidationError
	if c.Loop.PollIntervalSeconds < 1 {
		errors = append(errors, ValidationError{
			Field:   "loop.poll_interval_seconds",
			Value:   c.Loop.PollIntervalSeconds,
			Message: "must be at least 1",
		})
	}
	if c.Loop.MaxIterations < 0 {
		errors = append(errors, ValidationError{
			Field:   "loop.max_iterations",
			Value:   c.Loop.MaxIterations,
			Message: "must not be negative (0 means unbounded)",
		})
	}
	return errors
}

func (c *Config) validateDashboard() []ValidationError {
	var errors []ValidationError
	if c.Dashboard.Port < 0 || c.Dashboard.Port > 65535 {
		errors = append(errors, ValidationError{
			Field:   "dashboard.port",
			Value:   c.Dashboard.Port,
			Message: "must be a valid TCP port",
		})
	}
	if c.Dashboard.HeartbeatSeconds < 1 {
		errors = append(errors, ValidationError{
			Field:   "dashboard.heartbeat_seconds",
			Value:   c.Dashboard.HeartbeatSeconds,
			Message: "must be at least 1",
		})
	}
	return errors
}

func (c *Config) validateTrace() []ValidationError {
	var errors []ValidationError
	if c.Trace.MaxEvents < 1 {
		errors = append(errors, ValidationError{
			Field:   "trace.max_events",
			Value:   c.Trace.MaxEvents,
			Message: "must be at least 1",
		})
	}
	return errors
}

func (c *Config) validateLogging() []ValidationError {
	var errors []ValidationError
	if c.Logging.Level != "" && !slices.Contains(ValidLogLevels(), strings.ToLower(c.Logging.Level)) {
		errors = append(errors, ValidationError{
			Field:   "logging.level",
			Value:   c.Logging.Level,
			Message: fmt.Sprintf("must be one of: %s", strings.Join(ValidLogLevels(), ", ")),
		})
	}
	if c.Logging.MaxSizeMB < 0 {
		errors = append(errors, ValidationError{
			Field:   "logging.max_size_mb",
			Value:   c.Logging.MaxSizeMB,
			Message: "must not be negative",
		})
	}
	if c.Logging.MaxBackups < 0 {
		errors = append(errors, ValidationError{
			Field:   "logging.max_backups",
			Value:   c.Logging.MaxBackups,
			Message: "must not be negative",
		})
	}
	return errors
}
