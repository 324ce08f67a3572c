package topology

import (
	"errors"
	"fmt"
)

// Configuration error codes (E200-E299).
const (
	ErrCodeUnknownChannel   = "E201" // channel not present in any pin group
	ErrCodeDuplicateChannel = "E202" // channel listed twice
	ErrCodeLengthMismatch   = "E203" // paired lists of different length
	ErrCodeMissingKey       = "E204" // required recipe or settings key absent
	ErrCodeGroupSize        = "E205" // group empty, >64 channels, or shared word overflow
	ErrCodeVoltageEnvelope  = "E206" // voltage outside the safe envelope
	ErrCodeInvalidValue     = "E207" // malformed value (negative duration, zero step, ...)
)

// ConfigError reports a configuration problem detected before any hardware
// state is changed. Fixing the configuration fully recovers from it.
type ConfigError struct {
	Code    string `json:"code"`
	Field   string `json:"field,omitempty"`
	Message string `json:"message"`
}

// Error implements the error interface.
func (e *ConfigError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("[%s] %s: %s", e.Code, e.Field, e.Message)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// NewConfigError creates a ConfigError with a formatted message.
func NewConfigError(code, field, format string, args ...any) *ConfigError {
	return &ConfigError{Code: code, Field: field, Message: fmt.Sprintf(format, args...)}
}

// IsConfigError reports whether err is or wraps a *ConfigError.
func IsConfigError(err error) bool {
	var ce *ConfigError
	return errors.As(err, &ce)
}

// ConfigErrorCode returns the code of the wrapped *ConfigError, or "".
func ConfigErrorCode(err error) string {
	var ce *ConfigError
	if errors.As(err, &ce) {
		return ce.Code
	}
	return ""
}
