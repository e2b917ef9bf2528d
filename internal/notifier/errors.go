package notifier

import (
	"errors"
	"net/http"
)

var (
	// ErrInvalidConfig matches every *ConfigError.
	ErrInvalidConfig = errors.New("invalid notifier config")
	// ErrDeliveryTestFailed is returned by SetConfig when the test message
	// could not be delivered with the new credentials.
	ErrDeliveryTestFailed = errors.New("test message delivery failed")
)

// ConfigError reports a missing alert credential. The stored config is
// left untouched when it is returned.
type ConfigError struct {
	Field string
}

func (e *ConfigError) Error() string { return e.Field + " is required" }

func (e *ConfigError) Is(target error) bool { return target == ErrInvalidConfig }

func (e *ConfigError) StatusCode() int { return http.StatusBadRequest }
