package desk

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// ErrSessionClosed is returned when appending to a terminal session.
var ErrSessionClosed = errors.New("session is closed")

// ServiceError represents a failed or timed-out completion service call.
type ServiceError struct {
	Agent    string
	Attempts int
	Cause    error
}

func (e *ServiceError) Error() string {
	if e.Attempts > 1 {
		return fmt.Sprintf("service error in agent '%s' after %d attempts: %v", e.Agent, e.Attempts, e.Cause)
	}
	return fmt.Sprintf("service error in agent '%s': %v", e.Agent, e.Cause)
}

func (e *ServiceError) Unwrap() error {
	return e.Cause
}

// Timeout reports whether the call failed because a deadline elapsed.
func (e *ServiceError) Timeout() bool {
	return errors.Is(e.Cause, context.DeadlineExceeded)
}

// NewServiceError creates a new service error.
func NewServiceError(agent string, cause error) *ServiceError {
	return &ServiceError{Agent: agent, Attempts: 1, Cause: cause}
}

// ConfigurationError represents a routing setup that cannot be executed:
// unknown agents, malformed rules, cyclic plans or exhausted hop bounds.
type ConfigurationError struct {
	Reason  string
	Details map[string]any
}

func (e *ConfigurationError) Error() string {
	if len(e.Details) > 0 {
		return fmt.Sprintf("configuration error: %s (details: %v)", e.Reason, e.Details)
	}
	return fmt.Sprintf("configuration error: %s", e.Reason)
}

// NewConfigurationError creates a new configuration error.
func NewConfigurationError(reason string, details map[string]any) *ConfigurationError {
	return &ConfigurationError{Reason: reason, Details: details}
}

// IsConfigurationError reports whether err wraps a *ConfigurationError.
func IsConfigurationError(err error) bool {
	var cfgErr *ConfigurationError
	return errors.As(err, &cfgErr)
}

// PartialFailure describes a fan-out where some agents did not respond.
// It is informational: the session still completes.
type PartialFailure struct {
	Expected  int
	Responded int
	Missing   []string
}

func (e *PartialFailure) Error() string {
	return fmt.Sprintf("partial failure: %d/%d agents responded (missing: %s)",
		e.Responded, e.Expected, strings.Join(e.Missing, ", "))
}
