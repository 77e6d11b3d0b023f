package checkout

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrNotInitialized   = errors.New("payments client not initialized")
	ErrAttachInProgress = errors.New("widget attach already in progress")
	ErrUnknownInstance  = errors.New("unknown widget instance")
)

// ConfigurationError reports missing vendor credentials.
type ConfigurationError struct {
	Missing []string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("payments configuration incomplete: missing %s", strings.Join(e.Missing, ", "))
}

// ScriptLoadError wraps a failure to load the vendor library.
type ScriptLoadError struct {
	Err error
}

func (e *ScriptLoadError) Error() string {
	return fmt.Sprintf("failed to load payments SDK: %v", e.Err)
}

func (e *ScriptLoadError) Unwrap() error { return e.Err }

// AttachError reports a widget that could not be mounted.
type AttachError struct {
	ContainerID string
	Reason      string
	Err         error
}

func (e *AttachError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("attach %q: %s: %v", e.ContainerID, e.Reason, e.Err)
	}
	return fmt.Sprintf("attach %q: %s", e.ContainerID, e.Reason)
}

func (e *AttachError) Unwrap() error { return e.Err }

// TokenizationError carries the vendor's user-facing message.
type TokenizationError struct {
	Status  string
	Message string
	Err     error
}

func (e *TokenizationError) Error() string {
	return e.Message
}

func (e *TokenizationError) Unwrap() error { return e.Err }
