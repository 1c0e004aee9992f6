package apperrors

import (
	"errors"
	"fmt"
)

var (
	ErrSourceNotFound   = errors.New("source not found")
	ErrSourceDisabled   = errors.New("source disabled")
	ErrConflict         = errors.New("conflict")
	ErrStoreUnavailable = errors.New("store unavailable")
)

// ConnectorError is returned when a connector exhausts its retries.
// It carries the last underlying cause.
type ConnectorError struct {
	Source string
	Cause  error
}

func (e *ConnectorError) Error() string {
	return fmt.Sprintf("connector %s: fetch failed: %v", e.Source, e.Cause)
}

func (e *ConnectorError) Unwrap() error { return e.Cause }

// SchemaError is returned by the silver transform when a required
// canonical column is entirely absent from a batch. Not retried.
type SchemaError struct {
	Source string
	Column string
}

func (e *SchemaError) Error() string {
	return fmt.Sprintf("source %s: required column %q missing", e.Source, e.Column)
}

// HarmonizationError is reserved for structurally invalid input.
// Unmapped codes degrade to sentinels and never produce this error.
type HarmonizationError struct {
	Source string
	Reason string
}

func (e *HarmonizationError) Error() string {
	return fmt.Sprintf("source %s: harmonization failed: %s", e.Source, e.Reason)
}

// LoadError is returned by a loader. Fatal errors (connectivity loss)
// abort the run; per-record violations are logged and skipped upstream.
type LoadError struct {
	Store string // "postgres" or "neo4j"
	Fatal bool
	Cause error
}

func (e *LoadError) Error() string {
	return fmt.Sprintf("load to %s failed: %v", e.Store, e.Cause)
}

func (e *LoadError) Unwrap() error { return e.Cause }

// ConfigError indicates malformed or missing source configuration.
// Fatal at startup.
type ConfigError struct {
	Key    string
	Reason string
}

func (e *ConfigError) Error() string {
	if e.Key == "" {
		return fmt.Sprintf("invalid configuration: %s", e.Reason)
	}
	return fmt.Sprintf("invalid configuration for source %q: %s", e.Key, e.Reason)
}

// IsFatal reports whether err should abort an entire run rather than
// fail a single source.
func IsFatal(err error) bool {
	var le *LoadError
	if errors.As(err, &le) {
		return le.Fatal
	}
	var ce *ConfigError
	return errors.As(err, &ce) || errors.Is(err, ErrStoreUnavailable)
}
