package core

import (
	"errors"
	"fmt"
)

// ErrNotFound is returned when a package is not found.
var ErrNotFound = errors.New("not found")

// ErrUpstreamDown is returned when a registry is considered unavailable.
var ErrUpstreamDown = errors.New("upstream registry unavailable")

// ConfigurationError reports a bad transport or TLS setup. It is never retried.
type ConfigurationError struct {
	Op   string
	Path string
	Err  error
}

func (e *ConfigurationError) Error() string {
	if e.Path != "" {
		return fmt.Sprintf("configuration: %s %s: %v", e.Op, e.Path, e.Err)
	}
	return fmt.Sprintf("configuration: %s: %v", e.Op, e.Err)
}

func (e *ConfigurationError) Unwrap() error {
	return e.Err
}

// RegistryError represents a non-2xx registry response.
type RegistryError struct {
	Source      string
	URL         string
	StatusCode  int
	Body        string
	RateLimited bool
	Attempts    int
}

func (e *RegistryError) Error() string {
	if e.RateLimited {
		return fmt.Sprintf("%s: HTTP %d (rate limited): %s", e.Source, e.StatusCode, e.URL)
	}
	return fmt.Sprintf("%s: HTTP %d: %s", e.Source, e.StatusCode, e.URL)
}

// IsNotFound returns true if the error represents a 404 response.
func (e *RegistryError) IsNotFound() bool {
	return e.StatusCode == 404
}

// Retryable reports whether the status is worth another attempt.
func (e *RegistryError) Retryable() bool {
	return e.StatusCode >= 500 && !e.RateLimited
}

func (e *RegistryError) Is(target error) bool {
	return target == ErrNotFound && e.IsNotFound()
}

// ResolveError reports a network, timeout or other non-status fault.
type ResolveError struct {
	URL      string
	Timeout  bool
	Attempts int
	Err      error
}

func (e *ResolveError) Error() string {
	if e.Timeout {
		return fmt.Sprintf("timeout fetching %s: %v", e.URL, e.Err)
	}
	return fmt.Sprintf("fetching %s: %v", e.URL, e.Err)
}

func (e *ResolveError) Unwrap() error {
	return e.Err
}

// IsConfiguration reports whether err is a ConfigurationError.
func IsConfiguration(err error) bool {
	var ce *ConfigurationError
	return errors.As(err, &ce)
}
