// Package errs defines the error taxonomy shared across the pipeline
// components, so call sites can branch on kind with errors.As instead of
// string matching.
package errs

import "fmt"

// ConfigError marks a configuration validation failure at startup. The
// runner refuses to start and exits 1 when one of these is returned.
type ConfigError struct {
	Reasons []string
}

func (e *ConfigError) Error() string {
	if len(e.Reasons) == 1 {
		return fmt.Sprintf("configuration error: %s", e.Reasons[0])
	}
	return fmt.Sprintf("configuration error: %d problems found: %v", len(e.Reasons), e.Reasons)
}

// RegistryError marks a non-404 response, or a network failure, from a
// schema registry call. 404s are not errors — they're a nil result.
type RegistryError struct {
	EnvID      string
	SchemaID   int32
	StatusCode int
	Body       string
	Cause      error
}

func (e *RegistryError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("registry error: env=%s schemaId=%d: %v", e.EnvID, e.SchemaID, e.Cause)
	}
	return fmt.Sprintf("registry error: env=%s schemaId=%d status=%d body=%s", e.EnvID, e.SchemaID, e.StatusCode, e.Body)
}

func (e *RegistryError) Unwrap() error { return e.Cause }

// PublisherFatalError marks a construction-time failure of the publisher —
// most commonly upfront schema pre-registration against the target
// registry. It is always fatal to startup.
type PublisherFatalError struct {
	Subject string
	Cause   error
}

func (e *PublisherFatalError) Error() string {
	return fmt.Sprintf("publisher fatal error: subject=%s: %v", e.Subject, e.Cause)
}

func (e *PublisherFatalError) Unwrap() error { return e.Cause }

// PublisherTransientError marks a single send failure or timeout. The
// runner logs it, returns false, and leaves the event's dedup key
// unmarked so a later pass can retry.
type PublisherTransientError struct {
	Subject string
	Cause   error
}

func (e *PublisherTransientError) Error() string {
	return fmt.Sprintf("publisher transient error: subject=%s: %v", e.Subject, e.Cause)
}

func (e *PublisherTransientError) Unwrap() error { return e.Cause }
