// Package errs defines the error taxonomy used across the engine: the four
// classes a caller needs to distinguish are InvalidInput, Transient,
// Integrity and Fatal. Components return these wrapped around the
// underlying cause so callers can branch with errors.As without parsing
// strings.
package errs

import "fmt"

// InvalidInput wraps a validator rejection: bad file paths, over-length
// strings, ill-formed post ids/tag names, ill-formed cron expressions.
type InvalidInput struct {
	Field  string
	Reason string
}

func (e *InvalidInput) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("invalid input: %s", e.Reason)
	}
	return fmt.Sprintf("invalid input: %s: %s", e.Field, e.Reason)
}

// Transient wraps network timeouts, connection errors, rate-limit misses
// and database lock contention. Retryable per the executor's retry policy.
type Transient struct {
	Err error
}

func (e *Transient) Error() string { return fmt.Sprintf("transient: %v", e.Err) }
func (e *Transient) Unwrap() error { return e.Err }

// Integrity wraps defects reported by IntegrityCheck: orphaned full-text
// rows, foreign-key violations, content-hash mismatches.
type Integrity struct {
	Reason string
}

func (e *Integrity) Error() string { return fmt.Sprintf("integrity violation: %s", e.Reason) }

// Fatal wraps conditions the caller cannot recover from and must
// terminate on: an absent configuration directory with no fallback, an
// unopenable database file, a corrupt cron expression loaded at startup.
type Fatal struct {
	Err error
}

func (e *Fatal) Error() string { return fmt.Sprintf("fatal: %v", e.Err) }
func (e *Fatal) Unwrap() error { return e.Err }

// NewInvalidInput builds an InvalidInput error.
func NewInvalidInput(field, reason string) error {
	return &InvalidInput{Field: field, Reason: reason}
}

// NewTransient wraps err as Transient. Returns nil if err is nil.
func NewTransient(err error) error {
	if err == nil {
		return nil
	}
	return &Transient{Err: err}
}

// NewFatal wraps err as Fatal. Returns nil if err is nil.
func NewFatal(err error) error {
	if err == nil {
		return nil
	}
	return &Fatal{Err: err}
}
