// Package errx provides small helpers for attaching sentinel errors to
// underlying causes while keeping both matchable with errors.Is.
package errx

import "fmt"

// Wrap pairs a package sentinel with its underlying cause.
func Wrap(sentinel, cause error) error {
	if cause == nil {
		return sentinel
	}
	return fmt.Errorf("%w: %w", sentinel, cause)
}

// With formats additional context after the sentinel. The format string
// is appended verbatim, so callers usually start it with ": ".
func With(sentinel error, format string, args ...any) error {
	return fmt.Errorf("%w"+format, append([]any{sentinel}, args...)...)
}
