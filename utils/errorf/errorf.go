// Package errorf builds formatted errors with the same Printf verbs used
// throughout the relay's logging, so error construction and logging share
// one formatting convention.
package errorf

import "fmt"

// E formats an error message, equivalent to fmt.Errorf without needing a
// %w-capable wrapper at most call sites.
func E(format string, args ...any) error { return fmt.Errorf(format, args...) }

// W formats an error and marks it as produced by a warning-level condition.
// It is a plain error value; the distinction is conventional (call sites
// that use W are reporting something recoverable).
func W(format string, args ...any) error { return fmt.Errorf(format, args...) }

// D formats an error produced by a data/decode-level condition.
func D(format string, args ...any) error { return fmt.Errorf(format, args...) }
