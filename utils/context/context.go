// Package context re-exports the standard context types under the short
// names used throughout the relay, so call sites read `context.T` the same
// way they read `event.E` or `filter.F`.
package context

import "context"

// T is a context.Context.
type T = context.Context

// F is a cancellation function as returned by context.WithCancel.
type F = context.CancelFunc

// Bg returns a background context.
func Bg() T { return context.Background() }

// Cancellable returns a new cancellable context derived from parent.
func Cancellable(parent T) (T, F) { return context.WithCancel(parent) }
