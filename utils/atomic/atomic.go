// Package atomic adds a couple of convenience types on top of
// go.uber.org/atomic for fields that are read far more often than written
// (a session's remote address, a session's closing flag).
package atomic

import "go.uber.org/atomic"

// String is an atomically-updated string.
type String struct{ v atomic.String }

// Store sets the value.
func (s *String) Store(v string) { s.v.Store(v) }

// Load returns the current value.
func (s *String) Load() string { return s.v.Load() }

// Bool is an atomically-updated bool.
type Bool struct{ v atomic.Bool }

// Store sets the value.
func (b *Bool) Store(v bool) { b.v.Store(v) }

// Load returns the current value.
func (b *Bool) Load() bool { return b.v.Load() }

// CAS performs a compare-and-swap.
func (b *Bool) CAS(old, new bool) bool { return b.v.CompareAndSwap(old, new) }

// Bytes is an atomically-updated byte slice, for fields such as a
// session's authenticated pubkey or pending AUTH challenge that are set
// once by one goroutine and read by others.
type Bytes struct{ v atomic.Value }

// Store sets the value. A nil v is stored as an empty, non-nil slice so
// Load never has to distinguish "unset" from "nil".
func (b *Bytes) Store(v []byte) {
	if v == nil {
		v = []byte{}
	}
	b.v.Store(v)
}

// Load returns the current value, or nil if Store was never called.
func (b *Bytes) Load() []byte {
	v := b.v.Load()
	if v == nil {
		return nil
	}
	return v.([]byte)
}
