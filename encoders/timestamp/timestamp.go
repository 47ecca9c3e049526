// Package timestamp is a thin wrapper around a signed Unix-seconds value,
// giving created_at its own type so filter ranges and event fields can't be
// confused with arbitrary int64s.
package timestamp

import (
	"strconv"
	"time"
)

// T is a Unix-seconds timestamp.
type T struct{ V int64 }

// New wraps an int64 unix timestamp.
func New(v int64) *T { return &T{V: v} }

// Now returns the current time as a T.
func Now() *T { return &T{V: time.Now().Unix()} }

// I64 returns the timestamp as an int64.
func (t *T) I64() int64 {
	if t == nil {
		return 0
	}
	return t.V
}

// Time returns the timestamp as a time.Time.
func (t *T) Time() time.Time { return time.Unix(t.I64(), 0).UTC() }

// Marshal appends the decimal rendering of the timestamp to dst.
func (t *T) Marshal(dst []byte) []byte {
	return strconv.AppendInt(dst, t.I64(), 10)
}
