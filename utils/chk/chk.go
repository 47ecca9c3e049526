// Package chk provides the relay's error-checking idiom: `if err = ...;
// chk.E(err) { return }` logs the error at the appropriate level and
// reports whether one occurred, so callers fold the check and the log
// statement into the same line instead of repeating both at every call
// site.
package chk

import (
	"nightjar.dev/utils/log"
)

// E logs err at error level and returns true if err is non-nil.
func E(err error) bool {
	if err == nil {
		return false
	}
	log.E.F(err.Error())
	return true
}

// T logs err at trace level and returns true if err is non-nil. Used where
// the failure is routine (e.g. a lookup miss) and shouldn't alarm an
// operator watching the error log.
func T(err error) bool {
	if err == nil {
		return false
	}
	log.T.F(err.Error())
	return true
}

// D logs err at debug level and returns true if err is non-nil.
func D(err error) bool {
	if err == nil {
		return false
	}
	log.D.F(err.Error())
	return true
}

// W logs err at warn level and returns true if err is non-nil.
func W(err error) bool {
	if err == nil {
		return false
	}
	log.W.F(err.Error())
	return true
}
