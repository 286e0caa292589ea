// Package monitoring carries the driver's diagnostic logging hook.
package monitoring

import "log"

// Logf is the package-level diagnostic logger. It defaults to log.Printf but
// may be replaced with SetLogger; link health warnings and tick errors go
// through it so embedding applications can redirect them.
var Logf func(format string, v ...interface{}) = log.Printf

// SetLogger replaces the package logger. Passing nil installs a no-op logger.
func SetLogger(f func(format string, v ...interface{})) {
	if f == nil {
		Logf = func(string, ...interface{}) {}
		return
	}
	Logf = f
}

// Mute silences the logger and returns a restore function; intended for
// tests that provoke warnings on purpose.
func Mute() (restore func()) {
	prev := Logf
	SetLogger(nil)
	return func() { Logf = prev }
}
