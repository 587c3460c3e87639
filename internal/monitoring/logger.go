// Package monitoring carries the swappable diagnostic logger used by the
// sampling loop and the sensor adapters. High-rate paths log through Logf
// so callers can redirect or mute diagnostics without touching the global
// log output.
package monitoring

import "log"

// Logf is the package-level diagnostic logger. It defaults to log.Printf
// and may be replaced by SetLogger.
var Logf func(format string, v ...interface{}) = log.Printf

// SetLogger replaces the package logger. A nil f installs a no-op logger.
func SetLogger(f func(format string, v ...interface{})) {
	if f == nil {
		Logf = func(string, ...interface{}) {}
		return
	}
	Logf = f
}
