// Package monitoring holds the capture pipeline's diagnostic logger and its
// Prometheus metrics.
package monitoring

import "log"

// Logf receives packet echo and sink diagnostics. Tests swap it with
// SetLogger to capture or silence the per-packet console output.
var Logf func(format string, v ...interface{}) = log.Printf

// SetLogger installs f as Logf. A nil f discards everything.
func SetLogger(f func(format string, v ...interface{})) {
	if f == nil {
		f = func(string, ...interface{}) {}
	}
	Logf = f
}

// Component returns a logger that tags each line with "[name] " and forwards
// to whatever Logf is at call time.
func Component(name string) func(format string, v ...interface{}) {
	prefix := "[" + name + "] "
	return func(format string, v ...interface{}) {
		Logf(prefix+format, v...)
	}
}
