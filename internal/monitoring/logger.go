package monitoring

import (
	"log"
	"sync/atomic"
)

type logFunc func(format string, v ...interface{})

var current atomic.Value

func init() {
	current.Store(logFunc(log.Printf))
}

// Logf is the package-level diagnostic logger. It defaults to log.Printf and
// is redirected by SetLogger. Listener goroutines call it concurrently with
// SetLogger, so the target is swapped atomically.
func Logf(format string, v ...interface{}) {
	current.Load().(logFunc)(format, v...)
}

// SetLogger replaces the package logger. Passing nil mutes it.
func SetLogger(f func(format string, v ...interface{})) {
	if f == nil {
		current.Store(logFunc(func(string, ...interface{}) {}))
		return
	}
	current.Store(logFunc(f))
}

// Tagged returns a logger that prefixes every line with "[tag] ".
func Tagged(tag string) func(format string, v ...interface{}) {
	prefix := "[" + tag + "] "
	return func(format string, v ...interface{}) {
		Logf(prefix+format, v...)
	}
}
