package logging

import (
	"os"
	"sync/atomic"
)

var global atomic.Pointer[Logger]

func init() {
	global.Store(DefaultLogger())
}

// SetGlobal replaces the process logger. A nil logger is ignored.
func SetGlobal(l *Logger) {
	if l != nil {
		global.Store(l)
	}
}

// Global returns the process logger. Components fall back to it when
// they are not handed a logger explicitly.
func Global() *Logger {
	return global.Load()
}

// Configure builds the process logger from the observability settings and
// installs it as the global logger. Caller info is only added at debug.
func Configure(level, format string) *Logger {
	lvl := ParseLevel(level)
	l := New(Config{
		Level:     lvl,
		Format:    ParseFormat(format),
		Output:    os.Stderr,
		AddCaller: lvl == LevelDebug,
	})
	SetGlobal(l)
	return l
}
