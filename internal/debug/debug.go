package debug

import (
	"sync"
	"time"

	"github.com/rs/zerolog"
)

var (
	mu     sync.RWMutex
	logger = zerolog.Nop()
)

// SetLogger routes debug output to the given logger
func SetLogger(l zerolog.Logger) {
	mu.Lock()
	defer mu.Unlock()
	logger = l
}

func current() zerolog.Logger {
	mu.RLock()
	defer mu.RUnlock()
	return logger
}

// DebugHeader marks the start of a debug section if debugging is enabled
func DebugHeader(enabled bool) {
	if enabled {
		l := current()
		l.Debug().Msg("=== DEBUG START ===")
	}
}

// DebugFooter marks the end of a debug section if debugging is enabled
func DebugFooter(enabled bool) {
	if enabled {
		l := current()
		l.Debug().Msg("=== DEBUG END ===")
	}
}

// DebugOutput logs a formatted debug line if debugging is enabled
func DebugOutput(enabled bool, format string, args ...interface{}) {
	if enabled {
		l := current()
		l.Debug().Msgf(format, args...)
	}
}

// DebugTiming measures and logs execution time if debugging is enabled
func DebugTiming(enabled bool, operation string) func() {
	if !enabled {
		return func() {}
	}

	start := time.Now()
	l := current()
	l.Debug().Str("operation", operation).Msg("starting")

	return func() {
		l.Debug().Str("operation", operation).Dur("took", time.Since(start)).Msg("completed")
	}
}
