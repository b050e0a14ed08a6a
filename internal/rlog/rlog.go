// Package rlog provides the elapsed-time-prefixed progress logger shared
// by rd-agent, rd-hashd and resctl-bench.
package rlog

import (
	"fmt"
	"os"
	"sync"
	"time"
)

// Logger reports status lines to stderr, each prefixed with the time
// elapsed since the logger was created and, once set, the component tag.
type Logger struct {
	mu      sync.Mutex
	enabled bool
	start   time.Time
	tag     string
}

// New creates a Logger. Set enabled=false for --quiet/non-interactive
// use; messages are then dropped cheaply rather than buffered.
func New(tag string, enabled bool) *Logger {
	return &Logger{enabled: enabled, start: time.Now(), tag: tag}
}

// Log prints a formatted message if the logger is enabled.
func (l *Logger) Log(format string, args ...interface{}) {
	if !l.enabled {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	elapsed := time.Since(l.start).Round(time.Millisecond)
	msg := fmt.Sprintf(format, args...)
	if l.tag != "" {
		fmt.Fprintf(os.Stderr, "[%s] %s: %s\n", elapsed, l.tag, msg)
	} else {
		fmt.Fprintf(os.Stderr, "[%s] %s\n", elapsed, msg)
	}
}

// Warn is Log with a "WARN" marker; warnings are never suppressed by
// the enabled flag since they indicate a condition worth surfacing
// even in quiet mode.
func (l *Logger) Warn(format string, args ...interface{}) {
	l.mu.Lock()
	defer l.mu.Unlock()
	elapsed := time.Since(l.start).Round(time.Millisecond)
	msg := fmt.Sprintf(format, args...)
	fmt.Fprintf(os.Stderr, "[%s] WARN %s: %s\n", elapsed, l.tag, msg)
}

// Errorf formats and returns an error without logging it; kept beside
// Log/Warn so call sites read uniformly (rl.Log(...) / rl.Errorf(...)).
func Errorf(format string, args ...interface{}) error {
	return fmt.Errorf(format, args...)
}
