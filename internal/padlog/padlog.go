// Package padlog implements the write half of hashd's per-request IO
// workload: a rotating, append-only log file that each request appends
// a padded line to, sized by Params.LogPadding.
//
// Grounded on original_source/rd-hashd/src/logger.rs's Logger: rename
// the live file to its ".old" path once it exceeds a size threshold
// and reopen a fresh one in its place.
package padlog

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// DefaultMaxSize is the rotation threshold used when a caller passes 0.
const DefaultMaxSize = 1 << 30 // 1GiB, matching upstream rd-hashd's --log-size default

// Logger is a rotating append-only writer. Once the live file grows
// past maxSize it is renamed to path+".old" and a fresh file opened in
// its place; a rename or reopen failure disables further writes
// instead of panicking, mirroring the upstream's "disabling" log lines.
type Logger struct {
	mu      sync.Mutex
	path    string
	oldPath string
	maxSize uint64
	file    *os.File
	size    uint64
}

// New opens (creating if necessary) the log file at path for
// appending, rotating into path+".old" once it exceeds maxSize bytes.
func New(path string, maxSize uint64) (*Logger, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, err
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, err
	}
	if maxSize == 0 {
		maxSize = DefaultMaxSize
	}
	return &Logger{
		path:    path,
		oldPath: path + ".old",
		maxSize: maxSize,
		file:    f,
		size:    uint64(info.Size()),
	}, nil
}

// rotate renames the live file aside and opens a fresh one, once size
// has crossed maxSize. Must be called with mu held.
func (l *Logger) rotate() {
	if l.size < l.maxSize || l.file == nil {
		return
	}
	l.file.Close()
	os.Rename(l.path, l.oldPath)

	f, err := os.OpenFile(l.path, os.O_CREATE|os.O_EXCL|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		l.file = nil
		return
	}
	l.file = f
	l.size = 0
}

// Log appends msg, timestamped and padded out to pad bytes of filler —
// the log-padding knob turns this from a diagnostic line into a
// deliberate, sized IO write.
func (l *Logger) Log(msg string, pad uint64) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.rotate()
	if l.file == nil {
		return
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "[%s] %s", time.Now().Format("2006-01-02 15:04:05"), msg)
	if pad > 0 {
		sb.WriteByte(' ')
		sb.WriteString(strings.Repeat("0", int(pad)))
	}
	sb.WriteByte('\n')

	n, err := l.file.WriteString(sb.String())
	if err != nil {
		l.file = nil
		return
	}
	l.size += uint64(n)
}

// Close closes the underlying file.
func (l *Logger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.file == nil {
		return nil
	}
	return l.file.Close()
}
