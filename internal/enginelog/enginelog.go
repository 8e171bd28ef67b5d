// Package enginelog is the coordinator's leveled logger: a lazy-singleton
// file logger in the same style as the original debug helper it replaces,
// expanded with levels so callers can distinguish routine worker chatter
// from fatal tree-invariant violations.
package enginelog

import (
	"fmt"
	"os"
	"sync"
	"time"
)

// Level orders log severity low to high.
type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
)

func (l Level) String() string {
	switch l {
	case LevelDebug:
		return "DEBUG"
	case LevelInfo:
		return "INFO"
	case LevelWarn:
		return "WARN"
	case LevelError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

var (
	file     *os.File
	fileOnce sync.Once
	mu       sync.Mutex
	minLevel = LevelDebug
)

// SetMinLevel filters out messages below level. The default is LevelDebug
// (everything logged).
func SetMinLevel(level Level) {
	mu.Lock()
	defer mu.Unlock()
	minLevel = level
}

func openFile() {
	file, _ = os.OpenFile("engine.log", os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
}

func write(level Level, format string, args ...any) {
	mu.Lock()
	defer mu.Unlock()
	if level < minLevel {
		return
	}
	fileOnce.Do(openFile)
	if file == nil {
		return
	}
	timestamp := time.Now().Format("2006-01-02 15:04:05")
	fmt.Fprintf(file, "[%s] %s %s\n", timestamp, level, fmt.Sprintf(format, args...))
	_ = file.Sync()
}

// Debug logs a routine, high-volume message (per-worker progress, per-tick
// timer decisions).
func Debug(format string, args ...any) { write(LevelDebug, format, args...) }

// Info logs a notable but expected lifecycle event (download started,
// assembled, worker spawned).
func Info(format string, args ...any) { write(LevelInfo, format, args...) }

// Warn logs a recovered-from condition (segment split refused, reset
// issued after a stall).
func Warn(format string, args ...any) { write(LevelWarn, format, args...) }

// Error logs a tree-invariant violation or other condition a download
// cannot recover from on its own.
func Error(format string, args ...any) { write(LevelError, format, args...) }

// Entry is one line appended to a per-download log buffer (the
// coordinator's LogMessage handling in spec.md §4.3).
type Entry struct {
	Time time.Time
	Text string
}

// Buffer is a bounded ring of recent log entries for one download, kept so
// an external caller can retrieve recent diagnostics without tailing the
// process-wide log file.
type Buffer struct {
	mu      sync.Mutex
	entries []Entry
	max     int
}

// NewBuffer returns a Buffer retaining at most max entries.
func NewBuffer(max int) *Buffer {
	if max <= 0 {
		max = 200
	}
	return &Buffer{max: max}
}

// Append records text, evicting the oldest entry once the buffer is full.
func (b *Buffer) Append(text string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.entries = append(b.entries, Entry{Time: time.Now(), Text: text})
	if len(b.entries) > b.max {
		b.entries = b.entries[len(b.entries)-b.max:]
	}
}

// Entries returns a copy of the currently retained entries, oldest first.
func (b *Buffer) Entries() []Entry {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]Entry, len(b.entries))
	copy(out, b.entries)
	return out
}
