// Package logging provides leveled, component-scoped logging for pagedock.
// Every component writes through one shared sink so lines from different
// subsystems interleave in order. The sink is stderr by default; Configure
// can redirect it to a per-run file named with the run id.
package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

var (
	// runID identifies this process run; it names the log file when file
	// logging is enabled
	runID     string
	runIDOnce sync.Once

	sinkMu sync.Mutex
	sink   io.Writer = os.Stderr

	debugEnabled atomic.Bool
)

// RunID returns the identifier for this process run.
func RunID() string {
	runIDOnce.Do(func() {
		runID = uuid.New().String()
	})
	return runID
}

// Configure sets the debug flag and, when dir is non-empty, redirects all
// loggers to a per-run file under dir. If the directory or file cannot be
// prepared the stderr sink stays in place and the error is returned so the
// caller can mention the fallback.
func Configure(dir string, debug bool) error {
	debugEnabled.Store(debug)
	if dir == "" {
		return nil
	}

	if err := os.MkdirAll(dir, 0750); err != nil {
		return fmt.Errorf("failed to create log directory: %w", err)
	}

	path := filepath.Join(dir, fmt.Sprintf("%s-pagedock.log", RunID()))
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0600)
	if err != nil {
		return fmt.Errorf("failed to open log file: %w", err)
	}

	sinkMu.Lock()
	sink = file
	sinkMu.Unlock()
	return nil
}

// SetOutput redirects all loggers to w. Tests use this to capture output.
func SetOutput(w io.Writer) {
	sinkMu.Lock()
	sink = w
	sinkMu.Unlock()
}

// Logger writes structured log lines for a single component.
type Logger struct {
	component string
}

// NewLogger creates a logger for a specific component.
func NewLogger(component string) *Logger {
	return &Logger{component: component}
}

// formatLogEntry creates a log entry with timestamp, component, and level
func (l *Logger) formatLogEntry(level, message string) string {
	timestamp := time.Now().Format("2006-01-02 15:04:05.000")
	return fmt.Sprintf("[%s] [%s] [%s] %s", timestamp, l.component, level, message)
}

func (l *Logger) write(level, format string, v ...interface{}) {
	message := fmt.Sprintf(format, v...)
	entry := l.formatLogEntry(level, message)

	sinkMu.Lock()
	defer sinkMu.Unlock()
	fmt.Fprintln(sink, entry)
}

// Debugf logs a debug-level message. Dropped unless debug logging is on.
func (l *Logger) Debugf(format string, v ...interface{}) {
	if !debugEnabled.Load() {
		return
	}
	l.write("DEBUG", format, v...)
}

// Infof logs an info-level message.
func (l *Logger) Infof(format string, v ...interface{}) {
	l.write("INFO", format, v...)
}

// Warnf logs a warning-level message.
func (l *Logger) Warnf(format string, v ...interface{}) {
	l.write("WARN", format, v...)
}

// Errorf logs an error-level message.
func (l *Logger) Errorf(format string, v ...interface{}) {
	l.write("ERROR", format, v...)
}
