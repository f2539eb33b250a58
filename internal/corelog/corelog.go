// Package corelog implements the process-wide log sink Design Notes §9
// calls for ("a process-wide log sink is acceptable but its level must be
// an atomic"), grounded on the teacher's Client.SetLogger pattern
// (pkg/client/client.go): a *log.Logger-shaped destination, defaulting to
// stderr, replaceable wholesale, with discard-by-default for a nil logger.
package corelog

import (
	"io"
	"log"
	"os"
	"sync/atomic"
)

// Level is the atomic log-level gate.
type Level int32

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
)

var (
	sink  atomic.Pointer[log.Logger]
	level atomic.Int32
)

func init() {
	sink.Store(log.New(os.Stderr, "", log.Ldate|log.Ltime))
	level.Store(int32(LevelInfo))
}

// SetLogger replaces the process-wide sink. A nil logger discards output,
// matching Client.SetLogger(nil).
func SetLogger(l *log.Logger) {
	if l == nil {
		l = log.New(io.Discard, "", 0)
	}
	sink.Store(l)
}

// SetLevel atomically updates the minimum level that reaches the sink.
func SetLevel(l Level) { level.Store(int32(l)) }

func enabled(l Level) bool { return int32(l) >= level.Load() }

func logAt(l Level, prefix, format string, args []any) {
	if !enabled(l) {
		return
	}
	sink.Load().Printf(prefix+format, args...)
}

func Debugf(format string, args ...any) { logAt(LevelDebug, "DEBUG ", format, args) }
func Infof(format string, args ...any)  { logAt(LevelInfo, "INFO ", format, args) }
func Warnf(format string, args ...any)  { logAt(LevelWarn, "WARN ", format, args) }
func Errorf(format string, args ...any) { logAt(LevelError, "ERROR ", format, args) }
