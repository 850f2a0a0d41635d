// Package ipclog implements the §6 log-formatter contract on top of
// go.uber.org/zap: the line prefix is UPPER(name) left-padded to
// (LogKeyWidth - levelLen) spaces, followed by "[" + zero-padded pid +
// "]: ". gootp's kernel/logger.go hand-rolls an equivalent fixed prefix
// around a process-wide logger actor; we keep the fixed-prefix shape but
// let zap own buffering, level filtering, and encoding.
package ipclog

import (
	"fmt"
	"os"
	"strings"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// LogKeyWidth is the fixed column budget the level+name prefix is padded
// to, per §6.
const LogKeyWidth = 24

var (
	mu      sync.RWMutex
	std     *zap.Logger
	stdOnce sync.Once
)

// Logger is the subset of *zap.Logger the Builder contract (§6) requires:
// debug|info|warn|error|fatal|alert.
type Logger struct {
	name string
}

func newCore(w zapcore.WriteSyncer) zapcore.Core {
	cfg := zap.NewDevelopmentEncoderConfig()
	cfg.TimeKey = ""
	cfg.LevelKey = ""
	cfg.NameKey = ""
	cfg.CallerKey = ""
	return zapcore.NewCore(zapcore.NewConsoleEncoder(cfg), w, zapcore.DebugLevel)
}

func initStd() {
	mu.Lock()
	if std == nil {
		std = zap.New(newCore(zapcore.AddSync(os.Stdout)))
	}
	mu.Unlock()
}

// Named returns a Logger scoped to name (used as the notifier/module key in
// the formatted prefix).
func Named(name string) *Logger {
	stdOnce.Do(initStd)
	return &Logger{name: name}
}

// SetOutput swaps the destination writer, mirroring gootp's Touch(writer).
func SetOutput(w zapcore.WriteSyncer) {
	mu.Lock()
	std = zap.New(newCore(w))
	mu.Unlock()
}

func current() *zap.Logger {
	mu.RLock()
	defer mu.RUnlock()
	return std
}

// formatPrefix implements §6: the level word, then UPPER(name)
// left-padded to (LogKeyWidth - levelLen), then "[" + zero-padded(pid,5)
// + "]: ". levelLen is the actual level word's length, not a fixed
// constant, so the name column starts at a different offset per level
// but always ends at the same fixed column — keeping every level's name
// and "[pid]" aligned against each other.
func formatPrefix(level, name string, pid int) string {
	levelLen := len(level)
	upper := strings.ToUpper(name)
	pad := LogKeyWidth - levelLen - len(upper)
	if pad < 1 {
		pad = 1
	}
	return fmt.Sprintf("%s %s%*s[%05d]: ", level, upper, pad, "", pid)
}

func (l *Logger) line(level string, pid int, format string, args ...interface{}) string {
	return formatPrefix(level, l.name, pid) + fmt.Sprintf(format, args...)
}

func (l *Logger) Debug(pid int, format string, args ...interface{}) {
	stdOnce.Do(initStd)
	current().Debug(l.line("DEBUG", pid, format, args...))
}

func (l *Logger) Info(pid int, format string, args ...interface{}) {
	stdOnce.Do(initStd)
	current().Info(l.line("INFO", pid, format, args...))
}

func (l *Logger) Warn(pid int, format string, args ...interface{}) {
	stdOnce.Do(initStd)
	current().Warn(l.line("WARN", pid, format, args...))
}

func (l *Logger) Error(pid int, format string, args ...interface{}) {
	stdOnce.Do(initStd)
	current().Error(l.line("ERROR", pid, format, args...))
}

func (l *Logger) Fatal(pid int, format string, args ...interface{}) {
	stdOnce.Do(initStd)
	current().Error(l.line("FATAL", pid, format, args...))
}

// Alert is the spec's most severe level; zap has no direct equivalent so it
// is rendered as an Error carrying the "ALERT" level word, the way gootp's
// ErrorLog doubles as its own most-severe call site.
func (l *Logger) Alert(pid int, format string, args ...interface{}) {
	stdOnce.Do(initStd)
	current().Error(l.line("ALERT", pid, format, args...))
}
