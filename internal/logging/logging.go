// Package logging provides leveled logging for pgslice.
//
// Messages are written to stderr so that generated SQL on stdout can be
// piped straight into psql. Two formats are supported: a human readable
// text format ("2006-01-02 15:04:05 [INFO] message") and a JSON format
// with ts, level and msg fields.
package logging

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

// Level is a logging severity.
type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
)

// String returns the upper-case level name.
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

func (l Level) logrus() logrus.Level {
	switch l {
	case LevelDebug:
		return logrus.DebugLevel
	case LevelWarn:
		return logrus.WarnLevel
	case LevelError:
		return logrus.ErrorLevel
	default:
		return logrus.InfoLevel
	}
}

func fromLogrus(l logrus.Level) Level {
	switch l {
	case logrus.DebugLevel, logrus.TraceLevel:
		return LevelDebug
	case logrus.WarnLevel:
		return LevelWarn
	case logrus.ErrorLevel, logrus.FatalLevel, logrus.PanicLevel:
		return LevelError
	default:
		return LevelInfo
	}
}

// ParseLevel parses a level name, case-insensitively.
// Surrounding whitespace is not accepted.
func ParseLevel(s string) (Level, error) {
	switch strings.ToLower(s) {
	case "debug":
		return LevelDebug, nil
	case "info":
		return LevelInfo, nil
	case "warn", "warning":
		return LevelWarn, nil
	case "error":
		return LevelError, nil
	}
	return LevelInfo, fmt.Errorf("invalid log level %q (valid: debug, info, warn, error)", s)
}

var std = newLogger()

func newLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(os.Stderr)
	l.SetFormatter(&textFormatter{})
	l.SetLevel(logrus.InfoLevel)
	return l
}

// SetLevel sets the minimum level that is emitted.
func SetLevel(level Level) {
	std.SetLevel(level.logrus())
}

// GetLevel returns the current minimum level.
func GetLevel() Level {
	return fromLogrus(std.GetLevel())
}

// SetOutput redirects log output. A nil writer restores stderr.
func SetOutput(w io.Writer) {
	if w == nil {
		w = os.Stderr
	}
	std.SetOutput(w)
}

// SetFormat selects "json" or "text" output. Anything else means text.
func SetFormat(format string) {
	if strings.EqualFold(format, "json") {
		std.SetFormatter(&jsonFormatter{})
		return
	}
	std.SetFormatter(&textFormatter{})
}

// Debug logs a debug message.
func Debug(format string, args ...interface{}) {
	std.Debugf(format, args...)
}

// Info logs an informational message.
func Info(format string, args ...interface{}) {
	std.Infof(format, args...)
}

// Warn logs a warning.
func Warn(format string, args ...interface{}) {
	std.Warnf(format, args...)
}

// Error logs an error.
func Error(format string, args ...interface{}) {
	std.Errorf(format, args...)
}

type textFormatter struct{}

func (f *textFormatter) Format(e *logrus.Entry) ([]byte, error) {
	var b bytes.Buffer
	b.WriteString(e.Time.Format("2006-01-02 15:04:05"))
	b.WriteString(" [")
	b.WriteString(fromLogrus(e.Level).String())
	b.WriteString("] ")
	b.WriteString(e.Message)
	b.WriteByte('\n')
	return b.Bytes(), nil
}

type jsonFormatter struct{}

func (f *jsonFormatter) Format(e *logrus.Entry) ([]byte, error) {
	entry := map[string]interface{}{
		"ts":    e.Time.UTC().Format(time.RFC3339Nano),
		"level": strings.ToLower(fromLogrus(e.Level).String()),
		"msg":   e.Message,
	}
	for k, v := range e.Data {
		entry[k] = v
	}
	out, err := json.Marshal(entry)
	if err != nil {
		return nil, err
	}
	return append(out, '\n'), nil
}
