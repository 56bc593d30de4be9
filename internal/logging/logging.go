// Package logging provides the process log sink: leveled JSON lines on a
// single writer. The MCP wire protocol owns stdout, so the default sink is
// stderr. Callers are expected to pass fields that have already been
// through the sanitizer's redaction.
package logging

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"
)

// Level is a log severity.
type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
)

// String returns the lowercase level name.
func (l Level) String() string {
	switch l {
	case LevelDebug:
		return "debug"
	case LevelInfo:
		return "info"
	case LevelWarn:
		return "warn"
	case LevelError:
		return "error"
	}
	return fmt.Sprintf("level(%d)", int(l))
}

// ParseLevel maps a config string to a Level. Unknown values mean info.
func ParseLevel(s string) Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return LevelDebug
	case "warn", "warning":
		return LevelWarn
	case "error":
		return LevelError
	default:
		return LevelInfo
	}
}

// Logger writes one JSON object per record. Safe for concurrent use.
type Logger struct {
	mu  sync.Mutex
	out io.Writer
	min Level
}

// New creates a Logger writing records at or above min to out.
func New(out io.Writer, min Level) *Logger {
	if out == nil {
		out = os.Stderr
	}
	return &Logger{out: out, min: min}
}

// Default returns a stderr logger at info level.
func Default() *Logger {
	return New(os.Stderr, LevelInfo)
}

func (l *Logger) Debug(msg string, fields map[string]any) { l.write(LevelDebug, msg, fields) }
func (l *Logger) Info(msg string, fields map[string]any)  { l.write(LevelInfo, msg, fields) }
func (l *Logger) Warn(msg string, fields map[string]any)  { l.write(LevelWarn, msg, fields) }
func (l *Logger) Error(msg string, fields map[string]any) { l.write(LevelError, msg, fields) }

func (l *Logger) write(level Level, msg string, fields map[string]any) {
	if level < l.min {
		return
	}

	record := make(map[string]any, len(fields)+3)
	for k, v := range fields {
		record[k] = v
	}
	record["time"] = time.Now().Format(time.RFC3339Nano)
	record["level"] = level.String()
	record["msg"] = msg

	line, err := json.Marshal(record)
	if err != nil {
		// Unmarshalable field values degrade to their string form.
		line = []byte(fmt.Sprintf(`{"time":%q,"level":%q,"msg":%q,"marshal_error":%q}`,
			record["time"], level.String(), msg, err.Error()))
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	l.out.Write(append(line, '\n'))
}
