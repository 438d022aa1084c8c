package logger

import (
	"io"
	"os"
	"strings"

	"github.com/rs/zerolog"
)

type Level string

const (
	INFO  Level = "INFO"
	WARN  Level = "WARN"
	ERROR Level = "ERROR"
	DEBUG Level = "DEBUG"
)

// Logger writes one JSON object per line. Extra arguments are read as
// alternating key/value pairs: log.Info("user signed in", "user_id", id).
type Logger struct {
	zl zerolog.Logger
}

func New() *Logger {
	return NewWithWriter(os.Stdout, Level(strings.ToUpper(os.Getenv("LOG_LEVEL"))))
}

func NewWithWriter(w io.Writer, level Level) *Logger {
	zl := zerolog.New(w).With().Timestamp().Logger().Level(toZerolog(level))
	return &Logger{zl: zl}
}

// Nop discards everything. Handy for tests.
func Nop() *Logger {
	return &Logger{zl: zerolog.Nop()}
}

// With returns a child logger that always carries the given fields.
func (l *Logger) With(args ...interface{}) *Logger {
	ctx := l.zl.With()
	for i := 0; i < len(args)-1; i += 2 {
		if key, ok := args[i].(string); ok {
			ctx = ctx.Interface(key, args[i+1])
		}
	}
	return &Logger{zl: ctx.Logger()}
}

func (l *Logger) log(ev *zerolog.Event, msg string, args ...interface{}) {
	if ev == nil {
		return
	}
	for i := 0; i < len(args)-1; i += 2 {
		key, ok := args[i].(string)
		if !ok {
			continue
		}
		if err, isErr := args[i+1].(error); isErr {
			ev = ev.AnErr(key, err)
			continue
		}
		ev = ev.Interface(key, args[i+1])
	}
	ev.Msg(msg)
}

func (l *Logger) Info(msg string, args ...interface{}) {
	l.log(l.zl.Info(), msg, args...)
}

func (l *Logger) Warn(msg string, args ...interface{}) {
	l.log(l.zl.Warn(), msg, args...)
}

func (l *Logger) Error(msg string, args ...interface{}) {
	l.log(l.zl.Error(), msg, args...)
}

func (l *Logger) Debug(msg string, args ...interface{}) {
	l.log(l.zl.Debug(), msg, args...)
}

func (l *Logger) Fatal(msg string, args ...interface{}) {
	l.log(l.zl.Error(), msg, args...)
	os.Exit(1)
}

func toZerolog(level Level) zerolog.Level {
	switch level {
	case DEBUG:
		return zerolog.DebugLevel
	case WARN:
		return zerolog.WarnLevel
	case ERROR:
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}
