package logger

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Log is the global logger instance wrapper
var Log *Logger

var (
	mu     sync.Mutex
	out    io.Writer = os.Stderr
	format           = "console"
)

type Logger struct {
	z zerolog.Logger
}

func init() {
	Log = &Logger{z: build(out, format)}
}

func build(w io.Writer, f string) zerolog.Logger {
	if strings.ToLower(f) == "json" {
		return zerolog.New(w).With().Timestamp().Logger()
	}
	cw := zerolog.ConsoleWriter{Out: w, TimeFormat: time.RFC3339}
	return zerolog.New(cw).With().Timestamp().Logger()
}

// ParseLevel maps a level name to zerolog, defaulting to Info.
func ParseLevel(level string) zerolog.Level {
	switch strings.ToUpper(level) {
	case "DEBUG":
		return zerolog.DebugLevel
	case "WARN":
		return zerolog.WarnLevel
	case "ERROR":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

// Setup configures the global level and output format ("json" or console).
func Setup(level string, f string) {
	mu.Lock()
	defer mu.Unlock()

	zerolog.SetGlobalLevel(ParseLevel(level))
	format = f
	Log = &Logger{z: build(out, format)}
}

// SetOutput redirects the global logger. Loggers obtained from With before
// the call keep writing to the old destination.
func SetOutput(w io.Writer) {
	mu.Lock()
	defer mu.Unlock()

	out = w
	Log = &Logger{z: build(out, format)}
}

// With returns a child of the global logger tagged with a component name.
func With(component string) *Logger {
	mu.Lock()
	defer mu.Unlock()

	return &Logger{z: Log.z.With().Str("component", component).Logger()}
}

func (l *Logger) Info(msg string, args ...interface{}) {
	e := l.z.Info()
	addFields(e, args...)
	e.Msg(msg)
}

func (l *Logger) Debug(msg string, args ...interface{}) {
	e := l.z.Debug()
	addFields(e, args...)
	e.Msg(msg)
}

func (l *Logger) Warn(msg string, args ...interface{}) {
	e := l.z.Warn()
	addFields(e, args...)
	e.Msg(msg)
}

func (l *Logger) Error(msg string, args ...interface{}) {
	e := l.z.Error()
	addFields(e, args...)
	e.Msg(msg)
}

// addFields adds variadic key-value pairs to the event. A trailing key
// without a value is dropped.
func addFields(e *zerolog.Event, args ...interface{}) {
	for i := 0; i+1 < len(args); i += 2 {
		key, ok := args[i].(string)
		if !ok {
			key = fmt.Sprintf("%v", args[i])
		}
		if err, ok := args[i+1].(error); ok {
			e.AnErr(key, err)
			continue
		}
		e.Interface(key, args[i+1])
	}
}
