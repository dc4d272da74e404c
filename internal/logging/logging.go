package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

// Log levels constants.
const (
	None = iota
	Error
	Warning
	Info
	Debug
)

// Output formats accepted by SetFormat.
const (
	FormatConsole = "console"
	FormatJSON    = "json"
)

var currentLevel atomic.Int32 // Stores the current logging level atomically.

var (
	mu     sync.RWMutex
	out    io.Writer = os.Stderr
	format           = FormatConsole
	logger           = newLogger(out, format)
)

func init() {
	// Default log level is Info.
	currentLevel.Store(Info)
	zerolog.TimeFieldFormat = time.RFC3339Nano
}

func newLogger(w io.Writer, f string) zerolog.Logger {
	if f == FormatConsole {
		w = zerolog.ConsoleWriter{Out: w, TimeFormat: "2006-01-02 15:04:05.000", NoColor: true}
	}
	// Level filtering happens in logf, so the zerolog logger itself accepts everything.
	return zerolog.New(w).With().Timestamp().Logger().Level(zerolog.TraceLevel)
}

// SetLevel atomically sets the global logging level.
// It clamps the input level to the valid range [None, Debug].
func SetLevel(level int) {
	if level < None {
		level = None
	} else if level > Debug {
		level = Debug
	}
	currentLevel.Store(int32(level))
	if level >= Debug {
		logf(Debug, "Log level set to %d", level)
	}
}

// GetLevel atomically retrieves the current logging level.
func GetLevel() int {
	return int(currentLevel.Load())
}

// ParseLevel converts a log level string (case-insensitive) to its integer representation.
// Returns Info level and an error if the string is invalid.
func ParseLevel(levelStr string) (int, error) {
	switch strings.ToLower(strings.TrimSpace(levelStr)) {
	case "none":
		return None, nil
	case "error":
		return Error, nil
	case "warn", "warning":
		return Warning, nil
	case "info":
		return Info, nil
	case "debug":
		return Debug, nil
	default:
		return Info, fmt.Errorf("invalid log level string: '%s'", levelStr)
	}
}

// SetupLogging configures the logging level based on an input string.
// Logs a warning and uses Info level if the input string is invalid.
// Returns the finally set log level.
func SetupLogging(levelStr string) int {
	level, err := ParseLevel(levelStr)
	if err != nil {
		logf(Warning, "Invalid log level '%s' provided, defaulting to 'info'. Error: %v", levelStr, err)
	}
	SetLevel(level)
	return level
}

// SetOutput changes the output destination of the global logger.
func SetOutput(w io.Writer) {
	mu.Lock()
	defer mu.Unlock()
	out = w
	logger = newLogger(out, format)
}

// SetFormat switches between console and JSON line output.
func SetFormat(f string) error {
	f = strings.ToLower(strings.TrimSpace(f))
	if f == "" {
		f = FormatConsole
	}
	if f != FormatConsole && f != FormatJSON {
		return fmt.Errorf("invalid log format '%s': must be '%s' or '%s'", f, FormatConsole, FormatJSON)
	}
	mu.Lock()
	defer mu.Unlock()
	format = f
	logger = newLogger(out, format)
	return nil
}

func logf(level int, format string, v ...interface{}) {
	if int32(level) > currentLevel.Load() {
		return
	}

	mu.RLock()
	l := logger
	mu.RUnlock()

	var ev *zerolog.Event
	switch level {
	case Error:
		ev = l.Error()
	case Warning:
		ev = l.Warn()
	case Info:
		ev = l.Info()
	case Debug:
		ev = l.Debug()
		// runtime.Caller(2) is the caller of Logf.
		if pc, file, line, ok := runtime.Caller(2); ok {
			funcName := "???"
			if f := runtime.FuncForPC(pc); f != nil {
				funcName = filepath.Base(f.Name())
			}
			ev = ev.Str("caller", fmt.Sprintf("%s:%d:%s", filepath.Base(file), line, funcName))
		}
	default:
		ev = l.Log()
	}
	ev.Msg(fmt.Sprintf(format, v...))
}

// Logf logs a formatted message if the specified level is enabled according to the global setting.
func Logf(level int, format string, v ...interface{}) {
	logf(level, format, v...)
}

// Printf satisfies printf-style logger interfaces (goose) at Info level.
type Printf struct{}

// Printf logs at Info level.
func (Printf) Printf(format string, v ...interface{}) {
	logf(Info, strings.TrimSuffix(format, "\n"), v...)
}

// Fatalf logs at Error level. It does not exit; callers get the error back instead.
func (Printf) Fatalf(format string, v ...interface{}) {
	logf(Error, strings.TrimSuffix(format, "\n"), v...)
}
