package logger

import "sync"

// LoggerInstance defines the interface for logging backends.
type LoggerInstance interface {
	Log(message string, keyvals ...any)
	Debug(message string, keyvals ...any)
	Info(message string, keyvals ...any)
	Warn(message string, keyvals ...any)
	Error(message string, keyvals ...any)
	Fatal(message string, keyvals ...any)
}

// Level selects the backend method a message is dispatched to.
type Level int

const (
	LevelLog Level = iota
	LevelDebug
	LevelInfo
	LevelWarn
	LevelError
	LevelFatal
)

// Logger holds multiple logging backends and dispatches log calls to all of them.
type Logger struct {
	instances []LoggerInstance
}

var (
	mu        sync.RWMutex
	singleton *Logger
)

// Init initializes the global logger with one or more logging backends.
// Calls made before Init are dropped, which keeps tests quiet.
func Init(instances ...LoggerInstance) {
	mu.Lock()
	defer mu.Unlock()
	singleton = &Logger{
		instances: instances,
	}
}

func dispatch(level Level, message string, keyvals []any) {
	mu.RLock()
	logger := singleton
	mu.RUnlock()
	if logger == nil {
		return
	}

	for _, instance := range logger.instances {
		switch level {
		case LevelDebug:
			instance.Debug(message, keyvals...)
		case LevelInfo:
			instance.Info(message, keyvals...)
		case LevelWarn:
			instance.Warn(message, keyvals...)
		case LevelError:
			instance.Error(message, keyvals...)
		case LevelFatal:
			instance.Fatal(message, keyvals...)
		default:
			instance.Log(message, keyvals...)
		}
	}
}

// Log writes a message at the default log level to all configured backends.
func Log(message string, keyvals ...any) { dispatch(LevelLog, message, keyvals) }

// Debug writes a message at DEBUG level to all configured backends.
func Debug(message string, keyvals ...any) { dispatch(LevelDebug, message, keyvals) }

// Info writes a message at INFO level to all configured backends.
func Info(message string, keyvals ...any) { dispatch(LevelInfo, message, keyvals) }

// Warn writes a message at WARN level to all configured backends.
func Warn(message string, keyvals ...any) { dispatch(LevelWarn, message, keyvals) }

// Error writes a message at ERROR level to all configured backends.
func Error(message string, keyvals ...any) { dispatch(LevelError, message, keyvals) }

// Fatal writes a message at FATAL level and terminates the program.
func Fatal(message string, keyvals ...any) { dispatch(LevelFatal, message, keyvals) }

// Component prefixes every message with a bracketed tag, e.g. "[Pipeline]".
type Component string

func (c Component) prefix(message string) string {
	return "[" + string(c) + "] " + message
}

func (c Component) Debug(message string, keyvals ...any) {
	dispatch(LevelDebug, c.prefix(message), keyvals)
}

func (c Component) Info(message string, keyvals ...any) {
	dispatch(LevelInfo, c.prefix(message), keyvals)
}

func (c Component) Warn(message string, keyvals ...any) {
	dispatch(LevelWarn, c.prefix(message), keyvals)
}

func (c Component) Error(message string, keyvals ...any) {
	dispatch(LevelError, c.prefix(message), keyvals)
}
