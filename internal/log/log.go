package log

import (
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/charmbracelet/log"
	"gopkg.in/natefinch/lumberjack.v2"
)

type Level string

const (
	LevelDebug Level = "DEBUG"
	LevelInfo  Level = "INFO"
	LevelWarn  Level = "WARN"
	LevelError Level = "ERROR"
)

// Config controls where log lines go. File is optional; when set, lines
// are also written to a rotating file.
type Config struct {
	Level Level
	File  string
	// Quiet drops the stderr writer (file only). Ignored without File.
	Quiet bool
}

var (
	mu     sync.RWMutex
	logger = newLogger(os.Stderr, log.InfoLevel)
)

func newLogger(w io.Writer, level log.Level) *log.Logger {
	return log.NewWithOptions(w, log.Options{
		ReportTimestamp: true,
		Level:           level,
		Prefix:          "notiflow",
	})
}

// Init replaces the global logger.
func Init(cfg Config) error {
	var w io.Writer = os.Stderr
	if cfg.File != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.File), 0o755); err != nil {
			return err
		}
		file := &lumberjack.Logger{
			Filename:   cfg.File,
			MaxSize:    10, // megabytes
			MaxBackups: 3,
			MaxAge:     28, // days
			Compress:   true,
		}
		if cfg.Quiet {
			w = file
		} else {
			w = io.MultiWriter(os.Stderr, file)
		}
	}
	setLogger(newLogger(w, toCharm(cfg.Level)))
	return nil
}

// SetOutput redirects the global logger, keeping its level. Used by tests.
func SetOutput(w io.Writer) {
	mu.Lock()
	defer mu.Unlock()
	logger = newLogger(w, logger.GetLevel())
}

func SetLevel(l Level) {
	mu.RLock()
	defer mu.RUnlock()
	logger.SetLevel(toCharm(l))
}

func setLogger(l *log.Logger) {
	mu.Lock()
	logger = l
	mu.Unlock()
}

func current() *log.Logger {
	mu.RLock()
	defer mu.RUnlock()
	return logger
}

func toCharm(l Level) log.Level {
	switch l {
	case LevelDebug:
		return log.DebugLevel
	case LevelWarn:
		return log.WarnLevel
	case LevelError:
		return log.ErrorLevel
	default:
		return log.InfoLevel
	}
}

func Debug(msg string, kv ...any) {
	current().Debug(msg, kv...)
}

func Info(msg string, kv ...any) {
	current().Info(msg, kv...)
}

func Warn(msg string, kv ...any) {
	current().Warn(msg, kv...)
}

func Error(msg string, err error, kv ...any) {
	// Prepend error into key-value list.
	extended := append([]any{"err", err}, kv...)
	current().Error(msg, extended...)
}
