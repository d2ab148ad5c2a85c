// Package logging holds the process-wide structured logger used by every
// storage component.
//
// Components never build their own slog.Logger; they ask for a child logger
// tagged with their name:
//
//	log := logging.WithComponent("bufferpool")
//	log.Debug("page evicted", "pos", pos, "dirty", dirty)
//
// Call Init once at startup to pick level, format and destination. Without it
// the first GetLogger call installs a WARN-level text logger on stderr so that
// an embedded engine stays quiet by default.
package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
)

var (
	logger   *slog.Logger
	loggerMu sync.RWMutex
	logFile  *os.File
	initOnce sync.Once
)

type Level string

const (
	LevelDebug Level = "DEBUG"
	LevelInfo  Level = "INFO"
	LevelWarn  Level = "WARN"
	LevelError Level = "ERROR"
)

// Config selects where and how log records are written.
type Config struct {
	Level      Level
	OutputPath string // empty writes to stderr
	Format     string // "json" or "text"
	Writer     io.Writer
}

// Init replaces the global logger. It may be called again after Close.
func Init(cfg Config) error {
	loggerMu.Lock()
	defer loggerMu.Unlock()

	if logger != nil {
		return fmt.Errorf("logger already initialized; call Close first")
	}

	var w io.Writer = os.Stderr
	switch {
	case cfg.Writer != nil:
		w = cfg.Writer
	case cfg.OutputPath != "":
		if err := os.MkdirAll(filepath.Dir(cfg.OutputPath), 0o750); err != nil {
			return err
		}
		f, err := os.OpenFile(cfg.OutputPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
		if err != nil {
			return err
		}
		logFile = f
		w = f
	}

	opts := &slog.HandlerOptions{Level: cfg.Level.slogLevel()}
	if cfg.Format == "json" {
		logger = slog.New(slog.NewJSONHandler(w, opts))
	} else {
		logger = slog.New(slog.NewTextHandler(w, opts))
	}
	return nil
}

func (l Level) slogLevel() slog.Level {
	switch l {
	case LevelDebug:
		return slog.LevelDebug
	case LevelInfo:
		return slog.LevelInfo
	case LevelError:
		return slog.LevelError
	default:
		return slog.LevelWarn
	}
}

// Close releases the log file, if any, and forgets the global logger.
func Close() error {
	loggerMu.Lock()
	defer loggerMu.Unlock()

	var err error
	if logFile != nil {
		err = logFile.Close()
		logFile = nil
	}
	logger = nil
	initOnce = sync.Once{}
	return err
}

// GetLogger returns the global logger, installing the default one on first use.
func GetLogger() *slog.Logger {
	loggerMu.RLock()
	l := logger
	loggerMu.RUnlock()
	if l != nil {
		return l
	}

	initOnce.Do(func() {
		_ = Init(Config{Level: LevelWarn})
	})

	loggerMu.RLock()
	defer loggerMu.RUnlock()
	if logger == nil {
		return slog.Default()
	}
	return logger
}

// InitDefault installs an INFO-level text logger on stderr.
func InitDefault() error {
	return Init(Config{Level: LevelInfo})
}
