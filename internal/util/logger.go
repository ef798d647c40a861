// Package util provides logging, host information and TLS helpers for the
// Guild Hall client.
package util

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const (
	logPrefix = "guildhall_"
	dayFormat = "2006-01-02"
)

// LogConfig holds configuration for the logging system.
type LogConfig struct {
	Level      string `json:"level"`
	Directory  string `json:"directory"`
	MaxSizeMB  int    `json:"max_size_mb"`
	MaxBackups int    `json:"max_backups"`
	Console    bool   `json:"console"`
}

// DefaultLogConfig returns the default logging configuration.
func DefaultLogConfig() LogConfig {
	return LogConfig{
		Level:      "info",
		Directory:  "logs",
		MaxSizeMB:  10,
		MaxBackups: 5,
		Console:    true,
	}
}

var (
	activeMu  sync.Mutex
	activeLog *rollingFile
)

// InitLogger configures the global zerolog logger with a JSON file writer
// and, optionally, a human-readable console writer on stderr. Calling it
// again replaces the previous configuration and closes the old file.
func InitLogger(cfg LogConfig) error {
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
	zerolog.TimeFieldFormat = time.RFC3339

	if err := os.MkdirAll(cfg.Directory, 0755); err != nil {
		return fmt.Errorf("failed to create log directory %s: %w", cfg.Directory, err)
	}

	file := newRollingFile(cfg.Directory, int64(cfg.MaxSizeMB)*1024*1024, cfg.MaxBackups)
	if err := file.open(); err != nil {
		return err
	}

	writers := []io.Writer{file}
	if cfg.Console {
		// stdout belongs to the interactive console
		writers = append(writers, zerolog.ConsoleWriter{
			Out:        os.Stderr,
			TimeFormat: "15:04:05",
		})
	}

	log.Logger = zerolog.New(zerolog.MultiLevelWriter(writers...)).
		With().
		Timestamp().
		Str("app", "guildhall").
		Caller().
		Logger()

	activeMu.Lock()
	previous := activeLog
	activeLog = file
	activeMu.Unlock()
	if previous != nil {
		_ = previous.Close()
	}

	log.Info().
		Str("level", level.String()).
		Str("log_file", file.Path()).
		Msg("logger initialized")
	return nil
}

// ComponentLogger creates a logger with a component name field.
func ComponentLogger(component string) zerolog.Logger {
	return log.With().Str("component", component).Logger()
}

// rollingFile writes to guildhall_<day>.log, starting a new file when the
// day changes or the current file would exceed maxBytes. Files past
// maxBackups are removed, oldest first.
type rollingFile struct {
	mu         sync.Mutex
	dir        string
	maxBytes   int64
	maxBackups int
	now        func() time.Time

	file *os.File
	day  string
	size int64
}

func newRollingFile(dir string, maxBytes int64, maxBackups int) *rollingFile {
	return &rollingFile{dir: dir, maxBytes: maxBytes, maxBackups: maxBackups, now: time.Now}
}

func (r *rollingFile) pathFor(day string) string {
	return filepath.Join(r.dir, logPrefix+day+".log")
}

// Path returns the file currently written to.
func (r *rollingFile) Path() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.pathFor(r.day)
}

func (r *rollingFile) open() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.openLocked()
}

func (r *rollingFile) openLocked() error {
	day := r.now().Format(dayFormat)
	path := r.pathFor(day)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("failed to open log file %s: %w", path, err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return fmt.Errorf("failed to stat log file %s: %w", path, err)
	}
	r.file, r.day, r.size = f, day, info.Size()
	go cleanOldLogs(r.dir, r.maxBackups)
	return nil
}

// shiftLocked renames the current day's file to the next free numbered
// name so a fresh one can be opened under the day's name.
func (r *rollingFile) shiftLocked() error {
	current := r.pathFor(r.day)
	for i := 1; ; i++ {
		candidate := filepath.Join(r.dir, fmt.Sprintf("%s%s.%d.log", logPrefix, r.day, i))
		if _, err := os.Stat(candidate); os.IsNotExist(err) {
			return os.Rename(current, candidate)
		}
	}
}

func (r *rollingFile) Write(p []byte) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.file == nil {
		if err := r.openLocked(); err != nil {
			return 0, err
		}
	}

	newDay := r.now().Format(dayFormat) != r.day
	full := r.maxBytes > 0 && r.size > 0 && r.size+int64(len(p)) > r.maxBytes
	if newDay || full {
		r.file.Close()
		r.file = nil
		if full && !newDay {
			if err := r.shiftLocked(); err != nil {
				return 0, fmt.Errorf("failed to rotate log file: %w", err)
			}
		}
		if err := r.openLocked(); err != nil {
			return 0, err
		}
	}

	n, err := r.file.Write(p)
	r.size += int64(n)
	return n, err
}

func (r *rollingFile) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.file == nil {
		return nil
	}
	err := r.file.Close()
	r.file = nil
	return err
}

// cleanOldLogs keeps the newest maxBackups log files. Names sort by day,
// and a day's numbered files sort before its current file.
func cleanOldLogs(directory string, maxBackups int) {
	if maxBackups <= 0 {
		return
	}
	entries, err := os.ReadDir(directory)
	if err != nil {
		return
	}

	var names []string
	for _, entry := range entries {
		name := entry.Name()
		if !entry.IsDir() && strings.HasPrefix(name, logPrefix) && filepath.Ext(name) == ".log" {
			names = append(names, name)
		}
	}
	sort.Strings(names)

	for i := 0; i < len(names)-maxBackups; i++ {
		path := filepath.Join(directory, names[i])
		if err := os.Remove(path); err != nil {
			continue
		}
		log.Debug().Str("file", path).Msg("removed old log file")
	}
}
