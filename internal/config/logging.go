package config

import (
	"io"
	"log"
	"os"
	"path/filepath"

	"gopkg.in/natefinch/lumberjack.v2"
)

// NewLogger builds the process logger from the log configuration. With a
// file path set, output goes to both stderr and a size-rotated log file;
// otherwise stderr only.
func NewLogger(cfg LogConfig) *log.Logger {
	var out io.Writer = os.Stderr
	if cfg.Path != "" {
		_ = os.MkdirAll(filepath.Dir(cfg.Path), 0o755)
		rotated := &lumberjack.Logger{
			Filename:   cfg.Path,
			MaxSize:    cfg.MaxSizeMB,
			MaxBackups: cfg.MaxBackups,
			MaxAge:     cfg.MaxAgeDays,
		}
		out = io.MultiWriter(os.Stderr, rotated)
	}
	return log.New(out, "", log.LstdFlags)
}
