// Package logging wires the process logger: severity-filtered lines to
// stdout, or to a size-rotated file sink when a log directory is
// configured.
package logging

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/searchktools/webserv/config"
)

// Setup builds the logger described by cfg and installs it as the slog
// default.
func Setup(cfg config.Config) *slog.Logger {
	var w io.Writer = os.Stdout
	if cfg.LogDir != "" {
		maxSizeMB := cfg.LogRotationSize / (1024 * 1024)
		if maxSizeMB < 1 {
			maxSizeMB = 1
		}
		w = &lumberjack.Logger{
			Filename:   filepath.Join(cfg.LogDir, cfg.Name+".log"),
			MaxSize:    maxSizeMB,
			LocalTime:  true,
			MaxBackups: 0, // keep every rotated file
		}
	}
	logger := slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)
	return logger
}
