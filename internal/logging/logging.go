// Package logging builds the application logger from configuration.
package logging

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"

	"netscope/internal/config"
)

// Init creates a logrus logger per the config. Stdout is always included;
// a rotating file writer is added when enabled.
func Init(cfg config.LogConfig) (*logrus.Logger, error) {
	level, err := logrus.ParseLevel(cfg.Level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level: %w", err)
	}

	log := logrus.New()
	log.SetLevel(level)

	switch strings.ToLower(cfg.Format) {
	case "json":
		log.SetFormatter(&logrus.JSONFormatter{})
	case "text", "":
		log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	default:
		return nil, fmt.Errorf("unsupported log format: %s (must be json or text)", cfg.Format)
	}

	writers := []io.Writer{os.Stdout}
	if cfg.File.Enabled {
		w, err := fileWriter(cfg.File)
		if err != nil {
			return nil, fmt.Errorf("failed to create file output: %w", err)
		}
		writers = append(writers, w)
	}
	log.SetOutput(io.MultiWriter(writers...))

	return log, nil
}

// fileWriter creates a lumberjack writer for log rotation.
func fileWriter(fc config.FileLogConfig) (io.Writer, error) {
	if fc.Path == "" {
		return nil, fmt.Errorf("file output requires 'path' field")
	}
	return &lumberjack.Logger{
		Filename:   fc.Path,
		MaxSize:    fc.MaxSizeMB,
		MaxBackups: fc.MaxBackups,
		MaxAge:     fc.MaxAgeDays,
		Compress:   fc.Compress,
	}, nil
}
