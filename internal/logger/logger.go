// Package logger builds the process-wide logrus logger from config. Output
// always goes to stderr; the driver keeps no log files.
package logger

import (
	"io"
	"os"

	"github.com/sirupsen/logrus"

	"github.com/shaunagostinho/roomba-oi/internal/config"
)

const timestampFormat = "2006-01-02 15:04:05"

// New creates a logger at the configured level and format. An unknown level
// falls back to info.
func New(cfg config.LogConfig) *logrus.Logger {
	return newWithOutput(cfg, os.Stderr)
}

func newWithOutput(cfg config.LogConfig, w io.Writer) *logrus.Logger {
	log := logrus.New()
	log.SetOutput(w)

	level, err := logrus.ParseLevel(cfg.Level)
	if err != nil {
		level = logrus.InfoLevel
	}
	log.SetLevel(level)

	if cfg.Format == "json" {
		log.SetFormatter(&logrus.JSONFormatter{
			TimestampFormat: timestampFormat,
		})
	} else {
		log.SetFormatter(&logrus.TextFormatter{
			FullTimestamp:   true,
			TimestampFormat: timestampFormat,
		})
	}
	return log
}

// Component returns an entry tagged with the subsystem name.
func Component(log *logrus.Logger, name string) *logrus.Entry {
	return log.WithField("component", name)
}
