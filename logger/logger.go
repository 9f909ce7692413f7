// Package logger holds the process-wide logrus logger every component logs through.
package logger

import (
	"io"
	"os"
	"path/filepath"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// Logger is the process-wide logger. It starts at warning level so library users and tests stay quiet
// until Setup is called.
var Logger = newLogger()

// LogConfig controls where and how much the engine logs.
type LogConfig struct {
	Level string
	File  string
}

func newLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(os.Stderr)
	l.SetLevel(logrus.WarnLevel)
	l.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: "15:04:05.000",
	})
	return l
}

// Setup applies cfg to Logger. An empty level keeps the current one; an empty file keeps stderr.
func Setup(cfg LogConfig) error {
	if cfg.Level != "" {
		level, err := logrus.ParseLevel(cfg.Level)
		if err != nil {
			return errors.Wrapf(err, "invalid log level %q", cfg.Level)
		}
		Logger.SetLevel(level)
	}
	if cfg.File != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.File), 0755); err != nil {
			return errors.Wrapf(err, "cannot create log directory for %s", cfg.File)
		}
		f, err := os.OpenFile(cfg.File, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			return errors.Wrapf(err, "cannot open log file %s", cfg.File)
		}
		Logger.SetOutput(f)
	}
	return nil
}

// SetOutput redirects Logger, mostly for tests.
func SetOutput(w io.Writer) {
	Logger.SetOutput(w)
}

// For returns an entry tagged with the component name.
func For(component string) *logrus.Entry {
	return Logger.WithField("component", component)
}
