package logger

import (
	"os"
	"strings"

	"github.com/sirupsen/logrus"
)

var log *logrus.Logger

// Init configures the service logger. format is "json" or "text".
func Init(level, format string) *logrus.Logger {
	l := logrus.New()

	if lvl, err := logrus.ParseLevel(strings.ToLower(level)); err == nil {
		l.SetLevel(lvl)
	} else {
		l.SetLevel(logrus.InfoLevel)
		l.WithField("invalid_level", level).Warn("Invalid log level, using INFO")
	}

	if strings.ToLower(format) == "text" {
		l.SetFormatter(&logrus.TextFormatter{
			FullTimestamp:   true,
			TimestampFormat: "2006-01-02 15:04:05",
		})
	} else {
		l.SetFormatter(&logrus.JSONFormatter{
			TimestampFormat: "2006-01-02T15:04:05.000Z07:00",
		})
	}

	l.SetOutput(os.Stdout)
	log = l
	return l
}

// Get returns the service logger, initializing a default one if needed
func Get() *logrus.Logger {
	if log == nil {
		return Init("info", "json")
	}
	return log
}

// WithComponent creates a logger entry tagged with a component name
func WithComponent(name string) *logrus.Entry {
	return Get().WithFields(logrus.Fields{
		"service":   "prediction-engine",
		"component": name,
	})
}
