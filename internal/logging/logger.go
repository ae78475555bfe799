// Package logging builds the service's logrus logger.
//
// Usage:
//
//	log := logging.New("reelstream", "info", "json")
//	log.WithField("movie_id", id).Info("movie created")
package logging

import (
	"io"
	"os"

	"github.com/sirupsen/logrus"
)

// New creates a logrus logger for a named service. format is "json" or
// "text"; anything else falls back to json. level follows logrus.ParseLevel
// and defaults to info. The service field is embedded in every log line.
func New(service, level, format string) *logrus.Entry {
	return newWithOutput(os.Stdout, service, level, format)
}

func newWithOutput(w io.Writer, service, level, format string) *logrus.Entry {
	log := logrus.New()
	if format == "text" {
		log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	} else {
		log.SetFormatter(&logrus.JSONFormatter{
			TimestampFormat: "2006-01-02T15:04:05.000Z07:00",
		})
	}
	log.SetOutput(w)

	lvl, err := logrus.ParseLevel(level)
	if err != nil || level == "" {
		lvl = logrus.InfoLevel
	}
	log.SetLevel(lvl)

	return log.WithField("service", service)
}

// Discard returns a logger that drops everything. Handy in tests.
func Discard() *logrus.Entry {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return logrus.NewEntry(log)
}
