// Package logging provides the structured logger used across the pipeline,
// wrapping logrus with the bout/round context fields every subsystem needs.
package logging

import (
	"os"

	"github.com/sirupsen/logrus"
)

// Logger wraps logrus.Logger with a fixed service name field.
type Logger struct {
	*logrus.Logger
	service string
}

// New creates a service-scoped Logger. level is a logrus level string
// ("debug", "info", "warn", ...); invalid values fall back to info.
func New(service, level string) *Logger {
	l := logrus.New()
	l.SetOutput(os.Stdout)

	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		lvl = logrus.InfoLevel
	}
	l.SetLevel(lvl)
	l.SetFormatter(&logrus.JSONFormatter{
		FieldMap: logrus.FieldMap{
			logrus.FieldKeyTime:  "timestamp",
			logrus.FieldKeyLevel: "level",
			logrus.FieldKeyMsg:   "message",
		},
	})

	return &Logger{Logger: l, service: service}
}

// WithBout returns an entry scoped to a bout.
func (l *Logger) WithBout(boutID string) *logrus.Entry {
	return l.WithFields(logrus.Fields{"service": l.service, "bout_id": boutID})
}

// WithRound returns an entry scoped to a bout and round.
func (l *Logger) WithRound(boutID, roundID string) *logrus.Entry {
	return l.WithFields(logrus.Fields{"service": l.service, "bout_id": boutID, "round_id": roundID})
}

// Component returns an entry tagged with a bracketed component name, in the
// same spirit as the teacher's "[Poller] ..."-prefixed stdlib log lines.
func (l *Logger) Component(name string) *logrus.Entry {
	return l.WithFields(logrus.Fields{"service": l.service, "component": name})
}
