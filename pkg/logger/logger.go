// Package logger builds per-subsystem logrus entries.
package logger

import (
	"fmt"
	"io"
	"path"
	"runtime"

	formatter "github.com/antonfisher/nested-logrus-formatter"
	"github.com/sirupsen/logrus"
)

const (
	LevelInfo  = "info"
	LevelDebug = "debug"
	LevelTrace = "trace"
	LevelNone  = "none"
)

var Formatter = &formatter.Formatter{
	TimestampFormat: "2006-01-02 15:04:05",
	HideKeys:        true,
	FieldsOrder:     []string{"req-id", "service", "subsystem", "unit"},
	CallerFirst:     true,
	CustomCallerFormatter: func(f *runtime.Frame) string {
		return fmt.Sprintf(" [%s %s():%d]", path.Base(f.File), f.Function, f.Line)
	},
}

// SetupLogger returns an entry tagged with service and subsystem. Level
// "none" discards output; an empty or unknown level keeps logrus' default.
func SetupLogger(level, service, subsystem string) *logrus.Entry {
	l := logrus.New()
	l.SetFormatter(Formatter)
	entry := l.WithFields(logrus.Fields{
		"service":   service,
		"subsystem": subsystem,
	})

	if level == LevelNone {
		l.SetOutput(io.Discard)
		return entry
	}

	lvl := logrus.GetLevel()
	if level != "" {
		parsed, err := logrus.ParseLevel(level)
		if err != nil {
			entry.Warnf("invalid log level '%s', using '%s'", level, lvl)
		} else {
			lvl = parsed
		}
	}
	l.SetLevel(lvl)
	entry.Debugf("log level set to '%s'", lvl)
	return entry
}

// Discard is an entry that drops everything, for tests and defaults.
func Discard() *logrus.Entry {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return logrus.NewEntry(l)
}
