package epl8802

import (
	"io"
	"os"
	"strings"

	"github.com/sirupsen/logrus"
)

var l *logrus.Logger

func init() {
	l = logrus.New()
	// Setup the logger, so it can be parsed by datadog
	l.Formatter = &logrus.JSONFormatter{}
	l.SetOutput(os.Stdout)
	// Set the log level
	logLevel := strings.ToLower(os.Getenv("LOG_LEVEL"))
	switch logLevel {
	case "debug":
		l.SetLevel(logrus.DebugLevel)
	case "info":
		l.SetLevel(logrus.InfoLevel)
	case "error":
		l.SetLevel(logrus.ErrorLevel)
	default:
		l.SetLevel(logrus.InfoLevel)
	}
}

// SetLogOutput redirects the driver log, e.g. into the service log file.
func SetLogOutput(w io.Writer) {
	l.SetOutput(w)
}

// SetLogLevel overrides the level picked up from LOG_LEVEL.
func SetLogLevel(level logrus.Level) {
	l.SetLevel(level)
}
