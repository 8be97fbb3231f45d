package tools

import (
	"io"
	"os"
	"strings"

	"github.com/sirupsen/logrus"
)

// MultiWriter copies each write to every writer, stopping at the first error.
type MultiWriter struct {
	Writers []io.Writer
}

func (t *MultiWriter) Write(p []byte) (n int, err error) {
	for _, w := range t.Writers {
		n, err = w.Write(p)
		if err != nil {
			return
		}
	}
	return
}

// NewLogger returns a JSON logger recording to the log file and stdout. An
// empty path logs to stdout only.
func NewLogger(logPath string, level string) (*logrus.Logger, io.Writer, error) {
	var out io.Writer = os.Stdout
	if logPath != "" {
		logFile, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0666)
		if err != nil {
			return nil, nil, err
		}
		out = &MultiWriter{Writers: []io.Writer{logFile, os.Stdout}}
	}

	l := logrus.New()
	l.Formatter = &logrus.JSONFormatter{}
	l.SetOutput(out)
	l.SetLevel(ParseLevel(level))
	return l, out, nil
}

// ParseLevel accepts debug, info and error; anything else is info.
func ParseLevel(level string) logrus.Level {
	switch strings.ToLower(level) {
	case "debug":
		return logrus.DebugLevel
	case "error":
		return logrus.ErrorLevel
	default:
		return logrus.InfoLevel
	}
}
