package alspsmeter

import "github.com/sirupsen/logrus"

var l = logrus.New()

// SetLogger routes the meter's logs through the service logger. Call it
// before any handler or recorder starts.
func SetLogger(logger *logrus.Logger) {
	if logger != nil {
		l = logger
	}
}
