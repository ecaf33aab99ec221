package ufs

import "github.com/sirupsen/logrus"

// Logger is the subset of *logrus.Logger the engine uses, so callers can
// inject their own configured logger (teacher convention: go-diskfs's
// backend/disk layers take an injected *logrus.Logger rather than using
// the package-level default).
type Logger interface {
	Debugf(format string, args ...interface{})
	Infof(format string, args ...interface{})
	Warnf(format string, args ...interface{})
}

func defaultLogger() Logger {
	l := logrus.New()
	l.SetLevel(logrus.InfoLevel)
	return l
}
