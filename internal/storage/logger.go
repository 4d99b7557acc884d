package storage

import (
	"sync/atomic"

	"github.com/sirupsen/logrus"
)

var logger atomic.Pointer[logrus.FieldLogger]

func init() {
	SetLogger(logrus.StandardLogger())
}

// SetLogger replaces the logger used by the storage layer and its adapters.
func SetLogger(l logrus.FieldLogger) {
	if l == nil {
		l = logrus.StandardLogger()
	}
	logger.Store(&l)
}

// Logger returns the current storage logger.
func Logger() logrus.FieldLogger {
	return *logger.Load()
}

// LogFor returns a logger pre-filled with the provider and path fields.
func LogFor(kind ProviderKind, path string) *logrus.Entry {
	return Logger().WithFields(logrus.Fields{"provider": kind.String(), "path": path})
}
