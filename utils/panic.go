package utils

import (
	"runtime/debug"

	log "github.com/sirupsen/logrus"
	"golang.org/x/xerrors"
)

// StackTraceFromPanic logs the stack trace of a panic and re-panics
func StackTraceFromPanic(logger *log.Entry) {
	if r := recover(); r != nil {
		logger.Errorf("stacktrace from panic: %s", string(debug.Stack()))
		panic(r)
	}
}

// RecoverToError converts a recovered panic value into an error, logging the stack trace.
// It must be called directly from a deferred function.
func RecoverToError(logger *log.Entry, r interface{}) error {
	if r == nil {
		return nil
	}

	logger.Errorf("recovered from panic: %v, stacktrace: %s", r, string(debug.Stack()))
	if err, ok := r.(error); ok {
		return xerrors.Errorf("panic: %w", err)
	}
	return xerrors.Errorf("panic: %v", r)
}
