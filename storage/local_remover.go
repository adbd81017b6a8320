package storage

import (
	"errors"
	"os"

	"github.com/ngas/ngas-cachecontrol/utils"
	log "github.com/sirupsen/logrus"
	"golang.org/x/xerrors"
)

// LocalFileRemover implements FileRemover for locally mounted volumes
type LocalFileRemover struct{}

// NewLocalFileRemover creates a new LocalFileRemover
func NewLocalFileRemover() FileRemover {
	return &LocalFileRemover{}
}

// Release releases resources
func (remover *LocalFileRemover) Release() {
}

// RemoveFile removes a file
func (remover *LocalFileRemover) RemoveFile(path string) error {
	logger := log.WithFields(log.Fields{
		"package":  "storage",
		"struct":   "LocalFileRemover",
		"function": "RemoveFile",
	})

	defer utils.StackTraceFromPanic(logger)

	logger.Debugf("Removing file %s", path)

	err := os.Remove(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			logger.Debugf("File %s is already gone", path)
			return nil
		}
		return xerrors.Errorf("failed to remove file %s: %w", path, err)
	}
	return nil
}
