package storage

import (
	"fmt"

	irodsclient_fs "github.com/cyverse/go-irodsclient/fs"
	irodsclient_types "github.com/cyverse/go-irodsclient/irods/types"
	"github.com/ngas/ngas-cachecontrol/utils"
	log "github.com/sirupsen/logrus"
	"golang.org/x/xerrors"
)

// IRODSFileRemover implements FileRemover for volumes mounted from iRODS collections
// direct access to iRODS server with go-irodsclient
type IRODSFileRemover struct {
	config  *irodsclient_fs.FileSystemConfig
	account *irodsclient_types.IRODSAccount
	fs      *irodsclient_fs.FileSystem
}

// NewIRODSFileRemover creates FileRemover using IRODSFileRemover
func NewIRODSFileRemover(account *irodsclient_types.IRODSAccount, config *irodsclient_fs.FileSystemConfig) (FileRemover, error) {
	logger := log.WithFields(log.Fields{
		"package":  "storage",
		"function": "NewIRODSFileRemover",
	})

	defer utils.StackTraceFromPanic(logger)

	goirodsfs, err := irodsclient_fs.NewFileSystem(account, config)
	if err != nil {
		return nil, xerrors.Errorf("failed to create iRODS file system client for %s@%s: %w", account.ClientUser, account.Host, err)
	}

	return &IRODSFileRemover{
		config:  config,
		account: account,
		fs:      goirodsfs,
	}, nil
}

// GetAccount returns iRODS Account info
func (remover *IRODSFileRemover) GetAccount() *irodsclient_types.IRODSAccount {
	return remover.account
}

// Release releases resources
func (remover *IRODSFileRemover) Release() {
	logger := log.WithFields(log.Fields{
		"package":  "storage",
		"struct":   "IRODSFileRemover",
		"function": "Release",
	})

	defer utils.StackTraceFromPanic(logger)

	if remover.fs != nil {
		remover.fs.Release()
		remover.fs = nil
	}
}

// RemoveFile removes a data object
func (remover *IRODSFileRemover) RemoveFile(path string) error {
	if remover.fs == nil {
		return fmt.Errorf("FSClient is nil")
	}

	logger := log.WithFields(log.Fields{
		"package":  "storage",
		"struct":   "IRODSFileRemover",
		"function": "RemoveFile",
	})

	defer utils.StackTraceFromPanic(logger)

	logger.Debugf("Removing data object %s", path)

	err := remover.fs.RemoveFile(path, true)
	if err != nil {
		if irodsclient_types.IsFileNotFoundError(err) {
			logger.Debugf("Data object %s is already gone", path)
			return nil
		}
		return xerrors.Errorf("failed to remove data object %s: %w", path, err)
	}
	return nil
}
