package storage

import (
	irodsclient_fs "github.com/cyverse/go-irodsclient/fs"
	irodsclient_types "github.com/cyverse/go-irodsclient/irods/types"
	"github.com/ngas/ngas-cachecontrol/config"
	"golang.org/x/xerrors"
)

// NewFileRemoverFromConfig creates the FileRemover selected by the config
func NewFileRemoverFromConfig(removerConfig *config.FileRemoverConfig, applicationName string) (FileRemover, error) {
	switch removerConfig.Type {
	case "", config.FileRemoverLocal:
		return NewLocalFileRemover(), nil
	case config.FileRemoverIRODS:
		irodsConfig := &removerConfig.IRODS
		account, err := irodsclient_types.CreateIRODSAccount(irodsConfig.Host, irodsConfig.Port, irodsConfig.User, irodsConfig.Zone, irodsclient_types.AuthSchemeNative, irodsConfig.Password, irodsConfig.Resource)
		if err != nil {
			return nil, xerrors.Errorf("failed to create iRODS account for %s@%s: %w", irodsConfig.User, irodsConfig.Host, err)
		}

		return NewIRODSFileRemover(account, newIRODSFileSystemConfig(applicationName))
	default:
		return nil, xerrors.Errorf("unknown file remover type %q", removerConfig.Type)
	}
}

func newIRODSFileSystemConfig(applicationName string) *irodsclient_fs.FileSystemConfig {
	return irodsclient_fs.NewFileSystemConfig(applicationName)
}
