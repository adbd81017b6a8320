package config

import (
	"os"
	"time"

	"golang.org/x/xerrors"
	"gopkg.in/yaml.v3"
)

const (
	// FileRemoverLocal removes files from locally mounted volumes
	FileRemoverLocal string = "local"
	// FileRemoverIRODS removes data objects from volumes mounted from iRODS
	FileRemoverIRODS string = "irods"

	// DefaultCachingPeriod is the default cycle period in seconds
	DefaultCachingPeriod float64 = 60
	// DefaultRetentionPluginThreads is the default number of plugin workers
	DefaultRetentionPluginThreads int = 1
	// DefaultIRODSPort is the default iRODS port
	DefaultIRODSPort int = 1247

	applicationName string = "ngas-cachecontrol"
)

// RetentionPluginConfig configures the retention plugin criterion
type RetentionPluginConfig struct {
	Name    string            `yaml:"name"`
	Threads int               `yaml:"threads"`
	Params  map[string]string `yaml:"params"`
}

// IsEnabled returns true if a plugin is configured
func (plugin *RetentionPluginConfig) IsEnabled() bool {
	return len(plugin.Name) > 0
}

// CachingConfig holds cache control thresholds. Zero disables a threshold.
type CachingConfig struct {
	Enable            bool                  `yaml:"enable"`
	MaxTime           float64               `yaml:"max_time"`
	MaxCacheSize      ByteSize              `yaml:"max_cache_size"`
	MaxFiles          int                   `yaml:"max_files"`
	Period            float64               `yaml:"period"`
	CheckCanBeDeleted bool                  `yaml:"check_can_be_deleted"`
	RetentionPlugin   RetentionPluginConfig `yaml:"retention_plugin"`
}

// IRODSConfig holds iRODS access information
type IRODSConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Zone     string `yaml:"zone"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Resource string `yaml:"resource"`
}

// FileRemoverConfig selects how physical copies are removed
type FileRemoverConfig struct {
	Type  string      `yaml:"type"`
	IRODS IRODSConfig `yaml:"irods"`
}

// Config is the configuration of the cache control engine
type Config struct {
	NodeID         string            `yaml:"node_id"`
	CacheDirectory string            `yaml:"cache_directory"`
	Caching        CachingConfig     `yaml:"caching"`
	FileRemover    FileRemoverConfig `yaml:"file_remover"`
}

// NewDefaultConfig creates a Config with default values
func NewDefaultConfig() *Config {
	return &Config{
		Caching: CachingConfig{
			Enable: true,
			Period: DefaultCachingPeriod,
			RetentionPlugin: RetentionPluginConfig{
				Threads: DefaultRetentionPluginThreads,
				Params:  map[string]string{},
			},
		},
		FileRemover: FileRemoverConfig{
			Type: FileRemoverLocal,
			IRODS: IRODSConfig{
				Port: DefaultIRODSPort,
			},
		},
	}
}

// NewConfigFromYAML creates a Config from YAML, unset fields keep default values
func NewConfigFromYAML(yamlBytes []byte) (*Config, error) {
	config := NewDefaultConfig()

	err := yaml.Unmarshal(yamlBytes, config)
	if err != nil {
		return nil, xerrors.Errorf("failed to unmarshal YAML to config: %w", err)
	}

	if config.Caching.RetentionPlugin.Params == nil {
		config.Caching.RetentionPlugin.Params = map[string]string{}
	}

	return config, nil
}

// LoadConfig reads and validates a YAML config file
func LoadConfig(path string) (*Config, error) {
	yamlBytes, err := os.ReadFile(path)
	if err != nil {
		return nil, xerrors.Errorf("failed to read config file %s: %w", path, err)
	}

	config, err := NewConfigFromYAML(yamlBytes)
	if err != nil {
		return nil, xerrors.Errorf("failed to load config file %s: %w", path, err)
	}

	err = config.Validate()
	if err != nil {
		return nil, xerrors.Errorf("invalid config file %s: %w", path, err)
	}

	return config, nil
}

// Validate validates field values
func (config *Config) Validate() error {
	if len(config.NodeID) == 0 {
		return xerrors.Errorf("node_id must be given")
	}

	if len(config.CacheDirectory) == 0 {
		return xerrors.Errorf("cache_directory must be given")
	}

	caching := &config.Caching
	if caching.MaxTime < 0 {
		return xerrors.Errorf("caching.max_time must not be negative")
	}

	if caching.MaxFiles < 0 {
		return xerrors.Errorf("caching.max_files must not be negative")
	}

	if caching.Period < 0 {
		return xerrors.Errorf("caching.period must not be negative")
	}

	if caching.RetentionPlugin.IsEnabled() && caching.RetentionPlugin.Threads < 1 {
		return xerrors.Errorf("caching.retention_plugin.threads must be at least 1")
	}

	switch config.FileRemover.Type {
	case "", FileRemoverLocal:
	case FileRemoverIRODS:
		irods := &config.FileRemover.IRODS
		if len(irods.Host) == 0 || len(irods.Zone) == 0 || len(irods.User) == 0 {
			return xerrors.Errorf("file_remover.irods requires host, zone and user")
		}
		if irods.Port <= 0 {
			return xerrors.Errorf("file_remover.irods.port must be positive")
		}
	default:
		return xerrors.Errorf("unknown file_remover.type %q", config.FileRemover.Type)
	}

	return nil
}

// GetApplicationName returns the name reported to remote services
func (config *Config) GetApplicationName() string {
	return applicationName
}

// GetMaxTime returns the maximum caching time, 0 if disabled
func (config *Config) GetMaxTime() time.Duration {
	return secondsToDuration(config.Caching.MaxTime)
}

// GetCachingPeriod returns the cycle period
func (config *Config) GetCachingPeriod() time.Duration {
	return secondsToDuration(config.Caching.Period)
}

// GetMaxCacheSize returns the maximum aggregate size in bytes, 0 if disabled
func (config *Config) GetMaxCacheSize() int64 {
	return int64(config.Caching.MaxCacheSize)
}

func secondsToDuration(seconds float64) time.Duration {
	return time.Duration(seconds * float64(time.Second))
}
