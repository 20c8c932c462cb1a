package config

import (
	"sync/atomic"

	"github.com/saiset-co/sai-enrichment/types"
)

type ConfigurationManager struct {
	config     atomic.Pointer[types.ServiceConfig]
	configPath string
	loader     *Loader
}

func NewConfigurationManager(configPath string) (*ConfigurationManager, error) {
	cm := &ConfigurationManager{
		configPath: configPath,
		loader:     NewLoader(),
	}

	if err := cm.Load(); err != nil {
		return nil, types.WrapError(err, "failed to load initial configuration")
	}

	return cm, nil
}

// NewStaticManager wraps an in-memory config, used by tests and embedders
// that assemble the config programmatically.
func NewStaticManager(cfg *types.ServiceConfig) *ConfigurationManager {
	cm := &ConfigurationManager{}
	normalize(cfg)
	cm.config.Store(cfg)
	return cm
}

func (cm *ConfigurationManager) Load() error {
	if cm.configPath == "" {
		return types.ErrConfigInvalidPath
	}

	config, err := cm.loader.LoadFromFile(cm.configPath)
	if err != nil {
		return types.WrapError(err, "failed to load configuration from file")
	}

	cm.config.Store(config)
	return nil
}

func (cm *ConfigurationManager) GetConfig() *types.ServiceConfig {
	return cm.config.Load()
}
