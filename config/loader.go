package config

import (
	"context"
	"os"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/saiset-co/sai-enrichment/types"
)

type Loader struct {
	validator *validator.Validate
}

func NewLoader() *Loader {
	return &Loader{
		validator: validator.New(validator.WithRequiredStructEnabled()),
	}
}

func (l *Loader) LoadFromFile(configPath string) (config *types.ServiceConfig, err error) {
	if configPath == "" {
		return config, types.ErrConfigNotFound
	}

	if _, err = os.Stat(configPath); os.IsNotExist(err) {
		return config, types.WrapError(err, "file not found: "+configPath)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	data, err := l.readFileWithTimeout(ctx, configPath)
	if err != nil {
		return config, types.WrapError(err, "failed to read config file")
	}

	config = Defaults()

	if err := yaml.Unmarshal(data, config); err != nil {
		return config, types.WrapError(err, "failed to parse YAML config")
	}

	normalize(config)

	if err := l.validator.Struct(config); err != nil {
		return config, types.WrapError(err, "config validation failed")
	}

	for name := range config.Enrichment.Categories {
		if err := types.ValidateCategoryName(name); err != nil {
			return config, types.WrapError(err, "config validation failed")
		}
	}

	return config, nil
}

func (l *Loader) readFileWithTimeout(ctx context.Context, filepath string) ([]byte, error) {
	type result struct {
		data []byte
		err  error
	}

	resultChan := make(chan result, 1)

	go func() {
		data, err := os.ReadFile(filepath)
		resultChan <- result{data: data, err: err}
	}()

	select {
	case res := <-resultChan:
		return res.data, res.err
	case <-ctx.Done():
		return nil, types.WrapError(ctx.Err(), "file read timeout")
	}
}
