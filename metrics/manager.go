package metrics

import (
	"github.com/saiset-co/sai-enrichment/types"
)

var customMetricsCreators = make(map[string]types.MetricsManagerCreator)

func RegisterMetricsManager(metricsType string, creator types.MetricsManagerCreator) {
	customMetricsCreators[metricsType] = creator
}

func NewMetricsManager(logger types.Logger, config *types.MetricsConfig) (types.MetricsManager, error) {
	if config == nil || !config.Enabled {
		return nil, types.ErrMetricsIsDisabled
	}

	switch config.Type {
	case "prometheus":
		return NewPrometheusMetrics(logger, config)
	case "memory":
		return NewMemoryMetrics(), nil
	default:
		if creator, exists := customMetricsCreators[config.Type]; exists {
			return creator(config)
		}
		return nil, types.Errorf(types.ErrMetricsTypeUnknown, "type: %s", config.Type)
	}
}
