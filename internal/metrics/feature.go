package metrics

import (
	"strings"
	"sync"

	"serumflow/config"
)

// Feature names an optional group of metrics.
type Feature string

const (
	// FeatureChannelSize covers the periodic channel buffer occupancy gauges.
	FeatureChannelSize Feature = "channel_size"
)

var (
	featuresMu sync.RWMutex
	features   = map[Feature]bool{FeatureChannelSize: true}
)

// Configure applies the metrics section of the configuration.
func Configure(cfg config.MetricsConfig) {
	featuresMu.Lock()
	features[FeatureChannelSize] = cfg.ChannelSize
	featuresMu.Unlock()
}

// IsFeatureEnabled reports whether metrics of the feature are emitted.
func IsFeatureEnabled(f Feature) bool {
	featuresMu.RLock()
	defer featuresMu.RUnlock()
	return features[f]
}

func metricAllowed(name string) bool {
	if strings.HasSuffix(name, "_buffer_length") {
		return IsFeatureEnabled(FeatureChannelSize)
	}
	return true
}
