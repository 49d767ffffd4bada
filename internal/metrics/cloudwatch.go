package metrics

import (
	"context"
	_ "embed"
	"encoding/json"
	"fmt"
	"strings"

	"serumflow/config"
	"serumflow/logger"
)

//go:embed CWdash.json
var dashboardTemplate string

// InitCloudWatch connects the CloudWatch publisher and installs the SerumFlow
// dashboard. Failures are logged and leave publishing disabled.
func InitCloudWatch(cfg config.CloudWatchConfig) {
	if !cfg.Enabled {
		return
	}
	log := logger.GetLogger().WithComponent("cloudwatch")
	if err := logger.InitCloudWatch(cfg.Region, cfg.Namespace); err != nil {
		log.WithError(err).Warn("failed to load AWS configuration; CloudWatch metrics disabled")
		return
	}
	name := cfg.Dashboard
	if name == "" {
		name = logger.CloudWatchNamespace()
	}
	if err := CreateDashboardFromTemplate(context.Background(), name); err != nil {
		log.WithError(err).Warn("failed to create CloudWatch dashboard")
	}
}

// EmitMetric logs a metric line, publishes numeric values to CloudWatch and
// hands the metric to the registered handlers. Metrics of disabled features
// are dropped.
func EmitMetric(log *logger.Log, component string, metric string, value interface{}, metricType string, fields logger.Fields) {
	if !metricAllowed(metric) {
		return
	}
	recordMetric(log, component, metric, value, metricType, fields)
}

// renderDashboard substitutes the namespace and region into the embedded
// dashboard definition.
func renderDashboard(namespace, region string) (string, error) {
	body := dashboardTemplate
	if namespace != "" {
		body = strings.ReplaceAll(body, `"SerumFlow"`, fmt.Sprintf("%q", namespace))
	}
	if region != "" {
		body = strings.ReplaceAll(body, `"us-east-1"`, fmt.Sprintf("%q", region))
	}
	if !json.Valid([]byte(body)) {
		return "", fmt.Errorf("dashboard template is not valid JSON after substitution")
	}
	return body, nil
}

// CreateDashboardFromTemplate puts the rendered dashboard under name.
func CreateDashboardFromTemplate(ctx context.Context, name string) error {
	body, err := renderDashboard(logger.CloudWatchNamespace(), logger.CloudWatchRegion())
	if err != nil {
		return err
	}
	return logger.PutDashboard(ctx, name, body)
}
