package logger

import (
	"context"
	"os"
	"strings"
	"sync/atomic"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	cwtypes "github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"
)

const defaultNamespace = "SerumFlow"

// cloudWatchAPI is the subset of the CloudWatch client used for publishing.
type cloudWatchAPI interface {
	PutMetricData(ctx context.Context, in *cloudwatch.PutMetricDataInput, opts ...func(*cloudwatch.Options)) (*cloudwatch.PutMetricDataOutput, error)
	PutDashboard(ctx context.Context, in *cloudwatch.PutDashboardInput, opts ...func(*cloudwatch.Options)) (*cloudwatch.PutDashboardOutput, error)
}

type cloudWatchTarget struct {
	client    cloudWatchAPI
	namespace string
	region    string
}

var cwTarget atomic.Pointer[cloudWatchTarget]

// InitCloudWatch creates the process-wide CloudWatch client. An empty region
// falls back to AWS_REGION, an empty namespace to SerumFlow. Until it succeeds
// every publish is a no-op.
func InitCloudWatch(region, namespace string) error {
	if region == "" {
		region = os.Getenv("AWS_REGION")
	}
	var opts []func(*config.LoadOptions) error
	if region != "" {
		opts = append(opts, config.WithRegion(region))
	}
	cfg, err := config.LoadDefaultConfig(context.Background(), opts...)
	if err != nil {
		return err
	}
	if cfg.Region != "" {
		region = cfg.Region
	}
	setCloudWatch(cloudwatch.NewFromConfig(cfg), namespace, region)
	GetLogger().WithComponent("cloudwatch").WithFields(Fields{
		"region":    region,
		"namespace": CloudWatchNamespace(),
	}).Info("initialized CloudWatch client")
	return nil
}

func setCloudWatch(client cloudWatchAPI, namespace, region string) {
	if namespace == "" {
		namespace = defaultNamespace
	}
	cwTarget.Store(&cloudWatchTarget{client: client, namespace: namespace, region: region})
}

// CloudWatchNamespace reports the namespace metrics are published under.
func CloudWatchNamespace() string {
	if t := cwTarget.Load(); t != nil {
		return t.namespace
	}
	return defaultNamespace
}

// CloudWatchRegion reports the region of the initialised client, if any.
func CloudWatchRegion() string {
	if t := cwTarget.Load(); t != nil {
		return t.region
	}
	return ""
}

// MetricDatum builds one datum for metric. String fields become dimensions
// next to component; a "unit" field selects the CloudWatch unit.
func MetricDatum(component, metric string, value float64, fields Fields) cwtypes.MetricDatum {
	unit := cwtypes.StandardUnitCount
	dims := []cwtypes.Dimension{{Name: aws.String("component"), Value: aws.String(component)}}
	for k, v := range fields {
		s, ok := v.(string)
		if !ok || s == "" {
			continue
		}
		switch k {
		case "metric", "metric_type", "value":
		case "unit":
			if u, ok := StandardUnit(s); ok {
				unit = u
			}
		default:
			dims = append(dims, cwtypes.Dimension{Name: aws.String(k), Value: aws.String(s)})
		}
	}
	return cwtypes.MetricDatum{
		MetricName: aws.String(metric),
		Dimensions: dims,
		Unit:       unit,
		Value:      aws.Float64(value),
	}
}

// StandardUnit maps a unit name to its CloudWatch unit.
func StandardUnit(unit string) (cwtypes.StandardUnit, bool) {
	switch strings.ToLower(unit) {
	case "count":
		return cwtypes.StandardUnitCount, true
	case "percent":
		return cwtypes.StandardUnitPercent, true
	case "bytes":
		return cwtypes.StandardUnitBytes, true
	case "milliseconds", "ms":
		return cwtypes.StandardUnitMilliseconds, true
	case "seconds", "s":
		return cwtypes.StandardUnitSeconds, true
	default:
		return cwtypes.StandardUnitCount, false
	}
}

// NumericValue converts the integer and float kinds used by metric callers.
func NumericValue(value interface{}) (float64, bool) {
	switch v := value.(type) {
	case int:
		return float64(v), true
	case int32:
		return float64(v), true
	case int64:
		return float64(v), true
	case uint32:
		return float64(v), true
	case uint64:
		return float64(v), true
	case float32:
		return float64(v), true
	case float64:
		return v, true
	default:
		return 0, false
	}
}

// PublishMetrics sends data to CloudWatch. It does nothing before
// InitCloudWatch succeeded.
func PublishMetrics(ctx context.Context, data ...cwtypes.MetricDatum) {
	t := cwTarget.Load()
	if t == nil || t.client == nil || len(data) == 0 {
		return
	}
	log := GetLogger().WithComponent("cloudwatch")
	if _, err := t.client.PutMetricData(ctx, &cloudwatch.PutMetricDataInput{
		Namespace:  aws.String(t.namespace),
		MetricData: data,
	}); err != nil {
		log.WithError(err).Warn("failed to publish CloudWatch metrics")
		return
	}
	log.WithFields(Fields{"count": len(data)}).Debug("published metrics to CloudWatch")
}

// PutDashboard creates or replaces the named CloudWatch dashboard.
func PutDashboard(ctx context.Context, name, body string) error {
	t := cwTarget.Load()
	if t == nil || t.client == nil {
		return nil
	}
	_, err := t.client.PutDashboard(ctx, &cloudwatch.PutDashboardInput{
		DashboardName: aws.String(name),
		DashboardBody: aws.String(body),
	})
	return err
}
