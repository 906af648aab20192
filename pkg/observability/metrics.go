package observability

import (
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"
	"go.uber.org/zap"
)

const metricsNamespace = "OIDCStore"

// CloudWatchAPI is the slice of the CloudWatch client the emitter uses.
type CloudWatchAPI interface {
	PutMetricData(ctx context.Context, params *cloudwatch.PutMetricDataInput, optFns ...func(*cloudwatch.Options)) (*cloudwatch.PutMetricDataOutput, error)
}

// Metrics publishes operational counters to CloudWatch.
type Metrics struct {
	client      CloudWatchAPI
	environment string
	logger      *zap.Logger
}

// NewMetrics creates a CloudWatch metrics emitter.
func NewMetrics(client CloudWatchAPI, environment string, logger *zap.Logger) *Metrics {
	return &Metrics{client: client, environment: environment, logger: logger}
}

// RecordCount publishes one count metric under the service namespace.
func (m *Metrics) RecordCount(ctx context.Context, name string, value int64) error {
	_, err := m.client.PutMetricData(ctx, &cloudwatch.PutMetricDataInput{
		Namespace: aws.String(metricsNamespace),
		MetricData: []types.MetricDatum{
			{
				MetricName: aws.String(name),
				Value:      aws.Float64(float64(value)),
				Unit:       types.StandardUnitCount,
				Timestamp:  aws.Time(time.Now().UTC()),
				Dimensions: []types.Dimension{
					{
						Name:  aws.String("Environment"),
						Value: aws.String(m.environment),
					},
				},
			},
		},
	})
	if err != nil {
		return fmt.Errorf("put metric %s: %w", name, err)
	}

	m.logger.Debug("metric recorded",
		zap.String("metric", name),
		zap.Int64("value", value),
	)
	return nil
}

// RecordDuration publishes one timing metric in milliseconds.
func (m *Metrics) RecordDuration(ctx context.Context, name string, d time.Duration) error {
	_, err := m.client.PutMetricData(ctx, &cloudwatch.PutMetricDataInput{
		Namespace: aws.String(metricsNamespace),
		MetricData: []types.MetricDatum{
			{
				MetricName: aws.String(name),
				Value:      aws.Float64(float64(d.Milliseconds())),
				Unit:       types.StandardUnitMilliseconds,
				Timestamp:  aws.Time(time.Now().UTC()),
				Dimensions: []types.Dimension{
					{
						Name:  aws.String("Environment"),
						Value: aws.String(m.environment),
					},
				},
			},
		},
	})
	if err != nil {
		return fmt.Errorf("put metric %s: %w", name, err)
	}
	return nil
}
