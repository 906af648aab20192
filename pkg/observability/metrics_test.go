package observability

import (
	"context"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeCloudWatch struct {
	inputs []*cloudwatch.PutMetricDataInput
}

func (f *fakeCloudWatch) PutMetricData(_ context.Context, params *cloudwatch.PutMetricDataInput, _ ...func(*cloudwatch.Options)) (*cloudwatch.PutMetricDataOutput, error) {
	f.inputs = append(f.inputs, params)
	return &cloudwatch.PutMetricDataOutput{}, nil
}

func TestRecordCount(t *testing.T) {
	fake := &fakeCloudWatch{}
	metrics := NewMetrics(fake, "production", zap.NewNop())

	require.NoError(t, metrics.RecordCount(context.Background(), "PrunedTokens", 42))

	require.Len(t, fake.inputs, 1)
	input := fake.inputs[0]
	assert.Equal(t, metricsNamespace, aws.ToString(input.Namespace))
	require.Len(t, input.MetricData, 1)
	datum := input.MetricData[0]
	assert.Equal(t, "PrunedTokens", aws.ToString(datum.MetricName))
	assert.Equal(t, float64(42), aws.ToFloat64(datum.Value))
	assert.Equal(t, types.StandardUnitCount, datum.Unit)
	require.Len(t, datum.Dimensions, 1)
	assert.Equal(t, "Environment", aws.ToString(datum.Dimensions[0].Name))
	assert.Equal(t, "production", aws.ToString(datum.Dimensions[0].Value))
}

func TestRecordDuration(t *testing.T) {
	fake := &fakeCloudWatch{}
	metrics := NewMetrics(fake, "production", zap.NewNop())

	require.NoError(t, metrics.RecordDuration(context.Background(), "PruneDuration", 1500*time.Millisecond))

	require.Len(t, fake.inputs, 1)
	datum := fake.inputs[0].MetricData[0]
	assert.Equal(t, "PruneDuration", aws.ToString(datum.MetricName))
	assert.Equal(t, float64(1500), aws.ToFloat64(datum.Value))
	assert.Equal(t, types.StandardUnitMilliseconds, datum.Unit)
}
