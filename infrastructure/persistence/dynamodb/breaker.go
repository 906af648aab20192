package dynamodb

import (
	"context"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"
)

// BreakerConfig holds circuit breaker tuning for the DynamoDB client.
type BreakerConfig struct {
	Name             string
	MaxRequests      uint32
	Interval         time.Duration
	Timeout          time.Duration
	FailureThreshold float64
	MinRequests      uint32
}

// DefaultBreakerConfig returns conservative defaults: the breaker only
// trips on a sustained failure rate, not on isolated conditional-check
// rejections (those are not failures, see IsSuccessful below).
func DefaultBreakerConfig(name string) BreakerConfig {
	return BreakerConfig{
		Name:             name,
		MaxRequests:      5,
		Interval:         30 * time.Second,
		Timeout:          60 * time.Second,
		FailureThreshold: 0.8,
		MinRequests:      5,
	}
}

// BreakerClient decorates a DynamoDBAPI with a shared circuit breaker.
type BreakerClient struct {
	inner   DynamoDBAPI
	breaker *gobreaker.CircuitBreaker
}

var _ DynamoDBAPI = (*BreakerClient)(nil)

// NewBreakerClient wraps client with a circuit breaker.
func NewBreakerClient(client DynamoDBAPI, config BreakerConfig, logger *zap.Logger) *BreakerClient {
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        config.Name,
		MaxRequests: config.MaxRequests,
		Interval:    config.Interval,
		Timeout:     config.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < config.MinRequests {
				return false
			}
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return failureRatio >= config.FailureThreshold
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			logger.Warn("circuit breaker state changed",
				zap.String("name", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
		},
		IsSuccessful: func(err error) bool {
			// Conditional-check rejections are application-level outcomes,
			// not infrastructure failures.
			return err == nil || isConditionalCheckFailed(err)
		},
	})

	return &BreakerClient{inner: client, breaker: cb}
}

func execute[T any](b *BreakerClient, fn func() (T, error)) (T, error) {
	out, err := b.breaker.Execute(func() (any, error) {
		return fn()
	})
	if err != nil {
		var zero T
		return zero, err
	}
	return out.(T), nil
}

func (b *BreakerClient) GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error) {
	return execute(b, func() (*dynamodb.GetItemOutput, error) { return b.inner.GetItem(ctx, params, optFns...) })
}

func (b *BreakerClient) PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error) {
	return execute(b, func() (*dynamodb.PutItemOutput, error) { return b.inner.PutItem(ctx, params, optFns...) })
}

func (b *BreakerClient) UpdateItem(ctx context.Context, params *dynamodb.UpdateItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error) {
	return execute(b, func() (*dynamodb.UpdateItemOutput, error) { return b.inner.UpdateItem(ctx, params, optFns...) })
}

func (b *BreakerClient) DeleteItem(ctx context.Context, params *dynamodb.DeleteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error) {
	return execute(b, func() (*dynamodb.DeleteItemOutput, error) { return b.inner.DeleteItem(ctx, params, optFns...) })
}

func (b *BreakerClient) Query(ctx context.Context, params *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error) {
	return execute(b, func() (*dynamodb.QueryOutput, error) { return b.inner.Query(ctx, params, optFns...) })
}

func (b *BreakerClient) Scan(ctx context.Context, params *dynamodb.ScanInput, optFns ...func(*dynamodb.Options)) (*dynamodb.ScanOutput, error) {
	return execute(b, func() (*dynamodb.ScanOutput, error) { return b.inner.Scan(ctx, params, optFns...) })
}

func (b *BreakerClient) BatchGetItem(ctx context.Context, params *dynamodb.BatchGetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.BatchGetItemOutput, error) {
	return execute(b, func() (*dynamodb.BatchGetItemOutput, error) { return b.inner.BatchGetItem(ctx, params, optFns...) })
}

func (b *BreakerClient) BatchWriteItem(ctx context.Context, params *dynamodb.BatchWriteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.BatchWriteItemOutput, error) {
	return execute(b, func() (*dynamodb.BatchWriteItemOutput, error) { return b.inner.BatchWriteItem(ctx, params, optFns...) })
}
