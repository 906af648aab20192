package di

import (
	"context"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	awscloudwatch "github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	awsdynamodb "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	awseventbridge "github.com/aws/aws-sdk-go-v2/service/eventbridge"
	"go.uber.org/zap"

	"oidcstore/application/ports"
	"oidcstore/infrastructure/config"
	"oidcstore/infrastructure/messaging/eventbridge"
	"oidcstore/infrastructure/persistence/dynamodb"
	"oidcstore/infrastructure/persistence/schema"
	"oidcstore/pkg/observability"
)

// ProvideLogger creates a new logger instance
func ProvideLogger(cfg *config.Config) (*zap.Logger, error) {
	if cfg.IsProduction() {
		return zap.NewProduction()
	}
	return zap.NewDevelopment()
}

// ProvideAWSConfig creates AWS configuration
func ProvideAWSConfig(ctx context.Context, cfg *config.Config) (aws.Config, error) {
	return awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithRegion(cfg.AWSRegion),
	)
}

// ProvideDynamoDBClient creates a DynamoDB client
func ProvideDynamoDBClient(awsCfg aws.Config) *awsdynamodb.Client {
	return awsdynamodb.NewFromConfig(awsCfg)
}

// ProvideStoreClient wraps the raw client in a circuit breaker when enabled.
func ProvideStoreClient(client *awsdynamodb.Client, cfg *config.Config, logger *zap.Logger) dynamodb.DynamoDBAPI {
	if !cfg.EnableBreaker {
		return client
	}
	return dynamodb.NewBreakerClient(client, dynamodb.DefaultBreakerConfig("dynamodb"), logger)
}

// ProvideEventBridgeClient creates an EventBridge client
func ProvideEventBridgeClient(awsCfg aws.Config) *awseventbridge.Client {
	return awseventbridge.NewFromConfig(awsCfg)
}

// ProvideCloudWatchClient creates a CloudWatch client
func ProvideCloudWatchClient(awsCfg aws.Config) *awscloudwatch.Client {
	return awscloudwatch.NewFromConfig(awsCfg)
}

// ProvideEventPublisher creates the EventBridge-backed event publisher.
func ProvideEventPublisher(client *awseventbridge.Client, cfg *config.Config, logger *zap.Logger) ports.EventPublisher {
	return eventbridge.NewPublisher(client, cfg.EventBusName, logger)
}

// ProvideApplicationStore creates the application store.
func ProvideApplicationStore(client dynamodb.DynamoDBAPI, cfg *config.Config, logger *zap.Logger) ports.ApplicationStore {
	return dynamodb.NewApplicationStore(client, cfg.TableName, logger)
}

// ProvideAuthorizationStore creates the authorization store with the event
// publisher attached for bulk revocation notifications.
func ProvideAuthorizationStore(
	client dynamodb.DynamoDBAPI,
	cfg *config.Config,
	logger *zap.Logger,
	events ports.EventPublisher,
) ports.AuthorizationStore {
	store := dynamodb.NewAuthorizationStore(client, cfg.TableName, logger)
	store.SetEventPublisher(events)
	return store
}

// ProvideScopeStore creates the scope store.
func ProvideScopeStore(client dynamodb.DynamoDBAPI, cfg *config.Config, logger *zap.Logger) ports.ScopeStore {
	return dynamodb.NewScopeStore(client, cfg.TableName, logger)
}

// ProvideTokenStore creates the token store.
func ProvideTokenStore(client dynamodb.DynamoDBAPI, cfg *config.Config, logger *zap.Logger) ports.TokenStore {
	return dynamodb.NewTokenStore(client, cfg.TableName, logger)
}

// ProvideSchemaManager creates the table provisioning manager.
func ProvideSchemaManager(client *awsdynamodb.Client, cfg *config.Config, logger *zap.Logger) *schema.Manager {
	return schema.NewManager(client, cfg.TableName, logger)
}

// ProvideMetrics creates the CloudWatch metrics emitter.
func ProvideMetrics(client *awscloudwatch.Client, cfg *config.Config, logger *zap.Logger) *observability.Metrics {
	return observability.NewMetrics(client, cfg.Environment, logger)
}

// ProvideTracer creates the X-Ray tracer, inert unless tracing is enabled.
func ProvideTracer(cfg *config.Config) *observability.Tracer {
	return observability.NewTracer("oidcstore", cfg.EnableTracing)
}

// NewContainer wires the dependency graph by hand, mirroring what the
// generated injector produces. Used where running the generator is not an
// option.
func NewContainer(ctx context.Context, cfg *config.Config) (*Container, error) {
	logger, err := ProvideLogger(cfg)
	if err != nil {
		return nil, err
	}

	awsCfg, err := ProvideAWSConfig(ctx, cfg)
	if err != nil {
		return nil, err
	}

	dynamoClient := ProvideDynamoDBClient(awsCfg)
	storeClient := ProvideStoreClient(dynamoClient, cfg, logger)
	events := ProvideEventPublisher(ProvideEventBridgeClient(awsCfg), cfg, logger)

	return &Container{
		Config:         cfg,
		Logger:         logger,
		DynamoDB:       dynamoClient,
		Events:         events,
		Applications:   ProvideApplicationStore(storeClient, cfg, logger),
		Authorizations: ProvideAuthorizationStore(storeClient, cfg, logger, events),
		Scopes:         ProvideScopeStore(storeClient, cfg, logger),
		Tokens:         ProvideTokenStore(storeClient, cfg, logger),
		Schema:         ProvideSchemaManager(dynamoClient, cfg, logger),
		Metrics:        ProvideMetrics(ProvideCloudWatchClient(awsCfg), cfg, logger),
		Tracer:         ProvideTracer(cfg),
	}, nil
}
