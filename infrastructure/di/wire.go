//go:build wireinject
// +build wireinject

package di

import (
	"context"

	"github.com/google/wire"

	"oidcstore/infrastructure/config"
)

// SuperSet is the main provider set containing all providers
var SuperSet = wire.NewSet(
	ProvideLogger,
	ProvideAWSConfig,
	ProvideDynamoDBClient,
	ProvideStoreClient,
	ProvideEventBridgeClient,
	ProvideCloudWatchClient,
	ProvideEventPublisher,
	ProvideApplicationStore,
	ProvideAuthorizationStore,
	ProvideScopeStore,
	ProvideTokenStore,
	ProvideSchemaManager,
	ProvideMetrics,
	ProvideTracer,
	wire.Struct(new(Container), "*"),
)

// InitializeContainer creates a fully wired container
func InitializeContainer(ctx context.Context, cfg *config.Config) (*Container, error) {
	wire.Build(SuperSet)
	return nil, nil // Wire will replace this
}
