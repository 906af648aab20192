package di

import (
	awsdynamodb "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"go.uber.org/zap"

	"oidcstore/application/ports"
	"oidcstore/infrastructure/config"
	"oidcstore/infrastructure/persistence/schema"
	"oidcstore/pkg/observability"
)

// Container holds all application dependencies
type Container struct {
	Config         *config.Config
	Logger         *zap.Logger
	DynamoDB       *awsdynamodb.Client
	Events         ports.EventPublisher
	Applications   ports.ApplicationStore
	Authorizations ports.AuthorizationStore
	Scopes         ports.ScopeStore
	Tokens         ports.TokenStore
	Schema         *schema.Manager
	Metrics        *observability.Metrics
	Tracer         *observability.Tracer
}
