package schema

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"go.uber.org/zap"

	store "oidcstore/infrastructure/persistence/dynamodb"
)

const (
	// pollInterval matches the fixed cadence of the provisioning wait
	// loops; attempts are bounded so a stuck table surfaces as an error
	// instead of an endless poll.
	pollInterval    = 5 * time.Second
	maxPollAttempts = 60
)

// Manager provisions the single shared table and its secondary indexes.
type Manager struct {
	client    *dynamodb.Client
	tableName string
	logger    *zap.Logger
}

// NewManager creates a schema manager for the given table.
func NewManager(client *dynamodb.Client, tableName string, logger *zap.Logger) *Manager {
	return &Manager{client: client, tableName: tableName, logger: logger}
}

// EnsureTable creates the table with all secondary indexes when it does not
// exist yet, then waits until it reports ACTIVE. Safe to call repeatedly.
func (m *Manager) EnsureTable(ctx context.Context) error {
	exists, err := m.tableExists(ctx)
	if err != nil {
		return err
	}
	if !exists {
		if err := m.createTable(ctx); err != nil {
			return err
		}
		m.logger.Info("table created", zap.String("table", m.tableName))
	}
	return m.waitForActive(ctx)
}

func (m *Manager) tableExists(ctx context.Context) (bool, error) {
	_, err := m.client.DescribeTable(ctx, &dynamodb.DescribeTableInput{
		TableName: aws.String(m.tableName),
	})
	if err != nil {
		var notFound *types.ResourceNotFoundException
		if errors.As(err, &notFound) {
			return false, nil
		}
		return false, fmt.Errorf("describe table %s: %w", m.tableName, err)
	}
	return true, nil
}

func (m *Manager) createTable(ctx context.Context) error {
	stringAttr := func(name string) types.AttributeDefinition {
		return types.AttributeDefinition{
			AttributeName: aws.String(name),
			AttributeType: types.ScalarAttributeTypeS,
		}
	}
	hashKey := func(name string) []types.KeySchemaElement {
		return []types.KeySchemaElement{
			{AttributeName: aws.String(name), KeyType: types.KeyTypeHash},
		}
	}
	hashRangeKey := func(hash, rng string) []types.KeySchemaElement {
		return []types.KeySchemaElement{
			{AttributeName: aws.String(hash), KeyType: types.KeyTypeHash},
			{AttributeName: aws.String(rng), KeyType: types.KeyTypeRange},
		}
	}
	allProjection := &types.Projection{ProjectionType: types.ProjectionTypeAll}

	_, err := m.client.CreateTable(ctx, &dynamodb.CreateTableInput{
		TableName:   aws.String(m.tableName),
		BillingMode: types.BillingModePayPerRequest,
		AttributeDefinitions: []types.AttributeDefinition{
			stringAttr("PK"),
			stringAttr("SK"),
			stringAttr("ClientID"),
			stringAttr("RedirectURI"),
			stringAttr("RedirectType"),
			stringAttr("Subject"),
			stringAttr("SearchKey"),
			stringAttr("ApplicationID"),
			stringAttr("ReferenceID"),
			stringAttr("AuthorizationID"),
			stringAttr("ScopeID"),
		},
		KeySchema: hashRangeKey("PK", "SK"),
		GlobalSecondaryIndexes: []types.GlobalSecondaryIndex{
			{
				IndexName:  aws.String(store.IndexClientID),
				KeySchema:  hashKey("ClientID"),
				Projection: allProjection,
			},
			{
				IndexName:  aws.String(store.IndexRedirect),
				KeySchema:  hashRangeKey("RedirectURI", "RedirectType"),
				Projection: allProjection,
			},
			{
				IndexName:  aws.String(store.IndexSubject),
				KeySchema:  hashRangeKey("Subject", "SearchKey"),
				Projection: allProjection,
			},
			{
				IndexName:  aws.String(store.IndexApplication),
				KeySchema:  hashKey("ApplicationID"),
				Projection: allProjection,
			},
			{
				IndexName:  aws.String(store.IndexReference),
				KeySchema:  hashKey("ReferenceID"),
				Projection: allProjection,
			},
			{
				IndexName:  aws.String(store.IndexAuthorizationID),
				KeySchema:  hashKey("AuthorizationID"),
				Projection: allProjection,
			},
			{
				IndexName:  aws.String(store.IndexScopeOwner),
				KeySchema:  hashKey("ScopeID"),
				Projection: allProjection,
			},
		},
	})
	if err != nil {
		var inUse *types.ResourceInUseException
		if errors.As(err, &inUse) {
			// Lost a create race to another instance; waiting is enough.
			return nil
		}
		return fmt.Errorf("create table %s: %w", m.tableName, err)
	}
	return nil
}

func (m *Manager) waitForActive(ctx context.Context) error {
	for attempt := 0; attempt < maxPollAttempts; attempt++ {
		out, err := m.client.DescribeTable(ctx, &dynamodb.DescribeTableInput{
			TableName: aws.String(m.tableName),
		})
		if err != nil {
			return fmt.Errorf("describe table %s: %w", m.tableName, err)
		}
		if out.Table != nil && out.Table.TableStatus == types.TableStatusActive {
			return nil
		}

		m.logger.Debug("waiting for table to become active",
			zap.String("table", m.tableName),
			zap.Int("attempt", attempt+1),
		)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(pollInterval):
		}
	}
	return fmt.Errorf("table %s not active after %d attempts", m.tableName, maxPollAttempts)
}

// EnsureTimeToLive enables expiry on the ttl attribute and waits until the
// backing store reports it enabled. Safe to call repeatedly.
func (m *Manager) EnsureTimeToLive(ctx context.Context) error {
	status, err := m.timeToLiveStatus(ctx)
	if err != nil {
		return err
	}
	if status == types.TimeToLiveStatusEnabled {
		return nil
	}

	if status != types.TimeToLiveStatusEnabling {
		_, err = m.client.UpdateTimeToLive(ctx, &dynamodb.UpdateTimeToLiveInput{
			TableName: aws.String(m.tableName),
			TimeToLiveSpecification: &types.TimeToLiveSpecification{
				AttributeName: aws.String("ttl"),
				Enabled:       aws.Bool(true),
			},
		})
		if err != nil {
			return fmt.Errorf("enable ttl on %s: %w", m.tableName, err)
		}
		m.logger.Info("ttl enabled", zap.String("table", m.tableName))
	}

	for attempt := 0; attempt < maxPollAttempts; attempt++ {
		status, err := m.timeToLiveStatus(ctx)
		if err != nil {
			return err
		}
		if status == types.TimeToLiveStatusEnabled {
			return nil
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(pollInterval):
		}
	}
	return fmt.Errorf("ttl on %s not enabled after %d attempts", m.tableName, maxPollAttempts)
}

func (m *Manager) timeToLiveStatus(ctx context.Context) (types.TimeToLiveStatus, error) {
	out, err := m.client.DescribeTimeToLive(ctx, &dynamodb.DescribeTimeToLiveInput{
		TableName: aws.String(m.tableName),
	})
	if err != nil {
		return "", fmt.Errorf("describe ttl on %s: %w", m.tableName, err)
	}
	if out.TimeToLiveDescription == nil {
		return types.TimeToLiveStatusDisabled, nil
	}
	return out.TimeToLiveDescription.TimeToLiveStatus, nil
}
