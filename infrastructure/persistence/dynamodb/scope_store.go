package dynamodb

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"oidcstore/application/ports"
	"oidcstore/domain/oauth"
	pkgerrors "oidcstore/pkg/errors"
)

// ScopeStore persists scopes and their name/resource lookup shadows.
type ScopeStore struct {
	client    DynamoDBAPI
	tableName string
	logger    *zap.Logger
	lookups   *lookupSynchronizer
	counts    *counter
	lister    *lister
}

var _ ports.ScopeStore = (*ScopeStore)(nil)

// NewScopeStore creates a new ScopeStore.
func NewScopeStore(client DynamoDBAPI, tableName string, logger *zap.Logger) *ScopeStore {
	counts := newCounter(client, tableName, logger)
	return &ScopeStore{
		client:    client,
		tableName: tableName,
		logger:    logger,
		lookups:   newLookupSynchronizer(client, tableName, logger),
		counts:    counts,
		lister:    newLister(client, tableName, counts),
	}
}

// Instantiate constructs a blank scope with a fresh identity.
func (s *ScopeStore) Instantiate() *oauth.Scope {
	return oauth.NewScope()
}

// Create writes the scope, its lookup shadows and the counter adjustment
// sequentially. Name uniqueness is not enforced here; FindByName resolves
// collisions by returning the first match.
func (s *ScopeStore) Create(ctx context.Context, scope *oauth.Scope) error {
	if scope == nil {
		return pkgerrors.NewValidationError("scope cannot be nil")
	}
	if scope.ID == "" {
		return pkgerrors.NewValidationError("scope id cannot be empty")
	}
	if scope.ConcurrencyToken == "" {
		scope.ConcurrencyToken = uuid.NewString()
	}

	item, err := attributevalue.MarshalMap(newScopeItem(scope))
	if err != nil {
		return fmt.Errorf("marshal scope: %w", err)
	}

	if _, err := s.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           aws.String(s.tableName),
		Item:                item,
		ConditionExpression: aws.String("attribute_not_exists(PK)"),
	}); err != nil {
		if isConditionalCheckFailed(err) {
			return pkgerrors.NewValidationError(fmt.Sprintf("scope '%s' already exists", scope.ID))
		}
		return mapInfrastructureError("create scope", err)
	}

	if err := s.lookups.syncScopeLookups(ctx, scope); err != nil {
		return err
	}
	if err := s.counts.adjust(ctx, kindScope, 1); err != nil {
		return err
	}

	s.logger.Info("scope created",
		zap.String("scopeID", scope.ID),
		zap.String("name", scope.Name),
	)
	return nil
}

// Update writes the scope guarded by its concurrency token and rebuilds the
// name and resource lookup shadows.
func (s *ScopeStore) Update(ctx context.Context, scope *oauth.Scope) error {
	if scope == nil {
		return pkgerrors.NewValidationError("scope cannot be nil")
	}
	if scope.ID == "" {
		return pkgerrors.NewValidationError("scope id cannot be empty")
	}

	expected := scope.ConcurrencyToken
	scope.ConcurrencyToken = uuid.NewString()

	item, err := attributevalue.MarshalMap(newScopeItem(scope))
	if err != nil {
		scope.ConcurrencyToken = expected
		return fmt.Errorf("marshal scope: %w", err)
	}

	if _, err := s.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           aws.String(s.tableName),
		Item:                item,
		ConditionExpression: aws.String("ConcurrencyToken = :expected"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":expected": &types.AttributeValueMemberS{Value: expected},
		},
	}); err != nil {
		scope.ConcurrencyToken = expected
		if isConditionalCheckFailed(err) {
			return pkgerrors.NewConcurrencyError("scope", scope.ID)
		}
		return mapInfrastructureError("update scope", err)
	}

	if err := s.lookups.syncScopeLookups(ctx, scope); err != nil {
		return err
	}

	s.logger.Info("scope updated", zap.String("scopeID", scope.ID))
	return nil
}

// Delete removes the primary record and decrements the counter. Lookup
// shadows stay behind as orphans until the scope id stops resolving.
func (s *ScopeStore) Delete(ctx context.Context, scope *oauth.Scope) error {
	if scope == nil {
		return pkgerrors.NewValidationError("scope cannot be nil")
	}
	if scope.ID == "" {
		return pkgerrors.NewValidationError("scope id cannot be empty")
	}

	if _, err := s.client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName: aws.String(s.tableName),
		Key: map[string]types.AttributeValue{
			attrPK: &types.AttributeValueMemberS{Value: scopePartitionKey(scope.ID)},
			attrSK: &types.AttributeValueMemberS{Value: scopeSortKey(scope.ID)},
		},
	}); err != nil {
		return mapInfrastructureError("delete scope", err)
	}

	if err := s.counts.adjust(ctx, kindScope, -1); err != nil {
		return err
	}

	s.logger.Info("scope deleted", zap.String("scopeID", scope.ID))
	return nil
}

// FindByID returns the scope or nil when absent.
func (s *ScopeStore) FindByID(ctx context.Context, id string) (*oauth.Scope, error) {
	if id == "" {
		return nil, pkgerrors.NewValidationError("scope id cannot be empty")
	}

	result, err := s.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(s.tableName),
		Key: map[string]types.AttributeValue{
			attrPK: &types.AttributeValueMemberS{Value: scopePartitionKey(id)},
			attrSK: &types.AttributeValueMemberS{Value: scopeSortKey(id)},
		},
	})
	if err != nil {
		return nil, mapInfrastructureError("find scope", err)
	}
	if result.Item == nil {
		return nil, nil
	}

	item, ok, err := unmarshalAs[scopeItem](result.Item, kindScope)
	if err != nil || !ok {
		return nil, err
	}
	return item.toDomain(), nil
}

// FindByName resolves a scope by its registered name through the lookup
// partition, or returns nil. A lookup record whose scope no longer exists
// is treated as absent.
func (s *ScopeStore) FindByName(ctx context.Context, name string) (*oauth.Scope, error) {
	if name == "" {
		return nil, pkgerrors.NewValidationError("scope name cannot be empty")
	}

	ids, err := s.lookupScopeIDs(ctx, name, oauth.ScopeLookupKindName)
	if err != nil {
		return nil, err
	}
	for _, id := range ids {
		scope, err := s.FindByID(ctx, id)
		if err != nil {
			return nil, err
		}
		if scope != nil {
			return scope, nil
		}
	}
	return nil, nil
}

// FindByResource returns every scope listing resource, resolved through the
// lookup partition.
func (s *ScopeStore) FindByResource(ctx context.Context, resource string) ([]*oauth.Scope, error) {
	if resource == "" {
		return nil, pkgerrors.NewValidationError("resource cannot be empty")
	}

	ids, err := s.lookupScopeIDs(ctx, resource, oauth.ScopeLookupKindResource)
	if err != nil {
		return nil, err
	}

	var scopes []*oauth.Scope
	for _, id := range ids {
		scope, err := s.FindByID(ctx, id)
		if err != nil {
			return nil, err
		}
		if scope != nil {
			scopes = append(scopes, scope)
		}
	}
	return scopes, nil
}

func (s *ScopeStore) lookupScopeIDs(ctx context.Context, value string, kind oauth.ScopeLookupKind) ([]string, error) {
	var ids []string
	seen := make(map[string]struct{})
	var startKey map[string]types.AttributeValue
	for {
		result, err := s.client.Query(ctx, &dynamodb.QueryInput{
			TableName:              aws.String(s.tableName),
			KeyConditionExpression: aws.String("PK = :pk AND begins_with(SK, :prefix)"),
			ExpressionAttributeValues: map[string]types.AttributeValue{
				":pk":     &types.AttributeValueMemberS{Value: scopeLookupPartitionKey(value)},
				":prefix": &types.AttributeValueMemberS{Value: scopeLookupSortKeyPrefix(kind)},
			},
			ExclusiveStartKey: startKey,
		})
		if err != nil {
			return nil, mapInfrastructureError("find scopes by lookup", err)
		}

		for _, raw := range result.Items {
			id := stringAttr(raw, "ScopeID")
			if id == "" {
				continue
			}
			if _, dup := seen[id]; dup {
				continue
			}
			seen[id] = struct{}{}
			ids = append(ids, id)
		}

		startKey = result.LastEvaluatedKey
		if startKey == nil {
			break
		}
	}
	return ids, nil
}

// Count returns the approximate number of scopes.
func (s *ScopeStore) Count(ctx context.Context) (int64, error) {
	return s.counts.read(ctx, kindScope)
}

// List returns one page of scopes.
func (s *ScopeStore) List(ctx context.Context, opts ports.ListOptions) (*ports.Page[*oauth.Scope], error) {
	raws, lastKey, err := s.lister.listPage(ctx, kindScope, opts)
	if err != nil {
		return nil, err
	}

	page := &ports.Page[*oauth.Scope]{NextCursor: EncodeCursor(lastKey)}
	for _, raw := range raws {
		item, ok, err := unmarshalAs[scopeItem](raw, kindScope)
		if err != nil {
			return nil, err
		}
		if ok {
			page.Items = append(page.Items, item.toDomain())
		}
	}
	return page, nil
}
