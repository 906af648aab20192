package dynamodb

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"go.uber.org/zap"

	"oidcstore/domain/oauth"
)

// lookupSynchronizer keeps shadow records consistent with the owning
// entity's list-valued attributes. The store cannot query inside a list
// attribute, so every list value gets its own item.
//
// The protocol on update is delete-all-then-recreate. It is not atomic: a
// crash between the delete and the recreate leaves the owner without
// shadows until the next successful update. Errors propagate so the caller
// knows primary and shadow state may have diverged.
type lookupSynchronizer struct {
	client    DynamoDBAPI
	tableName string
	logger    *zap.Logger
}

func newLookupSynchronizer(client DynamoDBAPI, tableName string, logger *zap.Logger) *lookupSynchronizer {
	return &lookupSynchronizer{client: client, tableName: tableName, logger: logger}
}

// syncApplicationRedirects replaces the full redirect shadow set of an
// application. Omitting a URI that previously existed removes its shadow.
func (s *lookupSynchronizer) syncApplicationRedirects(ctx context.Context, app *oauth.Application) error {
	existing, err := s.findRedirectShadowKeys(ctx, app.ID)
	if err != nil {
		return err
	}

	var requests []types.WriteRequest
	for _, key := range existing {
		requests = append(requests, deleteRequest(key[0], key[1]))
	}
	if err := batchWrite(ctx, s.client, s.tableName, requests); err != nil {
		return fmt.Errorf("delete redirect shadows: %w", err)
	}

	requests = requests[:0]
	for _, uri := range app.RedirectURIs {
		item, err := attributevalue.MarshalMap(newApplicationRedirectItem(app.ID, uri, oauth.RedirectKindRedirect))
		if err != nil {
			return fmt.Errorf("marshal redirect shadow: %w", err)
		}
		requests = append(requests, putRequest(item))
	}
	for _, uri := range app.PostLogoutRedirectURIs {
		item, err := attributevalue.MarshalMap(newApplicationRedirectItem(app.ID, uri, oauth.RedirectKindPostLogout))
		if err != nil {
			return fmt.Errorf("marshal post-logout redirect shadow: %w", err)
		}
		requests = append(requests, putRequest(item))
	}
	if err := batchWrite(ctx, s.client, s.tableName, requests); err != nil {
		return fmt.Errorf("write redirect shadows: %w", err)
	}

	s.logger.Debug("synchronized redirect shadows",
		zap.String("applicationID", app.ID),
		zap.Int("removed", len(existing)),
		zap.Int("written", len(app.RedirectURIs)+len(app.PostLogoutRedirectURIs)),
	)
	return nil
}

// findRedirectShadowKeys lists the primary keys of all redirect shadows in
// the owner's partition.
func (s *lookupSynchronizer) findRedirectShadowKeys(ctx context.Context, applicationID string) ([][2]string, error) {
	var keys [][2]string
	var startKey map[string]types.AttributeValue
	for {
		result, err := s.client.Query(ctx, &dynamodb.QueryInput{
			TableName:              aws.String(s.tableName),
			KeyConditionExpression: aws.String("PK = :pk AND begins_with(SK, :prefix)"),
			ExpressionAttributeValues: map[string]types.AttributeValue{
				":pk":     &types.AttributeValueMemberS{Value: applicationPartitionKey(applicationID)},
				":prefix": &types.AttributeValueMemberS{Value: redirectSortKeyPrefix},
			},
			ExclusiveStartKey: startKey,
		})
		if err != nil {
			return nil, mapInfrastructureError("query redirect shadows", err)
		}
		for _, raw := range result.Items {
			keys = append(keys, [2]string{stringAttr(raw, attrPK), stringAttr(raw, attrSK)})
		}
		startKey = result.LastEvaluatedKey
		if startKey == nil {
			break
		}
	}
	return keys, nil
}

// syncScopeLookups replaces the full lookup shadow set of a scope: one
// record for its name, one per resource.
func (s *lookupSynchronizer) syncScopeLookups(ctx context.Context, scope *oauth.Scope) error {
	existing, err := s.findScopeLookupKeys(ctx, scope.ID)
	if err != nil {
		return err
	}

	var requests []types.WriteRequest
	for _, key := range existing {
		requests = append(requests, deleteRequest(key[0], key[1]))
	}
	if err := batchWrite(ctx, s.client, s.tableName, requests); err != nil {
		return fmt.Errorf("delete scope lookups: %w", err)
	}

	requests = requests[:0]
	if scope.Name != "" {
		item, err := attributevalue.MarshalMap(newScopeLookupItem(scope.ID, scope.Name, oauth.ScopeLookupKindName))
		if err != nil {
			return fmt.Errorf("marshal scope name lookup: %w", err)
		}
		requests = append(requests, putRequest(item))
	}
	for _, resource := range scope.Resources {
		item, err := attributevalue.MarshalMap(newScopeLookupItem(scope.ID, resource, oauth.ScopeLookupKindResource))
		if err != nil {
			return fmt.Errorf("marshal scope resource lookup: %w", err)
		}
		requests = append(requests, putRequest(item))
	}
	if err := batchWrite(ctx, s.client, s.tableName, requests); err != nil {
		return fmt.Errorf("write scope lookups: %w", err)
	}

	s.logger.Debug("synchronized scope lookups",
		zap.String("scopeID", scope.ID),
		zap.Int("removed", len(existing)),
		zap.Int("written", len(requests)),
	)
	return nil
}

// findScopeLookupKeys lists the primary keys of a scope's lookup shadows
// through the reverse owner index.
func (s *lookupSynchronizer) findScopeLookupKeys(ctx context.Context, scopeID string) ([][2]string, error) {
	var keys [][2]string
	var startKey map[string]types.AttributeValue
	for {
		result, err := s.client.Query(ctx, &dynamodb.QueryInput{
			TableName:              aws.String(s.tableName),
			IndexName:              aws.String(IndexScopeOwner),
			KeyConditionExpression: aws.String("ScopeID = :scopeID"),
			FilterExpression:       aws.String("EntityType = :entityType"),
			ExpressionAttributeValues: map[string]types.AttributeValue{
				":scopeID":    &types.AttributeValueMemberS{Value: scopeID},
				":entityType": &types.AttributeValueMemberS{Value: string(kindScopeLookup)},
			},
			ExclusiveStartKey: startKey,
		})
		if err != nil {
			return nil, mapInfrastructureError("query scope lookups", err)
		}
		for _, raw := range result.Items {
			if stringAttr(raw, attrEntityType) != string(kindScopeLookup) {
				continue
			}
			keys = append(keys, [2]string{stringAttr(raw, attrPK), stringAttr(raw, attrSK)})
		}
		startKey = result.LastEvaluatedKey
		if startKey == nil {
			break
		}
	}
	return keys, nil
}
