package dynamodb

import (
	"context"
	"fmt"
	"time"

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

// revocationGrace is how far in the future a revoked record's expiry is
// scheduled, leaving a short window for in-flight readers.
const revocationGrace = 5 * time.Minute

// AuthorizationStore persists consent authorizations.
type AuthorizationStore struct {
	client    DynamoDBAPI
	tableName string
	logger    *zap.Logger
	counts    *counter
	lister    *lister
	events    ports.EventPublisher
	now       func() time.Time
}

var _ ports.AuthorizationStore = (*AuthorizationStore)(nil)

// NewAuthorizationStore creates a new AuthorizationStore.
func NewAuthorizationStore(client DynamoDBAPI, tableName string, logger *zap.Logger) *AuthorizationStore {
	counts := newCounter(client, tableName, logger)
	return &AuthorizationStore{
		client:    client,
		tableName: tableName,
		logger:    logger,
		counts:    counts,
		lister:    newLister(client, tableName, counts),
		now:       time.Now,
	}
}

// SetEventPublisher wires the bus that receives bulk revocation events.
// Without a publisher revocations still happen, just silently.
func (s *AuthorizationStore) SetEventPublisher(events ports.EventPublisher) {
	s.events = events
}

// Instantiate constructs a blank authorization with a fresh identity.
func (s *AuthorizationStore) Instantiate() *oauth.Authorization {
	return oauth.NewAuthorization()
}

// Create writes the authorization and increments the counter.
func (s *AuthorizationStore) Create(ctx context.Context, auth *oauth.Authorization) error {
	if auth == nil {
		return pkgerrors.NewValidationError("authorization cannot be nil")
	}
	if auth.ID == "" {
		return pkgerrors.NewValidationError("authorization id cannot be empty")
	}
	if auth.ConcurrencyToken == "" {
		auth.ConcurrencyToken = uuid.NewString()
	}
	if auth.CreationDate.IsZero() {
		auth.CreationDate = s.now().UTC()
	}

	item, err := attributevalue.MarshalMap(newAuthorizationItem(auth))
	if err != nil {
		return fmt.Errorf("marshal authorization: %w", err)
	}

	if _, err := s.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           aws.String(s.tableName),
		Item:                item,
		ConditionExpression: aws.String("attribute_not_exists(PK)"),
	}); err != nil {
		if isConditionalCheckFailed(err) {
			return pkgerrors.NewValidationError(fmt.Sprintf("authorization '%s' already exists", auth.ID))
		}
		return mapInfrastructureError("create authorization", err)
	}

	if err := s.counts.adjust(ctx, kindAuthorization, 1); err != nil {
		return err
	}

	s.logger.Info("authorization created",
		zap.String("authorizationID", auth.ID),
		zap.String("subject", auth.Subject),
	)
	return nil
}

// Update writes the authorization guarded by its concurrency token. The
// search key is recomputed from the current application, status and type.
// Leaving the valid status schedules passive expiry a grace window ahead;
// revocation is just one way to get there.
func (s *AuthorizationStore) Update(ctx context.Context, auth *oauth.Authorization) error {
	if auth == nil {
		return pkgerrors.NewValidationError("authorization cannot be nil")
	}
	if auth.ID == "" {
		return pkgerrors.NewValidationError("authorization id cannot be empty")
	}

	if auth.Status != oauth.StatusValid && auth.ExpiresAt == nil {
		expiresAt := s.now().UTC().Add(revocationGrace)
		auth.ExpiresAt = &expiresAt
	}

	expected := auth.ConcurrencyToken
	auth.ConcurrencyToken = uuid.NewString()

	item, err := attributevalue.MarshalMap(newAuthorizationItem(auth))
	if err != nil {
		auth.ConcurrencyToken = expected
		return fmt.Errorf("marshal authorization: %w", err)
	}

	if _, err := s.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           aws.String(s.tableName),
		Item:                item,
		ConditionExpression: aws.String("ConcurrencyToken = :expected"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":expected": &types.AttributeValueMemberS{Value: expected},
		},
	}); err != nil {
		auth.ConcurrencyToken = expected
		if isConditionalCheckFailed(err) {
			return pkgerrors.NewConcurrencyError("authorization", auth.ID)
		}
		return mapInfrastructureError("update authorization", err)
	}

	s.logger.Info("authorization updated", zap.String("authorizationID", auth.ID))
	return nil
}

// Delete removes the authorization and decrements the counter.
func (s *AuthorizationStore) Delete(ctx context.Context, auth *oauth.Authorization) error {
	if auth == nil {
		return pkgerrors.NewValidationError("authorization cannot be nil")
	}
	if auth.ID == "" {
		return pkgerrors.NewValidationError("authorization id cannot be empty")
	}

	if _, err := s.client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName: aws.String(s.tableName),
		Key:       authorizationKey(auth.ID),
	}); err != nil {
		return mapInfrastructureError("delete authorization", err)
	}

	if err := s.counts.adjust(ctx, kindAuthorization, -1); err != nil {
		return err
	}

	s.logger.Info("authorization deleted", zap.String("authorizationID", auth.ID))
	return nil
}

// FindByID returns the authorization or nil when absent.
func (s *AuthorizationStore) FindByID(ctx context.Context, id string) (*oauth.Authorization, error) {
	if id == "" {
		return nil, pkgerrors.NewValidationError("authorization id cannot be empty")
	}

	result, err := s.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(s.tableName),
		Key:       authorizationKey(id),
	})
	if err != nil {
		return nil, mapInfrastructureError("find authorization", err)
	}
	if result.Item == nil {
		return nil, nil
	}

	item, ok, err := unmarshalAs[authorizationItem](result.Item, kindAuthorization)
	if err != nil || !ok {
		return nil, err
	}
	return item.toDomain(), nil
}

// FindBySubject returns every authorization granted by the subject.
func (s *AuthorizationStore) FindBySubject(ctx context.Context, subject string) ([]*oauth.Authorization, error) {
	if subject == "" {
		return nil, pkgerrors.NewValidationError("subject cannot be empty")
	}
	return s.querySubjectIndex(ctx, subject, "")
}

// FindByApplicationID returns every authorization granted to the application.
func (s *AuthorizationStore) FindByApplicationID(ctx context.Context, applicationID string) ([]*oauth.Authorization, error) {
	if applicationID == "" {
		return nil, pkgerrors.NewValidationError("application id cannot be empty")
	}

	var auths []*oauth.Authorization
	var startKey map[string]types.AttributeValue
	for {
		result, err := s.client.Query(ctx, &dynamodb.QueryInput{
			TableName:              aws.String(s.tableName),
			IndexName:              aws.String(IndexApplication),
			KeyConditionExpression: aws.String("ApplicationID = :applicationID"),
			FilterExpression:       aws.String("EntityType = :entityType"),
			ExpressionAttributeValues: map[string]types.AttributeValue{
				":applicationID": &types.AttributeValueMemberS{Value: applicationID},
				":entityType":    &types.AttributeValueMemberS{Value: string(kindAuthorization)},
			},
			ExclusiveStartKey: startKey,
		})
		if err != nil {
			return nil, mapInfrastructureError("find authorizations by application", err)
		}

		for _, raw := range result.Items {
			item, ok, err := unmarshalAs[authorizationItem](raw, kindAuthorization)
			if err != nil {
				return nil, err
			}
			if ok {
				auths = append(auths, item.toDomain())
			}
		}

		startKey = result.LastEvaluatedKey
		if startKey == nil {
			return auths, nil
		}
	}
}

// Find runs the tiered search. The narrowest index prefix expressible from
// the filter is queried; predicates the prefix cannot encode, the required
// scope set included, are applied in memory afterwards so no filter is
// ever silently dropped.
func (s *AuthorizationStore) Find(ctx context.Context, filter ports.AuthorizationFilter) ([]*oauth.Authorization, error) {
	var candidates []*oauth.Authorization
	var err error

	if filter.Subject == "" {
		candidates, err = s.scanAll(ctx)
	} else {
		candidates, err = s.querySubjectIndex(ctx, filter.Subject, searchKeyPrefix(filter))
	}
	if err != nil {
		return nil, err
	}

	var auths []*oauth.Authorization
	for _, auth := range candidates {
		if matchesAuthorization(auth, filter) {
			auths = append(auths, auth)
		}
	}
	return auths, nil
}

// searchKeyPrefix builds the longest contiguous prefix the filter supports.
// Status and type only narrow the key when every preceding segment is
// constrained too; anything looser falls to the in-memory pass.
func searchKeyPrefix(filter ports.AuthorizationFilter) string {
	switch {
	case filter.ApplicationID == "":
		return ""
	case filter.Status == "":
		return authorizationSearchPrefixByApplication(filter.ApplicationID)
	case filter.Type == "":
		return authorizationSearchPrefixByStatus(filter.ApplicationID, filter.Status)
	default:
		return authorizationSearchKey(filter.ApplicationID, filter.Status, filter.Type)
	}
}

func matchesAuthorization(auth *oauth.Authorization, filter ports.AuthorizationFilter) bool {
	if filter.ApplicationID != "" && auth.ApplicationID != filter.ApplicationID {
		return false
	}
	if filter.Status != "" && auth.Status != filter.Status {
		return false
	}
	if filter.Type != "" && auth.Type != filter.Type {
		return false
	}
	if len(filter.Scopes) > 0 && !auth.HasScopes(filter.Scopes) {
		return false
	}
	return true
}

func (s *AuthorizationStore) querySubjectIndex(ctx context.Context, subject, searchPrefix string) ([]*oauth.Authorization, error) {
	keyCondition := "#subject = :subject"
	values := map[string]types.AttributeValue{
		":subject":    &types.AttributeValueMemberS{Value: subject},
		":entityType": &types.AttributeValueMemberS{Value: string(kindAuthorization)},
	}
	if searchPrefix != "" {
		keyCondition += " AND begins_with(SearchKey, :prefix)"
		values[":prefix"] = &types.AttributeValueMemberS{Value: searchPrefix}
	}

	var auths []*oauth.Authorization
	var startKey map[string]types.AttributeValue
	for {
		result, err := s.client.Query(ctx, &dynamodb.QueryInput{
			TableName:                 aws.String(s.tableName),
			IndexName:                 aws.String(IndexSubject),
			KeyConditionExpression:    aws.String(keyCondition),
			FilterExpression:          aws.String("EntityType = :entityType"),
			ExpressionAttributeNames:  map[string]string{"#subject": "Subject"},
			ExpressionAttributeValues: values,
			ExclusiveStartKey:         startKey,
		})
		if err != nil {
			return nil, mapInfrastructureError("find authorizations by subject", err)
		}

		for _, raw := range result.Items {
			item, ok, err := unmarshalAs[authorizationItem](raw, kindAuthorization)
			if err != nil {
				return nil, err
			}
			if ok {
				auths = append(auths, item.toDomain())
			}
		}

		startKey = result.LastEvaluatedKey
		if startKey == nil {
			return auths, nil
		}
	}
}

func (s *AuthorizationStore) scanAll(ctx context.Context) ([]*oauth.Authorization, error) {
	raws, err := scanMatching(ctx, s.client, s.tableName, "EntityType = :entityType", map[string]types.AttributeValue{
		":entityType": &types.AttributeValueMemberS{Value: string(kindAuthorization)},
	})
	if err != nil {
		return nil, err
	}

	var auths []*oauth.Authorization
	for _, raw := range raws {
		item, ok, err := unmarshalAs[authorizationItem](raw, kindAuthorization)
		if err != nil {
			return nil, err
		}
		if ok {
			auths = append(auths, item.toDomain())
		}
	}
	return auths, nil
}

// Revoke marks the authorization revoked and schedules its expiry a short
// grace window ahead. Revoking an absent authorization is a no-op.
func (s *AuthorizationStore) Revoke(ctx context.Context, id string) error {
	auth, err := s.FindByID(ctx, id)
	if err != nil {
		return err
	}
	if auth == nil {
		return nil
	}
	_, err = s.revokeOne(ctx, auth)
	return err
}

// RevokeBySubject revokes every authorization granted by the subject and
// returns the number affected.
func (s *AuthorizationStore) RevokeBySubject(ctx context.Context, subject string) (int64, error) {
	auths, err := s.FindBySubject(ctx, subject)
	if err != nil {
		return 0, err
	}

	count, err := s.revokeAll(ctx, auths)
	if err != nil {
		return count, err
	}

	s.publishRevocation(ctx, map[string]interface{}{"subject": subject, "revoked": count})
	return count, nil
}

// RevokeByApplication revokes every authorization granted to the
// application and returns the number affected.
func (s *AuthorizationStore) RevokeByApplication(ctx context.Context, applicationID string) (int64, error) {
	auths, err := s.FindByApplicationID(ctx, applicationID)
	if err != nil {
		return 0, err
	}

	count, err := s.revokeAll(ctx, auths)
	if err != nil {
		return count, err
	}

	s.publishRevocation(ctx, map[string]interface{}{"applicationID": applicationID, "revoked": count})
	return count, nil
}

// RevokeAll revokes every stored authorization and returns the number
// affected.
func (s *AuthorizationStore) RevokeAll(ctx context.Context) (int64, error) {
	auths, err := s.scanAll(ctx)
	if err != nil {
		return 0, err
	}

	count, err := s.revokeAll(ctx, auths)
	if err != nil {
		return count, err
	}

	s.publishRevocation(ctx, map[string]interface{}{"revoked": count})
	return count, nil
}

func (s *AuthorizationStore) revokeAll(ctx context.Context, auths []*oauth.Authorization) (int64, error) {
	var count int64
	for _, auth := range auths {
		affected, err := s.revokeOne(ctx, auth)
		if err != nil {
			return count, err
		}
		count += affected
	}
	return count, nil
}

// revokeOne rewrites the lifecycle attributes in place. The write is not
// guarded by the concurrency token: a revocation must not lose to a
// concurrent consent update. An authorization deleted underneath us counts
// as zero rows affected.
func (s *AuthorizationStore) revokeOne(ctx context.Context, auth *oauth.Authorization) (int64, error) {
	expiresAt := s.now().UTC().Add(revocationGrace)

	_, err := s.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName: aws.String(s.tableName),
		Key:       authorizationKey(auth.ID),
		UpdateExpression: aws.String(
			"SET #status = :status, SearchKey = :searchKey, #ttl = :ttl, ConcurrencyToken = :token"),
		ConditionExpression: aws.String("attribute_exists(PK)"),
		ExpressionAttributeNames: map[string]string{
			"#status": "Status",
			"#ttl":    attrTTL,
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":status":    &types.AttributeValueMemberS{Value: string(oauth.StatusRevoked)},
			":searchKey": &types.AttributeValueMemberS{Value: authorizationSearchKey(auth.ApplicationID, oauth.StatusRevoked, auth.Type)},
			":ttl":       &types.AttributeValueMemberN{Value: fmt.Sprintf("%d", expiresAt.Unix())},
			":token":     &types.AttributeValueMemberS{Value: uuid.NewString()},
		},
	})
	if err != nil {
		if isConditionalCheckFailed(err) {
			return 0, nil
		}
		return 0, mapInfrastructureError("revoke authorization", err)
	}

	s.logger.Info("authorization revoked",
		zap.String("authorizationID", auth.ID),
		zap.Time("expiresAt", expiresAt),
	)
	return 1, nil
}

func (s *AuthorizationStore) publishRevocation(ctx context.Context, detail map[string]interface{}) {
	if s.events == nil {
		return
	}
	if err := s.events.Publish(ctx, "AuthorizationsRevoked", detail); err != nil {
		s.logger.Warn("failed to publish revocation event", zap.Error(err))
	}
}

// Prune deletes stale authorizations created before the threshold: every
// non-valid one, and every ad-hoc one without tokens. Valid permanent
// authorizations and token-bearing ad-hoc ones survive. Returns the number
// of rows removed.
func (s *AuthorizationStore) Prune(ctx context.Context, threshold time.Time) (int64, error) {
	raws, err := scanMatching(ctx, s.client, s.tableName,
		"EntityType = :entityType AND CreationDate < :threshold",
		map[string]types.AttributeValue{
			":entityType": &types.AttributeValueMemberS{Value: string(kindAuthorization)},
			":threshold":  &types.AttributeValueMemberS{Value: threshold.UTC().Format(time.RFC3339)},
		})
	if err != nil {
		return 0, err
	}

	var doomed []types.WriteRequest
	for _, raw := range raws {
		item, ok, err := unmarshalAs[authorizationItem](raw, kindAuthorization)
		if err != nil {
			return 0, err
		}
		if !ok {
			continue
		}
		auth := item.toDomain()
		if !auth.CreationDate.Before(threshold) {
			continue
		}

		prune := auth.Status != oauth.StatusValid
		if !prune && auth.Type == oauth.AuthorizationTypeAdHoc {
			hasTokens, err := s.hasTokens(ctx, auth.ID)
			if err != nil {
				return 0, err
			}
			prune = !hasTokens
		}
		if prune {
			doomed = append(doomed, deleteRequest(authorizationPartitionKey(auth.ID), authorizationSortKey(auth.ID)))
		}
	}

	if len(doomed) == 0 {
		return 0, nil
	}
	if err := batchWrite(ctx, s.client, s.tableName, doomed); err != nil {
		return 0, err
	}

	count := int64(len(doomed))
	if err := s.counts.adjust(ctx, kindAuthorization, -count); err != nil {
		return count, err
	}

	s.logger.Info("authorizations pruned",
		zap.Int64("count", count),
		zap.Time("threshold", threshold),
	)
	return count, nil
}

// hasTokens reports whether at least one token references the
// authorization. The reverse index also carries the authorization's own
// row, so pages are drained until a token row shows up.
func (s *AuthorizationStore) hasTokens(ctx context.Context, authorizationID string) (bool, error) {
	var startKey map[string]types.AttributeValue
	for {
		result, err := s.client.Query(ctx, &dynamodb.QueryInput{
			TableName:              aws.String(s.tableName),
			IndexName:              aws.String(IndexAuthorizationID),
			KeyConditionExpression: aws.String("AuthorizationID = :authorizationID"),
			FilterExpression:       aws.String("EntityType = :entityType"),
			ExpressionAttributeValues: map[string]types.AttributeValue{
				":authorizationID": &types.AttributeValueMemberS{Value: authorizationID},
				":entityType":      &types.AttributeValueMemberS{Value: string(kindToken)},
			},
			ExclusiveStartKey: startKey,
		})
		if err != nil {
			return false, mapInfrastructureError("count authorization tokens", err)
		}

		for _, raw := range result.Items {
			if stringAttr(raw, attrEntityType) == string(kindToken) {
				return true, nil
			}
		}

		startKey = result.LastEvaluatedKey
		if startKey == nil {
			return false, nil
		}
	}
}

// Count returns the approximate number of authorizations.
func (s *AuthorizationStore) Count(ctx context.Context) (int64, error) {
	return s.counts.read(ctx, kindAuthorization)
}

// List returns one page of authorizations.
func (s *AuthorizationStore) List(ctx context.Context, opts ports.ListOptions) (*ports.Page[*oauth.Authorization], error) {
	raws, lastKey, err := s.lister.listPage(ctx, kindAuthorization, opts)
	if err != nil {
		return nil, err
	}

	page := &ports.Page[*oauth.Authorization]{NextCursor: EncodeCursor(lastKey)}
	for _, raw := range raws {
		item, ok, err := unmarshalAs[authorizationItem](raw, kindAuthorization)
		if err != nil {
			return nil, err
		}
		if ok {
			page.Items = append(page.Items, item.toDomain())
		}
	}
	return page, nil
}

func authorizationKey(id string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		attrPK: &types.AttributeValueMemberS{Value: authorizationPartitionKey(id)},
		attrSK: &types.AttributeValueMemberS{Value: authorizationSortKey(id)},
	}
}
