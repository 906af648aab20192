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

// TokenStore persists issued tokens and drives the expiry cascade into
// their parent authorizations.
type TokenStore struct {
	client    DynamoDBAPI
	tableName string
	logger    *zap.Logger
	counts    *counter
	lister    *lister
	now       func() time.Time
}

var _ ports.TokenStore = (*TokenStore)(nil)

// NewTokenStore creates a new TokenStore.
func NewTokenStore(client DynamoDBAPI, tableName string, logger *zap.Logger) *TokenStore {
	counts := newCounter(client, tableName, logger)
	return &TokenStore{
		client:    client,
		tableName: tableName,
		logger:    logger,
		counts:    counts,
		lister:    newLister(client, tableName, counts),
		now:       time.Now,
	}
}

// Instantiate constructs a blank token with a fresh identity.
func (s *TokenStore) Instantiate() *oauth.Token {
	return oauth.NewToken()
}

// Create writes the token and increments the counter.
func (s *TokenStore) Create(ctx context.Context, token *oauth.Token) error {
	if token == nil {
		return pkgerrors.NewValidationError("token cannot be nil")
	}
	if token.ID == "" {
		return pkgerrors.NewValidationError("token id cannot be empty")
	}
	if token.ConcurrencyToken == "" {
		token.ConcurrencyToken = uuid.NewString()
	}
	if token.CreationDate.IsZero() {
		token.CreationDate = s.now().UTC()
	}

	item, err := attributevalue.MarshalMap(newTokenItem(token))
	if err != nil {
		return fmt.Errorf("marshal token: %w", err)
	}

	if _, err := s.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           aws.String(s.tableName),
		Item:                item,
		ConditionExpression: aws.String("attribute_not_exists(PK)"),
	}); err != nil {
		if isConditionalCheckFailed(err) {
			return pkgerrors.NewValidationError(fmt.Sprintf("token '%s' already exists", token.ID))
		}
		return mapInfrastructureError("create token", err)
	}

	if err := s.counts.adjust(ctx, kindToken, 1); err != nil {
		return err
	}

	s.logger.Info("token created",
		zap.String("tokenID", token.ID),
		zap.String("authorizationID", token.AuthorizationID),
	)
	return nil
}

// Update writes the token guarded by its concurrency token, then applies
// the expiry cascade. Leaving the retained states schedules the token's
// expiry a grace window ahead and pulls the parent authorization's expiry
// to the same instant. Staying retained mirrors the token's own expiration
// date into its expiry attribute so the sweep removes it on schedule.
func (s *TokenStore) Update(ctx context.Context, token *oauth.Token) error {
	if token == nil {
		return pkgerrors.NewValidationError("token cannot be nil")
	}
	if token.ID == "" {
		return pkgerrors.NewValidationError("token id cannot be empty")
	}

	cascade := false
	if !token.Status.Retained() {
		expiresAt := s.now().UTC().Add(revocationGrace)
		token.ExpiresAt = &expiresAt
		cascade = true
	} else if token.ExpirationDate != nil {
		expiresAt := token.ExpirationDate.UTC()
		token.ExpiresAt = &expiresAt
	}

	expected := token.ConcurrencyToken
	token.ConcurrencyToken = uuid.NewString()

	item, err := attributevalue.MarshalMap(newTokenItem(token))
	if err != nil {
		token.ConcurrencyToken = expected
		return fmt.Errorf("marshal token: %w", err)
	}

	if _, err := s.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           aws.String(s.tableName),
		Item:                item,
		ConditionExpression: aws.String("ConcurrencyToken = :expected"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":expected": &types.AttributeValueMemberS{Value: expected},
		},
	}); err != nil {
		token.ConcurrencyToken = expected
		if isConditionalCheckFailed(err) {
			return pkgerrors.NewConcurrencyError("token", token.ID)
		}
		return mapInfrastructureError("update token", err)
	}

	if cascade && token.AuthorizationID != "" {
		if err := s.expireParentAuthorization(ctx, token.AuthorizationID, *token.ExpiresAt); err != nil {
			return err
		}
	}

	s.logger.Info("token updated",
		zap.String("tokenID", token.ID),
		zap.String("status", string(token.Status)),
	)
	return nil
}

// expireParentAuthorization pulls the parent's expiry to the token's. A
// parent already swept away is normal, not an error.
func (s *TokenStore) expireParentAuthorization(ctx context.Context, authorizationID string, expiresAt time.Time) error {
	_, err := s.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:           aws.String(s.tableName),
		Key:                 authorizationKey(authorizationID),
		UpdateExpression:    aws.String("SET #ttl = :ttl, ConcurrencyToken = :token"),
		ConditionExpression: aws.String("attribute_exists(PK)"),
		ExpressionAttributeNames: map[string]string{
			"#ttl": attrTTL,
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":ttl":   &types.AttributeValueMemberN{Value: fmt.Sprintf("%d", expiresAt.Unix())},
			":token": &types.AttributeValueMemberS{Value: uuid.NewString()},
		},
	})
	if err != nil {
		if isConditionalCheckFailed(err) {
			return nil
		}
		return mapInfrastructureError("expire parent authorization", err)
	}

	s.logger.Info("authorization expiry cascaded",
		zap.String("authorizationID", authorizationID),
		zap.Time("expiresAt", expiresAt),
	)
	return nil
}

// Delete removes the token and decrements the counter.
func (s *TokenStore) Delete(ctx context.Context, token *oauth.Token) error {
	if token == nil {
		return pkgerrors.NewValidationError("token cannot be nil")
	}
	if token.ID == "" {
		return pkgerrors.NewValidationError("token id cannot be empty")
	}

	if _, err := s.client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName: aws.String(s.tableName),
		Key:       tokenKey(token.ID),
	}); err != nil {
		return mapInfrastructureError("delete token", err)
	}

	if err := s.counts.adjust(ctx, kindToken, -1); err != nil {
		return err
	}

	s.logger.Info("token deleted", zap.String("tokenID", token.ID))
	return nil
}

// FindByID returns the token or nil when absent.
func (s *TokenStore) FindByID(ctx context.Context, id string) (*oauth.Token, error) {
	if id == "" {
		return nil, pkgerrors.NewValidationError("token id cannot be empty")
	}

	result, err := s.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(s.tableName),
		Key:       tokenKey(id),
	})
	if err != nil {
		return nil, mapInfrastructureError("find token", err)
	}
	if result.Item == nil {
		return nil, nil
	}

	item, ok, err := unmarshalAs[tokenItem](result.Item, kindToken)
	if err != nil || !ok {
		return nil, err
	}
	return item.toDomain(), nil
}

// FindByReferenceID resolves a reference token by its handle, or returns nil.
func (s *TokenStore) FindByReferenceID(ctx context.Context, referenceID string) (*oauth.Token, error) {
	if referenceID == "" {
		return nil, pkgerrors.NewValidationError("reference id cannot be empty")
	}

	result, err := s.client.Query(ctx, &dynamodb.QueryInput{
		TableName:              aws.String(s.tableName),
		IndexName:              aws.String(IndexReference),
		KeyConditionExpression: aws.String("ReferenceID = :referenceID"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":referenceID": &types.AttributeValueMemberS{Value: referenceID},
		},
		Limit: aws.Int32(1),
	})
	if err != nil {
		return nil, mapInfrastructureError("find token by reference id", err)
	}
	if len(result.Items) == 0 {
		return nil, nil
	}

	item, ok, err := unmarshalAs[tokenItem](result.Items[0], kindToken)
	if err != nil || !ok {
		return nil, err
	}
	return item.toDomain(), nil
}

// FindByAuthorizationID returns every token minted under the authorization.
func (s *TokenStore) FindByAuthorizationID(ctx context.Context, authorizationID string) ([]*oauth.Token, error) {
	if authorizationID == "" {
		return nil, pkgerrors.NewValidationError("authorization id cannot be empty")
	}

	var tokens []*oauth.Token
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
			return nil, mapInfrastructureError("find tokens by authorization", err)
		}

		for _, raw := range result.Items {
			item, ok, err := unmarshalAs[tokenItem](raw, kindToken)
			if err != nil {
				return nil, err
			}
			if ok {
				tokens = append(tokens, item.toDomain())
			}
		}

		startKey = result.LastEvaluatedKey
		if startKey == nil {
			return tokens, nil
		}
	}
}

// FindBySubject returns every token issued to the subject.
func (s *TokenStore) FindBySubject(ctx context.Context, subject string) ([]*oauth.Token, error) {
	if subject == "" {
		return nil, pkgerrors.NewValidationError("subject cannot be empty")
	}
	return s.querySubjectIndex(ctx, subject, "")
}

// FindByApplicationID returns every token issued through the application.
func (s *TokenStore) FindByApplicationID(ctx context.Context, applicationID string) ([]*oauth.Token, error) {
	if applicationID == "" {
		return nil, pkgerrors.NewValidationError("application id cannot be empty")
	}

	var tokens []*oauth.Token
	var startKey map[string]types.AttributeValue
	for {
		result, err := s.client.Query(ctx, &dynamodb.QueryInput{
			TableName:              aws.String(s.tableName),
			IndexName:              aws.String(IndexApplication),
			KeyConditionExpression: aws.String("ApplicationID = :applicationID"),
			FilterExpression:       aws.String("EntityType = :entityType"),
			ExpressionAttributeValues: map[string]types.AttributeValue{
				":applicationID": &types.AttributeValueMemberS{Value: applicationID},
				":entityType":    &types.AttributeValueMemberS{Value: string(kindToken)},
			},
			ExclusiveStartKey: startKey,
		})
		if err != nil {
			return nil, mapInfrastructureError("find tokens by application", err)
		}

		for _, raw := range result.Items {
			item, ok, err := unmarshalAs[tokenItem](raw, kindToken)
			if err != nil {
				return nil, err
			}
			if ok {
				tokens = append(tokens, item.toDomain())
			}
		}

		startKey = result.LastEvaluatedKey
		if startKey == nil {
			return tokens, nil
		}
	}
}

// Find runs the tiered token search, mirroring the authorization
// dispatcher: narrowest index prefix first, remaining predicates in memory.
func (s *TokenStore) Find(ctx context.Context, filter ports.TokenFilter) ([]*oauth.Token, error) {
	var candidates []*oauth.Token
	var err error

	if filter.Subject == "" {
		candidates, err = s.scanAll(ctx)
	} else {
		candidates, err = s.querySubjectIndex(ctx, filter.Subject, tokenSearchPrefix(filter))
	}
	if err != nil {
		return nil, err
	}

	var tokens []*oauth.Token
	for _, token := range candidates {
		if matchesToken(token, filter) {
			tokens = append(tokens, token)
		}
	}
	return tokens, nil
}

func tokenSearchPrefix(filter ports.TokenFilter) string {
	switch {
	case filter.ApplicationID == "":
		return ""
	case filter.Status == "":
		return tokenSearchPrefixByApplication(filter.ApplicationID)
	case filter.Type == "":
		return tokenSearchPrefixByStatus(filter.ApplicationID, filter.Status)
	default:
		return tokenSearchKey(filter.ApplicationID, filter.Status, filter.Type)
	}
}

func matchesToken(token *oauth.Token, filter ports.TokenFilter) bool {
	if filter.ApplicationID != "" && token.ApplicationID != filter.ApplicationID {
		return false
	}
	if filter.Status != "" && token.Status != filter.Status {
		return false
	}
	if filter.Type != "" && token.Type != filter.Type {
		return false
	}
	return true
}

func (s *TokenStore) querySubjectIndex(ctx context.Context, subject, searchPrefix string) ([]*oauth.Token, error) {
	keyCondition := "#subject = :subject"
	values := map[string]types.AttributeValue{
		":subject":    &types.AttributeValueMemberS{Value: subject},
		":entityType": &types.AttributeValueMemberS{Value: string(kindToken)},
	}
	if searchPrefix != "" {
		keyCondition += " AND begins_with(SearchKey, :prefix)"
		values[":prefix"] = &types.AttributeValueMemberS{Value: searchPrefix}
	}

	var tokens []*oauth.Token
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
			return nil, mapInfrastructureError("find tokens by subject", err)
		}

		for _, raw := range result.Items {
			item, ok, err := unmarshalAs[tokenItem](raw, kindToken)
			if err != nil {
				return nil, err
			}
			if ok {
				tokens = append(tokens, item.toDomain())
			}
		}

		startKey = result.LastEvaluatedKey
		if startKey == nil {
			return tokens, nil
		}
	}
}

func (s *TokenStore) scanAll(ctx context.Context) ([]*oauth.Token, error) {
	raws, err := scanMatching(ctx, s.client, s.tableName, "EntityType = :entityType", map[string]types.AttributeValue{
		":entityType": &types.AttributeValueMemberS{Value: string(kindToken)},
	})
	if err != nil {
		return nil, err
	}

	var tokens []*oauth.Token
	for _, raw := range raws {
		item, ok, err := unmarshalAs[tokenItem](raw, kindToken)
		if err != nil {
			return nil, err
		}
		if ok {
			tokens = append(tokens, item.toDomain())
		}
	}
	return tokens, nil
}

// Prune deletes stale tokens created before the threshold: every one whose
// status left the retained set, every one past its expiration date, and
// every one whose parent authorization is gone or no longer valid. Returns
// the number of rows removed.
func (s *TokenStore) Prune(ctx context.Context, threshold time.Time) (int64, error) {
	raws, err := scanMatching(ctx, s.client, s.tableName,
		"EntityType = :entityType AND CreationDate < :threshold",
		map[string]types.AttributeValue{
			":entityType": &types.AttributeValueMemberS{Value: string(kindToken)},
			":threshold":  &types.AttributeValueMemberS{Value: threshold.UTC().Format(time.RFC3339)},
		})
	if err != nil {
		return 0, err
	}

	now := s.now().UTC()
	var candidates []*oauth.Token
	var undecided []*oauth.Token
	for _, raw := range raws {
		item, ok, err := unmarshalAs[tokenItem](raw, kindToken)
		if err != nil {
			return 0, err
		}
		if !ok {
			continue
		}
		token := item.toDomain()
		if !token.CreationDate.Before(threshold) {
			continue
		}

		switch {
		case !token.Status.Retained():
			candidates = append(candidates, token)
		case token.ExpirationDate != nil && token.ExpirationDate.Before(now):
			candidates = append(candidates, token)
		case token.AuthorizationID != "":
			undecided = append(undecided, token)
		}
	}

	orphans, err := s.tokensWithoutValidParent(ctx, undecided)
	if err != nil {
		return 0, err
	}
	candidates = append(candidates, orphans...)

	if len(candidates) == 0 {
		return 0, nil
	}

	doomed := make([]types.WriteRequest, 0, len(candidates))
	for _, token := range candidates {
		doomed = append(doomed, deleteRequest(tokenPartitionKey(token.ID), tokenSortKey(token.ID)))
	}
	if err := batchWrite(ctx, s.client, s.tableName, doomed); err != nil {
		return 0, err
	}

	count := int64(len(doomed))
	if err := s.counts.adjust(ctx, kindToken, -count); err != nil {
		return count, err
	}

	s.logger.Info("tokens pruned",
		zap.Int64("count", count),
		zap.Time("threshold", threshold),
	)
	return count, nil
}

// tokensWithoutValidParent keeps the tokens whose parent authorization is
// missing or not valid. Parents are fetched in one batched read.
func (s *TokenStore) tokensWithoutValidParent(ctx context.Context, tokens []*oauth.Token) ([]*oauth.Token, error) {
	if len(tokens) == 0 {
		return nil, nil
	}

	parentIDs := make(map[string]struct{}, len(tokens))
	for _, token := range tokens {
		parentIDs[token.AuthorizationID] = struct{}{}
	}

	keys := make([]map[string]types.AttributeValue, 0, len(parentIDs))
	for id := range parentIDs {
		keys = append(keys, authorizationKey(id))
	}

	raws, err := batchGet(ctx, s.client, s.tableName, keys)
	if err != nil {
		return nil, err
	}

	parentStatus := make(map[string]oauth.Status, len(raws))
	for _, raw := range raws {
		item, ok, err := unmarshalAs[authorizationItem](raw, kindAuthorization)
		if err != nil {
			return nil, err
		}
		if ok {
			parentStatus[item.AuthorizationID] = oauth.Status(item.Status)
		}
	}

	var orphans []*oauth.Token
	for _, token := range tokens {
		if status, found := parentStatus[token.AuthorizationID]; !found || status != oauth.StatusValid {
			orphans = append(orphans, token)
		}
	}
	return orphans, nil
}

// Count returns the approximate number of tokens.
func (s *TokenStore) Count(ctx context.Context) (int64, error) {
	return s.counts.read(ctx, kindToken)
}

// List returns one page of tokens.
func (s *TokenStore) List(ctx context.Context, opts ports.ListOptions) (*ports.Page[*oauth.Token], error) {
	raws, lastKey, err := s.lister.listPage(ctx, kindToken, opts)
	if err != nil {
		return nil, err
	}

	page := &ports.Page[*oauth.Token]{NextCursor: EncodeCursor(lastKey)}
	for _, raw := range raws {
		item, ok, err := unmarshalAs[tokenItem](raw, kindToken)
		if err != nil {
			return nil, err
		}
		if ok {
			page.Items = append(page.Items, item.toDomain())
		}
	}
	return page, nil
}

func tokenKey(id string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		attrPK: &types.AttributeValueMemberS{Value: tokenPartitionKey(id)},
		attrSK: &types.AttributeValueMemberS{Value: tokenSortKey(id)},
	}
}
