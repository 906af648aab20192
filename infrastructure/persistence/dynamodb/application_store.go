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

// ApplicationStore persists OAuth client applications in the shared table.
type ApplicationStore struct {
	client    DynamoDBAPI
	tableName string
	logger    *zap.Logger
	lookups   *lookupSynchronizer
	counts    *counter
	lister    *lister
}

var _ ports.ApplicationStore = (*ApplicationStore)(nil)

// NewApplicationStore creates a new ApplicationStore.
func NewApplicationStore(client DynamoDBAPI, tableName string, logger *zap.Logger) *ApplicationStore {
	counts := newCounter(client, tableName, logger)
	return &ApplicationStore{
		client:    client,
		tableName: tableName,
		logger:    logger,
		lookups:   newLookupSynchronizer(client, tableName, logger),
		counts:    counts,
		lister:    newLister(client, tableName, counts),
	}
}

// Instantiate constructs a blank application with a fresh identity.
func (s *ApplicationStore) Instantiate() *oauth.Application {
	return oauth.NewApplication()
}

// Create writes the application, its redirect shadow set and the counter
// adjustment as three sequential, non-atomic writes. An error after the
// primary write leaves the shadows or the counter behind; it is surfaced,
// not hidden.
func (s *ApplicationStore) Create(ctx context.Context, app *oauth.Application) error {
	if app == nil {
		return pkgerrors.NewValidationError("application cannot be nil")
	}
	if app.ID == "" {
		return pkgerrors.NewValidationError("application id cannot be empty")
	}
	if app.ConcurrencyToken == "" {
		app.ConcurrencyToken = uuid.NewString()
	}

	item, err := attributevalue.MarshalMap(newApplicationItem(app))
	if err != nil {
		return fmt.Errorf("marshal application: %w", err)
	}

	if _, err := s.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           aws.String(s.tableName),
		Item:                item,
		ConditionExpression: aws.String("attribute_not_exists(PK)"),
	}); err != nil {
		if isConditionalCheckFailed(err) {
			return pkgerrors.NewValidationError(fmt.Sprintf("application '%s' already exists", app.ID))
		}
		return mapInfrastructureError("create application", err)
	}

	if err := s.lookups.syncApplicationRedirects(ctx, app); err != nil {
		return err
	}
	if err := s.counts.adjust(ctx, kindApplication, 1); err != nil {
		return err
	}

	s.logger.Info("application created",
		zap.String("applicationID", app.ID),
		zap.String("clientID", app.ClientID),
	)
	return nil
}

// Update writes the application guarded by its concurrency token and
// resynchronizes the redirect shadow set. The full shadow set is replaced:
// a redirect URI omitted from the update disappears, post-logout entries
// included.
func (s *ApplicationStore) Update(ctx context.Context, app *oauth.Application) error {
	if app == nil {
		return pkgerrors.NewValidationError("application cannot be nil")
	}
	if app.ID == "" {
		return pkgerrors.NewValidationError("application id cannot be empty")
	}

	expected := app.ConcurrencyToken
	app.ConcurrencyToken = uuid.NewString()

	item, err := attributevalue.MarshalMap(newApplicationItem(app))
	if err != nil {
		app.ConcurrencyToken = expected
		return fmt.Errorf("marshal application: %w", err)
	}

	if _, err := s.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           aws.String(s.tableName),
		Item:                item,
		ConditionExpression: aws.String("ConcurrencyToken = :expected"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":expected": &types.AttributeValueMemberS{Value: expected},
		},
	}); err != nil {
		app.ConcurrencyToken = expected
		if isConditionalCheckFailed(err) {
			return pkgerrors.NewConcurrencyError("application", app.ID)
		}
		return mapInfrastructureError("update application", err)
	}

	if err := s.lookups.syncApplicationRedirects(ctx, app); err != nil {
		return err
	}

	s.logger.Info("application updated", zap.String("applicationID", app.ID))
	return nil
}

// Delete removes the primary record and decrements the counter. Redirect
// shadows are intentionally left behind; they are orphaned until a later
// sweep, mirroring the create/update-only synchronization contract.
func (s *ApplicationStore) Delete(ctx context.Context, app *oauth.Application) error {
	if app == nil {
		return pkgerrors.NewValidationError("application cannot be nil")
	}
	if app.ID == "" {
		return pkgerrors.NewValidationError("application id cannot be empty")
	}

	if _, err := s.client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName: aws.String(s.tableName),
		Key: map[string]types.AttributeValue{
			attrPK: &types.AttributeValueMemberS{Value: applicationPartitionKey(app.ID)},
			attrSK: &types.AttributeValueMemberS{Value: applicationSortKey(app.ID)},
		},
	}); err != nil {
		return mapInfrastructureError("delete application", err)
	}

	if err := s.counts.adjust(ctx, kindApplication, -1); err != nil {
		return err
	}

	s.logger.Info("application deleted", zap.String("applicationID", app.ID))
	return nil
}

// FindByID returns the application or nil when absent.
func (s *ApplicationStore) FindByID(ctx context.Context, id string) (*oauth.Application, error) {
	if id == "" {
		return nil, pkgerrors.NewValidationError("application id cannot be empty")
	}

	result, err := s.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(s.tableName),
		Key: map[string]types.AttributeValue{
			attrPK: &types.AttributeValueMemberS{Value: applicationPartitionKey(id)},
			attrSK: &types.AttributeValueMemberS{Value: applicationSortKey(id)},
		},
	})
	if err != nil {
		return nil, mapInfrastructureError("find application", err)
	}
	if result.Item == nil {
		return nil, nil
	}

	item, ok, err := unmarshalAs[applicationItem](result.Item, kindApplication)
	if err != nil || !ok {
		return nil, err
	}
	return item.toDomain(), nil
}

// FindByClientID returns the application registered under the OAuth client
// identifier, or nil.
func (s *ApplicationStore) FindByClientID(ctx context.Context, clientID string) (*oauth.Application, error) {
	if clientID == "" {
		return nil, pkgerrors.NewValidationError("client id cannot be empty")
	}

	result, err := s.client.Query(ctx, &dynamodb.QueryInput{
		TableName:              aws.String(s.tableName),
		IndexName:              aws.String(IndexClientID),
		KeyConditionExpression: aws.String("ClientID = :clientID"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":clientID": &types.AttributeValueMemberS{Value: clientID},
		},
		Limit: aws.Int32(1),
	})
	if err != nil {
		return nil, mapInfrastructureError("find application by client id", err)
	}
	if len(result.Items) == 0 {
		return nil, nil
	}

	item, ok, err := unmarshalAs[applicationItem](result.Items[0], kindApplication)
	if err != nil || !ok {
		return nil, err
	}
	return item.toDomain(), nil
}

// FindByRedirectURI returns every application registering uri as a
// redirect URI.
func (s *ApplicationStore) FindByRedirectURI(ctx context.Context, uri string) ([]*oauth.Application, error) {
	return s.findByRedirect(ctx, uri, oauth.RedirectKindRedirect)
}

// FindByPostLogoutRedirectURI returns every application registering uri as
// a post-logout redirect URI.
func (s *ApplicationStore) FindByPostLogoutRedirectURI(ctx context.Context, uri string) ([]*oauth.Application, error) {
	return s.findByRedirect(ctx, uri, oauth.RedirectKindPostLogout)
}

func (s *ApplicationStore) findByRedirect(ctx context.Context, uri string, kind oauth.RedirectKind) ([]*oauth.Application, error) {
	if uri == "" {
		return nil, pkgerrors.NewValidationError("redirect uri cannot be empty")
	}

	var apps []*oauth.Application
	seen := make(map[string]struct{})
	var startKey map[string]types.AttributeValue
	for {
		result, err := s.client.Query(ctx, &dynamodb.QueryInput{
			TableName:              aws.String(s.tableName),
			IndexName:              aws.String(IndexRedirect),
			KeyConditionExpression: aws.String("RedirectURI = :uri AND RedirectType = :kind"),
			ExpressionAttributeValues: map[string]types.AttributeValue{
				":uri":  &types.AttributeValueMemberS{Value: uri},
				":kind": &types.AttributeValueMemberS{Value: string(kind)},
			},
			ExclusiveStartKey: startKey,
		})
		if err != nil {
			return nil, mapInfrastructureError("find applications by redirect uri", err)
		}

		for _, raw := range result.Items {
			applicationID := stringAttr(raw, "ApplicationID")
			if applicationID == "" {
				continue
			}
			if _, dup := seen[applicationID]; dup {
				continue
			}
			seen[applicationID] = struct{}{}

			app, err := s.FindByID(ctx, applicationID)
			if err != nil {
				return nil, err
			}
			if app != nil {
				apps = append(apps, app)
			}
		}

		startKey = result.LastEvaluatedKey
		if startKey == nil {
			break
		}
	}
	return apps, nil
}

// Count returns the approximate number of applications.
func (s *ApplicationStore) Count(ctx context.Context) (int64, error) {
	return s.counts.read(ctx, kindApplication)
}

// List returns one page of applications.
func (s *ApplicationStore) List(ctx context.Context, opts ports.ListOptions) (*ports.Page[*oauth.Application], error) {
	raws, lastKey, err := s.lister.listPage(ctx, kindApplication, opts)
	if err != nil {
		return nil, err
	}

	page := &ports.Page[*oauth.Application]{NextCursor: EncodeCursor(lastKey)}
	for _, raw := range raws {
		item, ok, err := unmarshalAs[applicationItem](raw, kindApplication)
		if err != nil {
			return nil, err
		}
		if ok {
			page.Items = append(page.Items, item.toDomain())
		}
	}
	return page, nil
}
