package dynamodb

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"oidcstore/domain/oauth"
)

// Item shapes for the shared table. Items are flat attribute maps; the
// Properties blob is stored as a single JSON string, never as a nested
// document. The ttl attribute holds epoch seconds and is honored by the
// table's TTL sweep.

const (
	attrPK         = "PK"
	attrSK         = "SK"
	attrEntityType = "EntityType"
	attrTTL        = "ttl"
)

type applicationItem struct {
	PK                     string            `dynamodbav:"PK"`
	SK                     string            `dynamodbav:"SK"`
	EntityType             string            `dynamodbav:"EntityType"`
	ApplicationID          string            `dynamodbav:"ApplicationID"`
	ClientID               string            `dynamodbav:"ClientID,omitempty"`
	ClientSecret           string            `dynamodbav:"ClientSecret,omitempty"`
	ConcurrencyToken       string            `dynamodbav:"ConcurrencyToken"`
	DisplayName            string            `dynamodbav:"DisplayName,omitempty"`
	DisplayNames           map[string]string `dynamodbav:"DisplayNames,omitempty"`
	Permissions            []string          `dynamodbav:"Permissions,omitempty"`
	RedirectURIs           []string          `dynamodbav:"RedirectURIs,omitempty"`
	PostLogoutRedirectURIs []string          `dynamodbav:"PostLogoutRedirectURIs,omitempty"`
	Properties             string            `dynamodbav:"Properties,omitempty"`
	Requirements           []string          `dynamodbav:"Requirements,omitempty"`
	Type                   string            `dynamodbav:"Type,omitempty"`
}

func newApplicationItem(app *oauth.Application) applicationItem {
	return applicationItem{
		PK:                     applicationPartitionKey(app.ID),
		SK:                     applicationSortKey(app.ID),
		EntityType:             string(kindApplication),
		ApplicationID:          app.ID,
		ClientID:               app.ClientID,
		ClientSecret:           app.ClientSecret,
		ConcurrencyToken:       app.ConcurrencyToken,
		DisplayName:            app.DisplayName,
		DisplayNames:           app.DisplayNames,
		Permissions:            app.Permissions,
		RedirectURIs:           app.RedirectURIs,
		PostLogoutRedirectURIs: app.PostLogoutRedirectURIs,
		Properties:             string(app.Properties),
		Requirements:           app.Requirements,
		Type:                   string(app.Type),
	}
}

func (i applicationItem) toDomain() *oauth.Application {
	return &oauth.Application{
		ID:                     i.ApplicationID,
		ClientID:               i.ClientID,
		ClientSecret:           i.ClientSecret,
		ConcurrencyToken:       i.ConcurrencyToken,
		DisplayName:            i.DisplayName,
		DisplayNames:           i.DisplayNames,
		Permissions:            i.Permissions,
		RedirectURIs:           i.RedirectURIs,
		PostLogoutRedirectURIs: i.PostLogoutRedirectURIs,
		Properties:             rawProperties(i.Properties),
		Requirements:           i.Requirements,
		Type:                   oauth.ApplicationType(i.Type),
	}
}

// applicationRedirectItem is a shadow record making one redirect URI
// queryable by value through the RedirectIndex.
type applicationRedirectItem struct {
	PK            string `dynamodbav:"PK"`
	SK            string `dynamodbav:"SK"`
	EntityType    string `dynamodbav:"EntityType"`
	ApplicationID string `dynamodbav:"ApplicationID"`
	RedirectURI   string `dynamodbav:"RedirectURI"`
	RedirectType  string `dynamodbav:"RedirectType"`
}

func newApplicationRedirectItem(applicationID, uri string, kind oauth.RedirectKind) applicationRedirectItem {
	return applicationRedirectItem{
		PK:            applicationPartitionKey(applicationID),
		SK:            redirectSortKey(uri, kind),
		EntityType:    string(kindApplicationRedirect),
		ApplicationID: applicationID,
		RedirectURI:   uri,
		RedirectType:  string(kind),
	}
}

type authorizationItem struct {
	PK               string   `dynamodbav:"PK"`
	SK               string   `dynamodbav:"SK"`
	EntityType       string   `dynamodbav:"EntityType"`
	AuthorizationID  string   `dynamodbav:"AuthorizationID"`
	ApplicationID    string   `dynamodbav:"ApplicationID,omitempty"`
	Subject          string   `dynamodbav:"Subject,omitempty"`
	Status           string   `dynamodbav:"Status,omitempty"`
	Type             string   `dynamodbav:"Type,omitempty"`
	Scopes           []string `dynamodbav:"Scopes,omitempty"`
	CreationDate     string   `dynamodbav:"CreationDate"`
	ConcurrencyToken string   `dynamodbav:"ConcurrencyToken"`
	Properties       string   `dynamodbav:"Properties,omitempty"`
	SearchKey        string   `dynamodbav:"SearchKey"`
	TTL              int64    `dynamodbav:"ttl,omitempty"`
}

func newAuthorizationItem(auth *oauth.Authorization) authorizationItem {
	return authorizationItem{
		PK:               authorizationPartitionKey(auth.ID),
		SK:               authorizationSortKey(auth.ID),
		EntityType:       string(kindAuthorization),
		AuthorizationID:  auth.ID,
		ApplicationID:    auth.ApplicationID,
		Subject:          auth.Subject,
		Status:           string(auth.Status),
		Type:             string(auth.Type),
		Scopes:           auth.Scopes,
		CreationDate:     auth.CreationDate.UTC().Format(time.RFC3339),
		ConcurrencyToken: auth.ConcurrencyToken,
		Properties:       string(auth.Properties),
		SearchKey:        authorizationSearchKey(auth.ApplicationID, auth.Status, auth.Type),
		TTL:              epochOrZero(auth.ExpiresAt),
	}
}

func (i authorizationItem) toDomain() *oauth.Authorization {
	return &oauth.Authorization{
		ID:               i.AuthorizationID,
		ApplicationID:    i.ApplicationID,
		Subject:          i.Subject,
		Status:           oauth.Status(i.Status),
		Type:             oauth.AuthorizationType(i.Type),
		Scopes:           i.Scopes,
		CreationDate:     parseTime(i.CreationDate),
		ConcurrencyToken: i.ConcurrencyToken,
		Properties:       rawProperties(i.Properties),
		ExpiresAt:        timeOrNil(i.TTL),
	}
}

type scopeItem struct {
	PK               string            `dynamodbav:"PK"`
	SK               string            `dynamodbav:"SK"`
	EntityType       string            `dynamodbav:"EntityType"`
	ScopeID          string            `dynamodbav:"ScopeID"`
	Name             string            `dynamodbav:"Name,omitempty"`
	Description      string            `dynamodbav:"Description,omitempty"`
	Descriptions     map[string]string `dynamodbav:"Descriptions,omitempty"`
	DisplayName      string            `dynamodbav:"DisplayName,omitempty"`
	DisplayNames     map[string]string `dynamodbav:"DisplayNames,omitempty"`
	Resources        []string          `dynamodbav:"Resources,omitempty"`
	Properties       string            `dynamodbav:"Properties,omitempty"`
	ConcurrencyToken string            `dynamodbav:"ConcurrencyToken"`
}

func newScopeItem(scope *oauth.Scope) scopeItem {
	return scopeItem{
		PK:               scopePartitionKey(scope.ID),
		SK:               scopeSortKey(scope.ID),
		EntityType:       string(kindScope),
		ScopeID:          scope.ID,
		Name:             scope.Name,
		Description:      scope.Description,
		Descriptions:     scope.Descriptions,
		DisplayName:      scope.DisplayName,
		DisplayNames:     scope.DisplayNames,
		Resources:        scope.Resources,
		Properties:       string(scope.Properties),
		ConcurrencyToken: scope.ConcurrencyToken,
	}
}

func (i scopeItem) toDomain() *oauth.Scope {
	return &oauth.Scope{
		ID:               i.ScopeID,
		Name:             i.Name,
		Description:      i.Description,
		Descriptions:     i.Descriptions,
		DisplayName:      i.DisplayName,
		DisplayNames:     i.DisplayNames,
		Resources:        i.Resources,
		Properties:       rawProperties(i.Properties),
		ConcurrencyToken: i.ConcurrencyToken,
	}
}

// scopeLookupItem is a shadow record making a scope queryable by name or by
// one of its resources. The separator disambiguates records when several
// scopes index the same value; it is always the owning scope's id.
type scopeLookupItem struct {
	PK              string `dynamodbav:"PK"`
	SK              string `dynamodbav:"SK"`
	EntityType      string `dynamodbav:"EntityType"`
	ScopeID         string `dynamodbav:"ScopeID"`
	LookupValue     string `dynamodbav:"LookupValue"`
	LookupType      string `dynamodbav:"LookupType"`
	LookupSeparator string `dynamodbav:"LookupSeparator"`
}

func newScopeLookupItem(scopeID, value string, kind oauth.ScopeLookupKind) scopeLookupItem {
	return scopeLookupItem{
		PK:              scopeLookupPartitionKey(value),
		SK:              scopeLookupSortKey(kind, scopeID),
		EntityType:      string(kindScopeLookup),
		ScopeID:         scopeID,
		LookupValue:     value,
		LookupType:      string(kind),
		LookupSeparator: scopeID,
	}
}

type tokenItem struct {
	PK               string `dynamodbav:"PK"`
	SK               string `dynamodbav:"SK"`
	EntityType       string `dynamodbav:"EntityType"`
	TokenID          string `dynamodbav:"TokenID"`
	ApplicationID    string `dynamodbav:"ApplicationID,omitempty"`
	AuthorizationID  string `dynamodbav:"AuthorizationID,omitempty"`
	Subject          string `dynamodbav:"Subject,omitempty"`
	Status           string `dynamodbav:"Status,omitempty"`
	Type             string `dynamodbav:"Type,omitempty"`
	ReferenceID      string `dynamodbav:"ReferenceID,omitempty"`
	Payload          string `dynamodbav:"Payload,omitempty"`
	Properties       string `dynamodbav:"Properties,omitempty"`
	CreationDate     string `dynamodbav:"CreationDate"`
	ExpirationDate   string `dynamodbav:"ExpirationDate,omitempty"`
	RedemptionDate   string `dynamodbav:"RedemptionDate,omitempty"`
	SearchKey        string `dynamodbav:"SearchKey"`
	TTL              int64  `dynamodbav:"ttl,omitempty"`
	ConcurrencyToken string `dynamodbav:"ConcurrencyToken"`
}

func newTokenItem(token *oauth.Token) tokenItem {
	return tokenItem{
		PK:               tokenPartitionKey(token.ID),
		SK:               tokenSortKey(token.ID),
		EntityType:       string(kindToken),
		TokenID:          token.ID,
		ApplicationID:    token.ApplicationID,
		AuthorizationID:  token.AuthorizationID,
		Subject:          token.Subject,
		Status:           string(token.Status),
		Type:             token.Type,
		ReferenceID:      token.ReferenceID,
		Payload:          token.Payload,
		Properties:       string(token.Properties),
		CreationDate:     token.CreationDate.UTC().Format(time.RFC3339),
		ExpirationDate:   formatTime(token.ExpirationDate),
		RedemptionDate:   formatTime(token.RedemptionDate),
		SearchKey:        tokenSearchKey(token.ApplicationID, token.Status, token.Type),
		TTL:              epochOrZero(token.ExpiresAt),
		ConcurrencyToken: token.ConcurrencyToken,
	}
}

func (i tokenItem) toDomain() *oauth.Token {
	return &oauth.Token{
		ID:               i.TokenID,
		ApplicationID:    i.ApplicationID,
		AuthorizationID:  i.AuthorizationID,
		Subject:          i.Subject,
		Status:           oauth.Status(i.Status),
		Type:             i.Type,
		ReferenceID:      i.ReferenceID,
		Payload:          i.Payload,
		Properties:       rawProperties(i.Properties),
		CreationDate:     parseTime(i.CreationDate),
		ExpirationDate:   parseTimeOrNil(i.ExpirationDate),
		RedemptionDate:   parseTimeOrNil(i.RedemptionDate),
		ExpiresAt:        timeOrNil(i.TTL),
		ConcurrencyToken: i.ConcurrencyToken,
	}
}

type countItem struct {
	PK         string `dynamodbav:"PK"`
	SK         string `dynamodbav:"SK"`
	EntityType string `dynamodbav:"EntityType"`
	CountType  string `dynamodbav:"CountType"`
	Count      int64  `dynamodbav:"Count"`
}

// unmarshalAs decodes a raw item into the given shape when its EntityType
// matches; items of other kinds sharing an index partition are skipped.
func unmarshalAs[T any](raw map[string]types.AttributeValue, kind entityKind) (T, bool, error) {
	var out T
	et, ok := raw[attrEntityType].(*types.AttributeValueMemberS)
	if !ok || et.Value != string(kind) {
		return out, false, nil
	}
	if err := attributevalue.UnmarshalMap(raw, &out); err != nil {
		return out, false, fmt.Errorf("unmarshal %s item: %w", kind, err)
	}
	return out, true, nil
}

func rawProperties(s string) json.RawMessage {
	if s == "" {
		return nil
	}
	return json.RawMessage(s)
}

func formatTime(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

func parseTime(s string) time.Time {
	t, _ := time.Parse(time.RFC3339, s)
	return t
}

func parseTimeOrNil(s string) *time.Time {
	if s == "" {
		return nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return nil
	}
	return &t
}

func epochOrZero(t *time.Time) int64 {
	if t == nil {
		return 0
	}
	return t.Unix()
}

func timeOrNil(epoch int64) *time.Time {
	if epoch == 0 {
		return nil
	}
	t := time.Unix(epoch, 0).UTC()
	return &t
}
