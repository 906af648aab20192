package ports

import (
	"context"
	"time"

	"oidcstore/domain/oauth"
)

// ListOptions controls paginated listing.
//
// Cursor is the opaque continuation value returned by a previous page; it is
// the preferred way to page. Offset exists for callers that still speak the
// legacy (count, offset) protocol: only offsets previously reached through
// sequential paging are accepted, anything else fails with a validation
// error rather than silently restarting from the beginning.
type ListOptions struct {
	Count  *int
	Offset *int
	Cursor string
}

// Page is one batch of a paginated listing.
type Page[T any] struct {
	Items      []T
	NextCursor string
}

// AuthorizationFilter narrows an authorization search. Nil fields are
// unconstrained. The store picks the narrowest index prefix it can serve
// and applies the remaining predicates in memory.
type AuthorizationFilter struct {
	Subject       string
	ApplicationID string
	Status        oauth.Status
	Type          oauth.AuthorizationType
	Scopes        []string
}

// TokenFilter narrows a token search with the same tiering rules.
type TokenFilter struct {
	Subject       string
	ApplicationID string
	Status        oauth.Status
	Type          string
}

// ApplicationStore persists OAuth client applications.
type ApplicationStore interface {
	Create(ctx context.Context, app *oauth.Application) error
	Update(ctx context.Context, app *oauth.Application) error
	Delete(ctx context.Context, app *oauth.Application) error
	FindByID(ctx context.Context, id string) (*oauth.Application, error)
	FindByClientID(ctx context.Context, clientID string) (*oauth.Application, error)
	FindByRedirectURI(ctx context.Context, uri string) ([]*oauth.Application, error)
	FindByPostLogoutRedirectURI(ctx context.Context, uri string) ([]*oauth.Application, error)
	Count(ctx context.Context) (int64, error)
	List(ctx context.Context, opts ListOptions) (*Page[*oauth.Application], error)
	Instantiate() *oauth.Application
}

// AuthorizationStore persists consent authorizations.
type AuthorizationStore interface {
	Create(ctx context.Context, auth *oauth.Authorization) error
	Update(ctx context.Context, auth *oauth.Authorization) error
	Delete(ctx context.Context, auth *oauth.Authorization) error
	FindByID(ctx context.Context, id string) (*oauth.Authorization, error)
	FindBySubject(ctx context.Context, subject string) ([]*oauth.Authorization, error)
	FindByApplicationID(ctx context.Context, applicationID string) ([]*oauth.Authorization, error)
	Find(ctx context.Context, filter AuthorizationFilter) ([]*oauth.Authorization, error)
	Count(ctx context.Context) (int64, error)
	List(ctx context.Context, opts ListOptions) (*Page[*oauth.Authorization], error)

	// Revoke marks one authorization revoked and schedules its expiry.
	Revoke(ctx context.Context, id string) error
	// RevokeBySubject, RevokeByApplication and RevokeAll return the
	// number of authorizations affected.
	RevokeBySubject(ctx context.Context, subject string) (int64, error)
	RevokeByApplication(ctx context.Context, applicationID string) (int64, error)
	RevokeAll(ctx context.Context) (int64, error)

	// Prune deletes authorizations created before threshold that are no
	// longer valid, plus ad-hoc authorizations without tokens. Returns the
	// number of rows removed.
	Prune(ctx context.Context, threshold time.Time) (int64, error)
	Instantiate() *oauth.Authorization
}

// ScopeStore persists scopes.
type ScopeStore interface {
	Create(ctx context.Context, scope *oauth.Scope) error
	Update(ctx context.Context, scope *oauth.Scope) error
	Delete(ctx context.Context, scope *oauth.Scope) error
	FindByID(ctx context.Context, id string) (*oauth.Scope, error)
	FindByName(ctx context.Context, name string) (*oauth.Scope, error)
	FindByResource(ctx context.Context, resource string) ([]*oauth.Scope, error)
	Count(ctx context.Context) (int64, error)
	List(ctx context.Context, opts ListOptions) (*Page[*oauth.Scope], error)
	Instantiate() *oauth.Scope
}

// TokenStore persists issued tokens.
type TokenStore interface {
	Create(ctx context.Context, token *oauth.Token) error
	Update(ctx context.Context, token *oauth.Token) error
	Delete(ctx context.Context, token *oauth.Token) error
	FindByID(ctx context.Context, id string) (*oauth.Token, error)
	FindByReferenceID(ctx context.Context, referenceID string) (*oauth.Token, error)
	FindByAuthorizationID(ctx context.Context, authorizationID string) ([]*oauth.Token, error)
	FindBySubject(ctx context.Context, subject string) ([]*oauth.Token, error)
	FindByApplicationID(ctx context.Context, applicationID string) ([]*oauth.Token, error)
	Find(ctx context.Context, filter TokenFilter) ([]*oauth.Token, error)
	Count(ctx context.Context) (int64, error)
	List(ctx context.Context, opts ListOptions) (*Page[*oauth.Token], error)

	// Prune deletes tokens created before threshold that are expired,
	// non-retained, or whose parent authorization is no longer valid.
	Prune(ctx context.Context, threshold time.Time) (int64, error)
	Instantiate() *oauth.Token
}

// EventPublisher publishes store lifecycle events (bulk revocations,
// prune results) to an external bus.
type EventPublisher interface {
	Publish(ctx context.Context, detailType string, detail interface{}) error
}
