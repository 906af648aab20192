package oauth

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Authorization records a subject's consent to a client application.
// ExpiresAt carries the TTL timestamp the backing store's sweep honors;
// nil means the record never expires on its own.
type Authorization struct {
	ID               string
	ApplicationID    string
	Subject          string
	Status           Status
	Type             AuthorizationType
	Scopes           []string
	CreationDate     time.Time
	ConcurrencyToken string
	Properties       json.RawMessage
	ExpiresAt        *time.Time
}

// NewAuthorization creates a blank authorization with a fresh identity.
func NewAuthorization() *Authorization {
	return &Authorization{
		ID:               uuid.NewString(),
		ConcurrencyToken: uuid.NewString(),
		CreationDate:     time.Now().UTC(),
	}
}

// HasScopes reports whether the authorization covers every requested scope.
func (a *Authorization) HasScopes(required []string) bool {
	if len(required) == 0 {
		return true
	}
	granted := make(map[string]struct{}, len(a.Scopes))
	for _, s := range a.Scopes {
		granted[s] = struct{}{}
	}
	for _, s := range required {
		if _, ok := granted[s]; !ok {
			return false
		}
	}
	return true
}
