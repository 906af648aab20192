package oauth

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Token is an issued OAuth token (access, refresh, authorization code or
// device code). A token always belongs to an application and usually to a
// parent authorization; expiring a token early also expires its parent.
type Token struct {
	ID               string
	ApplicationID    string
	AuthorizationID  string
	Subject          string
	Status           Status
	Type             string
	ReferenceID      string
	Payload          string
	Properties       json.RawMessage
	CreationDate     time.Time
	ExpirationDate   *time.Time
	RedemptionDate   *time.Time
	ExpiresAt        *time.Time
	ConcurrencyToken string
}

// NewToken creates a blank token with a fresh identity.
func NewToken() *Token {
	return &Token{
		ID:               uuid.NewString(),
		ConcurrencyToken: uuid.NewString(),
		CreationDate:     time.Now().UTC(),
	}
}
