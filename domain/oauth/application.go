package oauth

import (
	"encoding/json"

	"github.com/google/uuid"
)

// Application is an OAuth client application. List-valued attributes
// (redirect URIs, permissions) cannot be indexed by the backing store
// directly; the persistence layer maintains shadow records for them.
type Application struct {
	ID                     string
	ClientID               string
	ClientSecret           string
	ConcurrencyToken       string
	DisplayName            string
	DisplayNames           map[string]string
	Permissions            []string
	RedirectURIs           []string
	PostLogoutRedirectURIs []string
	Properties             json.RawMessage
	Requirements           []string
	Type                   ApplicationType
}

// NewApplication creates a blank application with a fresh identity.
func NewApplication() *Application {
	return &Application{
		ID:               uuid.NewString(),
		ConcurrencyToken: uuid.NewString(),
	}
}
