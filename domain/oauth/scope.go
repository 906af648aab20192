package oauth

import (
	"encoding/json"

	"github.com/google/uuid"
)

// Scope is a named permission grouping one or more protected resources.
type Scope struct {
	ID               string
	Name             string
	Description      string
	Descriptions     map[string]string
	DisplayName      string
	DisplayNames     map[string]string
	Resources        []string
	Properties       json.RawMessage
	ConcurrencyToken string
}

// NewScope creates a blank scope with a fresh identity.
func NewScope() *Scope {
	return &Scope{
		ID:               uuid.NewString(),
		ConcurrencyToken: uuid.NewString(),
	}
}
