package dynamodb

import (
	"fmt"

	"oidcstore/domain/oauth"
)

// Key derivation for the single shared table. Every function here is pure:
// identical logical identity always yields identical keys, no matter which
// code path builds the entity. Callers are responsible for supplying
// non-empty identifiers.

// entityKind names an item family for counters and type discrimination.
type entityKind string

const (
	kindApplication   entityKind = "APPLICATION"
	kindAuthorization entityKind = "AUTHORIZATION"
	kindScope         entityKind = "SCOPE"
	kindToken         entityKind = "TOKEN"

	kindApplicationRedirect entityKind = "APPLICATION_REDIRECT"
	kindScopeLookup         entityKind = "SCOPE_LOOKUP"
	kindCount               entityKind = "COUNT"
)

func applicationPartitionKey(id string) string {
	return "APPLICATION#" + id
}

func applicationSortKey(id string) string {
	return "#USER#" + id
}

func authorizationPartitionKey(id string) string {
	return "AUTHORIZATION#" + id
}

func authorizationSortKey(id string) string {
	return "#AUTHORIZATION#" + id
}

func scopePartitionKey(id string) string {
	return "SCOPE#" + id
}

func scopeSortKey(id string) string {
	return "#SCOPE#" + id
}

// Token partition keys carry the bare id; the sort key prefix keeps token
// items addressable on the composite-key table.
func tokenPartitionKey(id string) string {
	return id
}

func tokenSortKey(id string) string {
	return "#TOKEN#" + id
}

func countPartitionKey(kind entityKind) string {
	return "COUNT#" + string(kind)
}

func countSortKey(kind entityKind) string {
	return "#COUNT#" + string(kind)
}

// redirectSortKey addresses one redirect shadow record within the owning
// application's partition.
func redirectSortKey(uri string, kind oauth.RedirectKind) string {
	return fmt.Sprintf("REDIRECT#%s#%s", uri, kind)
}

const redirectSortKeyPrefix = "REDIRECT#"

func scopeLookupPartitionKey(value string) string {
	return "SCOPELOOKUP#" + value
}

func scopeLookupSortKey(kind oauth.ScopeLookupKind, separator string) string {
	return fmt.Sprintf("TYPE#%s#SEPARATOR#%s", kind, separator)
}

func scopeLookupSortKeyPrefix(kind oauth.ScopeLookupKind) string {
	return fmt.Sprintf("TYPE#%s#", kind)
}

// authorizationSearchKey is the derived composite attribute enabling prefix
// range queries over (application, status, type) under a subject partition.
func authorizationSearchKey(applicationID string, status oauth.Status, typ oauth.AuthorizationType) string {
	return fmt.Sprintf("APPLICATION#%s#STATUS#%s#TYPE#%s", applicationID, status, typ)
}

// Tiered prefixes for the query strategy dispatcher. Each tier extends the
// previous one with the next constrained attribute.
func authorizationSearchPrefixByApplication(applicationID string) string {
	return fmt.Sprintf("APPLICATION#%s", applicationID)
}

func authorizationSearchPrefixByStatus(applicationID string, status oauth.Status) string {
	return fmt.Sprintf("APPLICATION#%s#STATUS#%s", applicationID, status)
}

func tokenSearchKey(applicationID string, status oauth.Status, typ string) string {
	return fmt.Sprintf("%s#%s#%s", applicationID, status, typ)
}

func tokenSearchPrefixByApplication(applicationID string) string {
	return applicationID
}

func tokenSearchPrefixByStatus(applicationID string, status oauth.Status) string {
	return fmt.Sprintf("%s#%s", applicationID, status)
}
