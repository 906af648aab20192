package dynamodb

import (
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"go.uber.org/zap"
)

func intPtr(i int) *int {
	return &i
}

func timePtr(t time.Time) *time.Time {
	return &t
}

func newTestStores(db *fakeDB) (*ApplicationStore, *AuthorizationStore, *ScopeStore, *TokenStore) {
	logger := zap.NewNop()
	return NewApplicationStore(db, "test-table", logger),
		NewAuthorizationStore(db, "test-table", logger),
		NewScopeStore(db, "test-table", logger),
		NewTokenStore(db, "test-table", logger)
}

// redirectShadowCount counts stored redirect shadow records for one
// application.
func redirectShadowCount(db *fakeDB, applicationID string) int {
	return db.itemCount(func(item map[string]types.AttributeValue) bool {
		return stringAttr(item, attrPK) == applicationPartitionKey(applicationID) &&
			strings.HasPrefix(stringAttr(item, attrSK), redirectSortKeyPrefix)
	})
}

// hasRedirectShadow reports whether a shadow exists for the exact URI and
// kind.
func hasRedirectShadow(db *fakeDB, applicationID, uri string, kind string) bool {
	return db.itemCount(func(item map[string]types.AttributeValue) bool {
		return stringAttr(item, attrPK) == applicationPartitionKey(applicationID) &&
			stringAttr(item, "RedirectURI") == uri &&
			stringAttr(item, "RedirectType") == kind
	}) > 0
}
