package dynamodb

import (
	"context"
	"fmt"
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"oidcstore/application/ports"
	"oidcstore/domain/oauth"
	pkgerrors "oidcstore/pkg/errors"
)

func seedScopes(t *testing.T, store *ScopeStore, n int) map[string]bool {
	t.Helper()
	ids := make(map[string]bool, n)
	for i := 0; i < n; i++ {
		scope := store.Instantiate()
		scope.Name = fmt.Sprintf("scope-%02d", i)
		require.NoError(t, store.Create(context.Background(), scope))
		ids[scope.ID] = true
	}
	return ids
}

func TestCursorRoundTrip(t *testing.T) {
	key := map[string]types.AttributeValue{
		"PK": &types.AttributeValueMemberS{Value: "SCOPE#abc"},
		"SK": &types.AttributeValueMemberS{Value: "#SCOPE#abc"},
	}

	cursor := EncodeCursor(key)
	require.NotEmpty(t, cursor)

	decoded, err := DecodeCursor(cursor)
	require.NoError(t, err)
	assert.Equal(t, key, decoded)
}

func TestDecodeCursor(t *testing.T) {
	decoded, err := DecodeCursor("")
	require.NoError(t, err)
	assert.Nil(t, decoded)

	_, err = DecodeCursor("not a cursor")
	require.Error(t, err)
	assert.True(t, pkgerrors.IsValidation(err))
}

func TestScopeStore_ListSequentialOffsetsAreDisjoint(t *testing.T) {
	ctx := context.Background()
	_, _, store, _ := newTestStores(newFakeDB())
	ids := seedScopes(t, store, 25)

	first, err := store.List(ctx, ports.ListOptions{Count: intPtr(10)})
	require.NoError(t, err)
	require.Len(t, first.Items, 10)
	assert.NotEmpty(t, first.NextCursor)

	second, err := store.List(ctx, ports.ListOptions{Count: intPtr(10), Offset: intPtr(10)})
	require.NoError(t, err)
	require.Len(t, second.Items, 10)

	seen := make(map[string]bool, 20)
	for _, scope := range append(append([]*oauth.Scope{}, first.Items...), second.Items...) {
		assert.False(t, seen[scope.ID], "scope %s returned twice", scope.ID)
		assert.True(t, ids[scope.ID])
		seen[scope.ID] = true
	}
	assert.Len(t, seen, 20)
}

func TestScopeStore_ListUnseenOffsetFails(t *testing.T) {
	ctx := context.Background()
	_, _, store, _ := newTestStores(newFakeDB())
	seedScopes(t, store, 25)

	_, err := store.List(ctx, ports.ListOptions{Count: intPtr(10), Offset: intPtr(5)})
	require.Error(t, err)
	assert.True(t, pkgerrors.IsValidation(err))
}

func TestScopeStore_ListCursorResumesWhereOffsetWould(t *testing.T) {
	ctx := context.Background()
	_, _, store, _ := newTestStores(newFakeDB())
	seedScopes(t, store, 25)

	first, err := store.List(ctx, ports.ListOptions{Count: intPtr(10)})
	require.NoError(t, err)

	byOffset, err := store.List(ctx, ports.ListOptions{Count: intPtr(10), Offset: intPtr(10)})
	require.NoError(t, err)

	byCursor, err := store.List(ctx, ports.ListOptions{Count: intPtr(10), Cursor: first.NextCursor})
	require.NoError(t, err)

	require.Len(t, byCursor.Items, 10)
	for i := range byOffset.Items {
		assert.Equal(t, byOffset.Items[i].ID, byCursor.Items[i].ID)
	}
}

func TestScopeStore_ListDefaultsToApproximateCount(t *testing.T) {
	ctx := context.Background()
	_, _, store, _ := newTestStores(newFakeDB())
	for i := 0; i < 7; i++ {
		require.NoError(t, store.Create(ctx, store.Instantiate()))
	}

	page, err := store.List(ctx, ports.ListOptions{})
	require.NoError(t, err)
	assert.Len(t, page.Items, 7)
	assert.Empty(t, page.NextCursor)
}
