package dynamodb

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"oidcstore/domain/oauth"
	pkgerrors "oidcstore/pkg/errors"
)

func TestApplicationStore_CreateAndFindByID(t *testing.T) {
	ctx := context.Background()
	db := newFakeDB()
	store, _, _, _ := newTestStores(db)

	app := store.Instantiate()
	app.ClientID = "client-1"
	app.ClientSecret = "secret"
	app.DisplayName = "Example"
	app.DisplayNames = map[string]string{"de": "Beispiel"}
	app.Permissions = []string{"ept:token", "gt:client_credentials"}
	app.RedirectURIs = []string{"https://a"}
	app.Requirements = []string{"ft:pkce"}
	app.Properties = json.RawMessage(`{"tier":"gold"}`)
	app.Type = oauth.ApplicationTypeConfidential

	require.NoError(t, store.Create(ctx, app))

	found, err := store.FindByID(ctx, app.ID)
	require.NoError(t, err)
	require.NotNil(t, found)
	assert.Equal(t, app.ID, found.ID)
	assert.Equal(t, "client-1", found.ClientID)
	assert.Equal(t, "secret", found.ClientSecret)
	assert.Equal(t, "Example", found.DisplayName)
	assert.Equal(t, map[string]string{"de": "Beispiel"}, found.DisplayNames)
	assert.Equal(t, []string{"ept:token", "gt:client_credentials"}, found.Permissions)
	assert.Equal(t, []string{"https://a"}, found.RedirectURIs)
	assert.Equal(t, []string{"ft:pkce"}, found.Requirements)
	assert.JSONEq(t, `{"tier":"gold"}`, string(found.Properties))
	assert.Equal(t, oauth.ApplicationTypeConfidential, found.Type)
}

func TestApplicationStore_FindByIDMissing(t *testing.T) {
	ctx := context.Background()
	store, _, _, _ := newTestStores(newFakeDB())

	found, err := store.FindByID(ctx, "nope")
	require.NoError(t, err)
	assert.Nil(t, found)
}

func TestApplicationStore_FindByClientID(t *testing.T) {
	ctx := context.Background()
	store, _, _, _ := newTestStores(newFakeDB())

	app := store.Instantiate()
	app.ClientID = "client-xyz"
	require.NoError(t, store.Create(ctx, app))

	found, err := store.FindByClientID(ctx, "client-xyz")
	require.NoError(t, err)
	require.NotNil(t, found)
	assert.Equal(t, app.ID, found.ID)

	missing, err := store.FindByClientID(ctx, "other")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestApplicationStore_RedirectShadows(t *testing.T) {
	ctx := context.Background()
	db := newFakeDB()
	store, _, _, _ := newTestStores(db)

	app := store.Instantiate()
	app.ClientID = "client-1"
	app.RedirectURIs = []string{"https://a", "https://b"}
	app.PostLogoutRedirectURIs = []string{"https://c"}
	require.NoError(t, store.Create(ctx, app))

	assert.Equal(t, 3, redirectShadowCount(db, app.ID))

	for _, uri := range []string{"https://a", "https://b"} {
		apps, err := store.FindByRedirectURI(ctx, uri)
		require.NoError(t, err)
		require.Len(t, apps, 1)
		assert.Equal(t, app.ID, apps[0].ID)
	}

	apps, err := store.FindByPostLogoutRedirectURI(ctx, "https://c")
	require.NoError(t, err)
	require.Len(t, apps, 1)
	assert.Equal(t, app.ID, apps[0].ID)

	none, err := store.FindByRedirectURI(ctx, "https://c")
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestApplicationStore_UpdateReplacesAllShadows(t *testing.T) {
	ctx := context.Background()
	db := newFakeDB()
	store, _, _, _ := newTestStores(db)

	app := store.Instantiate()
	app.RedirectURIs = []string{"https://a", "https://b"}
	app.PostLogoutRedirectURIs = []string{"https://c"}
	require.NoError(t, store.Create(ctx, app))

	// The resync replaces the full shadow set: the post-logout entry is
	// dropped because it was not resubmitted.
	app.RedirectURIs = []string{"https://d"}
	app.PostLogoutRedirectURIs = nil
	require.NoError(t, store.Update(ctx, app))

	assert.Equal(t, 1, redirectShadowCount(db, app.ID))
	assert.False(t, hasRedirectShadow(db, app.ID, "https://a", "RedirectUri"))
	assert.False(t, hasRedirectShadow(db, app.ID, "https://b", "RedirectUri"))
	assert.False(t, hasRedirectShadow(db, app.ID, "https://c", "PostLogoutRedirectUri"))
	assert.True(t, hasRedirectShadow(db, app.ID, "https://d", "RedirectUri"))

	apps, err := store.FindByRedirectURI(ctx, "https://a")
	require.NoError(t, err)
	assert.Empty(t, apps)
}

func TestApplicationStore_UpdateConcurrencyConflict(t *testing.T) {
	ctx := context.Background()
	store, _, _, _ := newTestStores(newFakeDB())

	app := store.Instantiate()
	app.DisplayName = "original"
	require.NoError(t, store.Create(ctx, app))

	stale := *app
	stale.ConcurrencyToken = "stale-token"
	stale.DisplayName = "hijacked"

	err := store.Update(ctx, &stale)
	require.Error(t, err)
	assert.True(t, pkgerrors.IsConcurrencyConflict(err))

	// The stored record is unchanged.
	found, err := store.FindByID(ctx, app.ID)
	require.NoError(t, err)
	require.NotNil(t, found)
	assert.Equal(t, "original", found.DisplayName)
	assert.Equal(t, app.ConcurrencyToken, found.ConcurrencyToken)
}

func TestApplicationStore_UpdateRotatesToken(t *testing.T) {
	ctx := context.Background()
	store, _, _, _ := newTestStores(newFakeDB())

	app := store.Instantiate()
	require.NoError(t, store.Create(ctx, app))

	before := app.ConcurrencyToken
	app.DisplayName = "renamed"
	require.NoError(t, store.Update(ctx, app))
	assert.NotEqual(t, before, app.ConcurrencyToken)

	found, err := store.FindByID(ctx, app.ID)
	require.NoError(t, err)
	assert.Equal(t, app.ConcurrencyToken, found.ConcurrencyToken)
}

func TestApplicationStore_CountTracksWrites(t *testing.T) {
	ctx := context.Background()
	store, _, _, _ := newTestStores(newFakeDB())

	var last *oauth.Application
	for i := 0; i < 3; i++ {
		app := store.Instantiate()
		require.NoError(t, store.Create(ctx, app))
		last = app
	}

	count, err := store.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(3), count)

	require.NoError(t, store.Delete(ctx, last))
	count, err = store.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), count)
}

func TestApplicationStore_CreateDuplicateFails(t *testing.T) {
	ctx := context.Background()
	store, _, _, _ := newTestStores(newFakeDB())

	app := store.Instantiate()
	require.NoError(t, store.Create(ctx, app))

	err := store.Create(ctx, app)
	require.Error(t, err)
	assert.True(t, pkgerrors.IsValidation(err))
}

func TestApplicationStore_NilAndEmptyValidation(t *testing.T) {
	ctx := context.Background()
	store, _, _, _ := newTestStores(newFakeDB())

	assert.True(t, pkgerrors.IsValidation(store.Create(ctx, nil)))
	assert.True(t, pkgerrors.IsValidation(store.Update(ctx, &oauth.Application{})))

	_, err := store.FindByID(ctx, "")
	assert.True(t, pkgerrors.IsValidation(err))
	_, err = store.FindByClientID(ctx, "")
	assert.True(t, pkgerrors.IsValidation(err))
	_, err = store.FindByRedirectURI(ctx, "")
	assert.True(t, pkgerrors.IsValidation(err))
}
