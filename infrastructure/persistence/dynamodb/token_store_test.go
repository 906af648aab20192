package dynamodb

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"oidcstore/application/ports"
	"oidcstore/domain/oauth"
	pkgerrors "oidcstore/pkg/errors"
)

func seedToken(t *testing.T, store *TokenStore, subject, applicationID, authorizationID string, status oauth.Status) *oauth.Token {
	t.Helper()
	token := store.Instantiate()
	token.Subject = subject
	token.ApplicationID = applicationID
	token.AuthorizationID = authorizationID
	token.Status = status
	token.Type = "access_token"
	require.NoError(t, store.Create(context.Background(), token))
	return token
}

func TestTokenStore_CreateAndFindByID(t *testing.T) {
	ctx := context.Background()
	_, _, _, store := newTestStores(newFakeDB())
	expiration := time.Now().UTC().Add(time.Hour).Truncate(time.Second)
	redemption := time.Now().UTC().Truncate(time.Second)

	token := store.Instantiate()
	token.Subject = "user-1"
	token.ApplicationID = "app-1"
	token.AuthorizationID = "auth-1"
	token.Status = oauth.StatusValid
	token.Type = "refresh_token"
	token.ReferenceID = "ref-1"
	token.Payload = "ciphertext"
	token.Properties = json.RawMessage(`{"grant":"refresh"}`)
	token.ExpirationDate = timePtr(expiration)
	token.RedemptionDate = timePtr(redemption)

	require.NoError(t, store.Create(ctx, token))

	found, err := store.FindByID(ctx, token.ID)
	require.NoError(t, err)
	require.NotNil(t, found)
	assert.Equal(t, "user-1", found.Subject)
	assert.Equal(t, "app-1", found.ApplicationID)
	assert.Equal(t, "auth-1", found.AuthorizationID)
	assert.Equal(t, oauth.StatusValid, found.Status)
	assert.Equal(t, "refresh_token", found.Type)
	assert.Equal(t, "ref-1", found.ReferenceID)
	assert.Equal(t, "ciphertext", found.Payload)
	assert.JSONEq(t, `{"grant":"refresh"}`, string(found.Properties))
	require.NotNil(t, found.ExpirationDate)
	assert.Equal(t, expiration.Unix(), found.ExpirationDate.Unix())
	require.NotNil(t, found.RedemptionDate)
	assert.Equal(t, redemption.Unix(), found.RedemptionDate.Unix())
}

func TestTokenStore_UpdateConcurrencyConflict(t *testing.T) {
	ctx := context.Background()
	_, _, _, store := newTestStores(newFakeDB())

	token := seedToken(t, store, "user-1", "app-1", "", oauth.StatusValid)

	stale := *token
	stale.ConcurrencyToken = "stale-token"
	stale.Payload = "tampered"
	err := store.Update(ctx, &stale)
	require.Error(t, err)
	assert.True(t, pkgerrors.IsConcurrencyConflict(err))

	found, err := store.FindByID(ctx, token.ID)
	require.NoError(t, err)
	assert.Empty(t, found.Payload)
}

func TestTokenStore_RevocationCascadesToParent(t *testing.T) {
	ctx := context.Background()
	db := newFakeDB()
	_, auths, _, store := newTestStores(db)
	moment := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	store.now = func() time.Time { return moment }

	parent := seedAuthorization(t, auths, "user-1", "app-1", oauth.StatusValid, oauth.AuthorizationTypeAdHoc)
	token := seedToken(t, store, "user-1", "app-1", parent.ID, oauth.StatusValid)

	token.Status = oauth.StatusRevoked
	require.NoError(t, store.Update(ctx, token))

	wantExpiry := moment.Add(5 * time.Minute).Unix()
	require.NotNil(t, token.ExpiresAt)
	assert.Equal(t, wantExpiry, token.ExpiresAt.Unix())

	foundParent, err := auths.FindByID(ctx, parent.ID)
	require.NoError(t, err)
	require.NotNil(t, foundParent)
	require.NotNil(t, foundParent.ExpiresAt)
	assert.Equal(t, wantExpiry, foundParent.ExpiresAt.Unix())
}

func TestTokenStore_RevocationWithMissingParentSucceeds(t *testing.T) {
	ctx := context.Background()
	_, _, _, store := newTestStores(newFakeDB())

	token := seedToken(t, store, "user-1", "app-1", "gone", oauth.StatusValid)
	token.Status = oauth.StatusRedeemed
	require.NoError(t, store.Update(ctx, token))
}

func TestTokenStore_RetainedUpdateMirrorsExpirationDate(t *testing.T) {
	ctx := context.Background()
	_, _, _, store := newTestStores(newFakeDB())
	expiration := time.Now().UTC().Add(2 * time.Hour).Truncate(time.Second)

	token := seedToken(t, store, "user-1", "app-1", "", oauth.StatusValid)
	token.ExpirationDate = timePtr(expiration)
	require.NoError(t, store.Update(ctx, token))

	found, err := store.FindByID(ctx, token.ID)
	require.NoError(t, err)
	require.NotNil(t, found.ExpiresAt)
	assert.Equal(t, expiration.Unix(), found.ExpiresAt.Unix())
	assert.Equal(t, oauth.StatusValid, found.Status)
}

func TestTokenStore_FindByReferenceID(t *testing.T) {
	ctx := context.Background()
	_, _, _, store := newTestStores(newFakeDB())

	token := seedToken(t, store, "user-1", "app-1", "", oauth.StatusValid)
	token.ReferenceID = "ref-42"
	require.NoError(t, store.Update(ctx, token))

	found, err := store.FindByReferenceID(ctx, "ref-42")
	require.NoError(t, err)
	require.NotNil(t, found)
	assert.Equal(t, token.ID, found.ID)

	missing, err := store.FindByReferenceID(ctx, "ref-nope")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestTokenStore_FindByAuthorizationID(t *testing.T) {
	ctx := context.Background()
	_, _, _, store := newTestStores(newFakeDB())

	first := seedToken(t, store, "user-1", "app-1", "auth-1", oauth.StatusValid)
	second := seedToken(t, store, "user-1", "app-1", "auth-1", oauth.StatusInactive)
	seedToken(t, store, "user-1", "app-1", "auth-2", oauth.StatusValid)

	tokens, err := store.FindByAuthorizationID(ctx, "auth-1")
	require.NoError(t, err)
	ids := make([]string, 0, len(tokens))
	for _, tok := range tokens {
		ids = append(ids, tok.ID)
	}
	assert.ElementsMatch(t, []string{first.ID, second.ID}, ids)
}

func TestTokenStore_FindNarrowsBySubjectApplicationAndStatus(t *testing.T) {
	ctx := context.Background()
	_, _, _, store := newTestStores(newFakeDB())

	match := seedToken(t, store, "user-1", "app-1", "", oauth.StatusValid)
	seedToken(t, store, "user-1", "app-1", "", oauth.StatusRevoked)
	seedToken(t, store, "user-1", "app-2", "", oauth.StatusValid)
	seedToken(t, store, "user-2", "app-1", "", oauth.StatusValid)

	tokens, err := store.Find(ctx, ports.TokenFilter{
		Subject:       "user-1",
		ApplicationID: "app-1",
		Status:        oauth.StatusValid,
	})
	require.NoError(t, err)
	require.Len(t, tokens, 1)
	assert.Equal(t, match.ID, tokens[0].ID)
}

func TestTokenStore_Prune(t *testing.T) {
	ctx := context.Background()
	_, auths, _, store := newTestStores(newFakeDB())
	old := time.Now().UTC().Add(-30 * 24 * time.Hour)
	threshold := time.Now().UTC().Add(-14 * 24 * time.Hour)

	validParent := seedAuthorization(t, auths, "user-1", "app-1", oauth.StatusValid, oauth.AuthorizationTypePermanent)
	revokedParent := seedAuthorization(t, auths, "user-1", "app-1", oauth.StatusRevoked, oauth.AuthorizationTypePermanent)

	aged := func(token *oauth.Token) *oauth.Token {
		token.CreationDate = old
		return token
	}

	nonRetained := aged(store.Instantiate())
	nonRetained.Subject, nonRetained.ApplicationID = "user-1", "app-1"
	nonRetained.Status = oauth.StatusRedeemed
	require.NoError(t, store.Create(ctx, nonRetained))

	overdue := aged(store.Instantiate())
	overdue.Subject, overdue.ApplicationID = "user-1", "app-1"
	overdue.Status = oauth.StatusValid
	overdue.ExpirationDate = timePtr(time.Now().UTC().Add(-time.Hour))
	require.NoError(t, store.Create(ctx, overdue))

	orphaned := aged(store.Instantiate())
	orphaned.Subject, orphaned.ApplicationID = "user-1", "app-1"
	orphaned.Status = oauth.StatusValid
	orphaned.AuthorizationID = "missing-parent"
	require.NoError(t, store.Create(ctx, orphaned))

	badParent := aged(store.Instantiate())
	badParent.Subject, badParent.ApplicationID = "user-1", "app-1"
	badParent.Status = oauth.StatusValid
	badParent.AuthorizationID = revokedParent.ID
	require.NoError(t, store.Create(ctx, badParent))

	survivor := aged(store.Instantiate())
	survivor.Subject, survivor.ApplicationID = "user-1", "app-1"
	survivor.Status = oauth.StatusValid
	survivor.AuthorizationID = validParent.ID
	require.NoError(t, store.Create(ctx, survivor))

	standalone := aged(store.Instantiate())
	standalone.Subject, standalone.ApplicationID = "user-1", "app-1"
	standalone.Status = oauth.StatusValid
	require.NoError(t, store.Create(ctx, standalone))

	recent := store.Instantiate()
	recent.Subject, recent.ApplicationID = "user-1", "app-1"
	recent.Status = oauth.StatusRedeemed
	require.NoError(t, store.Create(ctx, recent))

	count, err := store.Prune(ctx, threshold)
	require.NoError(t, err)
	assert.Equal(t, int64(4), count)

	for id, wantKept := range map[string]bool{
		nonRetained.ID: false,
		overdue.ID:     false,
		orphaned.ID:    false,
		badParent.ID:   false,
		survivor.ID:    true,
		standalone.ID:  true,
		recent.ID:      true,
	} {
		found, err := store.FindByID(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, wantKept, found != nil, "token %s", id)
	}
}
