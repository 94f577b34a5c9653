package portal

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/campuskit/portal-core/pkg/account"
	"github.com/campuskit/portal-core/pkg/cache"
	"github.com/campuskit/portal-core/pkg/secrets"
	"github.com/campuskit/portal-core/pkg/token"
)

const testOwner int64 = 1001

func newTestManager(t *testing.T) (*Manager, account.Store, *cache.Memory) {
	t.Helper()

	store := account.NewMemoryStore()
	mem := cache.NewMemory()
	m, err := NewManager(store, mem, secrets.NopCipher{}, nil)
	require.NoError(t, err)
	return m, store, mem
}

func addAccount(t *testing.T, m *Manager, username string, payload json.RawMessage) {
	t.Helper()

	require.NoError(t, m.AddAccount(context.Background(), AddAccountParams{
		Owner:      testOwner,
		Username:   username,
		Credential: "hunter2",
		Payload:    payload,
	}))
}

func cachePut(t *testing.T, c *cache.Memory, owner int64, kind string) cache.Key {
	t.Helper()

	key := cache.Key{Kind: kind, Owner: owner}
	require.NoError(t, c.Set(context.Background(), key, []byte(`{}`), time.Minute))
	return key
}

func TestAddAccount_Defaults(t *testing.T) {
	m, store, _ := newTestManager(t)
	ctx := context.Background()

	addAccount(t, m, "alice", json.RawMessage(`{"ho_ten":"Alice Tran","token":"tok"}`))

	active, err := store.GetActive(ctx, testOwner)
	require.NoError(t, err)
	assert.Equal(t, "alice", active.Username)
	assert.Equal(t, "Alice Tran", active.DisplayName, "display name comes from the login payload")
	assert.NotEmpty(t, active.DeviceID, "device id is generated when absent")
}

func TestAddAccount_Validation(t *testing.T) {
	m, _, _ := newTestManager(t)
	ctx := context.Background()

	assert.Error(t, m.AddAccount(ctx, AddAccountParams{Username: "alice", Credential: "x"}))
	assert.Error(t, m.AddAccount(ctx, AddAccountParams{Owner: testOwner, Credential: "x"}))
	assert.Error(t, m.AddAccount(ctx, AddAccountParams{Owner: testOwner, Username: "alice"}))
}

func TestCredential_EncryptedAtRestRecoverable(t *testing.T) {
	cipher, err := secrets.NewAEADCipher("6368616e676520746869732070617373776f726420746f206120736563726574")
	require.NoError(t, err)

	store := account.NewMemoryStore()
	m, err := NewManager(store, cache.NewMemory(), cipher, nil)
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, m.AddAccount(ctx, AddAccountParams{
		Owner: testOwner, Username: "alice", Credential: "hunter2",
	}))

	stored, err := store.GetActive(ctx, testOwner)
	require.NoError(t, err)
	assert.NotEqual(t, "hunter2", stored.Credential, "plaintext never reaches the store")

	plaintext, err := m.Credential(ctx, testOwner, "alice")
	require.NoError(t, err)
	assert.Equal(t, "hunter2", plaintext)

	_, err = m.Credential(ctx, testOwner, "nobody")
	assert.ErrorIs(t, err, account.ErrNotFound)
}

func TestSetActiveAccount_ClearsOwnerCache(t *testing.T) {
	m, _, mem := newTestManager(t)
	ctx := context.Background()

	addAccount(t, m, "alice", nil)
	addAccount(t, m, "bob", nil)

	owned := cachePut(t, mem, testOwner, "schedule")
	foreign := cachePut(t, mem, 2002, "schedule")

	require.NoError(t, m.SetActiveAccount(ctx, testOwner, "alice"))

	_, err := mem.Get(ctx, owned)
	assert.ErrorIs(t, err, cache.ErrMiss, "switching accounts must drop the owner's cached data")

	_, err = mem.Get(ctx, foreign)
	assert.NoError(t, err, "another owner's cache survives the switch")
}

func TestSetActiveAccount_UnknownAccountKeepsCache(t *testing.T) {
	m, _, mem := newTestManager(t)
	ctx := context.Background()

	addAccount(t, m, "alice", nil)
	owned := cachePut(t, mem, testOwner, "schedule")

	err := m.SetActiveAccount(ctx, testOwner, "nobody")
	assert.ErrorIs(t, err, account.ErrNotFound)

	_, err = mem.Get(ctx, owned)
	assert.NoError(t, err, "a failed switch must not invalidate anything")
}

func TestResolveToken_FromActiveAccount(t *testing.T) {
	m, _, _ := newTestManager(t)
	ctx := context.Background()

	addAccount(t, m, "alice", json.RawMessage(`{"token":"current-tok","old_login_info":{"token":"legacy-tok"}}`))

	tok, err := m.ResolveToken(ctx, testOwner, token.GenerationCurrent)
	require.NoError(t, err)
	assert.Equal(t, "current-tok", tok)

	tok, err = m.ResolveToken(ctx, testOwner, token.GenerationLegacy)
	require.NoError(t, err)
	assert.Equal(t, "legacy-tok", tok)
}

func TestResolveToken_NoActiveAccount(t *testing.T) {
	m, _, _ := newTestManager(t)

	_, err := m.ResolveToken(context.Background(), testOwner, token.GenerationCurrent)
	assert.ErrorIs(t, err, account.ErrNotFound)
}

func TestSessionPayload_Redacted(t *testing.T) {
	m, _, _ := newTestManager(t)
	ctx := context.Background()

	addAccount(t, m, "alice", json.RawMessage(`{"ho_ten":"Alice Tran","token":"current-tok"}`))

	payload, err := m.SessionPayload(ctx, testOwner, "alice")
	require.NoError(t, err)
	assert.NotContains(t, string(payload), "current-tok")
	assert.Contains(t, string(payload), "Alice Tran")
}

func TestRemoveAccount_PromotesSurvivor(t *testing.T) {
	m, store, _ := newTestManager(t)
	ctx := context.Background()

	addAccount(t, m, "alice", nil)
	addAccount(t, m, "bob", nil)

	// bob was added last and is active.
	require.NoError(t, m.RemoveAccount(ctx, testOwner, "bob", true))

	active, err := store.GetActive(ctx, testOwner)
	require.NoError(t, err)
	assert.Equal(t, "alice", active.Username)
}

func TestRemoveAccount_NoPromotionLeavesNoneActive(t *testing.T) {
	m, store, _ := newTestManager(t)
	ctx := context.Background()

	addAccount(t, m, "alice", nil)
	addAccount(t, m, "bob", nil)

	require.NoError(t, m.RemoveAccount(ctx, testOwner, "bob", false))

	_, err := store.GetActive(ctx, testOwner)
	assert.ErrorIs(t, err, account.ErrNotFound)

	has, err := store.HasAny(ctx, testOwner)
	require.NoError(t, err)
	assert.True(t, has, "the inactive account remains")
}

func TestRemoveAccount_InactiveDoesNotTouchActive(t *testing.T) {
	m, store, mem := newTestManager(t)
	ctx := context.Background()

	addAccount(t, m, "alice", nil)
	addAccount(t, m, "bob", nil)
	owned := cachePut(t, mem, testOwner, "schedule")

	require.NoError(t, m.RemoveAccount(ctx, testOwner, "alice", true))

	active, err := store.GetActive(ctx, testOwner)
	require.NoError(t, err)
	assert.Equal(t, "bob", active.Username)

	_, err = mem.Get(ctx, owned)
	assert.ErrorIs(t, err, cache.ErrMiss, "any removal invalidates the owner namespace")
}

func TestRemoveAllAccounts(t *testing.T) {
	m, store, mem := newTestManager(t)
	ctx := context.Background()

	addAccount(t, m, "alice", nil)
	owned := cachePut(t, mem, testOwner, "schedule")

	require.NoError(t, m.RemoveAllAccounts(ctx, testOwner))

	has, err := store.HasAny(ctx, testOwner)
	require.NoError(t, err)
	assert.False(t, has)

	_, err = mem.Get(ctx, owned)
	assert.ErrorIs(t, err, cache.ErrMiss)

	// Removing zero rows is success.
	assert.NoError(t, m.RemoveAllAccounts(ctx, testOwner))
}

func TestPreference_RoundTrip(t *testing.T) {
	m, _, _ := newTestManager(t)
	ctx := context.Background()

	addAccount(t, m, "alice", nil)

	require.NoError(t, m.SetPreference(ctx, testOwner, "campus-a"))

	value, err := m.Preference(ctx, testOwner)
	require.NoError(t, err)
	assert.Equal(t, "campus-a", value)

	require.NoError(t, m.SetPreference(ctx, testOwner, ""))
	value, err = m.Preference(ctx, testOwner)
	require.NoError(t, err)
	assert.Empty(t, value)
}
