package account

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testOwner int64 = 1001

func testAccount(username string) Account {
	return Account{
		Owner:      testOwner,
		Username:   username,
		Credential: "enc:" + username,
		DeviceID:   "device-" + username,
	}
}

func testPayload(username string) json.RawMessage {
	return json.RawMessage(fmt.Sprintf(`{"token":"tok-%s","ho_ten":"Student %s"}`, username, username))
}

// countActive returns how many of the owner's accounts are active.
func countActive(t *testing.T, s Store, owner int64) int {
	t.Helper()
	accounts, err := s.List(context.Background(), owner, OrderActiveFirst)
	require.NoError(t, err)
	n := 0
	for _, a := range accounts {
		if a.Active {
			n++
		}
	}
	return n
}

func TestAdd_FirstAccountBecomesActive(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	require.NoError(t, s.Add(ctx, testAccount("sv001"), testPayload("sv001")))

	active, err := s.GetActive(ctx, testOwner)
	require.NoError(t, err)
	assert.Equal(t, "sv001", active.Username)
	assert.True(t, active.Active)
	assert.Equal(t, 1, countActive(t, s, testOwner))
}

func TestAdd_SecondAccountDeactivatesFirst(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	require.NoError(t, s.Add(ctx, testAccount("sv001"), testPayload("sv001")))
	require.NoError(t, s.Add(ctx, testAccount("sv002"), testPayload("sv002")))

	active, err := s.GetActive(ctx, testOwner)
	require.NoError(t, err)
	assert.Equal(t, "sv002", active.Username)
	assert.Equal(t, 1, countActive(t, s, testOwner))
}

func TestAdd_ReauthenticationKeepsCreatedAt(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	require.NoError(t, s.Add(ctx, testAccount("sv001"), testPayload("sv001")))
	first, err := s.GetActive(ctx, testOwner)
	require.NoError(t, err)

	acct := testAccount("sv001")
	acct.Credential = "enc:rotated"
	require.NoError(t, s.Add(ctx, acct, testPayload("sv001")))

	second, err := s.GetActive(ctx, testOwner)
	require.NoError(t, err)
	assert.Equal(t, first.CreatedAt, second.CreatedAt)
	assert.Equal(t, "enc:rotated", second.Credential)
}

func TestSetActive_Switches(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	require.NoError(t, s.Add(ctx, testAccount("sv001"), testPayload("sv001")))
	require.NoError(t, s.Add(ctx, testAccount("sv002"), testPayload("sv002")))

	require.NoError(t, s.SetActive(ctx, testOwner, "sv001"))

	active, err := s.GetActive(ctx, testOwner)
	require.NoError(t, err)
	assert.Equal(t, "sv001", active.Username)
	assert.Equal(t, 1, countActive(t, s, testOwner))
}

func TestSetActive_UnknownAccountLeavesActiveIntact(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	require.NoError(t, s.Add(ctx, testAccount("sv001"), testPayload("sv001")))

	err := s.SetActive(ctx, testOwner, "nonexistent")
	assert.ErrorIs(t, err, ErrNotFound)

	active, err := s.GetActive(ctx, testOwner)
	require.NoError(t, err)
	assert.Equal(t, "sv001", active.Username)
}

func TestGetActive_NoAccounts(t *testing.T) {
	s := NewMemoryStore()

	_, err := s.GetActive(context.Background(), testOwner)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestList_ActiveFirstOrdering(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	require.NoError(t, s.Add(ctx, testAccount("sv001"), testPayload("sv001")))
	require.NoError(t, s.Add(ctx, testAccount("sv002"), testPayload("sv002")))
	require.NoError(t, s.Add(ctx, testAccount("sv003"), testPayload("sv003")))
	require.NoError(t, s.SetActive(ctx, testOwner, "sv001"))

	accounts, err := s.List(ctx, testOwner, OrderActiveFirst)
	require.NoError(t, err)
	require.Len(t, accounts, 3)
	assert.Equal(t, "sv001", accounts[0].Username)
	assert.True(t, accounts[0].Active)
	assert.False(t, accounts[1].Active)
	assert.False(t, accounts[2].Active)
}

func TestList_RecentActivityOrdering(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	require.NoError(t, s.Add(ctx, testAccount("sv001"), testPayload("sv001")))
	time.Sleep(2 * time.Millisecond)
	require.NoError(t, s.Add(ctx, testAccount("sv002"), testPayload("sv002")))
	time.Sleep(2 * time.Millisecond)
	require.NoError(t, s.SetActive(ctx, testOwner, "sv001"))

	accounts, err := s.List(ctx, testOwner, OrderRecentActivity)
	require.NoError(t, err)
	require.Len(t, accounts, 2)
	assert.Equal(t, "sv001", accounts[0].Username, "most recently touched first")
}

func TestSessionPayload_RoundTrip(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	require.NoError(t, s.Add(ctx, testAccount("sv001"), testPayload("sv001")))

	payload, err := s.SessionPayload(ctx, testOwner, "sv001")
	require.NoError(t, err)
	assert.JSONEq(t, string(testPayload("sv001")), string(payload))

	_, err = s.SessionPayload(ctx, testOwner, "sv999")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRemove_ActiveAccountLeavesNoneActive(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	require.NoError(t, s.Add(ctx, testAccount("sv001"), testPayload("sv001")))
	require.NoError(t, s.Add(ctx, testAccount("sv002"), testPayload("sv002")))

	require.NoError(t, s.Remove(ctx, testOwner, "sv002"))

	// The store does not auto-promote a replacement.
	_, err := s.GetActive(ctx, testOwner)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Equal(t, 0, countActive(t, s, testOwner))

	has, err := s.HasAny(ctx, testOwner)
	require.NoError(t, err)
	assert.True(t, has)
}

func TestRemove_Unknown(t *testing.T) {
	s := NewMemoryStore()

	err := s.Remove(context.Background(), testOwner, "ghost")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRemoveAll(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	require.NoError(t, s.Add(ctx, testAccount("sv001"), testPayload("sv001")))
	require.NoError(t, s.Add(ctx, testAccount("sv002"), testPayload("sv002")))

	require.NoError(t, s.RemoveAll(ctx, testOwner))

	has, err := s.HasAny(ctx, testOwner)
	require.NoError(t, err)
	assert.False(t, has)

	// Removing zero rows is success.
	assert.NoError(t, s.RemoveAll(ctx, testOwner))
}

func TestOwners(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	owners, err := s.Owners(ctx)
	require.NoError(t, err)
	assert.Empty(t, owners)

	a := testAccount("sv001")
	require.NoError(t, s.Add(ctx, a, testPayload("sv001")))
	b := testAccount("sv002")
	b.Owner = 2002
	require.NoError(t, s.Add(ctx, b, testPayload("sv002")))

	owners, err = s.Owners(ctx)
	require.NoError(t, err)
	assert.Equal(t, []int64{testOwner, 2002}, owners)
}

func TestPreference_RoundTrip(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	require.NoError(t, s.Add(ctx, testAccount("sv001"), testPayload("sv001")))

	pref, err := s.Preference(ctx, testOwner)
	require.NoError(t, err)
	assert.Empty(t, pref)

	require.NoError(t, s.SetPreference(ctx, testOwner, "Campus A"))
	pref, err = s.Preference(ctx, testOwner)
	require.NoError(t, err)
	assert.Equal(t, "Campus A", pref)

	require.NoError(t, s.SetPreference(ctx, testOwner, ""))
	pref, err = s.Preference(ctx, testOwner)
	require.NoError(t, err)
	assert.Empty(t, pref)
}

// TestSingleActiveInvariant_ConcurrentMutations hammers one owner's account
// set from many goroutines and checks that every observation sees at most
// one active account.
// TestPreference_SurvivesAddingAccount covers the set-then-add sequence:
// the preference is owner-level, so a new account row (which becomes the
// active one) must not shadow it.
func TestPreference_SurvivesAddingAccount(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	require.NoError(t, s.Add(ctx, testAccount("sv001"), testPayload("sv001")))
	require.NoError(t, s.SetPreference(ctx, testOwner, "Campus A"))

	require.NoError(t, s.Add(ctx, testAccount("sv002"), testPayload("sv002")))

	pref, err := s.Preference(ctx, testOwner)
	require.NoError(t, err)
	assert.Equal(t, "Campus A", pref)

	active, err := s.GetActive(ctx, testOwner)
	require.NoError(t, err)
	assert.Equal(t, "sv002", active.Username)
	assert.Equal(t, "Campus A", active.Preference)
}

func TestSingleActiveInvariant_ConcurrentMutations(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	usernames := []string{"sv001", "sv002", "sv003"}
	for _, u := range usernames {
		require.NoError(t, s.Add(ctx, testAccount(u), testPayload(u)))
	}

	var wg sync.WaitGroup
	stop := make(chan struct{})
	observerDone := make(chan struct{})

	// Observer: the invariant must hold at every read.
	go func() {
		defer close(observerDone)
		for {
			select {
			case <-stop:
				return
			default:
			}
			assert.LessOrEqual(t, countActive(t, s, testOwner), 1)
		}
	}()

	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				u := usernames[(i+j)%len(usernames)]
				switch j % 3 {
				case 0:
					_ = s.SetActive(ctx, testOwner, u)
				case 1:
					_ = s.Add(ctx, testAccount(u), testPayload(u))
				default:
					_, _ = s.GetActive(ctx, testOwner)
				}
			}
		}(i)
	}

	wg.Wait()
	close(stop)
	<-observerDone

	assert.LessOrEqual(t, countActive(t, s, testOwner), 1)
}

func TestInterfaceCompliance(t *testing.T) {
	var _ Store = NewMemoryStore()
}
