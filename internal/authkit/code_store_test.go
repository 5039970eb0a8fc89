package authkit

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func newTestCodeStore(current *time.Time) *MemoryAuthorizationCodeStore {
	store := NewMemoryAuthorizationCodeStore(AuthorizationCodeTTL)
	store.now = func() time.Time { return *current }
	return store
}

func TestMemoryAuthorizationCodeStoreConsumeOnce(t *testing.T) {
	t.Parallel()
	current := time.Unix(1000, 0)
	store := newTestCodeStore(&current)

	grant := PendingGrant{CodeChallenge: "challenge", RedirectURI: "https://rp.example.com/cb", ClientID: "client", Nonce: "n-1", UserID: "user-1"}
	require.NoError(t, store.Store(context.Background(), "code-1", grant))

	redeemed, err := store.Consume(context.Background(), "code-1")
	require.NoError(t, err)
	require.Equal(t, "user-1", redeemed.UserID)
	require.Equal(t, "challenge", redeemed.CodeChallenge)
	require.Equal(t, "n-1", redeemed.Nonce)
	require.True(t, redeemed.CreatedAt.Equal(current), "createdAt %v", redeemed.CreatedAt)

	_, err = store.Consume(context.Background(), "code-1")
	require.ErrorIs(t, err, ErrAuthorizationCodeNotFound)
}

func TestMemoryAuthorizationCodeStoreExpiryBoundary(t *testing.T) {
	t.Parallel()
	testCases := []struct {
		name      string
		elapsed   time.Duration
		expectErr error
	}{
		{name: "fresh", elapsed: 30 * time.Second},
		{name: "exactly ttl", elapsed: AuthorizationCodeTTL},
		{name: "past ttl", elapsed: AuthorizationCodeTTL + time.Millisecond, expectErr: ErrAuthorizationCodeExpired},
		{name: "long expired", elapsed: 10 * time.Minute, expectErr: ErrAuthorizationCodeExpired},
	}
	for _, testCase := range testCases {
		testCase := testCase
		t.Run(testCase.name, func(t *testing.T) {
			t.Parallel()
			current := time.Unix(5000, 0)
			store := newTestCodeStore(&current)
			require.NoError(t, store.Store(context.Background(), "code", PendingGrant{UserID: "user"}))

			current = current.Add(testCase.elapsed)
			_, err := store.Consume(context.Background(), "code")
			if testCase.expectErr == nil {
				require.NoError(t, err)
			} else {
				require.ErrorIs(t, err, testCase.expectErr)
			}
			require.Zero(t, store.Len(), "code must be removed after consume")
		})
	}
}

func TestMemoryAuthorizationCodeStoreRejectsDuplicatesAndEmptyCodes(t *testing.T) {
	t.Parallel()
	current := time.Unix(1000, 0)
	store := newTestCodeStore(&current)

	require.ErrorIs(t, store.Store(context.Background(), "", PendingGrant{}), errEmptyAuthorizationCode)
	require.NoError(t, store.Store(context.Background(), "code", PendingGrant{UserID: "first"}))
	require.ErrorIs(t, store.Store(context.Background(), "code", PendingGrant{UserID: "second"}), ErrAuthorizationCodeExists)

	grant, err := store.Consume(context.Background(), "code")
	require.NoError(t, err)
	require.Equal(t, "first", grant.UserID)
}

func TestMemoryAuthorizationCodeStorePurgesExpiredOnStore(t *testing.T) {
	t.Parallel()
	current := time.Unix(1000, 0)
	store := newTestCodeStore(&current)

	for _, code := range []string{"a", "b", "c"} {
		require.NoError(t, store.Store(context.Background(), code, PendingGrant{}))
	}
	current = current.Add(2 * AuthorizationCodeTTL)
	require.NoError(t, store.Store(context.Background(), "d", PendingGrant{}))
	require.Equal(t, 1, store.Len())
}

func TestMemoryAuthorizationCodeStoreConcurrentConsume(t *testing.T) {
	t.Parallel()
	store := NewMemoryAuthorizationCodeStore(AuthorizationCodeTTL)
	require.NoError(t, store.Store(context.Background(), "contended", PendingGrant{UserID: "user"}))

	const workers = 32
	var successes atomic.Int32
	var waitGroup sync.WaitGroup
	start := make(chan struct{})
	for index := 0; index < workers; index++ {
		waitGroup.Add(1)
		go func() {
			defer waitGroup.Done()
			<-start
			if _, err := store.Consume(context.Background(), "contended"); err == nil {
				successes.Add(1)
			}
		}()
	}
	close(start)
	waitGroup.Wait()

	require.EqualValues(t, 1, successes.Load())
}

func TestGenerateAuthorizationCode(t *testing.T) {
	first, err := GenerateAuthorizationCode()
	require.NoError(t, err)
	second, err := GenerateAuthorizationCode()
	require.NoError(t, err)
	require.Len(t, first, 43)
	require.NotEqual(t, first, second)

	previous := authorizationCodeRandomSource
	authorizationCodeRandomSource = strings.NewReader("short")
	defer func() { authorizationCodeRandomSource = previous }()
	_, err = GenerateAuthorizationCode()
	require.Error(t, err)
}
