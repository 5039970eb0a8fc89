package authkit

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"
)

var (
	// ErrAuthorizationCodeNotFound indicates the code was never issued or was already redeemed.
	ErrAuthorizationCodeNotFound = errors.New("code_store.not_found")
	// ErrAuthorizationCodeExpired indicates the code outlived its TTL before redemption.
	ErrAuthorizationCodeExpired = errors.New("code_store.expired")
	// ErrAuthorizationCodeExists indicates a code collision on Store.
	ErrAuthorizationCodeExists = errors.New("code_store.duplicate")

	errEmptyAuthorizationCode = errors.New("code_store.empty_code")
)

const authorizationCodeByteLength = 32

var authorizationCodeRandomSource io.Reader = rand.Reader

// GenerateAuthorizationCode returns a 256-bit random code, base64url encoded.
func GenerateAuthorizationCode() (string, error) {
	randomBytes := make([]byte, authorizationCodeByteLength)
	if _, err := io.ReadFull(authorizationCodeRandomSource, randomBytes); err != nil {
		return "", fmt.Errorf("code_store.random: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(randomBytes), nil
}

// MemoryAuthorizationCodeStore keeps pending grants in process memory.
type MemoryAuthorizationCodeStore struct {
	mutex   sync.Mutex
	entries map[string]PendingGrant
	ttl     time.Duration
	now     func() time.Time
}

// NewMemoryAuthorizationCodeStore constructs a store whose codes live for ttl.
func NewMemoryAuthorizationCodeStore(ttl time.Duration) *MemoryAuthorizationCodeStore {
	return &MemoryAuthorizationCodeStore{
		entries: make(map[string]PendingGrant),
		ttl:     ttl,
		now:     time.Now,
	}
}

func (store *MemoryAuthorizationCodeStore) Store(ctx context.Context, code string, grant PendingGrant) error {
	if code == "" {
		return fmt.Errorf("code_store.store: %w", errEmptyAuthorizationCode)
	}
	store.mutex.Lock()
	defer store.mutex.Unlock()
	store.purgeExpiredLocked()
	if _, exists := store.entries[code]; exists {
		return fmt.Errorf("code_store.store: %w", ErrAuthorizationCodeExists)
	}
	grant.CreatedAt = store.now()
	store.entries[code] = grant
	return nil
}

func (store *MemoryAuthorizationCodeStore) Consume(ctx context.Context, code string) (PendingGrant, error) {
	store.mutex.Lock()
	defer store.mutex.Unlock()
	grant, ok := store.entries[code]
	if !ok {
		return PendingGrant{}, ErrAuthorizationCodeNotFound
	}
	delete(store.entries, code)
	if store.expired(grant, store.now()) {
		return PendingGrant{}, ErrAuthorizationCodeExpired
	}
	return grant, nil
}

// Len reports the number of codes currently held, expired ones included.
func (store *MemoryAuthorizationCodeStore) Len() int {
	store.mutex.Lock()
	defer store.mutex.Unlock()
	return len(store.entries)
}

func (store *MemoryAuthorizationCodeStore) expired(grant PendingGrant, now time.Time) bool {
	return now.Sub(grant.CreatedAt) > store.ttl
}

func (store *MemoryAuthorizationCodeStore) purgeExpiredLocked() {
	if len(store.entries) == 0 {
		return
	}
	now := store.now()
	for code, grant := range store.entries {
		if store.expired(grant, now) {
			delete(store.entries, code)
		}
	}
}
