package authkit

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/json"
	"encoding/pem"
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	jose "github.com/go-jose/go-jose/v3"
	"github.com/stretchr/testify/require"
)

func TestKeyProviderComputesOnce(t *testing.T) {
	t.Parallel()
	var calls atomic.Int32
	shared := sharedTestKeyPair(t)
	provider := NewKeyProvider(func() (*KeyPair, error) {
		calls.Add(1)
		return shared, nil
	})

	var waitGroup sync.WaitGroup
	results := make([]*KeyPair, 16)
	errs := make([]error, len(results))
	for index := range results {
		waitGroup.Add(1)
		go func(slot int) {
			defer waitGroup.Done()
			results[slot], errs[slot] = provider.KeyPair()
		}(index)
	}
	waitGroup.Wait()

	require.Equal(t, int32(1), calls.Load())
	for index, pair := range results {
		require.NoError(t, errs[index])
		require.Same(t, shared, pair)
	}
}

func TestKeyProviderCachesFailure(t *testing.T) {
	t.Parallel()
	var calls atomic.Int32
	provider := NewKeyProvider(func() (*KeyPair, error) {
		calls.Add(1)
		return nil, ErrKeyMaterialMalformed
	})
	_, firstErr := provider.KeyPair()
	_, secondErr := provider.KeyPair()
	require.ErrorIs(t, firstErr, ErrKeyMaterialMalformed)
	require.ErrorIs(t, secondErr, ErrKeyMaterialMalformed)
	require.Equal(t, int32(1), calls.Load())

	_, missingErr := NewKeyProvider(nil).KeyPair()
	require.ErrorIs(t, missingErr, ErrKeyMaterialMissing)
}

func TestJWKKeySourceRoundTrip(t *testing.T) {
	t.Parallel()
	original := sharedTestKeyPair(t)

	privateJSON, err := json.Marshal(jose.JSONWebKey{Key: original.PrivateKey})
	require.NoError(t, err)
	publicJSON, err := json.Marshal(original.PublicJWK)
	require.NoError(t, err)

	imported, err := JWKKeySource(string(privateJSON), string(publicJSON), "fallback-kid")()
	require.NoError(t, err)
	require.Equal(t, original.KeyID, imported.KeyID)
	require.True(t, imported.PublicKey.Equal(original.PublicKey))
	require.Equal(t, "sig", imported.PublicJWK.Use)
	require.Equal(t, "RS256", imported.PublicJWK.Algorithm)

	privateOnly, err := JWKKeySource(string(privateJSON), "", "fallback-kid")()
	require.NoError(t, err)
	require.Equal(t, "fallback-kid", privateOnly.KeyID)
}

func TestJWKKeySourceRejectsBadMaterial(t *testing.T) {
	t.Parallel()
	original := sharedTestKeyPair(t)
	other := secondTestKeyPair(t)

	privateJSON, err := json.Marshal(jose.JSONWebKey{Key: original.PrivateKey, KeyID: "k"})
	require.NoError(t, err)
	otherPublicJSON, err := json.Marshal(other.PublicJWK)
	require.NoError(t, err)
	publicOnlyJSON, err := json.Marshal(original.PublicJWK)
	require.NoError(t, err)

	testCases := []struct {
		name       string
		privateJWK string
		publicJWK  string
		expectErr  error
	}{
		{name: "not json", privateJWK: "{not-json", expectErr: ErrKeyMaterialMalformed},
		{name: "empty", privateJWK: "", expectErr: ErrKeyMaterialMalformed},
		{name: "public key as private", privateJWK: string(publicOnlyJSON), expectErr: ErrKeyMaterialMalformed},
		{name: "mismatched public", privateJWK: string(privateJSON), publicJWK: string(otherPublicJSON), expectErr: ErrKeyPairMismatch},
		{name: "malformed public", privateJWK: string(privateJSON), publicJWK: `{"kty":"RSA"}`, expectErr: ErrKeyMaterialMalformed},
	}
	for _, testCase := range testCases {
		testCase := testCase
		t.Run(testCase.name, func(t *testing.T) {
			_, err := JWKKeySource(testCase.privateJWK, testCase.publicJWK, "")()
			require.Error(t, err)
			require.True(t, errors.Is(err, testCase.expectErr), "expected %v, got %v", testCase.expectErr, err)
		})
	}
}

func TestPEMKeySource(t *testing.T) {
	t.Parallel()
	original := sharedTestKeyPair(t)

	pkcs1 := pem.EncodeToMemory(&pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(original.PrivateKey)})
	fromPKCS1, err := PEMKeySource(pkcs1, "pem-kid")()
	require.NoError(t, err)
	require.Equal(t, "pem-kid", fromPKCS1.KeyID)
	require.True(t, fromPKCS1.PublicKey.Equal(original.PublicKey))

	pkcs8Bytes, err := x509.MarshalPKCS8PrivateKey(original.PrivateKey)
	require.NoError(t, err)
	pkcs8 := pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: pkcs8Bytes})
	fromPKCS8, err := PEMKeySource(pkcs8, "")()
	require.NoError(t, err)
	require.NotEmpty(t, fromPKCS8.KeyID)

	_, err = PEMKeySource([]byte("garbage"), "")()
	require.ErrorIs(t, err, ErrKeyMaterialMalformed)
}

func TestNewKeyPairRejectsSmallKeysAndDerivesKeyID(t *testing.T) {
	t.Parallel()
	smallKey, err := rsa.GenerateKey(rand.Reader, 1024)
	require.NoError(t, err)
	_, err = newKeyPair(smallKey, "small")
	require.ErrorIs(t, err, ErrKeyTooSmall)

	original := sharedTestKeyPair(t)
	first, err := newKeyPair(original.PrivateKey, "")
	require.NoError(t, err)
	second, err := newKeyPair(original.PrivateKey, "")
	require.NoError(t, err)
	require.NotEmpty(t, first.KeyID)
	require.Equal(t, first.KeyID, second.KeyID)
	require.Equal(t, first.KeyID, first.PublicJWK.KeyID)
}

func TestKeyPairJWKSPublishesOnlyPublicKey(t *testing.T) {
	t.Parallel()
	pair := sharedTestKeyPair(t)
	encoded, err := json.Marshal(pair.JWKS())
	require.NoError(t, err)

	var decoded struct {
		Keys []map[string]any `json:"keys"`
	}
	require.NoError(t, json.Unmarshal(encoded, &decoded))
	require.Len(t, decoded.Keys, 1)
	key := decoded.Keys[0]
	require.Equal(t, "RSA", key["kty"])
	require.Equal(t, pair.KeyID, key["kid"])
	require.Equal(t, "sig", key["use"])
	require.Equal(t, "RS256", key["alg"])
	require.NotEmpty(t, key["n"])
	require.NotEmpty(t, key["e"])
	require.NotContains(t, key, "d")
}
