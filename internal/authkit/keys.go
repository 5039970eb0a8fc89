package authkit

import (
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"errors"
	"fmt"
	"strings"
	"sync"

	jose "github.com/go-jose/go-jose/v3"
)

const (
	// SigningAlgorithm is the only ID token signing algorithm offered.
	SigningAlgorithm = "RS256"

	keyUseSignature   = "sig"
	minimumRSAKeyBits = 2048
	generatedKeyBits  = 2048
)

var (
	// ErrKeyMaterialMissing indicates no key source was configured.
	ErrKeyMaterialMissing = errors.New("keys.missing_material")
	// ErrKeyMaterialMalformed indicates configured key material could not be parsed.
	ErrKeyMaterialMalformed = errors.New("keys.malformed_material")
	// ErrKeyPairMismatch indicates the configured public key does not belong to the private key.
	ErrKeyPairMismatch = errors.New("keys.public_private_mismatch")
	// ErrKeyTooSmall indicates an RSA modulus below 2048 bits.
	ErrKeyTooSmall = errors.New("keys.too_small")
)

// KeyPair is the RSA signing key and its published form.
type KeyPair struct {
	PrivateKey *rsa.PrivateKey
	PublicKey  *rsa.PublicKey
	KeyID      string
	PublicJWK  jose.JSONWebKey
}

// JWKS returns the key set served at the JWKS endpoint.
func (pair *KeyPair) JWKS() jose.JSONWebKeySet {
	return jose.JSONWebKeySet{Keys: []jose.JSONWebKey{pair.PublicJWK}}
}

// PrivateJWK returns the private key as a JWK carrying the pair's kid.
func (pair *KeyPair) PrivateJWK() jose.JSONWebKey {
	return jose.JSONWebKey{
		Key:       pair.PrivateKey,
		KeyID:     pair.KeyID,
		Algorithm: SigningAlgorithm,
		Use:       keyUseSignature,
	}
}

// KeySource produces a key pair. It runs at most once per KeyProvider.
type KeySource func() (*KeyPair, error)

// KeyProvider computes the signing key pair once and serves it for the life of the process.
type KeyProvider struct {
	once    sync.Once
	source  KeySource
	keyPair *KeyPair
	err     error
}

// NewKeyProvider wraps source with compute-once semantics.
func NewKeyProvider(source KeySource) *KeyProvider {
	return &KeyProvider{source: source}
}

// KeyPair returns the cached key pair, loading it on first use.
func (provider *KeyProvider) KeyPair() (*KeyPair, error) {
	provider.once.Do(func() {
		if provider.source == nil {
			provider.err = fmt.Errorf("keys.load: %w", ErrKeyMaterialMissing)
			return
		}
		provider.keyPair, provider.err = provider.source()
	})
	return provider.keyPair, provider.err
}

// JWKKeySource imports a private JWK and, when present, checks it against the public JWK.
// The public JWK's kid wins over the private JWK's kid, which wins over fallbackKeyID.
func JWKKeySource(privateJWK string, publicJWK string, fallbackKeyID string) KeySource {
	return func() (*KeyPair, error) {
		var privateKey jose.JSONWebKey
		if err := privateKey.UnmarshalJSON([]byte(privateJWK)); err != nil {
			return nil, fmt.Errorf("keys.import_private_jwk: %w: %v", ErrKeyMaterialMalformed, err)
		}
		rsaPrivateKey, ok := privateKey.Key.(*rsa.PrivateKey)
		if !ok {
			return nil, fmt.Errorf("keys.import_private_jwk: %w: not an RSA private key", ErrKeyMaterialMalformed)
		}
		keyID := firstNonEmpty(privateKey.KeyID, fallbackKeyID)

		if strings.TrimSpace(publicJWK) != "" {
			var publicKey jose.JSONWebKey
			if err := publicKey.UnmarshalJSON([]byte(publicJWK)); err != nil {
				return nil, fmt.Errorf("keys.import_public_jwk: %w: %v", ErrKeyMaterialMalformed, err)
			}
			rsaPublicKey, ok := publicKey.Key.(*rsa.PublicKey)
			if !ok {
				return nil, fmt.Errorf("keys.import_public_jwk: %w: not an RSA public key", ErrKeyMaterialMalformed)
			}
			if !rsaPublicKey.Equal(&rsaPrivateKey.PublicKey) {
				return nil, fmt.Errorf("keys.import_public_jwk: %w", ErrKeyPairMismatch)
			}
			keyID = firstNonEmpty(publicKey.KeyID, keyID)
		}
		return newKeyPair(rsaPrivateKey, keyID)
	}
}

// PEMKeySource parses a PKCS#1 or PKCS#8 RSA private key.
func PEMKeySource(pemBytes []byte, keyID string) KeySource {
	return func() (*KeyPair, error) {
		block, _ := pem.Decode(pemBytes)
		if block == nil {
			return nil, fmt.Errorf("keys.import_pem: %w: no PEM block", ErrKeyMaterialMalformed)
		}
		if rsaPrivateKey, err := x509.ParsePKCS1PrivateKey(block.Bytes); err == nil {
			return newKeyPair(rsaPrivateKey, keyID)
		}
		parsed, err := x509.ParsePKCS8PrivateKey(block.Bytes)
		if err != nil {
			return nil, fmt.Errorf("keys.import_pem: %w: %v", ErrKeyMaterialMalformed, err)
		}
		rsaPrivateKey, ok := parsed.(*rsa.PrivateKey)
		if !ok {
			return nil, fmt.Errorf("keys.import_pem: %w: not an RSA private key", ErrKeyMaterialMalformed)
		}
		return newKeyPair(rsaPrivateKey, keyID)
	}
}

// GeneratedKeySource creates a fresh 2048-bit key. Tokens signed with it do not survive a restart.
func GeneratedKeySource(keyID string) KeySource {
	return func() (*KeyPair, error) {
		rsaPrivateKey, err := rsa.GenerateKey(rand.Reader, generatedKeyBits)
		if err != nil {
			return nil, fmt.Errorf("keys.generate: %w", err)
		}
		return newKeyPair(rsaPrivateKey, keyID)
	}
}

func newKeyPair(rsaPrivateKey *rsa.PrivateKey, keyID string) (*KeyPair, error) {
	if rsaPrivateKey.N.BitLen() < minimumRSAKeyBits {
		return nil, fmt.Errorf("keys.validate: %w: %d bits", ErrKeyTooSmall, rsaPrivateKey.N.BitLen())
	}
	if err := rsaPrivateKey.Validate(); err != nil {
		return nil, fmt.Errorf("keys.validate: %w: %v", ErrKeyMaterialMalformed, err)
	}
	publicJWK := jose.JSONWebKey{
		Key:       &rsaPrivateKey.PublicKey,
		Algorithm: SigningAlgorithm,
		Use:       keyUseSignature,
	}
	if strings.TrimSpace(keyID) == "" {
		thumbprint, err := publicJWK.Thumbprint(crypto.SHA256)
		if err != nil {
			return nil, fmt.Errorf("keys.thumbprint: %w", err)
		}
		keyID = base64.RawURLEncoding.EncodeToString(thumbprint)
	}
	publicJWK.KeyID = keyID
	return &KeyPair{
		PrivateKey: rsaPrivateKey,
		PublicKey:  &rsaPrivateKey.PublicKey,
		KeyID:      keyID,
		PublicJWK:  publicJWK,
	}, nil
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		if strings.TrimSpace(value) != "" {
			return value
		}
	}
	return ""
}
