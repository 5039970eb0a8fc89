package authkit

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	errEmptyProfile   = errors.New("id_token.empty_profile")
	errMissingSubject = errors.New("id_token.missing_subject")
	errMissingKeyPair = errors.New("id_token.missing_key_pair")
)

// IDTokenClaims is the ID token payload. aud is a single string and userprofiles
// is the profile serialized to a JSON string, as the relying party parses them.
type IDTokenClaims struct {
	Issuer       string `json:"iss"`
	Audience     string `json:"aud"`
	Subject      string `json:"sub"`
	UniqueName   string `json:"unique_name"`
	Email        string `json:"email"`
	Nonce        string `json:"nonce"`
	IssuedAt     int64  `json:"iat"`
	ExpiresAt    int64  `json:"exp"`
	UserProfiles string `json:"userprofiles"`
}

func (claims IDTokenClaims) GetExpirationTime() (*jwt.NumericDate, error) {
	return jwt.NewNumericDate(time.Unix(claims.ExpiresAt, 0)), nil
}

func (claims IDTokenClaims) GetIssuedAt() (*jwt.NumericDate, error) {
	return jwt.NewNumericDate(time.Unix(claims.IssuedAt, 0)), nil
}

func (claims IDTokenClaims) GetNotBefore() (*jwt.NumericDate, error) {
	return nil, nil
}

func (claims IDTokenClaims) GetIssuer() (string, error) {
	return claims.Issuer, nil
}

func (claims IDTokenClaims) GetSubject() (string, error) {
	return claims.Subject, nil
}

func (claims IDTokenClaims) GetAudience() (jwt.ClaimStrings, error) {
	return jwt.ClaimStrings{claims.Audience}, nil
}

// NewIDTokenClaims assembles the claims for user. nonce comes from the redeemed grant.
func NewIDTokenClaims(issuer string, client RegisteredClient, user User, nonce string, issuedAt time.Time) (IDTokenClaims, error) {
	if strings.TrimSpace(user.SubjectID) == "" {
		return IDTokenClaims{}, fmt.Errorf("id_token.claims: %w", errMissingSubject)
	}
	profile, err := compactProfile(user.Profile)
	if err != nil {
		return IDTokenClaims{}, fmt.Errorf("id_token.claims: %w", err)
	}
	return IDTokenClaims{
		Issuer:       issuer,
		Audience:     client.NormalizedClientID(),
		Subject:      user.SubjectID,
		UniqueName:   user.Email,
		Email:        user.Email,
		Nonce:        nonce,
		IssuedAt:     issuedAt.Unix(),
		ExpiresAt:    issuedAt.Add(IDTokenTTL).Unix(),
		UserProfiles: profile,
	}, nil
}

// SignIDToken signs claims with RS256 and stamps the key id into the header.
func SignIDToken(keyPair *KeyPair, claims IDTokenClaims) (string, error) {
	if keyPair == nil || keyPair.PrivateKey == nil {
		return "", fmt.Errorf("id_token.sign: %w", errMissingKeyPair)
	}
	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	token.Header["kid"] = keyPair.KeyID
	signed, err := token.SignedString(keyPair.PrivateKey)
	if err != nil {
		return "", fmt.Errorf("id_token.sign: %w", err)
	}
	return signed, nil
}

func compactProfile(profile json.RawMessage) (string, error) {
	if len(bytes.TrimSpace(profile)) == 0 {
		return "", errEmptyProfile
	}
	var buffer bytes.Buffer
	if err := json.Compact(&buffer, profile); err != nil {
		return "", fmt.Errorf("id_token.profile: %w", err)
	}
	return buffer.String(), nil
}
