package authkit

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
)

// CodeChallengeMethodS256 is the only PKCE method accepted.
const CodeChallengeMethodS256 = "S256"

// ComputeCodeChallenge returns BASE64URL(SHA256(verifier)) without padding.
func ComputeCodeChallenge(verifier string) string {
	sum := sha256.Sum256([]byte(verifier))
	return base64.RawURLEncoding.EncodeToString(sum[:])
}

// VerifyCodeVerifier checks verifier against a stored S256 challenge.
func VerifyCodeVerifier(verifier string, challenge string) bool {
	computed := ComputeCodeChallenge(verifier)
	return subtle.ConstantTimeCompare([]byte(computed), []byte(challenge)) == 1
}
