package authkit

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"
)

func (fixture *testFixture) issueCode(t *testing.T) string {
	t.Helper()
	cookie := fixture.sessionCookie(t, testUserID, testUserEmail)
	code := redirectLocation(t, fixture.authorize(t, validAuthorizationQuery(), cookie)).Query().Get("code")
	require.NotEmpty(t, code)
	return code
}

func requireTokenError(t *testing.T, fixture *testFixture, form map[string][]string, status int, code string, description string) {
	t.Helper()
	recorder := fixture.exchange(t, form)
	require.Equal(t, status, recorder.Code, recorder.Body.String())
	require.Equal(t, "no-store", recorder.Header().Get("Cache-Control"))
	payload := decodeJSON(t, recorder.Body)
	require.Equal(t, code, payload["error"])
	require.Equal(t, description, payload["error_description"])
}

func TestTokenExchangeIssuesIDToken(t *testing.T) {
	t.Parallel()
	fixture := newTestFixture(t)
	code := fixture.issueCode(t)

	recorder := fixture.exchange(t, tokenForm(code, testCodeVerifier))
	require.Equal(t, http.StatusOK, recorder.Code, recorder.Body.String())
	require.Equal(t, "no-store", recorder.Header().Get("Cache-Control"))
	require.Equal(t, "no-cache", recorder.Header().Get("Pragma"))

	var response tokenResponse
	require.NoError(t, json.NewDecoder(recorder.Body).Decode(&response))
	require.Equal(t, "Bearer", response.TokenType)
	require.Equal(t, 9000, response.ExpiresIn)
	require.Equal(t, "openid profile email", response.Scope)

	var claims IDTokenClaims
	keyPair := sharedTestKeyPair(t)
	token, err := jwt.ParseWithClaims(response.IDToken, &claims, func(token *jwt.Token) (interface{}, error) {
		require.Equal(t, keyPair.KeyID, token.Header["kid"])
		return keyPair.PublicKey, nil
	}, jwt.WithValidMethods([]string{SigningAlgorithm}), jwt.WithTimeFunc(fixture.clock.Now))
	require.NoError(t, err)
	require.True(t, token.Valid)

	require.Equal(t, testIssuer, claims.Issuer)
	require.Equal(t, strings.ToLower(testClientID), claims.Audience)
	require.Equal(t, testUserID, claims.Subject)
	require.Equal(t, testUserEmail, claims.Email)
	require.Equal(t, testUserEmail, claims.UniqueName)
	require.Equal(t, testNonce, claims.Nonce)
	require.Equal(t, fixture.clock.Now().Unix(), claims.IssuedAt)
	require.Equal(t, claims.IssuedAt+900, claims.ExpiresAt)
	require.JSONEq(t, testProfileDocument, claims.UserProfiles)
	require.EqualValues(t, 1, fixture.metrics.Count(MetricTokenIssued))
}

func TestTokenExchangeCodeIsSingleUse(t *testing.T) {
	t.Parallel()
	fixture := newTestFixture(t)
	code := fixture.issueCode(t)

	first := fixture.exchange(t, tokenForm(code, testCodeVerifier))
	require.Equal(t, http.StatusOK, first.Code)
	requireTokenError(t, fixture, tokenForm(code, testCodeVerifier), http.StatusBadRequest, "invalid_grant", "The authorisation code has expired.")
}

func TestTokenExchangeRejectsExpiredCode(t *testing.T) {
	t.Parallel()
	fixture := newTestFixture(t)
	code := fixture.issueCode(t)
	fixture.clock.Advance(AuthorizationCodeTTL + time.Second)

	requireTokenError(t, fixture, tokenForm(code, testCodeVerifier), http.StatusBadRequest, "invalid_grant", "The authorisation code has expired.")
	require.Equal(t, 0, fixture.codes.Len())
}

func TestTokenExchangeAcceptsCodeAtTTLBoundary(t *testing.T) {
	t.Parallel()
	fixture := newTestFixture(t)
	code := fixture.issueCode(t)
	fixture.clock.Advance(AuthorizationCodeTTL)

	recorder := fixture.exchange(t, tokenForm(code, testCodeVerifier))
	require.Equal(t, http.StatusOK, recorder.Code, recorder.Body.String())
}

func TestTokenExchangeValidationOrder(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name        string
		mutate      func(form map[string][]string)
		consumes    bool
		status      int
		error       string
		description string
	}{
		{
			name:        "wrong grant type",
			mutate:      func(form map[string][]string) { form["grant_type"] = []string{"refresh_token"} },
			status:      http.StatusBadRequest,
			error:       "invalid_request",
			description: "grant_type must be authorization_code.",
		},
		{
			name:        "missing verifier",
			mutate:      func(form map[string][]string) { delete(form, "code_verifier") },
			status:      http.StatusBadRequest,
			error:       "invalid_request",
			description: "Missing required parameters.",
		},
		{
			name:        "missing redirect",
			mutate:      func(form map[string][]string) { form["redirect_uri"] = []string{""} },
			status:      http.StatusBadRequest,
			error:       "invalid_request",
			description: "Missing required parameters.",
		},
		{
			name:        "unknown client",
			mutate:      func(form map[string][]string) { form["client_id"] = []string{"someone-else"} },
			status:      http.StatusBadRequest,
			error:       "unauthorized_client",
			description: "Unknown client_id.",
		},
		{
			name:        "unknown code",
			mutate:      func(form map[string][]string) { form["code"] = []string{"never-issued"} },
			status:      http.StatusBadRequest,
			error:       "invalid_grant",
			description: "The authorisation code has expired.",
		},
		{
			name:        "redirect mismatch",
			mutate:      func(form map[string][]string) { form["redirect_uri"] = []string{testRedirectURI + "?x=1"} },
			consumes:    true,
			status:      http.StatusBadRequest,
			error:       "invalid_request",
			description: "redirect_uri mismatch.",
		},
		{
			name:        "wrong verifier",
			mutate:      func(form map[string][]string) { form["code_verifier"] = []string{testOtherVerifier} },
			consumes:    true,
			status:      http.StatusBadRequest,
			error:       "invalid_code_verifier",
			description: "The code verifier does not match the code challenge.",
		},
	}

	for _, testCase := range testCases {
		testCase := testCase
		t.Run(testCase.name, func(t *testing.T) {
			t.Parallel()
			fixture := newTestFixture(t)
			code := fixture.issueCode(t)
			form := tokenForm(code, testCodeVerifier)
			testCase.mutate(form)

			requireTokenError(t, fixture, form, testCase.status, testCase.error, testCase.description)
			_, err := fixture.codes.Consume(context.Background(), code)
			if testCase.consumes {
				require.ErrorIs(t, err, ErrAuthorizationCodeNotFound)
			} else {
				require.NoError(t, err)
			}
		})
	}
}

func TestTokenExchangeRejectsCodeAfterFailedVerifier(t *testing.T) {
	t.Parallel()
	fixture := newTestFixture(t)
	code := fixture.issueCode(t)

	requireTokenError(t, fixture, tokenForm(code, testOtherVerifier), http.StatusBadRequest, "invalid_code_verifier", "The code verifier does not match the code challenge.")
	requireTokenError(t, fixture, tokenForm(code, testCodeVerifier), http.StatusBadRequest, "invalid_grant", "The authorisation code has expired.")
}

func TestTokenExchangeUnknownUser(t *testing.T) {
	t.Parallel()
	fixture := newTestFixture(t)
	cookie := fixture.sessionCookie(t, "deleted-user", "gone@example.com")
	code := redirectLocation(t, fixture.authorize(t, validAuthorizationQuery(), cookie)).Query().Get("code")

	requireTokenError(t, fixture, tokenForm(code, testCodeVerifier), http.StatusBadRequest, "invalid_grant", "User not found.")
}

func TestTokenExchangeKeyFailureIsServerError(t *testing.T) {
	t.Parallel()
	fixture := newTestFixture(t, withKeyProvider(NewKeyProvider(func() (*KeyPair, error) {
		return nil, ErrKeyMaterialMissing
	})))
	code := fixture.issueCode(t)

	requireTokenError(t, fixture, tokenForm(code, testCodeVerifier), http.StatusInternalServerError, "server_error", "Unable to issue the ID token.")
}
