package authkit

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"golang.org/x/crypto/bcrypt"
)

const (
	testIssuer          = "https://idp.example.com"
	testClientID        = "3668F1E1-677D-414F-95ED-1CC789A92A85"
	testRedirectURI     = "https://rp.example.com/callback"
	testPostLogoutURI   = "https://rp.example.com/signed-out"
	testSessionSecret   = "0123456789abcdef0123456789abcdef"
	testPassword        = "Demo1234!"
	testUserID          = "a1b2c3d4-e5f6-7890-abcd-ef1234567890"
	testUserEmail       = "john@smithbricklaying.com.au"
	testCodeVerifier    = "dBjftJeZ4CVP-mB92K27uhbUJU1p1r_wW1gFWFOEjXk"
	testOtherVerifier   = "wrong-verifier-wrong-verifier-wrong-verifier"
	testNonce           = "nonce-0f9e8d7c"
	testState           = "state-with spaces&symbols=1"
	testProfileDocument = `{"ContactId":"a1b2c3d4-e5f6-7890-abcd-ef1234567890","ContactFullName":"John Smith","EmailAddress":"john@smithbricklaying.com.au","ContactPostalAddress":{"Suburb":"Penrith","Poscode":"2750"},"Organisations":[{"OrganisationAlternateKey":"SMIBRIC","ABN":"12345678901"}]}`
)

var (
	testKeyOnce      sync.Once
	testKeyPair      *KeyPair
	testKeyErr       error
	secondKeyOnce    sync.Once
	secondKeyPair    *KeyPair
	secondKeyErr     error
	testPasswordOnce sync.Once
	testPasswordHash string
)

func sharedTestKeyPair(t *testing.T) *KeyPair {
	t.Helper()
	testKeyOnce.Do(func() {
		testKeyPair, testKeyErr = generateTestKeyPair("test-kid")
	})
	require.NoError(t, testKeyErr, "generate test key")
	return testKeyPair
}

func secondTestKeyPair(t *testing.T) *KeyPair {
	t.Helper()
	secondKeyOnce.Do(func() {
		secondKeyPair, secondKeyErr = generateTestKeyPair("second-kid")
	})
	require.NoError(t, secondKeyErr, "generate second key")
	return secondKeyPair
}

func generateTestKeyPair(keyID string) (*KeyPair, error) {
	privateKey, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		return nil, err
	}
	return newKeyPair(privateKey, keyID)
}

func hashedTestPassword(t *testing.T) string {
	t.Helper()
	testPasswordOnce.Do(func() {
		hash, err := bcrypt.GenerateFromPassword([]byte(testPassword), bcrypt.MinCost)
		if err != nil {
			panic(err)
		}
		testPasswordHash = string(hash)
	})
	return testPasswordHash
}

type mutableClock struct {
	mutex   sync.Mutex
	current time.Time
}

func (clock *mutableClock) Now() time.Time {
	clock.mutex.Lock()
	defer clock.mutex.Unlock()
	return clock.current
}

func (clock *mutableClock) Advance(duration time.Duration) {
	clock.mutex.Lock()
	defer clock.mutex.Unlock()
	clock.current = clock.current.Add(duration)
}

type testDirectory struct {
	users []User
}

func newTestDirectory(t *testing.T) *testDirectory {
	return &testDirectory{users: []User{{
		ID:           testUserID,
		Email:        testUserEmail,
		PasswordHash: hashedTestPassword(t),
		SubjectID:    testUserID,
		Profile:      json.RawMessage(testProfileDocument),
	}}}
}

func (directory *testDirectory) FindUserByEmail(ctx context.Context, email string) (User, error) {
	for _, user := range directory.users {
		if strings.EqualFold(user.Email, email) {
			return user, nil
		}
	}
	return User{}, ErrUserNotFound
}

func (directory *testDirectory) FindUserByID(ctx context.Context, userID string) (User, error) {
	for _, user := range directory.users {
		if user.ID == userID {
			return user, nil
		}
	}
	return User{}, ErrUserNotFound
}

type failingDirectory struct {
	err error
}

func (directory failingDirectory) FindUserByEmail(ctx context.Context, email string) (User, error) {
	return User{}, directory.err
}

func (directory failingDirectory) FindUserByID(ctx context.Context, userID string) (User, error) {
	return User{}, directory.err
}

func newTestServerConfig() ServerConfig {
	return ServerConfig{
		Issuer: testIssuer + "/",
		Client: RegisteredClient{
			ClientID:              testClientID,
			RedirectURI:           testRedirectURI,
			PostLogoutRedirectURI: testPostLogoutURI,
		},
		SessionSigningKey: []byte(testSessionSecret),
		SameSiteMode:      http.SameSiteLaxMode,
		AllowInsecureHTTP: true,
	}
}

type testFixture struct {
	router        *gin.Engine
	configuration ServerConfig
	codes         *MemoryAuthorizationCodeStore
	sessions      *SessionCodec
	keys          *KeyProvider
	metrics       *CounterMetrics
	clock         *mutableClock
	users         UserDirectory
}

type fixtureOption func(fixture *testFixture)

func withConfiguration(mutate func(configuration *ServerConfig)) fixtureOption {
	return func(fixture *testFixture) {
		mutate(&fixture.configuration)
	}
}

func withUsers(users UserDirectory) fixtureOption {
	return func(fixture *testFixture) {
		fixture.users = users
	}
}

func withKeyProvider(keys *KeyProvider) fixtureOption {
	return func(fixture *testFixture) {
		fixture.keys = keys
	}
}

func newTestFixture(t *testing.T, options ...fixtureOption) *testFixture {
	t.Helper()
	gin.SetMode(gin.TestMode)

	keyPair := sharedTestKeyPair(t)
	fixture := &testFixture{
		configuration: newTestServerConfig(),
		clock:         &mutableClock{current: time.Now().UTC().Truncate(time.Second)},
		metrics:       NewCounterMetrics(),
		keys:          NewKeyProvider(func() (*KeyPair, error) { return keyPair, nil }),
		users:         newTestDirectory(t),
	}
	for _, option := range options {
		option(fixture)
	}
	fixture.codes = NewMemoryAuthorizationCodeStore(AuthorizationCodeTTL)
	fixture.codes.now = fixture.clock.Now

	sessions, err := NewSessionCodec(fixture.configuration, fixture.clock)
	require.NoError(t, err)
	fixture.sessions = sessions

	fixture.router = gin.New()
	mountErr := MountOIDCRoutes(fixture.router, fixture.configuration, Services{
		Users:    fixture.users,
		Codes:    fixture.codes,
		Keys:     fixture.keys,
		Sessions: fixture.sessions,
		Metrics:  fixture.metrics,
		Logger:   zaptest.NewLogger(t),
		Clock:    fixture.clock,
	})
	require.NoError(t, mountErr)
	return fixture
}

func (fixture *testFixture) sessionCookie(t *testing.T, userID string, email string) *http.Cookie {
	t.Helper()
	token, expiresAt, err := fixture.sessions.CreateSession(userID, email)
	require.NoError(t, err)
	return fixture.sessions.SessionCookie(token, expiresAt)
}

func (fixture *testFixture) serve(request *http.Request) *httptest.ResponseRecorder {
	recorder := httptest.NewRecorder()
	fixture.router.ServeHTTP(recorder, request)
	return recorder
}

func (fixture *testFixture) authorize(t *testing.T, query url.Values, cookies ...*http.Cookie) *httptest.ResponseRecorder {
	t.Helper()
	request := httptest.NewRequest(http.MethodGet, "/authorize?"+query.Encode(), nil)
	for _, cookie := range cookies {
		request.AddCookie(cookie)
	}
	return fixture.serve(request)
}

func (fixture *testFixture) login(t *testing.T, body any) *httptest.ResponseRecorder {
	t.Helper()
	encoded, err := json.Marshal(body)
	require.NoError(t, err)
	request := httptest.NewRequest(http.MethodPost, "/api/auth/login", strings.NewReader(string(encoded)))
	request.Header.Set("Content-Type", "application/json")
	return fixture.serve(request)
}

func (fixture *testFixture) exchange(t *testing.T, form url.Values) *httptest.ResponseRecorder {
	t.Helper()
	request := httptest.NewRequest(http.MethodPost, "/token", strings.NewReader(form.Encode()))
	request.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return fixture.serve(request)
}

func validAuthorizationQuery() url.Values {
	return url.Values{
		"response_type":         {"code"},
		"client_id":             {testClientID},
		"redirect_uri":          {testRedirectURI},
		"scope":                 {"openid profile email"},
		"state":                 {testState},
		"nonce":                 {testNonce},
		"code_challenge":        {ComputeCodeChallenge(testCodeVerifier)},
		"code_challenge_method": {"S256"},
	}
}

func validAuthorizationRequest() AuthorizationRequest {
	return authorizationRequestFromQuery(validAuthorizationQuery())
}

func tokenForm(code string, verifier string) url.Values {
	return url.Values{
		"grant_type":    {"authorization_code"},
		"code":          {code},
		"redirect_uri":  {testRedirectURI},
		"client_id":     {strings.ToLower(testClientID)},
		"code_verifier": {verifier},
	}
}

func redirectLocation(t *testing.T, recorder *httptest.ResponseRecorder) *url.URL {
	t.Helper()
	require.Equal(t, http.StatusFound, recorder.Code, recorder.Body.String())
	location, err := url.Parse(recorder.Header().Get("Location"))
	require.NoError(t, err)
	return location
}

func decodeJSON(t *testing.T, body io.Reader) map[string]any {
	t.Helper()
	var payload map[string]any
	require.NoError(t, json.NewDecoder(body).Decode(&payload))
	return payload
}

func collectCookies(cookies []*http.Cookie) map[string]*http.Cookie {
	collected := make(map[string]*http.Cookie)
	for _, cookie := range cookies {
		collected[cookie.Name] = cookie
	}
	return collected
}

var errDirectoryUnavailable = errors.New("directory unavailable")

// tamperSignature rewrites the first signature character so the token no longer verifies.
func tamperSignature(token string) string {
	segments := strings.Split(token, ".")
	signature := []byte(segments[2])
	if signature[0] == 'A' {
		signature[0] = 'B'
	} else {
		signature[0] = 'A'
	}
	return segments[0] + "." + segments[1] + "." + string(signature)
}
