package authkit

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/tyemirov/oidcidp/pkg/sessionvalidator"
)

// MinimumSessionSecretBytes is the shortest accepted session signing secret.
const MinimumSessionSecretBytes = 32

var (
	// ErrSessionSecretMissing indicates no session signing secret was configured.
	ErrSessionSecretMissing = errors.New("session.secret_missing")
	// ErrSessionSecretTooShort indicates a secret below MinimumSessionSecretBytes.
	ErrSessionSecretTooShort = errors.New("session.secret_too_short")
)

// Session is the identity carried by a verified session token.
type Session struct {
	UserID    string
	Email     string
	ExpiresAt time.Time
}

// SessionCodec mints and verifies stateless session tokens and describes their cookie.
type SessionCodec struct {
	signingKey    []byte
	issuer        string
	cookieName    string
	cookieDomain  string
	secureCookies bool
	sameSite      http.SameSite
	clock         Clock
	validator     *sessionvalidator.Validator
}

// NewSessionCodec validates the signing secret and builds a codec.
func NewSessionCodec(configuration ServerConfig, clock Clock) (*SessionCodec, error) {
	configuration = configuration.withDefaults()
	if len(configuration.SessionSigningKey) == 0 {
		return nil, fmt.Errorf("session.new: %w", ErrSessionSecretMissing)
	}
	if len(configuration.SessionSigningKey) < MinimumSessionSecretBytes {
		return nil, fmt.Errorf("session.new: %w", ErrSessionSecretTooShort)
	}
	if clock == nil {
		clock = NewSystemClock()
	}
	validator, err := sessionvalidator.New(sessionvalidator.Config{
		SigningKey: configuration.SessionSigningKey,
		Issuer:     configuration.IssuerURL(),
		CookieName: configuration.SessionCookieName,
		Clock:      clock,
	})
	if err != nil {
		return nil, fmt.Errorf("session.new: %w", err)
	}
	return &SessionCodec{
		signingKey:    configuration.SessionSigningKey,
		issuer:        configuration.IssuerURL(),
		cookieName:    configuration.SessionCookieName,
		cookieDomain:  configuration.CookieDomain,
		secureCookies: !configuration.AllowInsecureHTTP,
		sameSite:      configuration.SameSiteMode,
		clock:         clock,
		validator:     validator,
	}, nil
}

// CreateSession signs {userId, email, iat, exp=iat+24h} with HS256.
func (codec *SessionCodec) CreateSession(userID string, email string) (string, time.Time, error) {
	issuedAt := codec.clock.Now()
	expiresAt := issuedAt.Add(SessionTTL)
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, sessionvalidator.Claims{
		UserID: userID,
		Email:  email,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    codec.issuer,
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(issuedAt),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	})
	signed, err := token.SignedString(codec.signingKey)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("session.create: %w", err)
	}
	return signed, expiresAt, nil
}

// VerifySession reports the session carried by token. Every failure looks the same.
func (codec *SessionCodec) VerifySession(token string) (Session, bool) {
	claims, err := codec.validator.ValidateToken(token)
	if err != nil {
		return Session{}, false
	}
	return Session{
		UserID:    claims.UserID,
		Email:     claims.Email,
		ExpiresAt: claims.GetExpiresAt(),
	}, true
}

// SessionFromRequest verifies the session cookie on request, if any.
func (codec *SessionCodec) SessionFromRequest(request *http.Request) (Session, bool) {
	if request == nil {
		return Session{}, false
	}
	cookie, err := request.Cookie(codec.cookieName)
	if err != nil || cookie == nil || strings.TrimSpace(cookie.Value) == "" {
		return Session{}, false
	}
	return codec.VerifySession(cookie.Value)
}

// CookieName reports the session cookie name.
func (codec *SessionCodec) CookieName() string {
	return codec.cookieName
}

// SessionCookie describes the cookie carrying token.
func (codec *SessionCodec) SessionCookie(token string, expiresAt time.Time) *http.Cookie {
	return &http.Cookie{
		Name:     codec.cookieName,
		Value:    token,
		Path:     "/",
		Domain:   codec.cookieDomain,
		Expires:  expiresAt,
		MaxAge:   int(SessionTTL / time.Second),
		Secure:   codec.secureCookies,
		HttpOnly: true,
		SameSite: codec.sameSite,
	}
}

// ClearedSessionCookie describes a cookie that deletes the session (Max-Age=0 on the wire).
func (codec *SessionCodec) ClearedSessionCookie() *http.Cookie {
	return &http.Cookie{
		Name:     codec.cookieName,
		Value:    "",
		Path:     "/",
		Domain:   codec.cookieDomain,
		MaxAge:   -1,
		Secure:   codec.secureCookies,
		HttpOnly: true,
		SameSite: codec.sameSite,
	}
}
