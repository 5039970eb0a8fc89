package authkit

import (
	"net/http"
	"strings"
	"time"
)

const (
	// SessionTTL is the fixed session lifetime; sessions do not slide.
	SessionTTL = 24 * time.Hour
	// AuthorizationCodeTTL bounds a pending code's lifetime, measured from issuance.
	AuthorizationCodeTTL = 60 * time.Second
	// IDTokenTTL is the validity window written into an ID token's exp claim.
	IDTokenTTL = 900 * time.Second
	// AdvertisedExpiresIn is the expires_in value the relying party integration expects.
	// It intentionally differs from IDTokenTTL.
	AdvertisedExpiresIn = 9000

	// DefaultSessionCookieName is used when ServerConfig.SessionCookieName is empty.
	DefaultSessionCookieName = "oidcidp_session"
	// DefaultLoginPath is the interactive login surface.
	DefaultLoginPath = "/login"
	// DefaultPostLoginPath is where a bare login lands.
	DefaultPostLoginPath = "/dashboard"
)

// RegisteredClient is the single relying party served by this provider.
type RegisteredClient struct {
	ClientID              string
	RedirectURI           string
	PostLogoutRedirectURI string
}

// MatchesClientID reports whether candidate names this client, ignoring case.
func (client RegisteredClient) MatchesClientID(candidate string) bool {
	return candidate != "" && strings.EqualFold(candidate, client.ClientID)
}

// TrustsRedirectURI reports whether candidate is exactly the registered redirect URI.
func (client RegisteredClient) TrustsRedirectURI(candidate string) bool {
	return candidate != "" && candidate == client.RedirectURI
}

// NormalizedClientID is the lowercase client id emitted in tokens.
func (client RegisteredClient) NormalizedClientID() string {
	return strings.ToLower(client.ClientID)
}

// ServerConfig describes the provider's static configuration.
type ServerConfig struct {
	Issuer             string
	Client             RegisteredClient
	SessionSigningKey  []byte
	SessionCookieName  string
	CookieDomain       string
	SameSiteMode       http.SameSite
	AllowInsecureHTTP  bool
	LoginPath          string
	PostLoginPath      string
	EnableDevEndpoints bool
	RateLimitPerMinute int
}

// IssuerURL returns the issuer without a trailing slash.
func (configuration ServerConfig) IssuerURL() string {
	return strings.TrimRight(strings.TrimSpace(configuration.Issuer), "/")
}

// EndpointURL joins the issuer and an absolute path.
func (configuration ServerConfig) EndpointURL(path string) string {
	return configuration.IssuerURL() + path
}

// LoginURL resolves the interactive login surface.
func (configuration ServerConfig) LoginURL() string {
	loginPath := configuration.LoginPath
	if strings.TrimSpace(loginPath) == "" {
		loginPath = DefaultLoginPath
	}
	if strings.HasPrefix(loginPath, "http://") || strings.HasPrefix(loginPath, "https://") {
		return loginPath
	}
	return configuration.EndpointURL(loginPath)
}

func (configuration ServerConfig) withDefaults() ServerConfig {
	if strings.TrimSpace(configuration.SessionCookieName) == "" {
		configuration.SessionCookieName = DefaultSessionCookieName
	}
	if configuration.SameSiteMode == 0 {
		configuration.SameSiteMode = http.SameSiteLaxMode
	}
	if strings.TrimSpace(configuration.LoginPath) == "" {
		configuration.LoginPath = DefaultLoginPath
	}
	if strings.TrimSpace(configuration.PostLoginPath) == "" {
		configuration.PostLoginPath = DefaultPostLoginPath
	}
	return configuration
}
