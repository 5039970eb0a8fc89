package authkit

import (
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

var errMissingService = errors.New("routes.missing_service")

// Services bundles the collaborators behind the OIDC routes.
type Services struct {
	Users    UserDirectory
	Codes    AuthorizationCodeStore
	Keys     *KeyProvider
	Sessions *SessionCodec
	Metrics  MetricsRecorder
	Logger   *zap.Logger
	Clock    Clock
}

type oidcHandlers struct {
	configuration ServerConfig
	users         UserDirectory
	codes         AuthorizationCodeStore
	keys          *KeyProvider
	sessions      *SessionCodec
	metrics       MetricsRecorder
	logger        *zap.Logger
	clock         Clock
}

// MountOIDCRoutes registers discovery, JWKS, authorize, login, token and logout.
func MountOIDCRoutes(router gin.IRouter, configuration ServerConfig, services Services) error {
	switch {
	case services.Users == nil:
		return fmt.Errorf("routes.mount: %w: users", errMissingService)
	case services.Codes == nil:
		return fmt.Errorf("routes.mount: %w: codes", errMissingService)
	case services.Keys == nil:
		return fmt.Errorf("routes.mount: %w: keys", errMissingService)
	case services.Sessions == nil:
		return fmt.Errorf("routes.mount: %w: sessions", errMissingService)
	}
	handlers := &oidcHandlers{
		configuration: configuration.withDefaults(),
		users:         services.Users,
		codes:         services.Codes,
		keys:          services.Keys,
		sessions:      services.Sessions,
		metrics:       services.Metrics,
		logger:        services.Logger,
		clock:         services.Clock,
	}
	if handlers.metrics == nil {
		handlers.metrics = NewCounterMetrics()
	}
	if handlers.logger == nil {
		handlers.logger = zap.NewNop()
	}
	if handlers.clock == nil {
		handlers.clock = NewSystemClock()
	}

	throttle := rateLimitByClientIP(handlers.configuration.RateLimitPerMinute, handlers.logger, handlers.clock.Now)

	router.GET("/.well-known/openid-configuration", handlers.handleDiscovery)
	router.GET("/.well-known/keys", handlers.handleJWKS)
	router.GET("/authorize", handlers.handleAuthorize)
	router.POST("/api/auth/login", throttle, handlers.handleLogin)
	router.POST("/token", throttle, handlers.handleToken)
	router.GET("/logout", handlers.handleLogout)
	router.POST("/logout", handlers.handleLogout)
	router.POST("/api/auth/logout", handlers.handleAPILogout)
	return nil
}

func buildRedirect(target string, parameters url.Values) (string, error) {
	parsed, err := url.Parse(target)
	if err != nil {
		return "", fmt.Errorf("redirect.parse: %w", err)
	}
	query := parsed.Query()
	for key, values := range parameters {
		for _, value := range values {
			query.Set(key, value)
		}
	}
	parsed.RawQuery = query.Encode()
	return parsed.String(), nil
}

func setNoStore(contextGin *gin.Context) {
	contextGin.Header("Cache-Control", "no-store")
	contextGin.Header("Pragma", "no-cache")
}

func isHTTPS(request *http.Request) bool {
	if request.TLS != nil {
		return true
	}
	scheme := request.Header.Get("X-Forwarded-Proto")
	if strings.EqualFold(scheme, "https") {
		return true
	}
	forwarded := request.Header.Get("Forwarded")
	if forwarded != "" && strings.Contains(strings.ToLower(forwarded), "proto=https") {
		return true
	}
	host, _, splitErr := net.SplitHostPort(request.Host)
	if splitErr == nil && host == "localhost" {
		return true
	}
	return false
}
