package web

import (
	"embed"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

var (
	errWildcardOrigin      = errors.New("cors: wildcard origin not allowed when credentials are enabled")
	errEmptyAllowedOrigins = errors.New("cors: no explicit origins provided")
	errInvalidOrigin       = errors.New("cors: invalid origin format")
	errInsecureOrigin      = errors.New("cors: plain http origin requires dev_insecure_http")
)

// ServeEmbeddedPage writes a single embedded HTML page with no-store caching.
func ServeEmbeddedPage(filesystem embed.FS, path string) gin.HandlerFunc {
	return func(contextGin *gin.Context) {
		data, readErr := filesystem.ReadFile(path)
		if readErr != nil {
			contextGin.AbortWithStatus(http.StatusNotFound)
			return
		}
		contextGin.Header("Cache-Control", "no-store")
		contextGin.Header("X-Content-Type-Options", "nosniff")
		contextGin.Header("X-Frame-Options", "DENY")
		contextGin.Data(http.StatusOK, "text/html; charset=utf-8", data)
	}
}

// ConfigureCORS enables credentialed cross-origin requests for the supplied origins.
// Plain http origins are limited to loopback hosts unless allowInsecureHTTP is set.
func ConfigureCORS(logger *zap.Logger, allowedOrigins []string, allowInsecureHTTP bool) (gin.HandlerFunc, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	sanitized, err := sanitizeOrigins(logger, allowedOrigins, allowInsecureHTTP)
	if err != nil {
		return nil, err
	}
	config := cors.Config{
		AllowOrigins:     sanitized,
		AllowMethods:     []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:     []string{"Content-Type", "X-Requested-With", "X-Request-ID"},
		ExposeHeaders:    []string{"Content-Type", "X-Request-ID"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}
	return cors.New(config), nil
}

func sanitizeOrigins(logger *zap.Logger, allowed []string, allowInsecureHTTP bool) ([]string, error) {
	seen := make(map[string]struct{}, len(allowed))
	sanitized := make([]string, 0, len(allowed))
	for _, origin := range allowed {
		trimmed := strings.TrimSpace(origin)
		if trimmed == "" {
			continue
		}
		normalized, insecure, err := normalizeOrigin(trimmed)
		if err != nil {
			return nil, err
		}
		if insecure {
			if !allowInsecureHTTP {
				return nil, fmt.Errorf("%w: %s", errInsecureOrigin, normalized)
			}
			logger.Warn("insecure cors origin allowed in development",
				zap.String("code", "cors.origin.insecure"),
				zap.String("origin", normalized))
		}
		if _, exists := seen[normalized]; exists {
			continue
		}
		seen[normalized] = struct{}{}
		sanitized = append(sanitized, normalized)
	}
	if len(sanitized) == 0 {
		return nil, errEmptyAllowedOrigins
	}
	sort.Strings(sanitized)
	return sanitized, nil
}

// normalizeOrigin reduces origin to scheme://host and reports whether it is plain http off loopback.
func normalizeOrigin(origin string) (string, bool, error) {
	if origin == "*" {
		return "", false, errWildcardOrigin
	}
	parsed, parseErr := url.Parse(origin)
	if parseErr != nil || parsed.Scheme == "" || parsed.Host == "" || parsed.User != nil {
		return "", false, fmt.Errorf("%w: %s", errInvalidOrigin, origin)
	}
	if (parsed.Path != "" && parsed.Path != "/") || parsed.RawQuery != "" || parsed.Fragment != "" {
		return "", false, fmt.Errorf("%w: %s is not a bare origin", errInvalidOrigin, origin)
	}
	scheme := strings.ToLower(parsed.Scheme)
	host := strings.ToLower(parsed.Host)
	switch scheme {
	case "https":
		return scheme + "://" + host, false, nil
	case "http":
		return scheme + "://" + host, !isLoopbackHost(parsed.Hostname()), nil
	default:
		return "", false, fmt.Errorf("%w: %s uses unsupported scheme", errInvalidOrigin, origin)
	}
}

func isLoopbackHost(host string) bool {
	switch strings.ToLower(host) {
	case "localhost", "127.0.0.1", "::1":
		return true
	default:
		return false
	}
}
