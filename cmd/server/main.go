package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"net"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/tyemirov/oidcidp/internal/authkit"
	"github.com/tyemirov/oidcidp/internal/directory"
	"github.com/tyemirov/oidcidp/internal/web"
	webassets "github.com/tyemirov/oidcidp/web"
	"go.uber.org/zap"
)

var serveHTTP = func(server *http.Server) error {
	return server.ListenAndServe()
}

func main() {
	if err := loadEnvironmentFile(".env"); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	if err := newRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}

// loadEnvironmentFile applies path to the process environment. A missing file is ignored.
func loadEnvironmentFile(path string) error {
	if err := godotenv.Load(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("config.env_file: %w", err)
	}
	return nil
}

func newRootCommand() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:     "oidcidp",
		Short:   "OpenID Connect identity provider: authorization code with PKCE, RS256 ID tokens, cookie sessions",
		PreRunE: prepareServerConfig,
		RunE:    runServer,
	}

	rootCmd.Flags().String("listen_addr", ":8080", "HTTP listen address")
	rootCmd.Flags().String("issuer_url", "", "Issuer base URL, e.g. https://idp.example.com")
	rootCmd.Flags().String("client_id", "", "Client ID of the single registered relying party")
	rootCmd.Flags().String("client_redirect_uri", "", "Exact redirect URI registered for the client")
	rootCmd.Flags().String("client_post_logout_redirect_uri", "", "Post-logout redirect URI registered for the client")
	rootCmd.Flags().String("session_secret", "", "HS256 session signing secret (at least 32 bytes)")
	rootCmd.Flags().String("session_cookie_name", authkit.DefaultSessionCookieName, "Session cookie name")
	rootCmd.Flags().String("cookie_domain", "", "Cookie domain; empty for host-only")
	rootCmd.Flags().String("rsa_private_key_jwk", "", "RSA private signing key as JWK JSON")
	rootCmd.Flags().String("rsa_public_key_jwk", "", "Matching RSA public key as JWK JSON (carries the kid)")
	rootCmd.Flags().String("rsa_private_key_file", "", "RSA private signing key as a PEM file (PKCS#1 or PKCS#8)")
	rootCmd.Flags().String("signing_key_id", "", "Key id used when the key material carries none; empty derives the JWK thumbprint")
	rootCmd.Flags().Bool("allow_generated_keys", false, "Generate an ephemeral signing key when none is configured")
	rootCmd.Flags().Bool("dev_insecure_http", false, "Allow insecure HTTP for local dev")
	rootCmd.Flags().String("login_path", authkit.DefaultLoginPath, "Interactive login surface (path or absolute URL)")
	rootCmd.Flags().String("post_login_path", authkit.DefaultPostLoginPath, "Destination after a login without authorization parameters")
	rootCmd.Flags().String("database_url", "", "Database URL for the user directory (postgres:// or sqlite://; leave empty for the in-memory demo directory)")
	rootCmd.Flags().Bool("enable_cors", false, "Enable CORS for browser-based relying parties")
	rootCmd.Flags().StringSlice("cors_allowed_origins", []string{}, "Allowed origins when CORS is enabled (required if enable_cors is true)")
	rootCmd.Flags().Int("rate_limit_per_minute", 30, "Per-IP request budget for login and token endpoints; 0 disables")
	rootCmd.Flags().Bool("enable_dev_endpoints", false, "Mount the developer token preview")
	rootCmd.Flags().StringSlice("trusted_proxies", []string{}, "Proxy IPs or CIDRs whose X-Forwarded-For is honoured; empty trusts none")

	for _, name := range []string{
		"listen_addr",
		"issuer_url",
		"client_id",
		"client_redirect_uri",
		"client_post_logout_redirect_uri",
		"session_secret",
		"session_cookie_name",
		"cookie_domain",
		"rsa_private_key_jwk",
		"rsa_public_key_jwk",
		"rsa_private_key_file",
		"signing_key_id",
		"allow_generated_keys",
		"dev_insecure_http",
		"login_path",
		"post_login_path",
		"database_url",
		"enable_cors",
		"cors_allowed_origins",
		"rate_limit_per_minute",
		"enable_dev_endpoints",
		"trusted_proxies",
	} {
		_ = viper.BindPFlag(name, rootCmd.Flags().Lookup(name))
	}

	viper.SetEnvPrefix("APP")
	viper.AutomaticEnv()

	rootCmd.AddCommand(newGenerateKeysCommand(), newHashPasswordCommand())
	return rootCmd
}

const (
	configCodeMissingIssuer           = "config.missing_issuer_url"
	configCodeInvalidIssuer           = "config.invalid_issuer_url"
	configCodeMissingClientID         = "config.missing_client_id"
	configCodeMissingRedirectURI      = "config.missing_client_redirect_uri"
	configCodeMissingSessionSecret    = "config.missing_session_secret"
	configCodeShortSessionSecret      = "config.short_session_secret"
	configCodeMissingSigningKey       = "config.missing_signing_key"
	configCodeUnreadableKeyFile       = "config.unreadable_key_file"
	configCodeInvalidSigningKey       = "config.invalid_signing_key"
	configCodeInvalidRateLimit        = "config.invalid_rate_limit"
	configCodeInvalidTrustedProxy     = "config.invalid_trusted_proxy"
	configCodeUninitializedServerConf = "config.uninitialized_server_config"
)

type contextKey string

const serverConfigContextKey contextKey = "serverConfig"

// serviceConfig is everything runServer needs beyond the protocol configuration.
type serviceConfig struct {
	Server             authkit.ServerConfig
	Keys               *authkit.KeyProvider
	KeySourceLabel     string
	ListenAddr         string
	DatabaseURL        string
	EnableCORS         bool
	CORSAllowedOrigins []string
	TrustedProxies     []string
}

func prepareServerConfig(command *cobra.Command, arguments []string) error {
	serverConfig, loadErr := LoadServerConfig()
	if loadErr != nil {
		return loadErr
	}
	existingContext := command.Context()
	if existingContext == nil {
		existingContext = context.Background()
	}
	command.SetContext(context.WithValue(existingContext, serverConfigContextKey, serverConfig))
	return nil
}

func configError(code, message string) error {
	return fmt.Errorf("%s: %s", code, message)
}

func LoadServerConfig() (serviceConfig, error) {
	issuerURL := strings.TrimSpace(viper.GetString("issuer_url"))
	if issuerURL == "" {
		return serviceConfig{}, configError(configCodeMissingIssuer, "issuer_url must be provided")
	}
	parsedIssuer, parseErr := url.Parse(issuerURL)
	if parseErr != nil || parsedIssuer.Host == "" || (parsedIssuer.Scheme != "https" && parsedIssuer.Scheme != "http") {
		return serviceConfig{}, configError(configCodeInvalidIssuer, "issuer_url must be an absolute http(s) URL")
	}

	clientID := strings.TrimSpace(viper.GetString("client_id"))
	if clientID == "" {
		return serviceConfig{}, configError(configCodeMissingClientID, "client_id must be provided")
	}
	redirectURI := strings.TrimSpace(viper.GetString("client_redirect_uri"))
	if redirectURI == "" {
		return serviceConfig{}, configError(configCodeMissingRedirectURI, "client_redirect_uri must be provided")
	}

	sessionSecret := viper.GetString("session_secret")
	if sessionSecret == "" {
		return serviceConfig{}, configError(configCodeMissingSessionSecret, "session_secret must be provided")
	}
	if len(sessionSecret) < authkit.MinimumSessionSecretBytes {
		return serviceConfig{}, configError(configCodeShortSessionSecret, fmt.Sprintf("session_secret must be at least %d bytes", authkit.MinimumSessionSecretBytes))
	}

	rateLimit := viper.GetInt("rate_limit_per_minute")
	if rateLimit < 0 {
		return serviceConfig{}, configError(configCodeInvalidRateLimit, "rate_limit_per_minute must not be negative")
	}

	trustedProxies, proxiesErr := loadTrustedProxies()
	if proxiesErr != nil {
		return serviceConfig{}, proxiesErr
	}

	keys, keySourceLabel, keyErr := loadSigningKeys()
	if keyErr != nil {
		return serviceConfig{}, keyErr
	}

	return serviceConfig{
		Server: authkit.ServerConfig{
			Issuer: issuerURL,
			Client: authkit.RegisteredClient{
				ClientID:              clientID,
				RedirectURI:           redirectURI,
				PostLogoutRedirectURI: strings.TrimSpace(viper.GetString("client_post_logout_redirect_uri")),
			},
			SessionSigningKey:  []byte(sessionSecret),
			SessionCookieName:  viper.GetString("session_cookie_name"),
			CookieDomain:       viper.GetString("cookie_domain"),
			SameSiteMode:       http.SameSiteLaxMode,
			AllowInsecureHTTP:  viper.GetBool("dev_insecure_http"),
			LoginPath:          viper.GetString("login_path"),
			PostLoginPath:      viper.GetString("post_login_path"),
			EnableDevEndpoints: viper.GetBool("enable_dev_endpoints"),
			RateLimitPerMinute: rateLimit,
		},
		Keys:               keys,
		KeySourceLabel:     keySourceLabel,
		ListenAddr:         viper.GetString("listen_addr"),
		DatabaseURL:        viper.GetString("database_url"),
		EnableCORS:         viper.GetBool("enable_cors"),
		CORSAllowedOrigins: viper.GetStringSlice("cors_allowed_origins"),
		TrustedProxies:     trustedProxies,
	}, nil
}

// loadTrustedProxies returns the proxies allowed to set forwarding headers. Nil trusts none.
func loadTrustedProxies() ([]string, error) {
	var proxies []string
	for _, entry := range viper.GetStringSlice("trusted_proxies") {
		trimmed := strings.TrimSpace(entry)
		if trimmed == "" {
			continue
		}
		if net.ParseIP(trimmed) == nil {
			if _, _, cidrErr := net.ParseCIDR(trimmed); cidrErr != nil {
				return nil, configError(configCodeInvalidTrustedProxy, fmt.Sprintf("trusted_proxies entry %q is not an IP or CIDR", trimmed))
			}
		}
		proxies = append(proxies, trimmed)
	}
	return proxies, nil
}

// loadSigningKeys picks the configured key source and resolves it once, so bad key material stops startup.
func loadSigningKeys() (*authkit.KeyProvider, string, error) {
	keyID := strings.TrimSpace(viper.GetString("signing_key_id"))
	privateJWK := strings.TrimSpace(viper.GetString("rsa_private_key_jwk"))
	keyFile := strings.TrimSpace(viper.GetString("rsa_private_key_file"))

	var source authkit.KeySource
	var label string
	switch {
	case privateJWK != "":
		source = authkit.JWKKeySource(privateJWK, strings.TrimSpace(viper.GetString("rsa_public_key_jwk")), keyID)
		label = "jwk"
	case keyFile != "":
		pemBytes, readErr := os.ReadFile(keyFile)
		if readErr != nil {
			return nil, "", configError(configCodeUnreadableKeyFile, readErr.Error())
		}
		source = authkit.PEMKeySource(pemBytes, keyID)
		label = "pem"
	case viper.GetBool("allow_generated_keys"):
		source = authkit.GeneratedKeySource(keyID)
		label = "generated"
	default:
		return nil, "", configError(configCodeMissingSigningKey, "rsa_private_key_jwk or rsa_private_key_file must be provided (or set allow_generated_keys)")
	}

	provider := authkit.NewKeyProvider(source)
	if _, err := provider.KeyPair(); err != nil {
		return nil, "", configError(configCodeInvalidSigningKey, err.Error())
	}
	return provider, label, nil
}

func runServer(command *cobra.Command, arguments []string) error {
	logger, loggerErr := zap.NewProduction()
	if loggerErr != nil {
		return loggerErr
	}
	defer func() { _ = logger.Sync() }()

	commandContext := command.Context()
	var contextValue any
	if commandContext != nil {
		contextValue = commandContext.Value(serverConfigContextKey)
	}
	serverConfig, ok := contextValue.(serviceConfig)
	if !ok {
		return configError(configCodeUninitializedServerConf, "server configuration not prepared; PreRunE must execute before RunE")
	}

	if serverConfig.Server.AllowInsecureHTTP {
		logger.Warn("insecure http enabled; session cookies are not marked Secure",
			zap.String("code", "config.dev_insecure_http"))
	}
	if serverConfig.KeySourceLabel == "generated" {
		logger.Warn("using an ephemeral signing key; issued tokens will not verify after restart",
			zap.String("code", "config.generated_signing_key"))
	}

	users, closeUsers, usersErr := openUserDirectory(context.Background(), serverConfig.DatabaseURL, logger)
	if usersErr != nil {
		return usersErr
	}
	defer closeUsers()

	clock := authkit.NewSystemClock()
	sessions, sessionErr := authkit.NewSessionCodec(serverConfig.Server, clock)
	if sessionErr != nil {
		return sessionErr
	}

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	if proxiesErr := router.SetTrustedProxies(serverConfig.TrustedProxies); proxiesErr != nil {
		return configError(configCodeInvalidTrustedProxy, proxiesErr.Error())
	}
	router.Use(gin.Recovery())
	router.Use(zapLoggerMiddleware(logger))

	if serverConfig.EnableCORS {
		corsMiddleware, corsErr := web.ConfigureCORS(logger, serverConfig.CORSAllowedOrigins, serverConfig.Server.AllowInsecureHTTP)
		if corsErr != nil {
			return corsErr
		}
		router.Use(corsMiddleware)
	}

	mountErr := authkit.MountOIDCRoutes(router, serverConfig.Server, authkit.Services{
		Users:    users,
		Codes:    authkit.NewMemoryAuthorizationCodeStore(authkit.AuthorizationCodeTTL),
		Keys:     serverConfig.Keys,
		Sessions: sessions,
		Metrics:  authkit.NewCounterMetrics(),
		Logger:   logger,
		Clock:    clock,
	})
	if mountErr != nil {
		return mountErr
	}

	router.GET("/login", web.ServeEmbeddedPage(webassets.FS, "login.html"))
	router.GET("/dashboard", web.ServeEmbeddedPage(webassets.FS, "dashboard.html"))
	router.GET("/resetpassword", web.ServeEmbeddedPage(webassets.FS, "resetpassword.html"))
	router.GET("/", func(contextGin *gin.Context) {
		contextGin.Redirect(http.StatusFound, authkit.DefaultPostLoginPath)
	})

	protected := router.Group("/api")
	protected.Use(authkit.RequireSession(sessions))
	protected.GET("/me", web.HandleProfile(logger, users))
	if serverConfig.Server.EnableDevEndpoints {
		preview := web.TokenPreview{
			Configuration: serverConfig.Server,
			Keys:          serverConfig.Keys,
			Users:         users,
			Clock:         clock,
			Logger:        logger,
		}
		protected.GET("/dev/token-preview", preview.Handle)
		logger.Warn("developer endpoints enabled",
			zap.String("code", "config.dev_endpoints"))
	}

	server := &http.Server{
		Addr:              serverConfig.ListenAddr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	shutdownCtx, shutdownCancel := context.WithCancel(context.Background())
	defer shutdownCancel()

	go func() {
		stopSignals := make(chan os.Signal, 1)
		signal.Notify(stopSignals, syscall.SIGINT, syscall.SIGTERM)
		defer signal.Stop(stopSignals)
		select {
		case <-stopSignals:
		case <-shutdownCtx.Done():
			return
		}
		graceCtx, graceCancel := context.WithTimeout(shutdownCtx, 10*time.Second)
		defer graceCancel()
		if err := server.Shutdown(graceCtx); err != nil {
			logger.Error("server shutdown error", zap.Error(err))
		}
	}()

	logger.Info("listening",
		zap.String("addr", serverConfig.ListenAddr),
		zap.String("issuer", serverConfig.Server.IssuerURL()),
		zap.String("key_source", serverConfig.KeySourceLabel))
	if err := serveHTTP(server); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("listen error: %w", err)
	}
	return nil
}

// openUserDirectory selects the gorm-backed directory when databaseURL is set and seeds it with the demo users.
func openUserDirectory(ctx context.Context, databaseURL string, logger *zap.Logger) (authkit.UserDirectory, func(), error) {
	if strings.TrimSpace(databaseURL) == "" {
		users, err := directory.NewInMemoryDirectory(directory.DemoEntries())
		if err != nil {
			return nil, nil, err
		}
		logger.Info("using in-memory user directory")
		return users, func() {}, nil
	}
	users, err := directory.NewDatabaseDirectory(ctx, databaseURL)
	if err != nil {
		return nil, nil, err
	}
	if seedErr := users.Seed(ctx, directory.DemoEntries()); seedErr != nil {
		_ = users.Close()
		return nil, nil, seedErr
	}
	logger.Info("using persistent user directory", zap.String("driver", users.Driver()))
	return users, func() {
		if closeErr := users.Close(); closeErr != nil {
			logger.Warn("user directory close failed", zap.Error(closeErr))
		}
	}, nil
}

const requestIDHeader = "X-Request-ID"

func zapLoggerMiddleware(logger *zap.Logger) gin.HandlerFunc {
	return func(contextGin *gin.Context) {
		startTime := time.Now()
		requestID := strings.TrimSpace(contextGin.GetHeader(requestIDHeader))
		if requestID == "" || len(requestID) > 128 {
			requestID = uuid.NewString()
		}
		contextGin.Header(requestIDHeader, requestID)
		contextGin.Next()
		duration := time.Since(startTime)
		logger.Info("http",
			zap.String("method", contextGin.Request.Method),
			zap.String("path", contextGin.Request.URL.Path),
			zap.Int("status", contextGin.Writer.Status()),
			zap.String("ip", contextGin.ClientIP()),
			zap.String("request_id", requestID),
			zap.Duration("elapsed", duration),
		)
	}
}
