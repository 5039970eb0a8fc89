package authkit

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

var errInvalidCredentials = errors.New("login.invalid_credentials")

type loginRequest struct {
	Email      string                `json:"email"`
	Password   string                `json:"password"`
	OIDCParams *AuthorizationRequest `json:"oidcParams"`
}

func (inbound loginRequest) resumesAuthorization() bool {
	return inbound.OIDCParams != nil && inbound.OIDCParams.ClientID != ""
}

func (handlers *oidcHandlers) handleLogin(contextGin *gin.Context) {
	if !handlers.configuration.AllowInsecureHTTP && !isHTTPS(contextGin.Request) {
		contextGin.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "https_required"})
		return
	}

	var inbound loginRequest
	if err := contextGin.ShouldBindJSON(&inbound); err != nil {
		contextGin.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "Invalid request body."})
		return
	}
	email := strings.TrimSpace(inbound.Email)
	if email == "" || inbound.Password == "" {
		contextGin.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "Email and password are required."})
		return
	}

	user, err := handlers.authenticate(contextGin.Request.Context(), email, inbound.Password)
	if err != nil {
		handlers.metrics.Increment(MetricLoginFailure)
		if errors.Is(err, errInvalidCredentials) {
			handlers.logger.Info("login rejected",
				zap.String("code", "oidc.login.invalid_credentials"))
			contextGin.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Invalid email or password."})
			return
		}
		handlers.logger.Error("login lookup failed",
			zap.String("code", "oidc.login.directory_error"),
			zap.Error(err))
		contextGin.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "Login is temporarily unavailable."})
		return
	}

	var authorization AuthorizationRequest
	if inbound.resumesAuthorization() {
		authorization = *inbound.OIDCParams
		if !handlers.configuration.Client.TrustsRedirectURI(authorization.RedirectURI) || !handlers.configuration.Client.MatchesClientID(authorization.ClientID) {
			handlers.logger.Warn("login carried untrusted oidc parameters",
				zap.String("code", "oidc.login.invalid_oidc_params"),
				zap.String("redirect_uri", authorization.RedirectURI))
			contextGin.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "Invalid OIDC parameters."})
			return
		}
		if violation := validateAuthorizationParameters(handlers.configuration.Client, authorization); violation != nil {
			contextGin.AbortWithStatusJSON(http.StatusBadRequest, gin.H{
				"error":             "Invalid OIDC parameters.",
				"error_description": violation.Description,
			})
			return
		}
	}

	sessionToken, expiresAt, err := handlers.sessions.CreateSession(user.ID, user.Email)
	if err != nil {
		handlers.logger.Error("session mint failed",
			zap.String("code", "oidc.login.session_failed"),
			zap.Error(err))
		contextGin.AbortWithStatus(http.StatusInternalServerError)
		return
	}

	redirectTo := handlers.configuration.PostLoginPath
	if inbound.resumesAuthorization() {
		redirectTo, err = handlers.issueCode(contextGin.Request.Context(), authorization, user.ID)
		if err != nil {
			handlers.logger.Error("authorization code issue failed",
				zap.String("code", "oidc.login.issue_failed"),
				zap.Error(err))
			contextGin.AbortWithStatus(http.StatusInternalServerError)
			return
		}
	}

	http.SetCookie(contextGin.Writer, handlers.sessions.SessionCookie(sessionToken, expiresAt))
	handlers.metrics.Increment(MetricLoginSuccess)
	handlers.logger.Info("login succeeded",
		zap.String("code", "oidc.login.success"),
		zap.String("user_id", user.ID),
		zap.Bool("resumes_authorization", inbound.resumesAuthorization()))
	contextGin.JSON(http.StatusOK, gin.H{"redirectTo": redirectTo})
}

// authenticate never distinguishes an unknown email from a wrong password.
func (handlers *oidcHandlers) authenticate(ctx context.Context, email string, password string) (User, error) {
	user, err := handlers.users.FindUserByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			compareDecoyPassword(password)
			return User{}, errInvalidCredentials
		}
		return User{}, fmt.Errorf("login.lookup: %w", err)
	}
	if !VerifyPassword(user.PasswordHash, password) {
		return User{}, errInvalidCredentials
	}
	return user, nil
}
