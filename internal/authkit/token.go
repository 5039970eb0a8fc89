package authkit

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const (
	oidcErrorInvalidGrant        = "invalid_grant"
	oidcErrorInvalidCodeVerifier = "invalid_code_verifier"

	grantTypeAuthorizationCode = "authorization_code"
	tokenTypeBearer            = "Bearer"
	issuedScope                = "openid profile email"
)

type tokenResponse struct {
	IDToken   string `json:"id_token"`
	TokenType string `json:"token_type"`
	ExpiresIn int    `json:"expires_in"`
	Scope     string `json:"scope"`
}

func (handlers *oidcHandlers) handleToken(contextGin *gin.Context) {
	setNoStore(contextGin)

	grantType := contextGin.PostForm("grant_type")
	code := contextGin.PostForm("code")
	redirectURI := contextGin.PostForm("redirect_uri")
	clientID := contextGin.PostForm("client_id")
	codeVerifier := contextGin.PostForm("code_verifier")

	if grantType != grantTypeAuthorizationCode {
		handlers.rejectToken(contextGin, http.StatusBadRequest, oidcErrorInvalidRequest, "grant_type must be authorization_code.")
		return
	}
	if code == "" || redirectURI == "" || clientID == "" || codeVerifier == "" {
		handlers.rejectToken(contextGin, http.StatusBadRequest, oidcErrorInvalidRequest, "Missing required parameters.")
		return
	}
	if !handlers.configuration.Client.MatchesClientID(clientID) {
		handlers.rejectToken(contextGin, http.StatusBadRequest, oidcErrorUnauthorizedClient, "Unknown client_id.")
		return
	}

	grant, err := handlers.codes.Consume(contextGin.Request.Context(), code)
	if err != nil {
		if errors.Is(err, ErrAuthorizationCodeNotFound) || errors.Is(err, ErrAuthorizationCodeExpired) {
			handlers.rejectToken(contextGin, http.StatusBadRequest, oidcErrorInvalidGrant, "The authorisation code has expired.")
			return
		}
		handlers.logger.Error("code redemption failed",
			zap.String("code", "oidc.token.consume_failed"),
			zap.Error(err))
		handlers.rejectToken(contextGin, http.StatusInternalServerError, oidcErrorServerError, "Unable to redeem the authorisation code.")
		return
	}

	if !strings.EqualFold(grant.ClientID, clientID) {
		handlers.rejectToken(contextGin, http.StatusBadRequest, oidcErrorUnauthorizedClient, "client_id mismatch.")
		return
	}
	if grant.RedirectURI != redirectURI {
		handlers.rejectToken(contextGin, http.StatusBadRequest, oidcErrorInvalidRequest, "redirect_uri mismatch.")
		return
	}
	if !VerifyCodeVerifier(codeVerifier, grant.CodeChallenge) {
		handlers.rejectToken(contextGin, http.StatusBadRequest, oidcErrorInvalidCodeVerifier, "The code verifier does not match the code challenge.")
		return
	}

	user, err := handlers.users.FindUserByID(contextGin.Request.Context(), grant.UserID)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			handlers.rejectToken(contextGin, http.StatusBadRequest, oidcErrorInvalidGrant, "User not found.")
			return
		}
		handlers.logger.Error("user lookup failed",
			zap.String("code", "oidc.token.directory_error"),
			zap.Error(err))
		handlers.rejectToken(contextGin, http.StatusInternalServerError, oidcErrorServerError, "Unable to resolve the user.")
		return
	}

	idToken, err := handlers.mintIDToken(user, grant.Nonce)
	if err != nil {
		handlers.logger.Error("id token mint failed",
			zap.String("code", "oidc.token.mint_failed"),
			zap.String("user_id", user.ID),
			zap.Error(err))
		handlers.rejectToken(contextGin, http.StatusInternalServerError, oidcErrorServerError, "Unable to issue the ID token.")
		return
	}

	handlers.metrics.Increment(MetricTokenIssued)
	handlers.logger.Info("id token issued",
		zap.String("code", "oidc.token.issued"),
		zap.String("user_id", user.ID))
	contextGin.JSON(http.StatusOK, tokenResponse{
		IDToken:   idToken,
		TokenType: tokenTypeBearer,
		ExpiresIn: AdvertisedExpiresIn,
		Scope:     issuedScope,
	})
}

func (handlers *oidcHandlers) mintIDToken(user User, nonce string) (string, error) {
	keyPair, err := handlers.keys.KeyPair()
	if err != nil {
		return "", err
	}
	claims, err := NewIDTokenClaims(handlers.configuration.IssuerURL(), handlers.configuration.Client, user, nonce, handlers.clock.Now())
	if err != nil {
		return "", err
	}
	return SignIDToken(keyPair, claims)
}

func (handlers *oidcHandlers) rejectToken(contextGin *gin.Context, status int, code string, description string) {
	handlers.metrics.Increment(MetricTokenRejected)
	handlers.logger.Info("token request rejected",
		zap.String("code", "oidc.token.rejected"),
		zap.String("error", code),
		zap.String("error_description", description))
	contextGin.AbortWithStatusJSON(status, gin.H{
		"error":             code,
		"error_description": description,
	})
}
