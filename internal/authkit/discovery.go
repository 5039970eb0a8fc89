package authkit

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// DiscoveryDocument is served at /.well-known/openid-configuration.
type DiscoveryDocument struct {
	Issuer                            string   `json:"issuer"`
	AuthorizationEndpoint             string   `json:"authorization_endpoint"`
	TokenEndpoint                     string   `json:"token_endpoint"`
	JWKSURI                           string   `json:"jwks_uri"`
	EndSessionEndpoint                string   `json:"end_session_endpoint"`
	ResponseTypesSupported            []string `json:"response_types_supported"`
	GrantTypesSupported               []string `json:"grant_types_supported"`
	SubjectTypesSupported             []string `json:"subject_types_supported"`
	IDTokenSigningAlgValuesSupported  []string `json:"id_token_signing_alg_values_supported"`
	ScopesSupported                   []string `json:"scopes_supported"`
	TokenEndpointAuthMethodsSupported []string `json:"token_endpoint_auth_methods_supported"`
	CodeChallengeMethodsSupported     []string `json:"code_challenge_methods_supported"`
	ClaimsSupported                   []string `json:"claims_supported"`
}

// NewDiscoveryDocument describes the provider rooted at the configured issuer.
func NewDiscoveryDocument(configuration ServerConfig) DiscoveryDocument {
	return DiscoveryDocument{
		Issuer:                            configuration.IssuerURL(),
		AuthorizationEndpoint:             configuration.EndpointURL("/authorize"),
		TokenEndpoint:                     configuration.EndpointURL("/token"),
		JWKSURI:                           configuration.EndpointURL("/.well-known/keys"),
		EndSessionEndpoint:                configuration.EndpointURL("/logout"),
		ResponseTypesSupported:            []string{responseTypeCode},
		GrantTypesSupported:               []string{grantTypeAuthorizationCode},
		SubjectTypesSupported:             []string{"public"},
		IDTokenSigningAlgValuesSupported:  []string{SigningAlgorithm},
		ScopesSupported:                   []string{"openid", "profile", "email"},
		TokenEndpointAuthMethodsSupported: []string{"none"},
		CodeChallengeMethodsSupported:     []string{CodeChallengeMethodS256},
		ClaimsSupported:                   []string{"iss", "aud", "sub", "unique_name", "email", "nonce", "iat", "exp", "userprofiles"},
	}
}

func (handlers *oidcHandlers) handleDiscovery(contextGin *gin.Context) {
	contextGin.Header("Cache-Control", "public, max-age=3600")
	contextGin.JSON(http.StatusOK, NewDiscoveryDocument(handlers.configuration))
}

func (handlers *oidcHandlers) handleJWKS(contextGin *gin.Context) {
	keyPair, err := handlers.keys.KeyPair()
	if err != nil {
		handlers.logger.Error("signing key unavailable",
			zap.String("code", "oidc.jwks.key_unavailable"),
			zap.Error(err))
		contextGin.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "server_error"})
		return
	}
	contextGin.Header("Cache-Control", "public, max-age=3600")
	contextGin.JSON(http.StatusOK, keyPair.JWKS())
}
