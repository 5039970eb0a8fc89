package authkit

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"unicode/utf8"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const (
	oidcErrorInvalidRequest          = "invalid_request"
	oidcErrorUnsupportedResponseType = "unsupported_response_type"
	oidcErrorUnauthorizedClient      = "unauthorized_client"
	oidcErrorServerError             = "server_error"

	responseTypeCode = "code"
	scopeOpenID      = "openid"

	maximumStateLength         = 1024
	maximumNonceLength         = 256
	minimumCodeChallengeLength = 43
	maximumCodeChallengeLength = 128
)

// AuthorizationRequest carries the eight OIDC authorization parameters.
// The JSON names match the query parameter names so the login page can post them back verbatim.
type AuthorizationRequest struct {
	ResponseType        string `json:"response_type"`
	ClientID            string `json:"client_id"`
	RedirectURI         string `json:"redirect_uri"`
	Scope               string `json:"scope"`
	State               string `json:"state"`
	Nonce               string `json:"nonce"`
	CodeChallenge       string `json:"code_challenge"`
	CodeChallengeMethod string `json:"code_challenge_method"`
}

func authorizationRequestFromQuery(values url.Values) AuthorizationRequest {
	return AuthorizationRequest{
		ResponseType:        values.Get("response_type"),
		ClientID:            values.Get("client_id"),
		RedirectURI:         values.Get("redirect_uri"),
		Scope:               values.Get("scope"),
		State:               values.Get("state"),
		Nonce:               values.Get("nonce"),
		CodeChallenge:       values.Get("code_challenge"),
		CodeChallengeMethod: values.Get("code_challenge_method"),
	}
}

func (request AuthorizationRequest) queryValues() url.Values {
	return url.Values{
		"response_type":         {request.ResponseType},
		"client_id":             {request.ClientID},
		"redirect_uri":          {request.RedirectURI},
		"scope":                 {request.Scope},
		"state":                 {request.State},
		"nonce":                 {request.Nonce},
		"code_challenge":        {request.CodeChallenge},
		"code_challenge_method": {request.CodeChallengeMethod},
	}
}

type authorizationError struct {
	Code        string
	Description string
}

func (violation *authorizationError) Error() string {
	return violation.Code + ": " + violation.Description
}

// validateAuthorizationParameters runs checks 2 through 8. The redirect URI must already be trusted.
func validateAuthorizationParameters(client RegisteredClient, request AuthorizationRequest) *authorizationError {
	switch {
	case request.ResponseType != responseTypeCode:
		return &authorizationError{Code: oidcErrorUnsupportedResponseType, Description: "Only response_type=code is supported."}
	case !client.MatchesClientID(request.ClientID):
		return &authorizationError{Code: oidcErrorUnauthorizedClient, Description: "Unknown client_id."}
	case !hasScope(request.Scope, scopeOpenID):
		return &authorizationError{Code: oidcErrorInvalidRequest, Description: "scope must include openid."}
	case request.State == "" || utf8.RuneCountInString(request.State) > maximumStateLength:
		return &authorizationError{Code: oidcErrorInvalidRequest, Description: "state is required and must be <= 1024 chars."}
	case request.Nonce == "" || utf8.RuneCountInString(request.Nonce) > maximumNonceLength:
		return &authorizationError{Code: oidcErrorInvalidRequest, Description: "nonce is required and must be <= 256 chars."}
	case !withinLength(request.CodeChallenge, minimumCodeChallengeLength, maximumCodeChallengeLength):
		return &authorizationError{Code: oidcErrorInvalidRequest, Description: "code_challenge is required (43-128 chars)."}
	case request.CodeChallengeMethod != CodeChallengeMethodS256:
		return &authorizationError{Code: oidcErrorInvalidRequest, Description: "code_challenge_method must be S256."}
	}
	return nil
}

func hasScope(scope string, wanted string) bool {
	for _, value := range strings.Fields(scope) {
		if value == wanted {
			return true
		}
	}
	return false
}

func withinLength(value string, minimum int, maximum int) bool {
	length := utf8.RuneCountInString(value)
	return length >= minimum && length <= maximum
}

type authorizeState int

const (
	authorizeStateNoSession authorizeState = iota
	authorizeStateHasValidSession
)

func (state authorizeState) String() string {
	if state == authorizeStateHasValidSession {
		return "has_valid_session"
	}
	return "no_session"
}

// resolveAuthorizeState is the single point where silent SSO is decided.
func (handlers *oidcHandlers) resolveAuthorizeState(request *http.Request) (authorizeState, Session) {
	session, ok := handlers.sessions.SessionFromRequest(request)
	if !ok {
		return authorizeStateNoSession, Session{}
	}
	return authorizeStateHasValidSession, session
}

func (handlers *oidcHandlers) handleAuthorize(contextGin *gin.Context) {
	request := authorizationRequestFromQuery(contextGin.Request.URL.Query())

	if !handlers.configuration.Client.TrustsRedirectURI(request.RedirectURI) {
		handlers.metrics.Increment(MetricAuthorizeRejected)
		handlers.logger.Warn("authorize rejected untrusted redirect_uri",
			zap.String("code", "oidc.authorize.invalid_redirect_uri"),
			zap.String("redirect_uri", request.RedirectURI))
		contextGin.String(http.StatusBadRequest, "Invalid redirect_uri")
		return
	}

	if violation := validateAuthorizationParameters(handlers.configuration.Client, request); violation != nil {
		handlers.metrics.Increment(MetricAuthorizeRejected)
		handlers.logger.Info("authorize request rejected",
			zap.String("code", "oidc.authorize.invalid_request"),
			zap.String("error", violation.Code),
			zap.String("error_description", violation.Description))
		handlers.redirectWithError(contextGin, request, violation)
		return
	}

	state, session := handlers.resolveAuthorizeState(contextGin.Request)
	switch state {
	case authorizeStateHasValidSession:
		handlers.issueDirect(contextGin, request, session)
	default:
		handlers.challengeForLogin(contextGin, request)
	}
}

func (handlers *oidcHandlers) issueDirect(contextGin *gin.Context, request AuthorizationRequest, session Session) {
	target, err := handlers.issueCode(contextGin.Request.Context(), request, session.UserID)
	if err != nil {
		handlers.logger.Error("authorization code issue failed",
			zap.String("code", "oidc.authorize.issue_failed"),
			zap.Error(err))
		handlers.redirectWithError(contextGin, request, &authorizationError{Code: oidcErrorServerError, Description: "Unable to issue an authorization code."})
		return
	}
	handlers.metrics.Increment(MetricAuthorizeSilentSSO)
	handlers.logger.Info("silent sso",
		zap.String("code", "oidc.authorize.silent_sso"),
		zap.String("user_id", session.UserID))
	contextGin.Redirect(http.StatusFound, target)
}

func (handlers *oidcHandlers) challengeForLogin(contextGin *gin.Context, request AuthorizationRequest) {
	target, err := buildRedirect(handlers.configuration.LoginURL(), request.queryValues())
	if err != nil {
		handlers.logger.Error("login redirect build failed",
			zap.String("code", "oidc.authorize.login_redirect_failed"),
			zap.Error(err))
		contextGin.AbortWithStatus(http.StatusInternalServerError)
		return
	}
	handlers.metrics.Increment(MetricAuthorizeLoginRedirect)
	contextGin.Redirect(http.StatusFound, target)
}

// issueCode mints a code bound to request and userID and returns the RP redirect carrying it.
func (handlers *oidcHandlers) issueCode(ctx context.Context, request AuthorizationRequest, userID string) (string, error) {
	code, err := GenerateAuthorizationCode()
	if err != nil {
		return "", err
	}
	grant := PendingGrant{
		CodeChallenge: request.CodeChallenge,
		RedirectURI:   request.RedirectURI,
		ClientID:      strings.ToLower(request.ClientID),
		Nonce:         request.Nonce,
		UserID:        userID,
	}
	if err := handlers.codes.Store(ctx, code, grant); err != nil {
		return "", fmt.Errorf("authorize.issue_code: %w", err)
	}
	return buildRedirect(request.RedirectURI, url.Values{
		"code":  {code},
		"state": {request.State},
	})
}

func (handlers *oidcHandlers) redirectWithError(contextGin *gin.Context, request AuthorizationRequest, violation *authorizationError) {
	parameters := url.Values{
		"error":             {violation.Code},
		"error_description": {violation.Description},
	}
	if request.State != "" {
		parameters.Set("state", request.State)
	}
	target, err := buildRedirect(request.RedirectURI, parameters)
	if err != nil {
		contextGin.String(http.StatusBadRequest, "Invalid redirect_uri")
		return
	}
	contextGin.Redirect(http.StatusFound, target)
}
