package authkit

import (
	"net/http"
	"net/url"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// handleLogout serves the end_session_endpoint for GET and POST.
func (handlers *oidcHandlers) handleLogout(contextGin *gin.Context) {
	request := contextGin.Request
	clientID := request.FormValue("client_id")
	postLogoutRedirectURI := request.FormValue("post_logout_redirect_uri")
	state := request.FormValue("state")

	if clientID != "" && !handlers.configuration.Client.MatchesClientID(clientID) {
		contextGin.String(http.StatusBadRequest, "Invalid client_id")
		return
	}

	target := handlers.defaultLogoutTarget()
	if postLogoutRedirectURI != "" {
		if postLogoutRedirectURI != handlers.configuration.Client.PostLogoutRedirectURI {
			contextGin.String(http.StatusBadRequest, "Invalid post_logout_redirect_uri")
			return
		}
		target = postLogoutRedirectURI
	}
	if state != "" {
		withState, err := buildRedirect(target, url.Values{"state": {state}})
		if err == nil {
			target = withState
		}
	}

	http.SetCookie(contextGin.Writer, handlers.sessions.ClearedSessionCookie())
	handlers.metrics.Increment(MetricLogout)
	handlers.logger.Info("session ended",
		zap.String("code", "oidc.logout"),
		zap.String("redirect", target))
	contextGin.Redirect(http.StatusFound, target)
}

func (handlers *oidcHandlers) handleAPILogout(contextGin *gin.Context) {
	http.SetCookie(contextGin.Writer, handlers.sessions.ClearedSessionCookie())
	handlers.metrics.Increment(MetricLogout)
	contextGin.JSON(http.StatusOK, gin.H{"ok": true})
}

func (handlers *oidcHandlers) defaultLogoutTarget() string {
	if handlers.configuration.Client.PostLogoutRedirectURI != "" {
		return handlers.configuration.Client.PostLogoutRedirectURI
	}
	return handlers.configuration.LoginPath
}
