package authkit

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

const sessionContextKey = "auth_session"

// RequireSession rejects requests without a verifying session cookie and stores the Session on the context.
func RequireSession(sessions *SessionCodec) gin.HandlerFunc {
	return func(contextGin *gin.Context) {
		session, ok := sessions.SessionFromRequest(contextGin.Request)
		if !ok {
			contextGin.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "not_authenticated"})
			return
		}
		contextGin.Set(sessionContextKey, session)
		contextGin.Next()
	}
}

// SessionFromContext returns the Session stored by RequireSession.
func SessionFromContext(contextGin *gin.Context) (Session, bool) {
	value, exists := contextGin.Get(sessionContextKey)
	if !exists {
		return Session{}, false
	}
	session, ok := value.(Session)
	return session, ok
}
