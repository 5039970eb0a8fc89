package web

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/tyemirov/oidcidp/internal/authkit"
	"go.uber.org/zap"
)

// HandleProfile resolves the signed-in user's directory profile. It must run behind authkit.RequireSession.
func HandleProfile(logger *zap.Logger, users authkit.UserDirectory) gin.HandlerFunc {
	if logger == nil {
		logger = zap.NewNop()
	}
	if users == nil {
		panic("user directory is required")
	}

	return func(contextGin *gin.Context) {
		session, ok := authkit.SessionFromContext(contextGin)
		if !ok {
			logger.Warn("missing session on context",
				zap.String("code", "api.me.missing_session"))
			contextGin.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "not_authenticated"})
			return
		}

		user, err := users.FindUserByID(contextGin.Request.Context(), session.UserID)
		if err != nil {
			if errors.Is(err, authkit.ErrUserNotFound) {
				logger.Warn("session user missing from directory",
					zap.String("code", "api.me.user_missing"),
					zap.String("user_id", session.UserID))
				contextGin.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "not_authenticated"})
				return
			}
			logger.Error("user lookup error",
				zap.String("code", "api.me.lookup_error"),
				zap.String("user_id", session.UserID),
				zap.Error(err))
			contextGin.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "api.me.lookup_error"})
			return
		}

		contextGin.Header("Cache-Control", "no-store")
		contextGin.JSON(http.StatusOK, gin.H{
			"userId":    user.ID,
			"email":     user.Email,
			"profile":   json.RawMessage(user.Profile),
			"expiresAt": session.ExpiresAt,
		})
	}
}
