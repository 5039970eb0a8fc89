package web

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/tyemirov/oidcidp/internal/authkit"
	"go.uber.org/zap"
)

// PreviewNonce is stamped into every preview token.
const PreviewNonce = "preview-nonce-not-for-production"

const previewNote = "Development preview. This token was minted with a fixed nonce and must not be accepted by a relying party."

var errMalformedPreviewToken = errors.New("token_preview.malformed")

// TokenPreview lets developers inspect the ID token the signed-in user would receive.
type TokenPreview struct {
	Configuration authkit.ServerConfig
	Keys          *authkit.KeyProvider
	Users         authkit.UserDirectory
	Clock         authkit.Clock
	Logger        *zap.Logger
}

// Handle must run behind authkit.RequireSession.
func (preview TokenPreview) Handle(contextGin *gin.Context) {
	logger := preview.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	clock := preview.Clock
	if clock == nil {
		clock = authkit.NewSystemClock()
	}

	session, ok := authkit.SessionFromContext(contextGin)
	if !ok {
		contextGin.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "not_authenticated"})
		return
	}
	user, err := preview.Users.FindUserByID(contextGin.Request.Context(), session.UserID)
	if err != nil {
		if errors.Is(err, authkit.ErrUserNotFound) {
			contextGin.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "token_preview.user_missing"})
			return
		}
		logger.Error("token preview lookup failed",
			zap.String("code", "token_preview.lookup_error"),
			zap.Error(err))
		contextGin.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "token_preview.lookup_error"})
		return
	}

	keyPair, err := preview.Keys.KeyPair()
	if err != nil {
		logger.Error("token preview key unavailable",
			zap.String("code", "token_preview.key_unavailable"),
			zap.Error(err))
		contextGin.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "token_preview.key_unavailable"})
		return
	}
	claims, err := authkit.NewIDTokenClaims(preview.Configuration.IssuerURL(), preview.Configuration.Client, user, PreviewNonce, clock.Now())
	if err != nil {
		logger.Error("token preview claims failed",
			zap.String("code", "token_preview.claims_error"),
			zap.Error(err))
		contextGin.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "token_preview.claims_error"})
		return
	}
	signed, err := authkit.SignIDToken(keyPair, claims)
	if err != nil {
		logger.Error("token preview signing failed",
			zap.String("code", "token_preview.sign_error"),
			zap.Error(err))
		contextGin.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "token_preview.sign_error"})
		return
	}

	header, payload, err := decodeTokenSegments(signed)
	if err != nil {
		contextGin.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "token_preview.decode_error"})
		return
	}
	var profiles any
	if err := json.Unmarshal([]byte(claims.UserProfiles), &profiles); err == nil {
		payload["userprofiles"] = profiles
	}

	contextGin.Header("Cache-Control", "no-store")
	contextGin.JSON(http.StatusOK, gin.H{
		"jwt":             signed,
		"header":          header,
		"payload":         payload,
		"userprofilesRaw": claims.UserProfiles,
		"note":            previewNote,
	})
}

func decodeTokenSegments(token string) (map[string]any, map[string]any, error) {
	segments := strings.Split(token, ".")
	if len(segments) != 3 {
		return nil, nil, errMalformedPreviewToken
	}
	header, err := decodeSegment(segments[0])
	if err != nil {
		return nil, nil, err
	}
	payload, err := decodeSegment(segments[1])
	if err != nil {
		return nil, nil, err
	}
	return header, payload, nil
}

func decodeSegment(segment string) (map[string]any, error) {
	raw, err := base64.RawURLEncoding.DecodeString(segment)
	if err != nil {
		return nil, fmt.Errorf("token_preview.decode: %w", err)
	}
	var decoded map[string]any
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return nil, fmt.Errorf("token_preview.decode: %w", err)
	}
	return decoded, nil
}
