package middleware

import (
	"context"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/weiawesome/wes-chat/pkg/log"
	"github.com/weiawesome/wes-chat/pkg/response"
)

// Gin context keys set by RequireAuth. They match the log field names so
// the gin logging middleware picks them up.
const (
	UserIDKey     = log.FieldUserID
	HandleKey     = log.FieldHandle
	AuthHeaderKey = "Authorization"
	BearerPrefix  = "Bearer "
)

// VerifyFunc resolves a bearer token to the caller's user id and handle.
type VerifyFunc func(ctx context.Context, token string) (userID, handle string, err error)

// BearerToken returns the token of an "Authorization: Bearer" header value,
// or "" when the header is absent or uses another scheme.
func BearerToken(header string) string {
	if len(header) < len(BearerPrefix) || !strings.EqualFold(header[:len(BearerPrefix)], BearerPrefix) {
		return ""
	}
	return strings.TrimSpace(header[len(BearerPrefix):])
}

// RequireAuth returns a Gin middleware that rejects requests without a
// valid bearer token.
func RequireAuth(verify VerifyFunc) gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader(AuthHeaderKey)
		if authHeader == "" {
			response.Unauthorized(c, "missing authorization header")
			return
		}

		token := BearerToken(authHeader)
		if token == "" {
			response.Unauthorized(c, "invalid authorization format")
			return
		}

		userID, handle, err := verify(c.Request.Context(), token)
		if err != nil {
			response.Unauthorized(c, "invalid or expired token")
			return
		}

		c.Set(UserIDKey, userID)
		c.Set(HandleKey, handle)

		c.Next()
	}
}

// GetUserID extracts user ID from Gin context.
func GetUserID(c *gin.Context) string {
	return c.GetString(UserIDKey)
}

// GetHandle extracts the display handle from Gin context.
func GetHandle(c *gin.Context) string {
	return c.GetString(HandleKey)
}
