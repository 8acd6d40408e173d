package middleware

import (
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/calebrow/notifyd/pkg/errors"
	"github.com/calebrow/notifyd/pkg/response"
)

const (
	// CtxUserIDKey holds the caller's user id in the gin context.
	CtxUserIDKey = "userID"

	// UserIDHeader carries the authenticated caller identity. Authentication
	// itself happens at the gateway in front of this service.
	UserIDHeader = "X-User-ID"
)

// Identity requires an authenticated caller identity on the request and
// propagates it into the request context.
func Identity() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := strings.TrimSpace(c.GetHeader(UserIDHeader))
		if userID == "" {
			response.Error(c, errors.ErrUnauthorized)
			c.Abort()
			return
		}

		c.Set(CtxUserIDKey, userID)
		c.Next()
	}
}

// UserID returns the caller identity stored by Identity, if any.
func UserID(c *gin.Context) (string, bool) {
	value, ok := c.Get(CtxUserIDKey)
	if !ok {
		return "", false
	}
	id, ok := value.(string)
	return id, ok && id != ""
}
