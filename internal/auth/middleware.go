package auth

import (
	"github.com/gin-gonic/gin"

	"github.com/weiawesome/wes-io-talk/pkg/log"
	"github.com/weiawesome/wes-io-talk/pkg/response"
)

// RequireAuth returns a Gin middleware that rejects unauthenticated requests
// and stores the identity in the context.
func RequireAuth(a Authenticator) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, err := a.Authenticate(c.Request)
		if err != nil {
			response.Unauthorized(c, err.Error())
			return
		}

		c.Set(log.FieldUserID, id.UserID)
		c.Set(log.FieldUsername, id.Username)
		c.Next()
	}
}

// GetUserID extracts the user ID set by RequireAuth.
func GetUserID(c *gin.Context) string {
	return c.GetString(log.FieldUserID)
}

// GetUsername extracts the username set by RequireAuth.
func GetUsername(c *gin.Context) string {
	return c.GetString(log.FieldUsername)
}
