package api

import "github.com/gin-gonic/gin"

const (
	contextUserIDKey = "userID"
	contextRoleKey   = "userRole"
)

func userIDFromContext(c *gin.Context) (uint, bool) {
	value, ok := c.Get(contextUserIDKey)
	if !ok {
		return 0, false
	}
	id, ok := value.(uint)
	return id, ok
}

func roleFromContext(c *gin.Context) string {
	if value, ok := c.Get(contextRoleKey); ok {
		if role, ok := value.(string); ok {
			return role
		}
	}
	return ""
}
