package middlewares

import (
	"net/http"

	"bitbucket.org/mmdatafocus/adops_backend/models"
	"bitbucket.org/mmdatafocus/adops_backend/utils"
	"github.com/gin-gonic/gin"
)

// RequireAnyRole lets the request through only when the caller holds one of roles.
// It must run after AuthMiddleware.
func RequireAnyRole(roles ...models.UserRole) gin.HandlerFunc {
	return func(c *gin.Context) {
		role, _ := utils.GetRoleFromContext(c.Request.Context())
		if !HasAnyRole(role, roles...) {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "role " + role + " is not allowed to perform this action"})
			return
		}
		c.Next()
	}
}

func HasAnyRole(role string, roles ...models.UserRole) bool {
	for _, r := range roles {
		if string(r) == role {
			return true
		}
	}
	return false
}
