package middleware

import (
	"github.com/gin-gonic/gin"

	"authgate/internal/apperr"
	"authgate/internal/models"
)

// RequireRoles admits callers whose token carried one of roles. It must run
// after AccessGuard.
func RequireRoles(roles ...models.UserRole) gin.HandlerFunc {
	roleSet := make(map[models.UserRole]struct{}, len(roles))
	for _, role := range roles {
		roleSet[role] = struct{}{}
	}

	return func(c *gin.Context) {
		ident, ok := IdentityFrom(c)
		if !ok {
			AbortWithError(c, apperr.ErrMissingToken)
			return
		}

		if _, ok := roleSet[ident.Role]; !ok {
			AbortWithError(c, apperr.ErrForbidden)
			return
		}

		c.Next()
	}
}
