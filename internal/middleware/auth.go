package middleware

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/sueda-gl/bookspire-backend-public/internal/platform/logger"
	"github.com/sueda-gl/bookspire-backend-public/internal/services"
)

const identityKey = "identity"

type AuthMiddleware struct {
	log         *logger.Logger
	authService services.AuthService
}

func NewAuthMiddleware(log *logger.Logger, authService services.AuthService) *AuthMiddleware {
	return &AuthMiddleware{log: log.With("middleware", "AuthMiddleware"), authService: authService}
}

func (am *AuthMiddleware) RequireAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		id, err := am.authService.Authenticate(c.GetHeader("Authorization"))
		if err != nil {
			am.log.Warn("Rejected request", "path", c.FullPath(), "error", err)
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}
		c.Set(identityKey, id)
		c.Next()
	}
}

// IdentityFrom pulls the admitted identity out of the request context.
func IdentityFrom(c *gin.Context) (services.Identity, error) {
	v, ok := c.Get(identityKey)
	if !ok {
		return services.Identity{}, fmt.Errorf("no identity in request context")
	}
	id, ok := v.(services.Identity)
	if !ok {
		return services.Identity{}, fmt.Errorf("malformed identity in request context")
	}
	return id, nil
}
