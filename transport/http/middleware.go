package http

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/layer-3/passport/core"
	"github.com/layer-3/passport/service"
)

// AuthMiddleware creates middleware that validates access tokens
func AuthMiddleware(authService *service.AuthService) gin.HandlerFunc {
	return func(c *gin.Context) {
		auth := c.GetHeader("Authorization")

		// Check if the Authorization header is present and in correct format
		token := strings.TrimPrefix(auth, "Bearer ")
		if token == auth || token == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Invalid authorization header"})
			return
		}

		claims, err := authService.Authenticate(c.Request.Context(), token)
		if err != nil {
			switch {
			case errors.Is(err, core.ErrTokenExpired):
				c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Token expired"})
			case errors.Is(err, core.ErrSessionNotFound):
				c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Session has been invalidated"})
			case errors.Is(err, core.ErrInvalidToken):
				c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Invalid token"})
			default:
				_ = c.Error(err)
				c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "Failed to authenticate"})
			}
			return
		}

		c.Set(ctxUserID, claims.UserID)
		c.Set(ctxSessionID, claims.SessionID)
		c.Set(ctxClaims, claims)

		c.Next()
	}
}
