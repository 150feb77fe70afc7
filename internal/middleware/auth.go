package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// Context keys set by the auth middleware
const (
	ContextUserAddress = "user_address"
	ContextUserRole    = "user_role"
)

// AuthMiddleware bearer-token authentication middleware
type AuthMiddleware struct {
	logger *logrus.Logger
}

// NewAuthMiddleware creates a new AuthMiddleware instance
func NewAuthMiddleware(logger *logrus.Logger) *AuthMiddleware {
	return &AuthMiddleware{logger: logger}
}

// RequireAuth accepts any valid token and stores the caller identity in the
// request context
func (a *AuthMiddleware) RequireAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		claims := a.authenticate(c)
		if claims == nil {
			return
		}
		c.Set(ContextUserAddress, claims.Address)
		c.Set(ContextUserRole, claims.Role)
		c.Next()
	}
}

// RequireAdmin accepts only tokens carrying the admin role
func (a *AuthMiddleware) RequireAdmin() gin.HandlerFunc {
	return func(c *gin.Context) {
		claims := a.authenticate(c)
		if claims == nil {
			return
		}
		if claims.Role != RoleAdmin {
			a.logger.WithFields(logrus.Fields{
				"path": c.Request.URL.Path,
				"role": claims.Role,
			}).Warn("Admin auth failed - insufficient permissions")
			c.JSON(http.StatusForbidden, gin.H{
				"success": false,
				"error":   "Insufficient permissions",
				"code":    "INSUFFICIENT_PERMISSIONS",
			})
			c.Abort()
			return
		}
		c.Set(ContextUserAddress, claims.Address)
		c.Set(ContextUserRole, claims.Role)
		c.Next()
	}
}

func (a *AuthMiddleware) authenticate(c *gin.Context) *Claims {
	authHeader := c.GetHeader("Authorization")
	if authHeader == "" {
		c.JSON(http.StatusUnauthorized, gin.H{
			"success": false,
			"error":   "Authentication required",
			"code":    "MISSING_AUTH_HEADER",
		})
		c.Abort()
		return nil
	}

	if !strings.HasPrefix(authHeader, "Bearer ") {
		c.JSON(http.StatusUnauthorized, gin.H{
			"success": false,
			"error":   "Invalid authorization format, need Bearer token",
			"code":    "INVALID_AUTH_FORMAT",
		})
		c.Abort()
		return nil
	}

	tokenString := strings.TrimPrefix(authHeader, "Bearer ")
	claims, err := ValidateToken(tokenString)
	if err != nil {
		a.logger.WithFields(logrus.Fields{
			"path":  c.Request.URL.Path,
			"error": err.Error(),
		}).Warn("Auth failed - invalid token")
		c.JSON(http.StatusUnauthorized, gin.H{
			"success": false,
			"error":   "Invalid or expired token",
			"code":    "INVALID_TOKEN",
		})
		c.Abort()
		return nil
	}
	return claims
}
