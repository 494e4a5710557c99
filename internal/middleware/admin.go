package middleware

import (
	"log"
	"net/http"
	"os"
	"strings"

	"github.com/gin-gonic/gin"
)

// AdminMiddleware guards administrative endpoints with a shared API key.
type AdminMiddleware struct {
	apiKey string
}

// NewAdminMiddleware reads the admin key from ADMIN_API_KEY. When the
// variable is unset the guard is disabled and admin endpoints are open,
// which is intended for local development only.
func NewAdminMiddleware() *AdminMiddleware {
	apiKey := os.Getenv("ADMIN_API_KEY")
	if apiKey == "" {
		log.Printf("ADMIN_API_KEY not set, admin endpoints are unprotected")
	}
	return &AdminMiddleware{apiKey: apiKey}
}

// RequireAdminAuth validates the admin API key from the Authorization
// header (Bearer token) or the X-API-Key header.
func (am *AdminMiddleware) RequireAdminAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		if am.apiKey == "" {
			c.Next()
			return
		}

		authHeader := c.GetHeader("Authorization")
		if authHeader != "" {
			tokenParts := strings.Split(authHeader, " ")
			if len(tokenParts) == 2 && tokenParts[0] == "Bearer" && tokenParts[1] == am.apiKey {
				c.Next()
				return
			}
		}

		if c.GetHeader("X-API-Key") == am.apiKey {
			c.Next()
			return
		}

		c.JSON(http.StatusUnauthorized, gin.H{
			"error":   "Unauthorized",
			"message": "Valid admin API key required for this endpoint",
		})
		c.Abort()
	}
}

// ValidateAdminKey reports whether the given key matches the configured one.
func (am *AdminMiddleware) ValidateAdminKey(key string) bool {
	return am.apiKey != "" && key == am.apiKey
}
