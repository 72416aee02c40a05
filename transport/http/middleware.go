package http

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/layer-3/otpgate/core"
	"github.com/layer-3/otpgate/service"
	"go.uber.org/zap"
)

const claimsKey = "claims"

// AuthMiddleware validates the access token from the access_token cookie or the
// Authorization header and requires the token's role to match role
func AuthMiddleware(authService *service.AuthService, role string) gin.HandlerFunc {
	return func(c *gin.Context) {
		token, err := c.Cookie(accessCookie)
		if err != nil || token == "" {
			auth := c.GetHeader("Authorization")
			if !strings.HasPrefix(auth, "Bearer ") || len(auth) == len("Bearer ") {
				c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Missing access token"})
				return
			}
			token = strings.TrimPrefix(auth, "Bearer ")
		}

		claims, err := authService.ValidateAccessToken(token)
		if err != nil {
			if errors.Is(err, core.ErrExpiredToken) {
				c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Token expired"})
			} else {
				c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Invalid token"})
			}
			return
		}

		if claims.Role != role {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "Forbidden"})
			return
		}

		c.Set(claimsKey, claims)
		c.Next()
	}
}

// RequestLogger logs one line per request
func RequestLogger(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		logger.Info("http request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.FullPath()),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
			zap.String("client_ip", c.ClientIP()),
		)
	}
}
