package server

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const (
	// UserHeader carries the authenticated user's id, set by the fronting
	// identity proxy
	UserHeader = "X-User-ID"

	userContextKey = "user_id"
)

// UserMiddleware resolves the calling user from UserHeader.
func (h *Handlers) UserMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		raw := c.GetHeader(UserHeader)
		userID, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || userID < 1 {
			h.logger.Warn("Missing or invalid user header", zap.String("value", raw))
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}
		c.Set(userContextKey, userID)
		c.Next()
	}
}

// LoggerMiddleware logs one line per request.
func (h *Handlers) LoggerMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		latency := time.Since(start)
		h.logger.Info("request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", latency),
			zap.String("ip", c.ClientIP()),
		)
	}
}

// GetUserFromContext returns the user id set by UserMiddleware
func GetUserFromContext(c *gin.Context) (int64, bool) {
	v, exists := c.Get(userContextKey)
	if !exists {
		return 0, false
	}
	userID, ok := v.(int64)
	return userID, ok
}
