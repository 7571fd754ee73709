package api

import (
	"log/slog"

	"github.com/gin-gonic/gin"

	"rxportal/internal/api/middleware"
)

func sessionIDFromContext(c *gin.Context) (string, bool) {
	value, exists := c.Get("sessionID")
	if !exists {
		return "", false
	}
	id, ok := value.(string)
	if !ok || id == "" {
		return "", false
	}
	return id, true
}

func accountIDFromContext(c *gin.Context) (uint, bool) {
	value, exists := c.Get("accountID")
	if !exists {
		return 0, false
	}

	switch v := value.(type) {
	case uint:
		return v, true
	case int:
		if v < 0 {
			return 0, false
		}
		return uint(v), true
	case uint64:
		return uint(v), true
	case int64:
		if v < 0 {
			return 0, false
		}
		return uint(v), true
	default:
		return 0, false
	}
}

func loggerFromContext(c *gin.Context, fallback *slog.Logger) *slog.Logger {
	if logger := middleware.LoggerFromContext(c); logger != nil {
		return logger
	}
	if fallback != nil {
		return fallback
	}
	return slog.Default()
}
