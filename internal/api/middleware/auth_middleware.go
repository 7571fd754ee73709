package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"rxportal/internal/auth"
	"rxportal/internal/session"
)

func abortUnauthorized(c *gin.Context) {
	c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
}

// AuthMiddleware 校验会话令牌并确认远端会话记录仍然有效（退出即撤销），
// 随后将 sessionID 与 accountID 注入上下文。
func AuthMiddleware(tokens *auth.SessionService, records session.RecordStore) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		if header == "" {
			abortUnauthorized(c)
			return
		}

		parts := strings.Fields(header)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
			abortUnauthorized(c)
			return
		}

		rawToken := parts[1]
		if strings.TrimSpace(rawToken) == "" {
			abortUnauthorized(c)
			return
		}

		claims, err := tokens.ValidateToken(rawToken)
		if err != nil {
			abortUnauthorized(c)
			return
		}

		_, found, err := records.Lookup(c.Request.Context(), claims.ID)
		if err != nil || !found {
			abortUnauthorized(c)
			return
		}

		c.Set("sessionID", claims.ID)
		c.Set("accountID", claims.AccountID)
		c.Next()
	}
}
