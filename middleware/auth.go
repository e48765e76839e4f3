package middleware

import (
	"net/http"
	"strings"

	"github.com/cumulusfs/cumulus/utils"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// JWTAuth 中间件：提取 Bearer token -> 本地校验 -> 注入 user_id / role
func JWTAuth(secret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		if header == "" {
			unauthorized(c, "missing Authorization header")
			return
		}
		token := header
		if after, ok := strings.CutPrefix(header, "Bearer "); ok {
			token = after
		}
		if token == "" {
			unauthorized(c, "empty bearer token")
			return
		}
		claims, err := utils.ParseToken(token, secret)
		if err != nil {
			unauthorized(c, "invalid token")
			return
		}
		userID, err := uuid.Parse(claims.UserID)
		if err != nil {
			unauthorized(c, "invalid token subject")
			return
		}
		c.Set("user_id", userID)
		c.Set("role", claims.Role)
		c.Next()
	}
}

// ActorID 取认证中间件注入的用户 ID
func ActorID(c *gin.Context) (uuid.UUID, bool) {
	v, exists := c.Get("user_id")
	if !exists {
		return uuid.Nil, false
	}
	id, ok := v.(uuid.UUID)
	return id, ok
}

func unauthorized(c *gin.Context, msg string) {
	c.JSON(http.StatusUnauthorized, gin.H{"error": msg})
	c.Abort()
}
