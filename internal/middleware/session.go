package middleware

import (
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"support-chat-go/internal/model"
	"support-chat-go/pkg/token"
)

// 访客会话 ID 的请求/响应头。
const SessionHeader = "X-Session-ID"

// SessionContext 构建请求的显式身份载体并存入 Gin 上下文。
// 登录用户（Bearer token 有效）带 UserID 与角色；
// 访客使用 X-Session-ID 头，缺失时生成新的会话 ID 并回写响应头。
// 身份判定只发生在这里，下游服务不读取任何隐式请求状态。
func SessionContext(jwtManager *token.JWTManager) gin.HandlerFunc {
	return func(c *gin.Context) {
		var sess model.SessionContext

		authHeader := c.GetHeader("Authorization")
		const bearerPrefix = "Bearer "
		if strings.HasPrefix(authHeader, bearerPrefix) {
			tokenString := strings.TrimPrefix(authHeader, bearerPrefix)
			if claims, err := jwtManager.VerifyToken(tokenString); err == nil {
				userID := claims.UserID
				sess.UserID = &userID
				sess.Name = claims.Username
				sess.Admin = claims.Role == model.UserRoleAdmin
			}
		}

		sess.SessionID = c.GetHeader(SessionHeader)
		if sess.SessionID == "" {
			sess.SessionID = c.Query("session_id")
		}
		if sess.SessionID == "" && sess.UserID == nil {
			sess.SessionID = uuid.NewString()
		}
		if sess.SessionID != "" {
			c.Header(SessionHeader, sess.SessionID)
		}

		c.Set("session", sess)
		c.Next()
	}
}

// GetSession 从 Gin 上下文中取出身份载体。
func GetSession(c *gin.Context) model.SessionContext {
	if v, ok := c.Get("session"); ok {
		if sess, ok := v.(model.SessionContext); ok {
			return sess
		}
	}
	return model.SessionContext{}
}
