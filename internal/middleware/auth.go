package middleware

import (
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/jwalitptl/moderation-engine/internal/handler"
	"github.com/jwalitptl/moderation-engine/pkg/auth"
	"github.com/jwalitptl/moderation-engine/pkg/errors"
)

type AuthMiddleware struct {
	jwt auth.JWTService
}

func NewAuthMiddleware(jwt auth.JWTService) *AuthMiddleware {
	return &AuthMiddleware{jwt: jwt}
}

// Authenticate verifies the bearer token and stores the actor in the context.
// EventSource clients cannot set headers, so an access_token query parameter
// is accepted as well.
func (m *AuthMiddleware) Authenticate() gin.HandlerFunc {
	return func(c *gin.Context) {
		token := c.Query("access_token")
		if authHeader := c.GetHeader("Authorization"); authHeader != "" {
			parts := strings.Split(authHeader, " ")
			if len(parts) != 2 || parts[0] != "Bearer" {
				handler.Error(c, errors.Unauthorized(nil))
				return
			}
			token = parts[1]
		}
		if token == "" {
			handler.Error(c, errors.Unauthorized(nil))
			return
		}

		actor, err := m.jwt.ValidateToken(token)
		if err != nil {
			handler.Error(c, errors.Unauthorized(err))
			return
		}

		handler.SetActor(c, actor)
		c.Next()
	}
}

// RequireRole lets only actors holding role through.
func (m *AuthMiddleware) RequireRole(role string) gin.HandlerFunc {
	return func(c *gin.Context) {
		actor, ok := handler.RequireActor(c)
		if !ok {
			return
		}
		if actor.Role != role {
			handler.Error(c, errors.Forbidden("permission denied"))
			return
		}
		c.Next()
	}
}
