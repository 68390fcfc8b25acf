package auth

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

// RequireRole enforces bearer JWT tokens signed with HS256 and an allowed
// role. Admin always passes.
func RequireRole(signingKey, issuer string, roles ...ActorKind) gin.HandlerFunc {
	allowed := make(map[ActorKind]bool, len(roles)+1)
	allowed[ActorAdmin] = true
	for _, r := range roles {
		allowed[r] = true
	}
	return func(c *gin.Context) {
		authz := c.GetHeader("Authorization")
		if authz == "" || !strings.HasPrefix(strings.ToLower(authz), "bearer ") {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing bearer token"})
			return
		}
		tokenStr := strings.TrimSpace(authz[len("bearer "):])
		claims, err := Parse(tokenStr, signingKey, issuer)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}
		actor := claims.Actor()
		if !allowed[actor.Kind] {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "insufficient role"})
			return
		}
		c.Set("actor", actor)
		c.Next()
	}
}

// ActorFrom extracts the authenticated actor from the gin context.
func ActorFrom(c *gin.Context) Actor {
	v, ok := c.Get("actor")
	if !ok {
		return Actor{}
	}
	actor, _ := v.(Actor)
	return actor
}
