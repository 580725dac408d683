package middleware

import (
	"net/http"
	"strings"

	"harbor-chat/internal/services"
	"harbor-chat/internal/transport/httpdto"

	"github.com/gin-gonic/gin"
)

const IdentityKey = "identity"

// AuthMiddleware guards the REST fallback routes with the same bearer
// credential the socket handshake uses.
func AuthMiddleware(verifier services.IdentityVerifier) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := extractBearer(c)
		identity, err := verifier.Verify(token)
		if err != nil {
			c.JSON(http.StatusUnauthorized, httpdto.NewErrorResponse("unauthorized", "UNAUTHORIZED"))
			c.Abort()
			return
		}

		c.Set(IdentityKey, identity)
		c.Next()
	}
}

func extractBearer(c *gin.Context) string {
	value := c.GetHeader("Authorization")
	parts := strings.SplitN(value, " ", 2)
	if len(parts) != 2 {
		return ""
	}
	if !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}
