package api

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"laundry-sync-backend/internal/identity"
)

const identityKey = "identity"

// Authenticate resolves the bearer token to an identity and stores it on the
// context. Requests without a valid token are rejected with 401.
func Authenticate(ids identity.Provider) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := bearerToken(c)
		if token == "" {
			unauthenticated(c)
			return
		}
		id, err := ids.Resolve(c.Request.Context(), token)
		if err != nil {
			unauthenticated(c)
			return
		}
		c.Set(identityKey, id)
		c.Next()
	}
}

// bearerToken returns the token of the Authorization header, or "".
func bearerToken(c *gin.Context) string {
	token, ok := strings.CutPrefix(c.GetHeader("Authorization"), "Bearer ")
	if !ok {
		return ""
	}
	return strings.TrimSpace(token)
}

func unauthenticated(c *gin.Context) {
	c.Header("WWW-Authenticate", `Bearer realm="laundryd"`)
	c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
		"error": errUnauthenticated.Error(),
		"code":  "Unauthenticated",
		"kind":  "unauthenticated",
	})
}

// caller returns the identity set by Authenticate.
func caller(c *gin.Context) identity.Identity {
	v, _ := c.Get(identityKey)
	id, _ := v.(identity.Identity)
	return id
}
