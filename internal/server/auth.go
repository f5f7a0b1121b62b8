package server

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/loykin/mcpgate/internal/registry"
)

// apiKeyAuth authenticates management requests. The key arrives in the
// X-API-Key header or the api_key query parameter; only its SHA-256 is
// compared against the store.
func (r *Router) apiKeyAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		if r.authDisabled {
			c.Next()
			return
		}

		secret := c.GetHeader("X-API-Key")
		if secret == "" {
			secret = c.Query("api_key")
		}
		if secret == "" {
			writeJSON(c, http.StatusUnauthorized, errorResp{Error: "api key required"})
			c.Abort()
			return
		}

		key, err := r.store.GetAPIKeyByHash(c.Request.Context(), registry.HashKey(secret))
		if err != nil || !key.Active {
			writeJSON(c, http.StatusUnauthorized, errorResp{Error: "invalid api key"})
			c.Abort()
			return
		}

		if err := r.store.TouchAPIKey(c.Request.Context(), key.ID, time.Now().UTC()); err != nil {
			r.log.Warn("touch api key", "key", key.ID, "error", err)
		}
		c.Set("apiKey", key)
		c.Next()
	}
}
