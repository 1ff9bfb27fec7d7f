package server

import (
	"crypto/subtle"
	"strings"

	"github.com/gin-gonic/gin"
)

const headerAdminKey = "X-Admin-Key"

// AdminKeyRequired guards operator routes with the shared ADMIN_API_KEY.
// The routes answer 404 when no key is configured.
func (s *Server) AdminKeyRequired() gin.HandlerFunc {
	expected := []byte(strings.TrimSpace(s.cfg.AdminAPIKey))
	return func(c *gin.Context) {
		if len(expected) == 0 {
			AbortWithError(c, ErrNotFound)
			return
		}

		provided := []byte(strings.TrimSpace(c.GetHeader(headerAdminKey)))
		if subtle.ConstantTimeCompare(provided, expected) != 1 {
			AbortWithError(c, ErrUnauthorized)
			return
		}

		c.Next()
	}
}
