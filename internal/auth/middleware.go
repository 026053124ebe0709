// Package auth guards moderator endpoints.
//
// TiltCheck users are identified by the :userId path parameter (the Discord
// bot or dashboard vouches for them), so the only credential the API
// checks is the shared admin secret for report review and deactivation.
package auth

import (
	"crypto/subtle"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/mbd888/tiltcheck/internal/apperr"
	"github.com/mbd888/tiltcheck/internal/logging"
)

// HeaderAdminSecret carries the admin secret.
const HeaderAdminSecret = "X-Admin-Secret"

// RequireAdmin checks the X-Admin-Secret header against secret. With an
// empty secret admin routes are open only when allowInsecure is set
// (development); otherwise they are disabled.
func RequireAdmin(secret string, allowInsecure bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		if secret == "" {
			if !allowInsecure {
				c.AbortWithStatusJSON(http.StatusForbidden, apperr.Response{
					Error:   "admin_disabled",
					Message: "Admin endpoints are disabled",
					Hint:    "Set ADMIN_SECRET to enable moderation",
				})
				return
			}
			c.Next()
			return
		}

		got := c.GetHeader(HeaderAdminSecret)
		if got == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, apperr.Response{
				Error:   "unauthorized",
				Message: "Missing " + HeaderAdminSecret + " header",
			})
			return
		}
		if subtle.ConstantTimeCompare([]byte(got), []byte(secret)) != 1 {
			logging.L(c.Request.Context()).Warn("admin secret mismatch",
				"path", c.FullPath(), "client_ip", c.ClientIP())
			c.AbortWithStatusJSON(http.StatusForbidden, apperr.Response{
				Error:   "forbidden",
				Message: "Invalid admin secret",
			})
			return
		}
		c.Next()
	}
}
