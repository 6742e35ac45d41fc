package handlers

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/FamiliaDusu/Ogaac-test/internal/apperr"
	"github.com/FamiliaDusu/Ogaac-test/internal/audit"
	"github.com/FamiliaDusu/Ogaac-test/pkg/api"
	"github.com/FamiliaDusu/Ogaac-test/pkg/auth"
	"github.com/FamiliaDusu/Ogaac-test/pkg/middleware"
)

const auditMetaKey = "audit_meta"

// setAudit attaches the audit action and metadata for the current
// request. Secrets in fields are redacted by the sink.
func setAudit(c *gin.Context, action string, fields map[string]interface{}) {
	meta := map[string]interface{}{"action": action}
	for k, v := range fields {
		meta[k] = v
	}
	c.Set(auditMetaKey, meta)
}

// Authenticate resolves the session from the bearer header or the
// session cookie and loads the account's current role and scope.
func (h *Handlers) Authenticate() gin.HandlerFunc {
	return func(c *gin.Context) {
		token := bearerToken(c)
		if token == "" {
			if cookie, err := c.Cookie(auth.CookieName); err == nil {
				token = cookie
			}
		}
		if token == "" {
			h.unauthorized(c, "authentication required")
			return
		}

		claims, err := auth.ValidateToken(token, h.secret)
		if err != nil {
			h.unauthorized(c, "invalid or expired session")
			return
		}

		u, err := h.users.Get(claims.Username)
		switch {
		case err == nil:
			if !u.Enabled {
				h.unauthorized(c, "account disabled")
				return
			}
			c.Set(ctxUsername, u.Username)
			c.Set(ctxRole, u.Role)
			c.Set(ctxScope, u.Scope)
		case apperr.KindOf(err) == apperr.NotFound && claims.Username == h.bootstrap.Username && h.bootstrap.Username != "":
			c.Set(ctxUsername, claims.Username)
			c.Set(ctxRole, claims.Role)
		default:
			h.unauthorized(c, "invalid or expired session")
			return
		}

		c.Next()
	}
}

// RequireAdmin rejects non-admin sessions.
func (h *Handlers) RequireAdmin() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !currentSession(c).isAdmin() {
			c.AbortWithStatusJSON(http.StatusForbidden,
				api.Error(string(apperr.AdminOnly), "admin role required", middleware.TraceID(c)))
			return
		}
		c.Next()
	}
}

// AuditTrail journals authenticated requests after the response is
// written. Anonymous requests and audit reads are never journaled.
func (h *Handlers) AuditTrail() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		username := c.GetString(ctxUsername)
		if username == "" || h.audit == nil {
			return
		}
		if strings.HasPrefix(c.Request.URL.Path, "/api/admin/audit") {
			return
		}

		evt := audit.Event{
			User:       username,
			Role:       c.GetString(ctxRole),
			Method:     c.Request.Method,
			Path:       c.Request.URL.Path,
			Status:     c.Writer.Status(),
			IP:         c.ClientIP(),
			UserAgent:  c.Request.UserAgent(),
			DurationMs: float64(time.Since(start).Microseconds()) / 1000,
		}
		if v, ok := c.Get(auditMetaKey); ok {
			evt.Meta, _ = v.(map[string]interface{})
		}
		h.audit.Record(evt)
	}
}

func (h *Handlers) unauthorized(c *gin.Context, message string) {
	c.AbortWithStatusJSON(http.StatusUnauthorized,
		api.Error(string(apperr.AuthDenied), message, middleware.TraceID(c)))
}

func bearerToken(c *gin.Context) string {
	header := c.GetHeader("Authorization")
	if strings.HasPrefix(header, "Bearer ") {
		return strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
	}
	return ""
}
