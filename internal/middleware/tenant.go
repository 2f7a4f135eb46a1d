package middleware

import (
	"net/http"
	"strings"

	"hndld/internal/config"

	"github.com/gin-gonic/gin"
)

const (
	// TenantHeader carries the household the request acts on.
	TenantHeader = "X-Tenant-ID"
	// UserHeader optionally identifies the acting member.
	UserHeader = "X-User-ID"

	tenantKey = "tenant_id"
	userKey   = "user_id"
)

// TenantMiddleware requires X-Tenant-ID and stores it (and X-User-ID when present) on the context.
func TenantMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		tenantID := strings.TrimSpace(c.GetHeader(TenantHeader))
		if tenantID == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error":   "Unauthorized",
				"message": "missing " + TenantHeader + " header",
			})
			return
		}
		c.Set(tenantKey, tenantID)
		if userID := strings.TrimSpace(c.GetHeader(UserHeader)); userID != "" {
			c.Set(userKey, userID)
		}
		c.Next()
	}
}

// TenantID returns the tenant stored by TenantMiddleware.
func TenantID(c *gin.Context) string {
	return c.GetString(tenantKey)
}

// UserID returns the acting member, or "" when the caller did not say.
func UserID(c *gin.Context) string {
	return c.GetString(userKey)
}

// CORSMiddleware CORS 中间件
func CORSMiddleware(cfg *config.Config) gin.HandlerFunc {
	allowedOrigins := "*"
	allowedMethods := "GET, POST, PUT, DELETE, OPTIONS"
	allowedHeaders := "Origin, Content-Type, Content-Length, Accept-Encoding, Authorization, " + TenantHeader + ", " + UserHeader
	if cfg != nil && cfg.Security.CORS.Enabled {
		if len(cfg.Security.CORS.AllowedOrigins) > 0 {
			allowedOrigins = strings.Join(cfg.Security.CORS.AllowedOrigins, ", ")
		}
		if len(cfg.Security.CORS.AllowedMethods) > 0 {
			allowedMethods = strings.Join(cfg.Security.CORS.AllowedMethods, ", ")
		}
		if len(cfg.Security.CORS.AllowedHeaders) > 0 {
			allowedHeaders = strings.Join(cfg.Security.CORS.AllowedHeaders, ", ")
		}
	}
	return func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", allowedOrigins)
		c.Header("Access-Control-Allow-Methods", allowedMethods)
		c.Header("Access-Control-Allow-Headers", allowedHeaders)
		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}
