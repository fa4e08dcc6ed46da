package cors

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
)

const (
	publicMethods = "GET, POST, OPTIONS"
	publicHeaders = "Content-Type, X-Request-ID, X-Preterm-Token"
	adminMethods  = "GET, POST, PATCH, DELETE, OPTIONS"
	adminHeaders  = "Authorization, Content-Type, X-Request-ID"
	exposed       = "Content-Disposition, X-Request-ID"
)

// Options configures New.
type Options struct {
	// AdminPrefix marks the routes only AdminOrigins may call cross-origin.
	AdminPrefix string
	// AdminOrigins lists the origins of the admin frontend. Empty means
	// admin routes accept same-origin requests only.
	AdminOrigins []string
	MaxAge       time.Duration
}

// New returns the CORS middleware. The public signup routes are embedded on
// department pages, so they answer any origin without credentials. Admin
// routes echo only the configured origins and refuse other preflights.
func New(opts Options) gin.HandlerFunc {
	admins := make(map[string]struct{}, len(opts.AdminOrigins))
	for _, origin := range opts.AdminOrigins {
		admins[normalize(origin)] = struct{}{}
	}
	adminPrefix := strings.TrimRight(opts.AdminPrefix, "/")
	maxAge := strconv.Itoa(int(opts.MaxAge / time.Second))

	return func(c *gin.Context) {
		origin := c.GetHeader("Origin")
		h := c.Writer.Header()
		h.Add("Vary", "Origin")
		preflight := c.Request.Method == http.MethodOptions && c.GetHeader("Access-Control-Request-Method") != ""

		if origin == "" {
			c.Next()
			return
		}

		if adminPrefix != "" && strings.HasPrefix(c.Request.URL.Path, adminPrefix) {
			if _, ok := admins[normalize(origin)]; !ok {
				if preflight {
					c.AbortWithStatus(http.StatusForbidden)
					return
				}
				c.Next()
				return
			}
			h.Set("Access-Control-Allow-Origin", origin)
			h.Set("Access-Control-Allow-Methods", adminMethods)
			h.Set("Access-Control-Allow-Headers", adminHeaders)
		} else {
			h.Set("Access-Control-Allow-Origin", "*")
			h.Set("Access-Control-Allow-Methods", publicMethods)
			h.Set("Access-Control-Allow-Headers", publicHeaders)
		}
		h.Set("Access-Control-Expose-Headers", exposed)

		if preflight {
			if opts.MaxAge > 0 {
				h.Set("Access-Control-Max-Age", maxAge)
			}
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}

func normalize(origin string) string {
	return strings.ToLower(strings.TrimRight(strings.TrimSpace(origin), "/"))
}
