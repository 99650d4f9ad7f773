package middleware

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"authgate/internal/config"
)

const (
	corsAllowMethods = "GET, POST, PATCH, DELETE, OPTIONS"
	corsAllowHeaders = "Authorization, Content-Type, " + requestIDHeader
)

// CORS answers browser requests from the configured origins. Preflights from
// other origins get 403; simple requests from them pass without CORS headers
// and the browser blocks the response. No origins configured means any origin.
func CORS(cfg config.CORSConfig) gin.HandlerFunc {
	allowed := originMatcher(cfg.Origins)
	maxAge := strconv.FormatInt(int64(cfg.MaxAge/time.Second), 10)

	return func(c *gin.Context) {
		origin := c.Request.Header.Get("Origin")
		if origin == "" {
			c.Next()
			return
		}

		h := c.Writer.Header()
		h.Add("Vary", "Origin")
		preflight := c.Request.Method == http.MethodOptions &&
			c.Request.Header.Get("Access-Control-Request-Method") != ""

		if !allowed(origin) {
			if preflight {
				c.AbortWithStatus(http.StatusForbidden)
				return
			}
			c.Next()
			return
		}

		h.Set("Access-Control-Allow-Origin", origin)
		if cfg.Credentials {
			h.Set("Access-Control-Allow-Credentials", "true")
		}

		if !preflight {
			h.Set("Access-Control-Expose-Headers", requestIDHeader)
			c.Next()
			return
		}

		h.Add("Vary", "Access-Control-Request-Method")
		h.Add("Vary", "Access-Control-Request-Headers")
		h.Set("Access-Control-Allow-Methods", corsAllowMethods)
		h.Set("Access-Control-Allow-Headers", corsAllowHeaders)
		if cfg.MaxAge > 0 {
			h.Set("Access-Control-Max-Age", maxAge)
		}
		c.AbortWithStatus(http.StatusNoContent)
	}
}

type wildcardOrigin struct {
	prefix string // scheme://
	suffix string // .example.com[:port]
}

func originMatcher(origins []string) func(string) bool {
	if len(origins) == 0 {
		return func(string) bool { return true }
	}

	exact := make(map[string]struct{}, len(origins))
	var wildcards []wildcardOrigin
	for _, origin := range origins {
		origin = strings.TrimSuffix(strings.TrimSpace(origin), "/")
		if scheme, host, ok := strings.Cut(origin, "://*."); ok {
			wildcards = append(wildcards, wildcardOrigin{prefix: scheme + "://", suffix: "." + host})
			continue
		}
		exact[origin] = struct{}{}
	}

	return func(origin string) bool {
		if _, ok := exact[origin]; ok {
			return true
		}
		for _, w := range wildcards {
			if len(origin) > len(w.prefix)+len(w.suffix) &&
				strings.HasPrefix(origin, w.prefix) && strings.HasSuffix(origin, w.suffix) {
				return true
			}
		}
		return false
	}
}
