package cors

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

// New returns CORS middleware for the report API. An empty allowlist
// means any origin may read responses; credentials are only granted to
// explicitly listed origins.
func New(allowedOrigins []string) gin.HandlerFunc {
	allowed := make(map[string]struct{}, len(allowedOrigins))
	for _, origin := range allowedOrigins {
		allowed[strings.TrimRight(origin, "/")] = struct{}{}
	}

	return func(c *gin.Context) {
		headers := c.Writer.Header()
		headers.Add("Vary", "Origin")

		origin := c.GetHeader("Origin")
		switch {
		case origin == "":
		case len(allowed) == 0:
			headers.Set("Access-Control-Allow-Origin", "*")
		default:
			if _, ok := allowed[strings.TrimRight(origin, "/")]; ok {
				headers.Set("Access-Control-Allow-Origin", origin)
				headers.Set("Access-Control-Allow-Credentials", "true")
			}
		}

		if c.Request.Method == http.MethodOptions {
			headers.Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
			headers.Set("Access-Control-Allow-Headers", "Content-Type, X-Request-ID")
			headers.Set("Access-Control-Max-Age", "300")
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}
