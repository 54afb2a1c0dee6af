package requestid

import (
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// Header carries the request ID on both requests and responses.
const Header = "X-Request-ID"

const contextKey = "request_id"

// Middleware tags each request with an ID, honouring a sane inbound
// header so IDs correlate across upstream proxies.
func Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := strings.TrimSpace(c.GetHeader(Header))
		if id == "" || len(id) > 64 {
			id = uuid.NewString()
		}

		c.Set(contextKey, id)
		c.Writer.Header().Set(Header, id)

		c.Next()
	}
}

// Value returns the request ID stored in the Gin context.
func Value(c *gin.Context) string {
	if v, exists := c.Get(contextKey); exists {
		if id, ok := v.(string); ok {
			return id
		}
	}
	return ""
}
