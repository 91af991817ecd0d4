package middleware

import (
	"strconv"
	"time"

	"github.com/wb-go/wbf/ginext"
	"github.com/wb-go/wbf/zlog"
)

// LoggingMiddleware logs every request with latency and status.
func LoggingMiddleware() ginext.HandlerFunc {
	return func(c *ginext.Context) {
		start := time.Now()
		c.Next()
		zlog.Logger.Info().
			Str("method", c.Request.Method).
			Str("path", c.Request.URL.Path).
			Int("status", c.Writer.Status()).
			Dur("latency", time.Since(start)).
			Msg("request handled")
	}
}

// AdminOnly rejects requests whose X-Admin-ID header is not in the configured
// admin list. Admin identity is explicit configuration, not a DB lookup.
func AdminOnly(adminIDs []int64) ginext.HandlerFunc {
	allowed := make(map[string]struct{}, len(adminIDs))
	for _, id := range adminIDs {
		allowed[strconv.FormatInt(id, 10)] = struct{}{}
	}
	return func(c *ginext.Context) {
		if _, ok := allowed[c.GetHeader("X-Admin-ID")]; !ok {
			c.AbortWithStatusJSON(403, map[string]any{
				"status": "error",
				"error":  map[string]string{"code": "PERMISSION_DENIED", "desc": "Admin access required"},
			})
			return
		}
		c.Next()
	}
}
