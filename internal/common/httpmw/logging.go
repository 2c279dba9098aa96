// Package httpmw holds gin middleware shared by the adapter's HTTP servers.
package httpmw

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/kandev/acpadapter/internal/common/logger"
)

// RequestLogger logs each request after its handler returns. Server errors
// are logged at error level, everything else at debug. The WebSocket route
// is logged when the connection closes.
func RequestLogger(log *logger.Logger, serverName string) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.FullPath()
		if path == "" {
			path = c.Request.URL.Path
		}

		c.Next()

		status := c.Writer.Status()
		fields := []zap.Field{
			zap.String("server", serverName),
			zap.String("method", c.Request.Method),
			zap.String("path", path),
			zap.Int("status", status),
			zap.Int64("duration_ms", time.Since(start).Milliseconds()),
			zap.Int("bytes", max(c.Writer.Size(), 0)),
		}
		if len(c.Errors) > 0 {
			fields = append(fields, zap.String("errors", c.Errors.String()))
		}
		if status >= http.StatusInternalServerError {
			log.Error("http", fields...)
			return
		}
		log.Debug("http", fields...)
	}
}
