package server

import (
	"time"

	"github.com/charmbracelet/log"
	"github.com/gin-gonic/gin"
)

const slowRequest = 500 * time.Millisecond

// requestLogger logs every request once it has been served. Server errors are logged with the
// error the handler recorded.
func requestLogger(logger *log.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		elapsed := time.Since(start)
		status := c.Writer.Status()
		kv := []any{"method", c.Request.Method, "path", c.Request.URL.Path, "status", status, "elapsed", elapsed}

		switch {
		case status >= 500:
			if err := c.Errors.Last(); err != nil {
				kv = append(kv, "err", err.Err)
			}
			logger.Error("request failed", kv...)
		case elapsed > slowRequest:
			logger.Warn("slow request", kv...)
		default:
			logger.Debug("request", kv...)
		}
	}
}
