package server

import (
	"time"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"
)

// RequestLogger logs one debug line per request.
func RequestLogger(logger *log.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		method := c.Request.Method
		uri := c.Request.RequestURI

		c.Next()

		logger.WithFields(log.Fields{
			"method":   method,
			"uri":      uri,
			"status":   c.Writer.Status(),
			"size":     max(c.Writer.Size(), 0),
			"duration": time.Since(start),
		}).Debug("[server] http_request")
	}
}
