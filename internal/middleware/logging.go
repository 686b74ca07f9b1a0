package middleware

import (
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// Logger emits one structured line per request. Health and metrics scrapes
// log at debug so they do not drown out storefront traffic, and server
// errors are raised to warning for alerting.
func Logger(logger *logrus.Logger) gin.HandlerFunc {
	return gin.LoggerWithFormatter(func(param gin.LogFormatterParams) string {
		entry := logger.WithFields(logrus.Fields{
			"status_code": param.StatusCode,
			"latency_ms":  param.Latency.Milliseconds(),
			"client_ip":   param.ClientIP,
			"method":      param.Method,
			"path":        param.Path,
			"bytes":       param.BodySize,
			"user_agent":  param.Request.UserAgent(),
			"error":       param.ErrorMessage,
		})

		switch {
		case param.StatusCode >= 500:
			entry.Warn("HTTP request")
		case param.Path == "/health" || param.Path == "/metrics":
			entry.Debug("HTTP request")
		default:
			entry.Info("HTTP request")
		}

		return ""
	})
}

// Recovery converts panics into the standard error envelope instead of a
// bare connection reset.
func Recovery(logger *logrus.Logger) gin.HandlerFunc {
	return gin.CustomRecovery(func(c *gin.Context, recovered interface{}) {
		logger.WithFields(logrus.Fields{
			"panic":     recovered,
			"method":    c.Request.Method,
			"path":      c.Request.URL.Path,
			"client_ip": c.ClientIP(),
		}).Error("Panic recovered")

		c.JSON(500, gin.H{
			"error": gin.H{
				"code":    "INTERNAL_SERVER_ERROR",
				"message": "Internal server error",
			},
		})
	})
}
