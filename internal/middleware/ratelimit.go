package middleware

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/pawtrait/storefront/internal/services"
)

// RateLimit consults the admission controller before any gated mutating
// endpoint executes. Non-gated paths pass through untouched.
func RateLimit(admission *services.AdmissionController, logger *logrus.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		decision := admission.Check(ClientIP(c), c.Request.URL.Path)
		if decision.Allowed {
			c.Next()
			return
		}

		logger.WithFields(logrus.Fields{
			"client_ip":   ClientIP(c),
			"path_prefix": decision.Prefix,
			"limit":       decision.Limit,
		}).Warn("Rate limit exceeded")

		c.Header("Retry-After", strconv.Itoa(decision.RetryAfterSeconds))
		c.JSON(http.StatusTooManyRequests, gin.H{
			"error": gin.H{
				"code":    "RATE_LIMITED",
				"message": "Too many requests. Please try again later.",
			},
		})
		c.Abort()
	}
}

// ClientIP derives the admission key: the first forwarded-for entry, then
// the real-ip header, then a shared "unknown" bucket. A missing IP must
// not grant unlimited access, so "unknown" callers pool one budget.
func ClientIP(c *gin.Context) string {
	if forwarded := c.GetHeader("X-Forwarded-For"); forwarded != "" {
		first := strings.TrimSpace(strings.Split(forwarded, ",")[0])
		if first != "" {
			return first
		}
	}
	if realIP := strings.TrimSpace(c.GetHeader("X-Real-IP")); realIP != "" {
		return realIP
	}
	return "unknown"
}
