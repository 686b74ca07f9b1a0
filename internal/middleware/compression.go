package middleware

import (
	"compress/gzip"
	"io"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
)

// Status payloads carrying several output URLs compress well; anything
// smaller than this is not worth the gzip header overhead.
const gzipMinSize = 512

// Portrait images and archives are already compressed, so re-encoding them
// only burns CPU.
var gzipSkipPrefixes = []string{
	"image/",
	"video/",
	"audio/",
	"application/zip",
	"application/gzip",
	"application/pdf",
}

// CompressionMiddleware gzips JSON responses for clients that accept it.
func CompressionMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !strings.Contains(c.GetHeader("Accept-Encoding"), "gzip") {
			c.Next()
			return
		}

		if shouldSkipCompression(c) {
			c.Next()
			return
		}

		gz := gzip.NewWriter(c.Writer)
		defer gz.Close()

		c.Header("Content-Encoding", "gzip")
		c.Header("Vary", "Accept-Encoding")

		c.Writer = &gzipWriter{
			ResponseWriter: c.Writer,
			Writer:         gz,
		}

		c.Next()
	}
}

type gzipWriter struct {
	gin.ResponseWriter
	Writer io.Writer
}

func (g *gzipWriter) Write(data []byte) (int, error) {
	if len(data) < gzipMinSize {
		g.Header().Del("Content-Encoding")
		return g.ResponseWriter.Write(data)
	}

	return g.Writer.Write(data)
}

func (g *gzipWriter) WriteString(s string) (int, error) {
	return g.Write([]byte(s))
}

func shouldSkipCompression(c *gin.Context) bool {
	contentType := c.GetHeader("Content-Type")
	for _, prefix := range gzipSkipPrefixes {
		if strings.HasPrefix(contentType, prefix) {
			return true
		}
	}

	if raw := c.GetHeader("Content-Length"); raw != "" {
		if length, err := strconv.Atoi(raw); err == nil && length < gzipMinSize {
			return true
		}
	}

	return false
}
