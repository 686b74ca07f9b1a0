package middleware

import (
	"compress/gzip"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newCompressionTestRouter() *gin.Engine {
	gin.SetMode(gin.TestMode)

	router := gin.New()
	router.Use(CompressionMiddleware())
	router.GET("/status", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"output_urls": strings.Repeat("https://cdn.example/portrait.png ", 40)})
	})
	router.GET("/ack", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"ok": true})
	})
	return router
}

func TestCompressionMiddleware(t *testing.T) {
	t.Run("compresses large responses for gzip clients", func(t *testing.T) {
		router := newCompressionTestRouter()

		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/status", nil)
		req.Header.Set("Accept-Encoding", "gzip")
		router.ServeHTTP(w, req)

		assert.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, "gzip", w.Header().Get("Content-Encoding"))

		reader, err := gzip.NewReader(w.Body)
		require.NoError(t, err)
		decoded, err := io.ReadAll(reader)
		require.NoError(t, err)
		assert.Contains(t, string(decoded), "output_urls")
	})

	t.Run("leaves small acknowledgements uncompressed", func(t *testing.T) {
		router := newCompressionTestRouter()

		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/ack", nil)
		req.Header.Set("Accept-Encoding", "gzip")
		router.ServeHTTP(w, req)

		assert.Equal(t, http.StatusOK, w.Code)
		assert.Empty(t, w.Header().Get("Content-Encoding"))
		assert.Contains(t, w.Body.String(), `"ok":true`)
	})

	t.Run("passes through for clients without gzip support", func(t *testing.T) {
		router := newCompressionTestRouter()

		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/status", nil)
		router.ServeHTTP(w, req)

		assert.Equal(t, http.StatusOK, w.Code)
		assert.Empty(t, w.Header().Get("Content-Encoding"))
		assert.Contains(t, w.Body.String(), "output_urls")
	})
}
