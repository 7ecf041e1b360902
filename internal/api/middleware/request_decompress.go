package middleware

import (
	"bytes"
	"io"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	proxyerrors "github.com/proxypilot/copilot-proxy/internal/errors"
	"github.com/proxypilot/copilot-proxy/internal/host"
)

// maxEncodedBytes caps compressed request bodies read into memory.
const maxEncodedBytes = 32 << 20

// RequestDecompressionMiddleware transparently decodes compressed request
// bodies (gzip, deflate, br, zstd) so the interceptor and the forwarded
// request both see plain JSON.
func RequestDecompressionMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		enc := strings.ToLower(strings.TrimSpace(c.GetHeader("Content-Encoding")))
		if enc == "" || enc == "identity" {
			c.Next()
			return
		}

		raw, err := io.ReadAll(io.LimitReader(c.Request.Body, maxEncodedBytes+1))
		if err != nil {
			abortInvalid(c, http.StatusBadRequest, "failed to read request body", err)
			return
		}
		if len(raw) > maxEncodedBytes {
			abortInvalid(c, http.StatusRequestEntityTooLarge, "request body too large", nil)
			return
		}

		decoded, err := host.DecodeContent(enc, raw)
		if err != nil {
			abortInvalid(c, http.StatusBadRequest, "invalid "+enc+" request body", err)
			return
		}

		c.Request.Body = io.NopCloser(bytes.NewReader(decoded))
		c.Request.ContentLength = int64(len(decoded))
		c.Request.Header.Del("Content-Encoding")
		c.Request.Header.Del("Content-Length")
		c.Next()
	}
}

func abortInvalid(c *gin.Context, status int, message string, err error) {
	appErr := proxyerrors.New(status, "invalid_request_error", message, err)
	c.Data(status, "application/json", appErr.ToJSON())
	c.Abort()
}
